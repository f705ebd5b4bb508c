package worker

import (
	"github.com/armcd/motionworker/state"
)

// Command is a request from the host. The set of commands is closed: every variant is declared in
// this file.
type Command interface {
	Kind() state.CommandKind
	isCommand()
}

// InitCmd loads a model and builds the engines. Modifier, LinkShapes, TestPairs and BridgeURL are
// optional. Without LinkShapes no collision detector is built.
type InitCmd struct {
	Filename   string `json:"filename"`
	Modifier   string `json:"modifier"`
	LinkShapes string `json:"linkShapes"`
	TestPairs  string `json:"testPairs"`
	BridgeURL  string `json:"bridgeUrl"`
}

// SetInitialJointsCmd seeds the joint state and the rewind home.
type SetInitialJointsCmd struct {
	Joints []float64 `json:"joints"`
}

// DestinationCmd sets the Cartesian destination of the end link.
type DestinationCmd struct {
	EndLinkPose []float64 `json:"endLinkPose"`
}

// SetJointTargetsCmd moves the joints directly to a configuration.
type SetJointTargetsCmd struct {
	Joints []float64 `json:"joints"`
}

// SlowRewindCmd starts or stops a rewind to the home configuration.
type SlowRewindCmd struct {
	SlowRewind bool `json:"slowRewind"`
}

// SetEndEffectorPointCmd sets the tool offset of the end effector.
type SetEndEffectorPointCmd struct {
	EndEffectorPoint []float64 `json:"endEffectorPoint"`
}

// SetExactSolutionCmd toggles the exact solution through singularities.
type SetExactSolutionCmd struct {
	ExactSolution bool `json:"exactSolution"`
}

// SetJointWeightsCmd sets the per joint weights of the solver.
type SetJointWeightsCmd struct {
	Weights []float64 `json:"weights"`
}

// SetJointDesirableVLimitCmd sets the velocity used to pull joints into their desirable range.
type SetJointDesirableVLimitCmd struct {
	VLimit float64 `json:"vlimit"`
}

// SetJointDesirableCmd sets the desirable range of one joint.
type SetJointDesirableCmd struct {
	JointNumber int     `json:"jointNumber"`
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
}

// ClearJointDesirableCmd clears the desirable range of one joint, or of every joint for -1.
type ClearJointDesirableCmd struct {
	JointNumber int `json:"jointNumber"`
}

// SetJointVelocityLimitCmd sets the per joint velocity limits of the solver.
type SetJointVelocityLimitCmd struct {
	Limits []float64 `json:"limits"`
}

// SetIgnoreCollisionsCmd disables or enables the collision veto.
type SetIgnoreCollisionsCmd struct {
	Ignore bool `json:"ignore"`
}

// SetIgnoreJointLimitsCmd disables or enables joint limit enforcement.
type SetIgnoreJointLimitsCmd struct {
	Ignore bool `json:"ignore"`
}

// LogTarget selects the logger a SetLogLevelCmd applies to.
type LogTarget int

// The log targets.
const (
	LogTargetSolver LogTarget = iota
	LogTargetCollision
	LogTargetWorker
)

// SetLogLevelCmd sets a verbosity in [0, 4].
type SetLogLevelCmd struct {
	Target   LogTarget `json:"-"`
	LogLevel int       `json:"logLevel"`
}

// SetJointLimitsCmd replaces the joint limits of the model.
type SetJointLimitsCmd struct {
	Lower []float64 `json:"lower"`
	Upper []float64 `json:"upper"`
}

// ShutdownCmd releases everything and stops the worker.
type ShutdownCmd struct{}

// Kind implements Command.
func (InitCmd) Kind() state.CommandKind { return state.CmdInit }

// Kind implements Command.
func (SetInitialJointsCmd) Kind() state.CommandKind { return state.CmdSetInitialJoints }

// Kind implements Command.
func (DestinationCmd) Kind() state.CommandKind { return state.CmdDestination }

// Kind implements Command.
func (SetJointTargetsCmd) Kind() state.CommandKind { return state.CmdSetJointTargets }

// Kind implements Command.
func (SlowRewindCmd) Kind() state.CommandKind { return state.CmdSlowRewind }

// Kind implements Command.
func (SetEndEffectorPointCmd) Kind() state.CommandKind { return state.CmdSetEndEffectorPoint }

// Kind implements Command.
func (SetExactSolutionCmd) Kind() state.CommandKind { return state.CmdSetExactSolution }

// Kind implements Command.
func (SetJointWeightsCmd) Kind() state.CommandKind { return state.CmdSetJointWeights }

// Kind implements Command.
func (SetJointDesirableVLimitCmd) Kind() state.CommandKind { return state.CmdSetJointDesirableVLimit }

// Kind implements Command.
func (SetJointDesirableCmd) Kind() state.CommandKind { return state.CmdSetJointDesirable }

// Kind implements Command.
func (ClearJointDesirableCmd) Kind() state.CommandKind { return state.CmdClearJointDesirable }

// Kind implements Command.
func (SetJointVelocityLimitCmd) Kind() state.CommandKind { return state.CmdSetJointVelocityLimit }

// Kind implements Command.
func (SetIgnoreCollisionsCmd) Kind() state.CommandKind { return state.CmdSetIgnoreCollisions }

// Kind implements Command.
func (SetIgnoreJointLimitsCmd) Kind() state.CommandKind { return state.CmdSetIgnoreJointLimits }

// Kind implements Command.
func (c SetLogLevelCmd) Kind() state.CommandKind {
	switch c.Target {
	case LogTargetCollision:
		return state.CmdSetCollisionLogLevel
	case LogTargetWorker:
		return state.CmdSetWorkerLogLevel
	default:
		return state.CmdSetSolverLogLevel
	}
}

// Kind implements Command.
func (SetJointLimitsCmd) Kind() state.CommandKind { return state.CmdSetJointLimits }

// Kind implements Command.
func (ShutdownCmd) Kind() state.CommandKind { return state.CmdShutdown }

func (InitCmd) isCommand()                    {}
func (SetInitialJointsCmd) isCommand()        {}
func (DestinationCmd) isCommand()             {}
func (SetJointTargetsCmd) isCommand()         {}
func (SlowRewindCmd) isCommand()              {}
func (SetEndEffectorPointCmd) isCommand()     {}
func (SetExactSolutionCmd) isCommand()        {}
func (SetJointWeightsCmd) isCommand()         {}
func (SetJointDesirableVLimitCmd) isCommand() {}
func (SetJointDesirableCmd) isCommand()       {}
func (ClearJointDesirableCmd) isCommand()     {}
func (SetJointVelocityLimitCmd) isCommand()   {}
func (SetIgnoreCollisionsCmd) isCommand()     {}
func (SetIgnoreJointLimitsCmd) isCommand()    {}
func (SetLogLevelCmd) isCommand()             {}
func (SetJointLimitsCmd) isCommand()          {}
func (ShutdownCmd) isCommand()                {}
