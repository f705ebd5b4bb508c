package state

import (
	"fmt"
)

// CommandKind identifies a host command. The string values are the wire names.
type CommandKind string

// The host commands.
const (
	CmdInit                    CommandKind = "init"
	CmdSetInitialJoints        CommandKind = "set_initial_joints"
	CmdDestination             CommandKind = "destination"
	CmdSetJointTargets         CommandKind = "set_joint_targets"
	CmdSlowRewind              CommandKind = "slow_rewind"
	CmdSetEndEffectorPoint     CommandKind = "set_end_effector_point"
	CmdSetExactSolution        CommandKind = "set_exact_solution"
	CmdSetJointWeights         CommandKind = "set_joint_weights"
	CmdSetJointDesirableVLimit CommandKind = "set_joint_desirable_vlimit"
	CmdSetJointDesirable       CommandKind = "set_joint_desirable"
	CmdClearJointDesirable     CommandKind = "clear_joint_desirable"
	CmdSetJointVelocityLimit   CommandKind = "set_joint_velocity_limit"
	CmdSetIgnoreCollisions     CommandKind = "set_ignore_collisions"
	CmdSetIgnoreJointLimits    CommandKind = "set_ignore_joint_limits"
	CmdSetSolverLogLevel       CommandKind = "set_slrm_loglevel"
	CmdSetCollisionLogLevel    CommandKind = "set_cd_loglevel"
	CmdSetWorkerLogLevel       CommandKind = "set_worker_loglevel"
	CmdSetJointLimits          CommandKind = "set_joint_limits"
	CmdShutdown                CommandKind = "shutdown"
)

// RejectedError is returned by Gate for a command not accepted in the current state.
type RejectedError struct {
	Command CommandKind
	Phase   Phase
	Motion  MotionState
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s not accepted in phase %v with motion %v", e.Command, e.Phase, e.Motion)
}

type acceptFunc func(Phase, MotionState) bool

func inPhase(phases ...Phase) acceptFunc {
	return func(p Phase, _ MotionState) bool {
		for _, want := range phases {
			if p == want {
				return true
			}
		}
		return false
	}
}

func notShutdown(p Phase, _ MotionState) bool {
	return p != Shutdown
}

var (
	engineReady = inPhase(ModelReady, ControllerReady)
	controlling = inPhase(ControllerReady)
)

var gates = map[CommandKind]acceptFunc{
	CmdInit:             inPhase(WaitingModel),
	CmdSetInitialJoints: engineReady,
	CmdDestination: func(p Phase, m MotionState) bool {
		return p == ControllerReady && m != Rewinding && m != JointMoving
	},
	CmdSetJointTargets: func(p Phase, m MotionState) bool {
		return p == ControllerReady && m.Idle()
	},
	CmdSlowRewind:              controlling,
	CmdSetEndEffectorPoint:     controlling,
	CmdSetJointLimits:          controlling,
	CmdSetExactSolution:        engineReady,
	CmdSetJointWeights:         engineReady,
	CmdSetJointDesirableVLimit: engineReady,
	CmdSetJointDesirable:       engineReady,
	CmdClearJointDesirable:     engineReady,
	CmdSetJointVelocityLimit:   engineReady,
	CmdSetIgnoreCollisions:     notShutdown,
	CmdSetIgnoreJointLimits:    notShutdown,
	CmdSetSolverLogLevel:       notShutdown,
	CmdSetCollisionLogLevel:    notShutdown,
	CmdSetWorkerLogLevel:       notShutdown,
	CmdShutdown:                notShutdown,
}

// Gate returns a *RejectedError if `kind` is not accepted right now.
func (m *Machine) Gate(kind CommandKind) error {
	m.mu.Lock()
	phase, motion := m.phase, m.motion
	m.mu.Unlock()

	accept, ok := gates[kind]
	if !ok || !accept(phase, motion) {
		return &RejectedError{Command: kind, Phase: phase, Motion: motion}
	}
	return nil
}
