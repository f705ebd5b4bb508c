package worker

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/armcd/motionworker/state"
)

// ErrUnknownCommand is returned by DecodeCommand for an unrecognized type.
var ErrUnknownCommand = errors.New("unknown command type")

var commandDecoders = map[state.CommandKind]func() Command{
	state.CmdInit:                    func() Command { return &InitCmd{} },
	state.CmdSetInitialJoints:        func() Command { return &SetInitialJointsCmd{} },
	state.CmdDestination:             func() Command { return &DestinationCmd{} },
	state.CmdSetJointTargets:         func() Command { return &SetJointTargetsCmd{} },
	state.CmdSlowRewind:              func() Command { return &SlowRewindCmd{} },
	state.CmdSetEndEffectorPoint:     func() Command { return &SetEndEffectorPointCmd{} },
	state.CmdSetExactSolution:        func() Command { return &SetExactSolutionCmd{} },
	state.CmdSetJointWeights:         func() Command { return &SetJointWeightsCmd{} },
	state.CmdSetJointDesirableVLimit: func() Command { return &SetJointDesirableVLimitCmd{} },
	state.CmdSetJointDesirable:       func() Command { return &SetJointDesirableCmd{} },
	state.CmdClearJointDesirable:     func() Command { return &ClearJointDesirableCmd{} },
	state.CmdSetJointVelocityLimit:   func() Command { return &SetJointVelocityLimitCmd{} },
	state.CmdSetIgnoreCollisions:     func() Command { return &SetIgnoreCollisionsCmd{} },
	state.CmdSetIgnoreJointLimits:    func() Command { return &SetIgnoreJointLimitsCmd{} },
	state.CmdSetSolverLogLevel:       func() Command { return &SetLogLevelCmd{Target: LogTargetSolver} },
	state.CmdSetCollisionLogLevel:    func() Command { return &SetLogLevelCmd{Target: LogTargetCollision} },
	state.CmdSetWorkerLogLevel:       func() Command { return &SetLogLevelCmd{Target: LogTargetWorker} },
	state.CmdSetJointLimits:          func() Command { return &SetJointLimitsCmd{} },
	state.CmdShutdown:                func() Command { return &ShutdownCmd{} },
}

// DecodeCommand decodes one JSON command of the form {"type": ..., fields}. The returned Command is
// a value, never a pointer.
func DecodeCommand(data []byte) (Command, error) {
	var envelope struct {
		Type state.CommandKind `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Wrap(err, "decoding command")
	}
	newCommand, ok := commandDecoders[envelope.Type]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCommand, "%q", envelope.Type)
	}
	cmd := newCommand()
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, errors.Wrapf(err, "decoding %s command", envelope.Type)
	}
	return deref(cmd), nil
}

func deref(cmd Command) Command {
	switch c := cmd.(type) {
	case *InitCmd:
		return *c
	case *SetInitialJointsCmd:
		return *c
	case *DestinationCmd:
		return *c
	case *SetJointTargetsCmd:
		return *c
	case *SlowRewindCmd:
		return *c
	case *SetEndEffectorPointCmd:
		return *c
	case *SetExactSolutionCmd:
		return *c
	case *SetJointWeightsCmd:
		return *c
	case *SetJointDesirableVLimitCmd:
		return *c
	case *SetJointDesirableCmd:
		return *c
	case *ClearJointDesirableCmd:
		return *c
	case *SetJointVelocityLimitCmd:
		return *c
	case *SetIgnoreCollisionsCmd:
		return *c
	case *SetIgnoreJointLimitsCmd:
		return *c
	case *SetLogLevelCmd:
		return *c
	case *SetJointLimitsCmd:
		return *c
	case *ShutdownCmd:
		return *c
	}
	return cmd
}
