package worker

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/armcd/motionworker/state"
)

func TestDecodeCommand(t *testing.T) {
	for _, tc := range []struct {
		line     string
		expected Command
	}{
		{
			`{"type": "init", "filename": "arm.json", "modifier": "patch.json", "linkShapes": "shapes.json",
				"testPairs": "pairs.json", "bridgeUrl": "ws://localhost:9090"}`,
			InitCmd{
				Filename: "arm.json", Modifier: "patch.json", LinkShapes: "shapes.json",
				TestPairs: "pairs.json", BridgeURL: "ws://localhost:9090",
			},
		},
		{`{"type": "set_initial_joints", "joints": [0, 0.5, 1]}`, SetInitialJointsCmd{Joints: []float64{0, 0.5, 1}}},
		{`{"type": "destination", "endLinkPose": [1, 0, 0, 0, 0, 0, 0]}`, DestinationCmd{EndLinkPose: []float64{1, 0, 0, 0, 0, 0, 0}}},
		{`{"type": "set_joint_targets", "joints": [0.1]}`, SetJointTargetsCmd{Joints: []float64{0.1}}},
		{`{"type": "slow_rewind", "slowRewind": true}`, SlowRewindCmd{SlowRewind: true}},
		{`{"type": "set_end_effector_point", "endEffectorPoint": [0, 0, 0.2]}`, SetEndEffectorPointCmd{EndEffectorPoint: []float64{0, 0, 0.2}}},
		{`{"type": "set_exact_solution", "exactSolution": true}`, SetExactSolutionCmd{ExactSolution: true}},
		{`{"type": "set_joint_weights", "weights": [1, 2]}`, SetJointWeightsCmd{Weights: []float64{1, 2}}},
		{`{"type": "set_joint_desirable_vlimit", "vlimit": 0.3}`, SetJointDesirableVLimitCmd{VLimit: 0.3}},
		{
			`{"type": "set_joint_desirable", "jointNumber": 2, "lower": -1, "upper": 1}`,
			SetJointDesirableCmd{JointNumber: 2, Lower: -1, Upper: 1},
		},
		{`{"type": "clear_joint_desirable", "jointNumber": -1}`, ClearJointDesirableCmd{JointNumber: -1}},
		{`{"type": "set_joint_velocity_limit", "limits": [3, 3]}`, SetJointVelocityLimitCmd{Limits: []float64{3, 3}}},
		{`{"type": "set_ignore_collisions", "ignore": true}`, SetIgnoreCollisionsCmd{Ignore: true}},
		{`{"type": "set_ignore_joint_limits", "ignore": true}`, SetIgnoreJointLimitsCmd{Ignore: true}},
		{`{"type": "set_slrm_loglevel", "logLevel": 3}`, SetLogLevelCmd{Target: LogTargetSolver, LogLevel: 3}},
		{`{"type": "set_cd_loglevel", "logLevel": 1}`, SetLogLevelCmd{Target: LogTargetCollision, LogLevel: 1}},
		{`{"type": "set_worker_loglevel", "logLevel": 4}`, SetLogLevelCmd{Target: LogTargetWorker, LogLevel: 4}},
		{`{"type": "set_joint_limits", "lower": [-1], "upper": [1]}`, SetJointLimitsCmd{Lower: []float64{-1}, Upper: []float64{1}}},
		{`{"type": "shutdown"}`, ShutdownCmd{}},
	} {
		cmd, err := DecodeCommand([]byte(tc.line))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cmd, test.ShouldResemble, tc.expected)
	}
}

func TestDecodeCommandKinds(t *testing.T) {
	// Every gated command has a decoder that reports its own kind.
	for kind, newCommand := range commandDecoders {
		test.That(t, deref(newCommand()).Kind(), test.ShouldEqual, kind)
	}
	test.That(t, commandDecoders, test.ShouldHaveLength, 19)
}

func TestDecodeCommandErrors(t *testing.T) {
	_, err := DecodeCommand([]byte(`{"type": "teleport"}`))
	test.That(t, errors.Is(err, ErrUnknownCommand), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "teleport")

	_, err = DecodeCommand([]byte(`{"joints": [1]}`))
	test.That(t, errors.Is(err, ErrUnknownCommand), test.ShouldBeTrue)

	_, err = DecodeCommand([]byte(`{"type": "init"`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = DecodeCommand([]byte(`{"type": "set_initial_joints", "joints": "zero"}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, string(state.CmdSetInitialJoints))
}
