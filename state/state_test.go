package state

import (
	"errors"
	"testing"

	"go.viam.com/test"
)

func TestForwardPath(t *testing.T) {
	m := NewMachine()
	test.That(t, m.Phase(), test.ShouldEqual, Initializing)
	test.That(t, m.Motion(), test.ShouldEqual, Dormant)

	// Skipping a phase is illegal.
	test.That(t, errors.Is(m.Advance(ModelReady), ErrIllegalTransition), test.ShouldBeTrue)

	for _, next := range []Phase{WaitingModel, BuildingModel, ModelReady, ControllerReady} {
		test.That(t, m.Advance(next), test.ShouldBeNil)
		test.That(t, m.Phase(), test.ShouldEqual, next)
	}

	// No regression and no advancing into Shutdown.
	test.That(t, m.Advance(ModelReady), test.ShouldNotBeNil)
	test.That(t, m.Advance(Shutdown), test.ShouldNotBeNil)
	test.That(t, m.AbortBuild(), test.ShouldNotBeNil)
	test.That(t, m.Phase(), test.ShouldEqual, ControllerReady)
}

func TestAbortBuild(t *testing.T) {
	m := NewMachine()
	test.That(t, m.Advance(WaitingModel), test.ShouldBeNil)
	test.That(t, m.AbortBuild(), test.ShouldNotBeNil)
	test.That(t, m.Advance(BuildingModel), test.ShouldBeNil)
	test.That(t, m.AbortBuild(), test.ShouldBeNil)
	test.That(t, m.Phase(), test.ShouldEqual, WaitingModel)
	test.That(t, m.Gate(CmdInit), test.ShouldBeNil)
}

func TestShutdown(t *testing.T) {
	m := NewMachine()
	test.That(t, m.Advance(WaitingModel), test.ShouldBeNil)
	m.SetMotion(Moving)

	test.That(t, m.Shutdown(), test.ShouldBeTrue)
	test.That(t, m.Shutdown(), test.ShouldBeFalse)
	test.That(t, m.Phase(), test.ShouldEqual, Shutdown)
	test.That(t, m.Motion(), test.ShouldEqual, Dormant)
	test.That(t, m.Advance(BuildingModel), test.ShouldNotBeNil)

	for kind := range gates {
		test.That(t, m.Gate(kind), test.ShouldNotBeNil)
	}
}

func machineAt(t *testing.T, phase Phase, motion MotionState) *Machine {
	t.Helper()
	m := NewMachine()
	for p := WaitingModel; p <= phase; p++ {
		test.That(t, m.Advance(p), test.ShouldBeNil)
	}
	m.SetMotion(motion)
	return m
}

func TestGate(t *testing.T) {
	allMotions := []MotionState{Dormant, Converged, Moving, Rewinding, JointMoving}
	allPhases := []Phase{Initializing, WaitingModel, BuildingModel, ModelReady, ControllerReady}

	accepted := func(kind CommandKind, phase Phase, motion MotionState) bool {
		return machineAt(t, phase, motion).Gate(kind) == nil
	}

	t.Run("init only while waiting for a model", func(t *testing.T) {
		for _, phase := range allPhases {
			test.That(t, accepted(CmdInit, phase, Dormant), test.ShouldEqual, phase == WaitingModel)
		}
	})

	t.Run("engine commands need a built model", func(t *testing.T) {
		for _, kind := range []CommandKind{
			CmdSetInitialJoints, CmdSetExactSolution, CmdSetJointWeights, CmdSetJointDesirableVLimit,
			CmdSetJointDesirable, CmdClearJointDesirable, CmdSetJointVelocityLimit,
		} {
			for _, phase := range allPhases {
				want := phase == ModelReady || phase == ControllerReady
				test.That(t, accepted(kind, phase, Dormant), test.ShouldEqual, want)
			}
		}
	})

	t.Run("destination", func(t *testing.T) {
		test.That(t, accepted(CmdDestination, ModelReady, Dormant), test.ShouldBeFalse)
		for _, motion := range allMotions {
			want := motion != Rewinding && motion != JointMoving
			test.That(t, accepted(CmdDestination, ControllerReady, motion), test.ShouldEqual, want)
		}
	})

	t.Run("joint targets only when idle", func(t *testing.T) {
		for _, motion := range allMotions {
			test.That(t, accepted(CmdSetJointTargets, ControllerReady, motion), test.ShouldEqual, motion.Idle())
		}
		err := machineAt(t, ControllerReady, Moving).Gate(CmdSetJointTargets)
		var rejected *RejectedError
		test.That(t, errors.As(err, &rejected), test.ShouldBeTrue)
		test.That(t, rejected.Motion, test.ShouldEqual, Moving)
		test.That(t, rejected.Error(), test.ShouldContainSubstring, "set_joint_targets")
	})

	t.Run("controller commands", func(t *testing.T) {
		for _, kind := range []CommandKind{CmdSlowRewind, CmdSetEndEffectorPoint, CmdSetJointLimits} {
			test.That(t, accepted(kind, ModelReady, Dormant), test.ShouldBeFalse)
			for _, motion := range allMotions {
				test.That(t, accepted(kind, ControllerReady, motion), test.ShouldBeTrue)
			}
		}
	})

	t.Run("always accepted before shutdown", func(t *testing.T) {
		for _, kind := range []CommandKind{
			CmdSetIgnoreCollisions, CmdSetIgnoreJointLimits, CmdSetSolverLogLevel,
			CmdSetCollisionLogLevel, CmdSetWorkerLogLevel, CmdShutdown,
		} {
			for _, phase := range allPhases {
				test.That(t, accepted(kind, phase, Moving), test.ShouldBeTrue)
			}
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		test.That(t, machineAt(t, ControllerReady, Dormant).Gate("dance"), test.ShouldNotBeNil)
	})
}

func TestStrings(t *testing.T) {
	test.That(t, ControllerReady.String(), test.ShouldEqual, "controller_ready")
	test.That(t, JointMoving.String(), test.ShouldEqual, "joint_moving")
	test.That(t, Phase(99).String(), test.ShouldEqual, "phase(99)")
	test.That(t, MotionState(-1).String(), test.ShouldEqual, "motion(-1)")
}
