package inject

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/armcd/motionworker/engine"
)

// Factory is an injected engine factory.
type Factory struct {
	engine.Factory
	NewSolverFunc            func(joints []engine.JointModel) (engine.VelocitySolver, error)
	NewCollisionDetectorFunc func(
		joints []engine.JointModel, basePosition r3.Vector, baseOrientation quat.Number,
	) (engine.CollisionDetector, error)
	SetSolverLogLevelFunc    func(level int) error
	SetCollisionLogLevelFunc func(level int) error
}

// NewSolver calls the injected NewSolver or the real version.
func (f *Factory) NewSolver(joints []engine.JointModel) (engine.VelocitySolver, error) {
	if f.NewSolverFunc == nil {
		return f.Factory.NewSolver(joints)
	}
	return f.NewSolverFunc(joints)
}

// NewCollisionDetector calls the injected NewCollisionDetector or the real version.
func (f *Factory) NewCollisionDetector(
	joints []engine.JointModel, basePosition r3.Vector, baseOrientation quat.Number,
) (engine.CollisionDetector, error) {
	if f.NewCollisionDetectorFunc == nil {
		return f.Factory.NewCollisionDetector(joints, basePosition, baseOrientation)
	}
	return f.NewCollisionDetectorFunc(joints, basePosition, baseOrientation)
}

// SetSolverLogLevel calls the injected SetSolverLogLevel or the real version.
func (f *Factory) SetSolverLogLevel(level int) error {
	if f.SetSolverLogLevelFunc == nil {
		return f.Factory.SetSolverLogLevel(level)
	}
	return f.SetSolverLogLevelFunc(level)
}

// SetCollisionLogLevel calls the injected SetCollisionLogLevel or the real version.
func (f *Factory) SetCollisionLogLevel(level int) error {
	if f.SetCollisionLogLevelFunc == nil {
		return f.Factory.SetCollisionLogLevel(level)
	}
	return f.SetCollisionLogLevelFunc(level)
}
