package inject

import (
	"github.com/golang/geo/r3"

	"github.com/armcd/motionworker/engine"
)

// VelocitySolver is an injected velocity solver.
type VelocitySolver struct {
	engine.VelocitySolver
	SolveVelocitiesFunc           func(joints, target []float64) (engine.Result, error)
	SolveVelocitiesWithLimitsFunc func(joints, target []float64, limitFlags []int) (engine.Result, error)
	SetExactSolutionFunc          func(exact bool) error
	SetJointWeightsFunc           func(weights []float64) error
	SetEndEffectorPositionFunc    func(point r3.Vector) error
	CloseFunc                     func() error
}

// SolveVelocities calls the injected SolveVelocities or the real version.
func (s *VelocitySolver) SolveVelocities(joints, target []float64) (engine.Result, error) {
	if s.SolveVelocitiesFunc == nil {
		return s.VelocitySolver.SolveVelocities(joints, target)
	}
	return s.SolveVelocitiesFunc(joints, target)
}

// SolveVelocitiesWithLimits calls the injected SolveVelocitiesWithLimits or the real version.
func (s *VelocitySolver) SolveVelocitiesWithLimits(joints, target []float64, limitFlags []int) (engine.Result, error) {
	if s.SolveVelocitiesWithLimitsFunc == nil {
		return s.VelocitySolver.SolveVelocitiesWithLimits(joints, target, limitFlags)
	}
	return s.SolveVelocitiesWithLimitsFunc(joints, target, limitFlags)
}

// SetExactSolution calls the injected SetExactSolution or the real version.
func (s *VelocitySolver) SetExactSolution(exact bool) error {
	if s.SetExactSolutionFunc == nil {
		return s.VelocitySolver.SetExactSolution(exact)
	}
	return s.SetExactSolutionFunc(exact)
}

// SetJointWeights calls the injected SetJointWeights or the real version.
func (s *VelocitySolver) SetJointWeights(weights []float64) error {
	if s.SetJointWeightsFunc == nil {
		return s.VelocitySolver.SetJointWeights(weights)
	}
	return s.SetJointWeightsFunc(weights)
}

// SetEndEffectorPosition calls the injected SetEndEffectorPosition or the real version.
func (s *VelocitySolver) SetEndEffectorPosition(point r3.Vector) error {
	if s.SetEndEffectorPositionFunc == nil {
		return s.VelocitySolver.SetEndEffectorPosition(point)
	}
	return s.SetEndEffectorPositionFunc(point)
}

// Close calls the injected Close or the real version.
func (s *VelocitySolver) Close() error {
	if s.CloseFunc == nil {
		if s.VelocitySolver == nil {
			return nil
		}
		return s.VelocitySolver.Close()
	}
	return s.CloseFunc()
}
