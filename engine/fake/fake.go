// Package fake implements a deterministic stand-in for the numeric engine. The end effector of
// the fake arm sits at the first three joint values (plus the end effector offset), so Cartesian
// motion maps one-to-one onto those joints. It is used by the worker binary when no native engine
// is linked and throughout the tests.
package fake

import (
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/armcd/motionworker/engine"
	"github.com/armcd/motionworker/logging"
	"github.com/armcd/motionworker/utils"
)

// ErrClosed is returned by every call on a closed solver or detector.
var ErrClosed = errors.New("fake engine closed")

// DefaultTolerance is the distance at which the solver reports END.
const DefaultTolerance = 1e-3

const maxLogLevel = 4

// Factory builds fake solvers and detectors.
type Factory struct {
	mu                sync.Mutex
	logger            logging.Logger
	solverLogLevel    int
	collisionLogLevel int

	// Contact, when set, is given to every detector built afterwards.
	Contact func(joints []float64) []engine.ShapePair
}

// NewFactory returns a Factory.
func NewFactory(logger logging.Logger) *Factory {
	return &Factory{logger: logger, solverLogLevel: 2, collisionLogLevel: 2}
}

// NewSolver implements engine.Factory.
func (f *Factory) NewSolver(joints []engine.JointModel) (engine.VelocitySolver, error) {
	if len(joints) == 0 {
		return nil, errors.New("fake solver needs at least one joint")
	}
	f.logger.Debugw("building fake solver", "joints", len(joints))
	return NewSolver(len(joints)), nil
}

// NewCollisionDetector implements engine.Factory.
func (f *Factory) NewCollisionDetector(
	joints []engine.JointModel, basePosition r3.Vector, baseOrientation quat.Number,
) (engine.CollisionDetector, error) {
	if len(joints) == 0 {
		return nil, errors.New("fake collision detector needs at least one joint")
	}
	if math.Abs(quat.Abs(baseOrientation)-1) > 1e-6 {
		return nil, errors.Errorf("base orientation %v is not a unit quaternion", baseOrientation)
	}
	f.mu.Lock()
	contact := f.Contact
	f.mu.Unlock()
	detector := NewCollisionDetector(len(joints))
	detector.Contact = contact
	return detector, nil
}

// SetSolverLogLevel implements engine.Factory.
func (f *Factory) SetSolverLogLevel(level int) error {
	if level < 0 || level > maxLogLevel {
		return errors.Errorf("solver log level %d out of range", level)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.solverLogLevel = level
	return nil
}

// SetCollisionLogLevel implements engine.Factory.
func (f *Factory) SetCollisionLogLevel(level int) error {
	if level < 0 || level > maxLogLevel {
		return errors.Errorf("collision log level %d out of range", level)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collisionLogLevel = level
	return nil
}

// LogLevels returns the current solver and collision log levels.
func (f *Factory) LogLevels() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.solverLogLevel, f.collisionLogLevel
}

// Solver is a proportional Cartesian controller over the first three joints.
type Solver struct {
	mu        sync.Mutex
	numJoints int
	closed    bool

	Tolerance float64

	exactSolution        bool
	linearVelocityLimit  float64
	angularVelocityLimit float64
	linearGain           float64
	angularGain          float64
	jointVelocityLimits  []float64
	jointWeights         []float64
	desirableVLimit      float64
	desirable            map[int][2]float64
	endEffector          r3.Vector
}

// NewSolver returns a Solver for `numJoints` joints with unit gain and unbounded velocities.
func NewSolver(numJoints int) *Solver {
	limits := make([]float64, numJoints)
	for i := range limits {
		limits[i] = math.Inf(1)
	}
	return &Solver{
		numJoints:            numJoints,
		Tolerance:            DefaultTolerance,
		linearVelocityLimit:  math.Inf(1),
		angularVelocityLimit: math.Inf(1),
		linearGain:           1,
		angularGain:          1,
		jointVelocityLimits:  limits,
		desirable:            map[int][2]float64{},
	}
}

// SolveVelocities implements engine.VelocitySolver.
func (s *Solver) SolveVelocities(joints, target []float64) (engine.Result, error) {
	return s.solve(joints, target, nil)
}

// SolveVelocitiesWithLimits implements engine.VelocitySolver. Velocity components that would push
// a flagged joint further into its limit are dropped.
func (s *Solver) SolveVelocitiesWithLimits(joints, target []float64, limitFlags []int) (engine.Result, error) {
	if len(limitFlags) != s.numJoints {
		return engine.Result{}, errors.Errorf("expected %d limit flags, got %d", s.numJoints, len(limitFlags))
	}
	return s.solve(joints, target, limitFlags)
}

func (s *Solver) solve(joints, target []float64, limitFlags []int) (engine.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return engine.Result{}, ErrClosed
	}
	if len(joints) != s.numJoints {
		return engine.Result{}, errors.Errorf("expected %d joints, got %d", s.numJoints, len(joints))
	}

	result := engine.Result{
		JointVelocities: make([]float64, s.numJoints),
		Position:        s.position(joints),
		Orientation:     quat.Number{Real: 1},
		Diagnostics:     engine.Diagnostics{ConditionNumber: 1, Manipulability: 1, SensitivityScale: 1},
	}
	if len(target) == 0 {
		result.Status = engine.StatusEnd
		return result, nil
	}

	goal, err := targetPosition(target)
	if err != nil {
		return engine.Result{}, err
	}
	delta := goal.Sub(result.Position)
	if delta.Norm() <= s.Tolerance {
		result.Status = engine.StatusEnd
		return result, nil
	}

	linear := delta.Mul(s.linearGain)
	if norm := linear.Norm(); norm > s.linearVelocityLimit {
		linear = linear.Mul(s.linearVelocityLimit / norm)
	}
	components := []float64{linear.X, linear.Y, linear.Z}
	for i := 0; i < s.numJoints && i < len(components); i++ {
		v := utils.Clamp(components[i], -s.jointVelocityLimits[i], s.jointVelocityLimits[i])
		if limitFlags != nil && float64(limitFlags[i])*v > 0 {
			v = 0
		}
		result.JointVelocities[i] = v
	}
	result.Status = engine.StatusOK
	return result, nil
}

func (s *Solver) position(joints []float64) r3.Vector {
	var p r3.Vector
	if len(joints) > 0 {
		p.X = joints[0]
	}
	if len(joints) > 1 {
		p.Y = joints[1]
	}
	if len(joints) > 2 {
		p.Z = joints[2]
	}
	return p.Add(s.endEffector)
}

// targetPosition reads the translation of a column-major 4x4 transform or of a position+quaternion.
func targetPosition(target []float64) (r3.Vector, error) {
	switch len(target) {
	case 16:
		return r3.Vector{X: target[12], Y: target[13], Z: target[14]}, nil
	case 7:
		return r3.Vector{X: target[0], Y: target[1], Z: target[2]}, nil
	}
	return r3.Vector{}, errors.Errorf("unsupported target size %d", len(target))
}

func (s *Solver) set(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	fn()
	return nil
}

// SetExactSolution implements engine.VelocitySolver.
func (s *Solver) SetExactSolution(exact bool) error {
	return s.set(func() { s.exactSolution = exact })
}

// SetLinearVelocityLimit implements engine.VelocitySolver.
func (s *Solver) SetLinearVelocityLimit(limit float64) error {
	if !(limit > 0) {
		return errors.Errorf("linear velocity limit must be positive, got %v", limit)
	}
	return s.set(func() { s.linearVelocityLimit = limit })
}

// SetAngularVelocityLimit implements engine.VelocitySolver.
func (s *Solver) SetAngularVelocityLimit(limit float64) error {
	if !(limit > 0) {
		return errors.Errorf("angular velocity limit must be positive, got %v", limit)
	}
	return s.set(func() { s.angularVelocityLimit = limit })
}

// SetLinearGain implements engine.VelocitySolver.
func (s *Solver) SetLinearGain(gain float64) error {
	if !(gain > 0) {
		return errors.Errorf("linear gain must be positive, got %v", gain)
	}
	return s.set(func() { s.linearGain = gain })
}

// SetAngularGain implements engine.VelocitySolver.
func (s *Solver) SetAngularGain(gain float64) error {
	if !(gain > 0) {
		return errors.Errorf("angular gain must be positive, got %v", gain)
	}
	return s.set(func() { s.angularGain = gain })
}

// SetJointVelocityLimit implements engine.VelocitySolver.
func (s *Solver) SetJointVelocityLimit(limits []float64) error {
	if len(limits) != s.numJoints {
		return errors.Errorf("expected %d joint velocity limits, got %d", s.numJoints, len(limits))
	}
	return s.set(func() { s.jointVelocityLimits = append([]float64(nil), limits...) })
}

// SetJointWeights implements engine.VelocitySolver.
func (s *Solver) SetJointWeights(weights []float64) error {
	if len(weights) != s.numJoints {
		return errors.Errorf("expected %d joint weights, got %d", s.numJoints, len(weights))
	}
	return s.set(func() { s.jointWeights = append([]float64(nil), weights...) })
}

// SetJointDesirableVLimit implements engine.VelocitySolver.
func (s *Solver) SetJointDesirableVLimit(limit float64) error {
	return s.set(func() { s.desirableVLimit = limit })
}

// SetJointDesirable implements engine.VelocitySolver.
func (s *Solver) SetJointDesirable(joint int, lower, upper float64) error {
	if joint < 0 || joint >= s.numJoints {
		return errors.Errorf("joint %d out of range", joint)
	}
	if lower > upper {
		return errors.Errorf("desirable range [%v, %v] is empty", lower, upper)
	}
	return s.set(func() { s.desirable[joint] = [2]float64{lower, upper} })
}

// ClearJointDesirable implements engine.VelocitySolver.
func (s *Solver) ClearJointDesirable(joint int) error {
	if joint < -1 || joint >= s.numJoints {
		return errors.Errorf("joint %d out of range", joint)
	}
	return s.set(func() {
		if joint == -1 {
			s.desirable = map[int][2]float64{}
			return
		}
		delete(s.desirable, joint)
	})
}

// SetEndEffectorPosition implements engine.VelocitySolver.
func (s *Solver) SetEndEffectorPosition(point r3.Vector) error {
	return s.set(func() { s.endEffector = point })
}

// Close implements engine.VelocitySolver.
func (s *Solver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("fake solver closed twice")
	}
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Solver) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Settings is a snapshot of the solver configuration.
type Settings struct {
	ExactSolution        bool
	LinearVelocityLimit  float64
	AngularVelocityLimit float64
	LinearGain           float64
	AngularGain          float64
	JointVelocityLimits  []float64
	JointWeights         []float64
	DesirableVLimit      float64
	Desirable            map[int][2]float64
	EndEffector          r3.Vector
}

// Settings returns the current configuration.
func (s *Solver) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	desirable := make(map[int][2]float64, len(s.desirable))
	for k, v := range s.desirable {
		desirable[k] = v
	}
	return Settings{
		ExactSolution:        s.exactSolution,
		LinearVelocityLimit:  s.linearVelocityLimit,
		AngularVelocityLimit: s.angularVelocityLimit,
		LinearGain:           s.linearGain,
		AngularGain:          s.angularGain,
		JointVelocityLimits:  append([]float64(nil), s.jointVelocityLimits...),
		JointWeights:         append([]float64(nil), s.jointWeights...),
		DesirableVLimit:      s.desirableVLimit,
		Desirable:            desirable,
		EndEffector:          s.endEffector,
	}
}
