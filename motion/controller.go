// Package motion implements the per-tick control loop that drives the arm toward a Cartesian
// destination or a joint target, rewinds it to its home configuration, and enforces joint limits
// and collision avoidance on every step.
//
// A Controller is driven from a single goroutine. Each Step selects a target according to the
// motion state, evaluates the velocity solver once, integrates, vetoes colliding or out-of-limit
// steps and emits the joints, a status report and the pose to its events.Sink.
package motion

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/floats"

	"github.com/armcd/motionworker/engine"
	"github.com/armcd/motionworker/events"
	"github.com/armcd/motionworker/logging"
	"github.com/armcd/motionworker/state"
	"github.com/armcd/motionworker/trajectory"
	"github.com/armcd/motionworker/utils"
)

var (
	// ErrNotAttached is returned before engines are attached or after Close.
	ErrNotAttached = errors.New("controller has no engine attached")
	// ErrNotInitialized is returned before the initial joints are set.
	ErrNotInitialized = errors.New("initial joints not set")
	// ErrDimensionMismatch is returned for vectors of the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNotFinite is returned for vectors holding NaN or infinite values.
	ErrNotFinite = errors.New("vector holds non-finite values")
	// ErrNotRewinding is returned when a rewind is stopped while none is running.
	ErrNotRewinding = errors.New("not rewinding")
)

// ActuatorSink receives the joint state on every rewind tick.
type ActuatorSink interface {
	SendActuatorSample(position, velocity []float64)
}

// Controller owns the joint state and the engines. It is not safe for concurrent use.
type Controller struct {
	cfg     Config
	machine *state.Machine
	sink    events.Sink
	logger  logging.Logger

	actuators ActuatorSink

	solver   *engine.Handle[engine.VelocitySolver]
	collider *engine.Handle[engine.CollisionDetector]
	limits   Limits

	joints     []float64
	prevJoints []float64
	velocities []float64
	limitFlags []int
	collisions []engine.ShapePair

	// destination is nil while holding the current pose.
	destination  []float64
	jointTargets []float64
	rewinders    []*trajectory.Generator

	exactSolution     bool
	ignoreCollisions  bool
	ignoreJointLimits bool

	counter       uint64
	logPrevJoints []float64
}

// New returns a Controller that reads and updates the motion state of `machine` and emits to
// `sink`.
func New(cfg Config, machine *state.Machine, sink events.Sink, logger logging.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{cfg: cfg, machine: machine, sink: sink, logger: logger}, nil
}

// SetActuatorSink mirrors rewind samples to `actuators`. nil disables mirroring.
func (c *Controller) SetActuatorSink(actuators ActuatorSink) {
	c.actuators = actuators
}

// Attach takes ownership of the engines for a model with len(limits.Lower) joints. collider may be
// nil, which disables collision checks. Previously attached engines are released.
func (c *Controller) Attach(solver engine.VelocitySolver, collider engine.CollisionDetector, limits Limits) error {
	if solver == nil {
		return errors.New("solver is required")
	}
	if len(limits.Lower) == 0 {
		return errors.New("model has no joints")
	}
	if err := limits.Validate(len(limits.Lower)); err != nil {
		return err
	}
	if err := c.release(); err != nil {
		c.logger.Warnw("failed to release previous engines", "error", err)
	}
	c.solver = engine.NewHandle(solver)
	c.collider = nil
	if collider != nil {
		c.collider = engine.NewHandle(collider)
	}
	c.limits = limits.clone()
	return nil
}

// NumJoints is the joint count of the attached model, or 0.
func (c *Controller) NumJoints() int {
	return len(c.limits.Lower)
}

func (c *Controller) attached() bool {
	return c.solver != nil && !c.solver.Released()
}

func (c *Controller) checkVector(name string, values []float64, size int) error {
	if len(values) != size {
		return errors.Wrapf(ErrDimensionMismatch, "%s has %d values, expected %d", name, len(values), size)
	}
	if !utils.AllFinite(values) {
		return errors.Wrap(ErrNotFinite, name)
	}
	return nil
}

// SetInitialJoints seeds the joint state and makes it the home of the rewind profiles. The arm then
// holds its pose until a destination arrives.
func (c *Controller) SetInitialJoints(joints []float64) error {
	if !c.attached() {
		return ErrNotAttached
	}
	n := c.NumJoints()
	if err := c.checkVector("initial joints", joints, n); err != nil {
		return err
	}

	if len(c.rewinders) != n {
		rewinders := make([]*trajectory.Generator, n)
		for i := range rewinders {
			gen, err := trajectory.New(c.cfg.rewindParams(i))
			if err != nil {
				return errors.Wrapf(err, "rewind profile of joint %d", i)
			}
			rewinders[i] = gen
		}
		c.rewinders = rewinders
	}
	for i, gen := range c.rewinders {
		gen.Reset()
		gen.SetX0(joints[i])
	}

	c.joints = append([]float64(nil), joints...)
	c.prevJoints = append([]float64(nil), joints...)
	c.velocities = make([]float64, n)
	c.limitFlags = make([]int, n)
	c.logPrevJoints = make([]float64, n)
	c.collisions = nil
	c.destination = nil
	c.jointTargets = nil
	c.machine.SetMotion(state.Moving)
	c.logger.Infow("initial joints set", "joints", c.joints)
	return nil
}

func (c *Controller) initialized() error {
	if !c.attached() {
		return ErrNotAttached
	}
	if c.joints == nil {
		return ErrNotInitialized
	}
	return nil
}

// SetDestination moves the end effector toward `pose`.
func (c *Controller) SetDestination(pose []float64) error {
	if err := c.initialized(); err != nil {
		return err
	}
	if err := c.checkVector("destination", pose, c.cfg.PoseSize); err != nil {
		return err
	}
	c.destination = append(c.destination[:0], pose...)
	c.machine.SetMotion(state.Moving)
	return nil
}

// SetJointTargets moves every joint toward `targets` with a proportional controller.
func (c *Controller) SetJointTargets(targets []float64) error {
	if err := c.initialized(); err != nil {
		return err
	}
	if err := c.checkVector("joint targets", targets, c.NumJoints()); err != nil {
		return err
	}
	c.jointTargets = append(c.jointTargets[:0], targets...)
	c.machine.SetMotion(state.JointMoving)
	return nil
}

// SetRewind starts or stops a rewind to the home configuration. Starting zeroes the velocities and
// restarts every profile. Stopping converges, and fails with ErrNotRewinding if no rewind runs.
func (c *Controller) SetRewind(enable bool) error {
	if err := c.initialized(); err != nil {
		return err
	}
	current := c.machine.Motion()
	if !enable {
		if current != state.Rewinding {
			return ErrNotRewinding
		}
		c.machine.SetMotion(state.Converged)
		return nil
	}
	if current == state.Rewinding {
		return nil
	}
	for i := range c.velocities {
		c.velocities[i] = 0
	}
	for _, gen := range c.rewinders {
		gen.Reset()
	}
	c.machine.SetMotion(state.Rewinding)
	return nil
}

// SetEndEffectorPoint changes the tool offset and runs one synchronous tick that holds the current
// pose, so the emitted pose reflects the new offset. Motion state, destination and velocities are
// kept.
func (c *Controller) SetEndEffectorPoint(point r3.Vector) error {
	if err := c.initialized(); err != nil {
		return err
	}
	if !utils.AllFinite([]float64{point.X, point.Y, point.Z}) {
		return errors.Wrap(ErrNotFinite, "end effector point")
	}
	if err := c.WithSolver(func(solver engine.VelocitySolver) error {
		return solver.SetEndEffectorPosition(point)
	}); err != nil {
		return err
	}

	savedMotion, savedDestination, savedVelocities := c.machine.Motion(), c.destination, c.Velocities()
	c.machine.SetMotion(state.Moving)
	c.destination = nil
	err := c.Step(0)
	c.machine.SetMotion(savedMotion)
	c.destination = savedDestination
	copy(c.velocities, savedVelocities)
	return err
}

// SetExactSolution toggles exact solving through singularities.
func (c *Controller) SetExactSolution(exact bool) error {
	if err := c.WithSolver(func(solver engine.VelocitySolver) error {
		return solver.SetExactSolution(exact)
	}); err != nil {
		return err
	}
	c.exactSolution = exact
	return nil
}

// ExactSolution reports the exact solution mode.
func (c *Controller) ExactSolution() bool {
	return c.exactSolution
}

// SetIgnoreCollisions disables or enables the collision veto.
func (c *Controller) SetIgnoreCollisions(ignore bool) {
	c.ignoreCollisions = ignore
}

// SetIgnoreJointLimits disables or enables joint limit enforcement.
func (c *Controller) SetIgnoreJointLimits(ignore bool) {
	c.ignoreJointLimits = ignore
}

// SetJointLimits replaces the joint limits loaded with the model.
func (c *Controller) SetJointLimits(limits Limits) error {
	if !c.attached() {
		return ErrNotAttached
	}
	if err := limits.Validate(c.NumJoints()); err != nil {
		return err
	}
	if !utils.AllFinite(limits.Lower) || !utils.AllFinite(limits.Upper) {
		return errors.Wrap(ErrNotFinite, "joint limits")
	}
	c.limits = limits.clone()
	return nil
}

// Limits returns a copy of the joint limits.
func (c *Controller) Limits() Limits {
	return c.limits.clone()
}

// WithSolver calls fn with the attached solver.
func (c *Controller) WithSolver(fn func(engine.VelocitySolver) error) error {
	if c.solver == nil {
		return ErrNotAttached
	}
	solver, err := c.solver.Get()
	if err != nil {
		return errors.Wrap(ErrNotAttached, err.Error())
	}
	return fn(solver)
}

// Joints returns a copy of the joint vector.
func (c *Controller) Joints() []float64 {
	return append([]float64(nil), c.joints...)
}

// Velocities returns a copy of the joint velocities.
func (c *Controller) Velocities() []float64 {
	return append([]float64(nil), c.velocities...)
}

// LimitFlags returns the limit flags of the last tick.
func (c *Controller) LimitFlags() []int {
	return append([]int(nil), c.limitFlags...)
}

// Collisions returns the shape pairs in contact during the last tick.
func (c *Controller) Collisions() []engine.ShapePair {
	return append([]engine.ShapePair(nil), c.collisions...)
}

// Destination returns the Cartesian destination, or nil while holding.
func (c *Controller) Destination() []float64 {
	if c.destination == nil {
		return nil
	}
	return append([]float64(nil), c.destination...)
}

// Home returns the rewind reference of every joint.
func (c *Controller) Home() []float64 {
	home := make([]float64, len(c.rewinders))
	for i, gen := range c.rewinders {
		home[i] = gen.X0()
	}
	return home
}

// Close releases the engines. It is safe to call more than once.
func (c *Controller) Close() error {
	return c.release()
}

func (c *Controller) release() error {
	var solverErr, colliderErr error
	if c.solver != nil {
		solverErr = errors.Wrap(c.solver.Release(), "releasing solver")
	}
	if c.collider != nil {
		colliderErr = errors.Wrap(c.collider.Release(), "releasing collision detector")
	}
	return multierr.Combine(solverErr, colliderErr)
}

type snapshot struct {
	joints     []float64
	prevJoints []float64
	velocities []float64
	motion     state.MotionState
}

func (c *Controller) snapshot() snapshot {
	return snapshot{
		joints:     append([]float64(nil), c.joints...),
		prevJoints: append([]float64(nil), c.prevJoints...),
		velocities: append([]float64(nil), c.velocities...),
		motion:     c.machine.Motion(),
	}
}

func (c *Controller) restore(s snapshot) {
	copy(c.joints, s.joints)
	copy(c.prevJoints, s.prevJoints)
	copy(c.velocities, s.velocities)
	c.machine.SetMotion(s.motion)
}

// Step runs one control cycle of dt seconds. It does nothing while dormant or before the joints
// are initialized. An engine error aborts the tick with the joint state and motion state unchanged
// and nothing emitted.
func (c *Controller) Step(dt float64) error {
	motion := c.machine.Motion()
	if motion == state.Dormant || c.initialized() != nil {
		return nil
	}
	solver, err := c.solver.Get()
	if err != nil {
		return nil
	}

	before := c.snapshot()
	c.collisions = c.collisions[:0]

	var target []float64
	switch motion {
	case state.Moving:
		target = c.destination
	case state.JointMoving:
		c.jointMove(dt)
		collided, err := c.detectCollisions()
		if err != nil {
			c.restore(before)
			return err
		}
		if collided {
			copy(c.joints, c.prevJoints)
			c.machine.SetMotion(state.Converged)
		}
	case state.Rewinding:
		c.rewind(dt)
	}

	var result engine.Result
	if c.cfg.JointLimitKeepMoving {
		result, err = solver.SolveVelocitiesWithLimits(c.joints, target, c.limitFlags)
	} else {
		result, err = solver.SolveVelocities(c.joints, target)
	}
	if err != nil {
		c.restore(before)
		return errors.Wrap(err, "solving velocities")
	}

	motion = c.machine.Motion()
	if motion == state.Moving {
		if len(result.JointVelocities) != len(c.joints) {
			c.restore(before)
			return errors.Wrapf(ErrDimensionMismatch, "solver returned %d velocities for %d joints",
				len(result.JointVelocities), len(c.joints))
		}
		copy(c.velocities, result.JointVelocities)
	}
	if motion == state.Rewinding && result.Status != engine.StatusOK && result.Status != engine.StatusEnd {
		c.logger.Warnw("unexpected solver status while rewinding", "status", result.Status)
	}
	if motion == state.Moving {
		if err := c.applyStatus(result.Status, dt); err != nil {
			c.restore(before)
			return err
		}
	}

	if c.ignoreJointLimits {
		for i := range c.limitFlags {
			c.limitFlags[i] = 0
		}
	} else if ClampToLimits(c.joints, c.prevJoints, c.limitFlags, c.limits) && !c.cfg.JointLimitKeepMoving {
		c.machine.SetMotion(state.Converged)
	}

	c.emit(result)
	c.counter++
	c.logProgress(result)
	return nil
}

func (c *Controller) applyStatus(status engine.Status, dt float64) error {
	switch status {
	case engine.StatusOK:
		copy(c.prevJoints, c.joints)
		for i := range c.joints {
			c.joints[i] += c.velocities[i] * dt
		}
		collided, err := c.detectCollisions()
		if err != nil {
			return err
		}
		if collided {
			copy(c.joints, c.prevJoints)
		}
	case engine.StatusEnd:
		c.machine.SetMotion(state.Converged)
	case engine.StatusRewind:
		// Back to the configuration just before the singular approach.
		copy(c.joints, c.prevJoints)
	case engine.StatusSingularity:
		c.logger.Errorw("solver reported a singularity", "joints", c.joints)
	case engine.StatusError:
		c.logger.Errorw("solver reported an error", "joints", c.joints)
	default:
		c.logger.Errorw("unexpected solver status", "status", status)
	}
	return nil
}

func (c *Controller) jointMove(dt float64) {
	copy(c.prevJoints, c.joints)
	reached := true
	for i := range c.joints {
		velocity := utils.Clamp(c.cfg.JointMoveGain*(c.jointTargets[i]-c.joints[i]),
			-c.cfg.JointMoveVelocityLimit, c.cfg.JointMoveVelocityLimit)
		c.velocities[i] = velocity
		c.joints[i] += velocity * dt
		if math.Abs(c.jointTargets[i]-c.joints[i]) > c.cfg.JointMoveTolerance {
			reached = false
		}
	}
	if reached {
		c.machine.SetMotion(state.Converged)
	}
}

func (c *Controller) rewind(dt float64) {
	copy(c.prevJoints, c.joints)
	homed := true
	for i, gen := range c.rewinders {
		next := gen.CalcNext(c.joints[i], c.velocities[i], dt)
		c.joints[i] = next.Position
		c.velocities[i] = next.Velocity
		if math.Abs(next.Position-gen.X0()) > c.cfg.RewindTolerance {
			homed = false
		}
	}
	if homed {
		c.machine.SetMotion(state.Converged)
	}
	if c.actuators != nil {
		c.actuators.SendActuatorSample(c.Joints(), c.Velocities())
	}
}

// detectCollisions runs forward kinematics at the current joints and records the pairs in contact.
func (c *Controller) detectCollisions() (bool, error) {
	if c.ignoreCollisions || c.collider == nil {
		return false, nil
	}
	collider, err := c.collider.Get()
	if err != nil {
		return false, nil
	}
	if err := collider.CalcFK(c.joints); err != nil {
		return false, errors.Wrap(err, "forward kinematics")
	}
	pairs, err := collider.TestCollisionPairs()
	if err != nil {
		return false, errors.Wrap(err, "testing collision pairs")
	}
	c.collisions = append(c.collisions[:0], pairs...)
	return len(c.collisions) > 0, nil
}

func (c *Controller) emit(result engine.Result) {
	collisions := make([][2]int, len(c.collisions))
	for i, pair := range c.collisions {
		collisions[i] = [2]int{pair.A, pair.B}
	}
	c.sink.Emit(events.Joints{Joints: c.Joints()})
	c.sink.Emit(events.Status{
		Status:           result.Status.String(),
		ExactSolution:    c.exactSolution,
		ConditionNumber:  result.Diagnostics.ConditionNumber,
		Manipulability:   result.Diagnostics.Manipulability,
		SensitivityScale: result.Diagnostics.SensitivityScale,
		LimitFlag:        c.LimitFlags(),
		Collisions:       collisions,
	})
	c.sink.Emit(events.NewPose(result.Position, result.Orientation))
}

func (c *Controller) logProgress(result engine.Result) {
	if c.cfg.LogInterval == 0 || c.counter%uint64(c.cfg.LogInterval) != 0 {
		return
	}
	if floats.Distance(c.logPrevJoints, c.joints, math.Inf(1)) > c.cfg.LogThreshold {
		c.logger.Infow("motion progress",
			"tick", c.counter,
			"status", result.Status.String(),
			"condition_number", result.Diagnostics.ConditionNumber,
			"manipulability", result.Diagnostics.Manipulability,
			"sensitivity_scale", result.Diagnostics.SensitivityScale,
			"limit_flags", c.limitFlags,
		)
	}
	copy(c.logPrevJoints, c.joints)
}
