// Package engine defines the contract of the external numeric collaborators: the velocity solver
// that turns a Cartesian target into joint velocities and the collision detector that tests link
// shapes against each other.
package engine

import (
	"fmt"
	"io"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Status is the outcome of a single solver evaluation.
type Status int

// The statuses a solver reports.
const (
	StatusOK Status = iota
	StatusError
	StatusEnd
	StatusSingularity
	StatusRewind
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusEnd:
		return "END"
	case StatusSingularity:
		return "SINGULARITY"
	case StatusRewind:
		return "REWIND"
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Diagnostics describe the conditioning of the arm at the evaluated configuration.
type Diagnostics struct {
	ConditionNumber  float64
	Manipulability   float64
	SensitivityScale float64
}

// Result is the output of one solver evaluation.
type Result struct {
	JointVelocities []float64
	Status          Status
	// Position and Orientation of the end effector at the evaluated joints.
	Position    r3.Vector
	Orientation quat.Number
	Diagnostics Diagnostics
}

// JointModel is the kinematic description of one actuated joint.
type JointModel struct {
	Axis   r3.Vector
	Origin r3.Vector
	RPY    r3.Vector
}

// ShapePair is a pair of link shape indices.
type ShapePair struct {
	A, B int
}

// MarshalJSON encodes the pair as a two element array.
func (p ShapePair) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%d]", p.A, p.B)), nil
}

// VelocitySolver computes joint velocities that move the end effector toward a target. A nil or
// empty target means "hold the current pose": the solver evaluates once and returns zero
// velocities.
type VelocitySolver interface {
	io.Closer

	SolveVelocities(joints, target []float64) (Result, error)
	// SolveVelocitiesWithLimits is SolveVelocities for a controller that keeps moving at joint limits.
	// limitFlags holds +1/-1 for joints at their upper/lower limit and 0 otherwise.
	SolveVelocitiesWithLimits(joints, target []float64, limitFlags []int) (Result, error)

	SetExactSolution(exact bool) error
	SetLinearVelocityLimit(limit float64) error
	SetAngularVelocityLimit(limit float64) error
	SetLinearGain(gain float64) error
	SetAngularGain(gain float64) error
	SetJointVelocityLimit(limits []float64) error
	SetJointWeights(weights []float64) error
	SetJointDesirableVLimit(limit float64) error
	SetJointDesirable(joint int, lower, upper float64) error
	// ClearJointDesirable clears the desirable range of one joint, or of all joints when joint is -1.
	ClearJointDesirable(joint int) error
	SetEndEffectorPosition(point r3.Vector) error
}

// CollisionDetector tests link shapes for contact at a joint configuration.
type CollisionDetector interface {
	io.Closer

	CalcFK(joints []float64) error
	// TestCollisionPairs returns the registered test pairs in contact at the last CalcFK.
	TestCollisionPairs() ([]ShapePair, error)
	AddLinkShape(link int, hulls [][]r3.Vector) error
	ClearTestPairs() error
	AddTestPair(a, b int) error
}

// Factory constructs solvers and detectors and controls the verbosity of their native logging.
type Factory interface {
	NewSolver(joints []JointModel) (VelocitySolver, error)
	NewCollisionDetector(joints []JointModel, basePosition r3.Vector, baseOrientation quat.Number) (CollisionDetector, error)
	// SetSolverLogLevel and SetCollisionLogLevel take a verbosity in [0, 4].
	SetSolverLogLevel(level int) error
	SetCollisionLogLevel(level int) error
}
