package engine

import (
	"math"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"
)

// Tuning holds the solver settings applied right after construction.
type Tuning struct {
	LinearVelocityLimit  float64 `json:"linear_velocity_limit"`
	AngularVelocityLimit float64 `json:"angular_velocity_limit"`
	LinearGain           float64 `json:"linear_gain"`
	AngularGain          float64 `json:"angular_gain"`
	// JointVelocityLimit is applied to every joint.
	JointVelocityLimit float64 `json:"joint_velocity_limit"`
	SolverLogLevel     int     `json:"solver_log_level"`
	CollisionLogLevel  int     `json:"collision_log_level"`
}

// DefaultTuning returns the settings the worker starts with.
func DefaultTuning() Tuning {
	return Tuning{
		LinearVelocityLimit:  10,
		AngularVelocityLimit: 2 * math.Pi,
		LinearGain:           20,
		AngularGain:          20,
		JointVelocityLimit:   2 * math.Pi,
		SolverLogLevel:       2,
		CollisionLogLevel:    2,
	}
}

// DefaultBasePosition and DefaultBaseOrientation place the arm base at the world origin.
var (
	DefaultBasePosition    = r3.Vector{}
	DefaultBaseOrientation = quat.Number{Real: 1}
)

// ApplyTuning configures a freshly built solver for `numJoints` joints.
func ApplyTuning(solver VelocitySolver, tuning Tuning, numJoints int, exactSolution bool) error {
	jointLimits := make([]float64, numJoints)
	for i := range jointLimits {
		jointLimits[i] = tuning.JointVelocityLimit
	}
	return multierr.Combine(
		solver.SetExactSolution(exactSolution),
		solver.SetLinearVelocityLimit(tuning.LinearVelocityLimit),
		solver.SetAngularVelocityLimit(tuning.AngularVelocityLimit),
		solver.SetAngularGain(tuning.AngularGain),
		solver.SetLinearGain(tuning.LinearGain),
		solver.SetJointVelocityLimit(jointLimits),
	)
}
