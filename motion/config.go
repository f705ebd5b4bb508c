package motion

import (
	"math"

	"github.com/pkg/errors"

	"github.com/armcd/motionworker/trajectory"
)

// Accepted pose vector sizes: a column-major 4x4 transform or a position followed by a w, x, y, z
// quaternion.
const (
	PoseSizeTransform  = 16
	PoseSizeQuaternion = 7
)

// Config tunes a Controller.
type Config struct {
	// PoseSize is the length of destination vectors the solver expects.
	PoseSize int `json:"pose_size"`

	JointMoveGain          float64 `json:"joint_move_gain"`
	JointMoveVelocityLimit float64 `json:"joint_move_velocity_limit"`
	JointMoveTolerance     float64 `json:"joint_move_tolerance"`

	// RewindTolerance is how close every joint must be to its home position to end a rewind.
	RewindTolerance float64 `json:"rewind_tolerance"`
	// RewindParams overrides the rewind profile of the first len(RewindParams) joints.
	RewindParams []trajectory.Params `json:"rewind_params"`

	// LogInterval is the number of ticks between progress logs. 0 disables them.
	LogInterval  int     `json:"log_interval"`
	LogThreshold float64 `json:"log_threshold"`

	// JointLimitKeepMoving keeps the arm moving when a joint reaches a limit. The solver is told
	// which joints are at a limit instead.
	JointLimitKeepMoving bool `json:"joint_limit_keep_moving"`
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		PoseSize:               PoseSizeTransform,
		JointMoveGain:          10,
		JointMoveVelocityLimit: math.Pi / 3,
		JointMoveTolerance:     1e-2,
		RewindTolerance:        1e-2,
		LogThreshold:           0.005,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg Config) Validate() error {
	if cfg.PoseSize != PoseSizeTransform && cfg.PoseSize != PoseSizeQuaternion {
		return errors.Errorf("pose_size must be %d or %d, got %d", PoseSizeTransform, PoseSizeQuaternion, cfg.PoseSize)
	}
	for name, value := range map[string]float64{
		"joint_move_gain":           cfg.JointMoveGain,
		"joint_move_velocity_limit": cfg.JointMoveVelocityLimit,
		"joint_move_tolerance":      cfg.JointMoveTolerance,
		"rewind_tolerance":          cfg.RewindTolerance,
	} {
		if !(value > 0) {
			return errors.Errorf("%s must be positive, got %v", name, value)
		}
	}
	if cfg.LogInterval < 0 {
		return errors.Errorf("log_interval must not be negative, got %d", cfg.LogInterval)
	}
	if cfg.LogThreshold < 0 {
		return errors.Errorf("log_threshold must not be negative, got %v", cfg.LogThreshold)
	}
	for i, params := range cfg.RewindParams {
		if err := params.Validate(); err != nil {
			return errors.Wrapf(err, "rewind_params[%d]", i)
		}
	}
	return nil
}

// rewindParams returns the profile of joint i.
func (cfg Config) rewindParams(i int) trajectory.Params {
	if i < len(cfg.RewindParams) {
		return cfg.RewindParams[i]
	}
	return trajectory.DefaultParams(i)
}
