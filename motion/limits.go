package motion

import (
	"github.com/pkg/errors"
)

// Limits are the per-joint position bounds.
type Limits struct {
	Lower []float64
	Upper []float64
}

// Validate ensures the bounds describe `numJoints` non-empty intervals.
func (l Limits) Validate(numJoints int) error {
	if len(l.Lower) != numJoints || len(l.Upper) != numJoints {
		return errors.Wrapf(ErrDimensionMismatch, "limits for %d joints, got %d lower and %d upper",
			numJoints, len(l.Lower), len(l.Upper))
	}
	for i := range l.Lower {
		if l.Lower[i] > l.Upper[i] {
			return errors.Errorf("joint %d lower limit %v above upper limit %v", i, l.Lower[i], l.Upper[i])
		}
	}
	return nil
}

func (l Limits) clone() Limits {
	return Limits{
		Lower: append([]float64(nil), l.Lower...),
		Upper: append([]float64(nil), l.Upper...),
	}
}

// ClampToLimits enforces `limits` on `joints`. Every joint at or past a bound is flagged in `flags`
// (+1 upper, -1 lower, 0 otherwise) and its bound is written into `prev`. If any joint is past its
// bound the whole vector is restored from `prev`, rolling back the other joints' last step too. A
// joint resting exactly on its bound is flagged without a rollback. It reports whether any joint
// was flagged.
func ClampToLimits(joints, prev []float64, flags []int, limits Limits) bool {
	limited, exceeded := false, false
	for i := range joints {
		flags[i] = 0
		if joints[i] >= limits.Upper[i] {
			flags[i] = 1
			exceeded = exceeded || joints[i] > limits.Upper[i]
			prev[i] = limits.Upper[i]
			limited = true
		}
		if joints[i] <= limits.Lower[i] {
			flags[i] = -1
			exceeded = exceeded || joints[i] < limits.Lower[i]
			prev[i] = limits.Lower[i]
			limited = true
		}
	}
	if exceeded {
		copy(joints, prev)
	}
	return limited
}
