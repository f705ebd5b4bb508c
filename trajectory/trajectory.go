// Package trajectory implements the per-joint velocity profile used to rewind an arm back to a
// resting reference.
//
// A Generator defines a braking envelope vs(x) over the offset x from its reference x0. Far from
// the reference the envelope saturates at the maximum velocity, closer in it follows a constant
// deceleration parabola, and near the reference it becomes a proportional approach. CalcNext
// accelerates the joint toward the envelope with bounded acceleration until it meets it, and from
// then on tracks it, which yields a trapezoidal velocity profile without overshoot.
package trajectory

import (
	"math"

	"github.com/pkg/errors"

	"github.com/armcd/motionworker/utils"
)

// Params are the shape parameters of a profile.
type Params struct {
	// Gain of the proportional approach zone, in 1/s.
	Gain float64 `json:"gain"`
	// MaxDeceleration is the braking rate of the parabolic zone.
	MaxDeceleration float64 `json:"max_deceleration"`
	// MaxVelocity is the saturation velocity.
	MaxVelocity float64 `json:"max_velocity"`
	// MaxAcceleration bounds how fast an unconstrained joint is brought onto the envelope.
	MaxAcceleration float64 `json:"max_acceleration"`
}

// Validate ensures all parts of the params are valid.
func (p Params) Validate() error {
	for _, field := range []struct {
		name  string
		value float64
	}{
		{"gain", p.Gain},
		{"max_deceleration", p.MaxDeceleration},
		{"max_velocity", p.MaxVelocity},
		{"max_acceleration", p.MaxAcceleration},
	} {
		if !(field.value > 0) || math.IsInf(field.value, 0) {
			return errors.Errorf("trajectory %s must be positive and finite, got %v", field.name, field.value)
		}
	}
	return nil
}

// DefaultParams returns the rewind profile for joint `index`. The two base joints carry the most
// inertia and rewind more slowly.
func DefaultParams(index int) Params {
	if index <= 1 {
		return Params{Gain: 5, MaxDeceleration: 1, MaxVelocity: 0.2, MaxAcceleration: 0.02}
	}
	return Params{Gain: 5, MaxDeceleration: 1, MaxVelocity: 1, MaxAcceleration: 0.0625}
}

// Sample is the next state produced by CalcNext.
type Sample struct {
	Position    float64
	Velocity    float64
	Constrained bool
}

// Generator produces the rewind profile of a single joint.
type Generator struct {
	params Params
	// Squared offsets where the linear and the parabolic zones end.
	linearEnd    float64
	parabolicEnd float64

	x0          float64
	constrained bool
}

// New returns a Generator with its reference at 0.
func New(params Params) (*Generator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	g2 := params.Gain * params.Gain
	linearEnd := params.MaxDeceleration / g2
	parabolicEnd := params.MaxDeceleration/(2*g2) + params.MaxVelocity*params.MaxVelocity/(2*params.MaxDeceleration)
	return &Generator{
		params:       params,
		linearEnd:    linearEnd * linearEnd,
		parabolicEnd: parabolicEnd * parabolicEnd,
	}, nil
}

// Params returns the profile parameters.
func (g *Generator) Params() Params {
	return g.params
}

// Envelope is the braking velocity vs(x) for an offset x from the reference.
func (g *Generator) Envelope(x float64) float64 {
	p := g.params
	xSq := x * x
	switch {
	case xSq < g.linearEnd:
		return -p.Gain * x
	case xSq < g.parabolicEnd:
		return -utils.Sign(x) * math.Sqrt(p.MaxDeceleration*(2*math.Abs(x)-p.MaxDeceleration/(p.Gain*p.Gain)))
	default:
		return -utils.Sign(x) * p.MaxVelocity
	}
}

// SetX0 rebinds the reference position.
func (g *Generator) SetX0(x0 float64) {
	g.x0 = x0
}

// X0 returns the reference position.
func (g *Generator) X0() float64 {
	return g.x0
}

// Reset clears the constrained flag so the next CalcNext accelerates toward the envelope again.
func (g *Generator) Reset() {
	g.constrained = false
}

// Constrained reports whether the generator is tracking the envelope.
func (g *Generator) Constrained() bool {
	return g.constrained
}

// CalcNext advances a joint at `position` moving at `velocity` by dt seconds.
func (g *Generator) CalcNext(position, velocity, dt float64) Sample {
	x := position - g.x0
	nextX := x + velocity*dt

	if g.constrained {
		return Sample{Position: g.x0 + nextX, Velocity: g.Envelope(nextX), Constrained: true}
	}

	nextEnvelope := g.Envelope(nextX)
	if velocity < g.Envelope(x) {
		candidate := velocity + g.params.MaxAcceleration*dt
		if candidate < nextEnvelope {
			return Sample{Position: g.x0 + nextX, Velocity: candidate}
		}
	} else {
		candidate := velocity - g.params.MaxAcceleration*dt
		if candidate > nextEnvelope {
			return Sample{Position: g.x0 + nextX, Velocity: candidate}
		}
	}

	g.constrained = true
	return Sample{Position: g.x0 + nextX, Velocity: nextEnvelope, Constrained: true}
}
