// Package state tracks the worker's lifecycle phase and motion sub-state, and decides which host
// commands are accepted in each.
package state

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Phase is the lifecycle phase of the worker.
type Phase int

// The lifecycle phases, in the order they are entered. Shutdown is terminal and reachable from
// any phase.
const (
	Initializing Phase = iota
	WaitingModel
	BuildingModel
	ModelReady
	ControllerReady
	Shutdown
)

func (p Phase) String() string {
	switch p {
	case Initializing:
		return "initializing"
	case WaitingModel:
		return "waiting_model"
	case BuildingModel:
		return "building_model"
	case ModelReady:
		return "model_ready"
	case ControllerReady:
		return "controller_ready"
	case Shutdown:
		return "shutdown"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MotionState is what the control loop is doing with the arm.
type MotionState int

// The motion sub-states.
const (
	Dormant MotionState = iota
	Converged
	Moving
	Rewinding
	JointMoving
)

func (m MotionState) String() string {
	switch m {
	case Dormant:
		return "dormant"
	case Converged:
		return "converged"
	case Moving:
		return "moving"
	case Rewinding:
		return "rewinding"
	case JointMoving:
		return "joint_moving"
	}
	return fmt.Sprintf("motion(%d)", int(m))
}

// Idle reports whether a new joint target may start.
func (m MotionState) Idle() bool {
	return m == Dormant || m == Converged
}

// ErrIllegalTransition is returned for phase changes off the forward path.
var ErrIllegalTransition = errors.New("illegal phase transition")

// Machine holds the phase and motion state. It is safe for concurrent use, though the worker mutates
// it from its loop goroutine only.
type Machine struct {
	mu     sync.Mutex
	phase  Phase
	motion MotionState
}

// NewMachine returns a Machine in Initializing and Dormant.
func NewMachine() *Machine {
	return &Machine{}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Motion returns the current motion state.
func (m *Machine) Motion() MotionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.motion
}

// SetMotion replaces the motion state.
func (m *Machine) SetMotion(motion MotionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.motion = motion
}

// Advance moves to the next phase. Only the single forward step is legal.
func (m *Machine) Advance(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Shutdown || to == Shutdown || to != m.phase+1 {
		return errors.Wrapf(ErrIllegalTransition, "%v -> %v", m.phase, to)
	}
	m.phase = to
	return nil
}

// AbortBuild returns a failed model build to WaitingModel so init can be retried.
func (m *Machine) AbortBuild() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != BuildingModel {
		return errors.Wrapf(ErrIllegalTransition, "abort build from %v", m.phase)
	}
	m.phase = WaitingModel
	return nil
}

// Shutdown enters the terminal phase. It reports false if already shut down.
func (m *Machine) Shutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Shutdown {
		return false
	}
	m.phase = Shutdown
	m.motion = Dormant
	return true
}
