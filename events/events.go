// Package events defines the messages the worker emits to its host.
package events

import (
	"encoding/json"
	"math"
	"strconv"
	"sync"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Type is the wire tag of an event.
type Type string

// The event types.
const (
	TypeReady            Type = "ready"
	TypeGeneratorReady   Type = "generator_ready"
	TypeJoints           Type = "joints"
	TypeStatus           Type = "status"
	TypePose             Type = "pose"
	TypeShutdownComplete Type = "shutdown_complete"
)

// Event is one outbound message. The set of implementations is closed.
type Event interface {
	Type() Type
	isEvent()
}

// Sink consumes events in emission order.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// Ready is emitted once at process start.
type Ready struct{}

// GeneratorReady is emitted after the model and engines are built.
type GeneratorReady struct{}

// ShutdownComplete is emitted once after resources are released.
type ShutdownComplete struct{}

// Joints carries the joint vector after a tick.
type Joints struct {
	Joints []float64 `json:"joints"`
}

// Status is the per-tick solver report. A singular configuration can drive the float metrics to
// infinity or NaN, which are written as the strings "Infinity", "-Infinity" and "NaN".
type Status struct {
	Status           string   `json:"status"`
	ExactSolution    bool     `json:"exact_solution"`
	ConditionNumber  float64  `json:"condition_number"`
	Manipulability   float64  `json:"manipulability"`
	SensitivityScale float64  `json:"sensitivity_scale"`
	LimitFlag        []int    `json:"limit_flag"`
	Collisions       [][2]int `json:"collisions"`
}

// Pose is the end effector pose computed by the solver. Quaternion is ordered w, x, y, z.
type Pose struct {
	Position   [3]float64 `json:"position"`
	Quaternion [4]float64 `json:"quaternion"`
}

// NewPose converts solver geometry to a Pose event.
func NewPose(position r3.Vector, orientation quat.Number) Pose {
	return Pose{
		Position:   [3]float64{position.X, position.Y, position.Z},
		Quaternion: [4]float64{orientation.Real, orientation.Imag, orientation.Jmag, orientation.Kmag},
	}
}

func (Ready) Type() Type            { return TypeReady }
func (GeneratorReady) Type() Type   { return TypeGeneratorReady }
func (ShutdownComplete) Type() Type { return TypeShutdownComplete }
func (Joints) Type() Type           { return TypeJoints }
func (Status) Type() Type           { return TypeStatus }
func (Pose) Type() Type             { return TypePose }

func (Ready) isEvent()            {}
func (GeneratorReady) isEvent()   {}
func (ShutdownComplete) isEvent() {}
func (Joints) isEvent()           {}
func (Status) isEvent()           {}
func (Pose) isEvent()             {}

// MarshalJSON adds the type tag.
func (e Ready) MarshalJSON() ([]byte, error) { return marshalTagged(e.Type(), struct{}{}) }

// MarshalJSON adds the type tag.
func (e GeneratorReady) MarshalJSON() ([]byte, error) { return marshalTagged(e.Type(), struct{}{}) }

// MarshalJSON adds the type tag.
func (e ShutdownComplete) MarshalJSON() ([]byte, error) {
	return marshalTagged(e.Type(), struct{}{})
}

// MarshalJSON adds the type tag.
func (e Joints) MarshalJSON() ([]byte, error) {
	return marshalTagged(e.Type(), struct {
		Joints []Float `json:"joints"`
	}{floats(e.Joints)})
}

// MarshalJSON adds the type tag. Nil slices are written as empty arrays.
func (e Status) MarshalJSON() ([]byte, error) {
	if e.LimitFlag == nil {
		e.LimitFlag = []int{}
	}
	if e.Collisions == nil {
		e.Collisions = [][2]int{}
	}
	return marshalTagged(e.Type(), struct {
		Status           string   `json:"status"`
		ExactSolution    bool     `json:"exact_solution"`
		ConditionNumber  Float    `json:"condition_number"`
		Manipulability   Float    `json:"manipulability"`
		SensitivityScale Float    `json:"sensitivity_scale"`
		LimitFlag        []int    `json:"limit_flag"`
		Collisions       [][2]int `json:"collisions"`
	}{
		Status:           e.Status,
		ExactSolution:    e.ExactSolution,
		ConditionNumber:  Float(e.ConditionNumber),
		Manipulability:   Float(e.Manipulability),
		SensitivityScale: Float(e.SensitivityScale),
		LimitFlag:        e.LimitFlag,
		Collisions:       e.Collisions,
	})
}

// MarshalJSON adds the type tag.
func (e Pose) MarshalJSON() ([]byte, error) {
	return marshalTagged(e.Type(), struct {
		Position   []Float `json:"position"`
		Quaternion []Float `json:"quaternion"`
	}{floats(e.Position[:]), floats(e.Quaternion[:])})
}

// Float is a float64 that writes infinities and NaN as the JSON strings "Infinity", "-Infinity" and
// "NaN" instead of failing.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Infinity"`), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON accepts plain numbers and the strings written by MarshalJSON.
func (f *Float) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func floats(values []float64) []Float {
	if values == nil {
		return nil
	}
	out := make([]Float, len(values))
	for i, v := range values {
		out[i] = Float(v)
	}
	return out
}

// marshalTagged writes body as a JSON object with a leading "type" member.
func marshalTagged(typ Type, body any) ([]byte, error) {
	tag, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	fields, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(tag)+len(fields)+10)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(fields) > 2 {
		out = append(out, ',')
		out = append(out, fields[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// Recorder is a Sink that keeps every event. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records ev.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events with the given tag.
func (r *Recorder) OfType(typ Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type() == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
