package telemetry

import (
	"time"
)

// Topics and constants of the wire samples.
const (
	ActuatorTopic       = "actuator1"
	TimeReferenceTopic  = "timeRef"
	TimeReferenceFrame  = "none"
	TimeReferenceSource = "slrm_and_cd"
)

// Header is the ROS-style header of a sample.
type Header struct {
	FrameID string `msgpack:"frame_id,omitempty"`
}

// ActuatorSample mirrors the joint state of the arm. Stamps are Unix milliseconds, keyed
// javascriptStamp as the bridge consumers expect.
type ActuatorSample struct {
	Topic      string    `msgpack:"topic"`
	Stamp      int64     `msgpack:"javascriptStamp"`
	Header     Header    `msgpack:"header"`
	Position   []float64 `msgpack:"position"`
	Velocity   []float64 `msgpack:"velocity"`
	Normalized []float64 `msgpack:"normalized"`
}

// TimeReference is a duration split into whole seconds and the remaining nanoseconds.
type TimeReference struct {
	Sec     int64 `msgpack:"sec"`
	Nanosec int64 `msgpack:"nanosec"`
}

// NewTimeReference splits d.
func NewTimeReference(d time.Duration) TimeReference {
	return TimeReference{Sec: int64(d / time.Second), Nanosec: int64(d % time.Second)}
}

// TimeReferenceSample reports how long a control tick took.
type TimeReferenceSample struct {
	Topic   string        `msgpack:"topic"`
	Stamp   int64         `msgpack:"javascriptStamp"`
	Header  Header        `msgpack:"header"`
	TimeRef TimeReference `msgpack:"time_ref"`
	Source  string        `msgpack:"source"`
}
