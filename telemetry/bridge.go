// Package telemetry streams msgpack encoded samples of the arm to an external endpoint over a
// connection that reconnects on its own.
//
// Send queues messages while the connection is down and flushes them in order once it is back, so
// every message is delivered at least once. Failed dials and dropped connections arm a single
// reconnect timer. The queue is unbounded.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/armcd/motionworker/logging"
	"github.com/armcd/motionworker/utils"
)

// Defaults of Config.
const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultWriteTimeout   = time.Second
)

var (
	// ErrNoEndpoint is returned by Send before Connect.
	ErrNoEndpoint = errors.New("telemetry endpoint not set")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("telemetry bridge closed")
)

// Config tunes a Bridge.
type Config struct {
	ReconnectDelay time.Duration `json:"reconnect_delay"`
	WriteTimeout   time.Duration `json:"write_timeout"`
}

// DefaultConfig returns the bridge defaults.
func DefaultConfig() Config {
	return Config{ReconnectDelay: DefaultReconnectDelay, WriteTimeout: DefaultWriteTimeout}
}

// Validate ensures all parts of the config are valid.
func (cfg Config) Validate() error {
	if cfg.ReconnectDelay <= 0 {
		return errors.Errorf("reconnect_delay must be positive, got %v", cfg.ReconnectDelay)
	}
	if cfg.WriteTimeout < 0 {
		return errors.Errorf("write_timeout must not be negative, got %v", cfg.WriteTimeout)
	}
	return nil
}

// ConnState is the connection state of a Bridge.
type ConnState int

// The connection states.
const (
	Disconnected ConnState = iota
	Connecting
	Connected
	// Backoff waits for the reconnect timer.
	Backoff
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("conn_state(%d)", int(s))
}

// Bridge owns the single outbound telemetry connection.
type Bridge struct {
	delay  time.Duration
	dial   DialFunc
	clock  clock.Clock
	logger logging.Logger

	mu       sync.Mutex
	state    ConnState
	endpoint string
	conn     Conn
	queue    [][]byte
	timer    *clock.Timer
	// timerGen invalidates a timer callback that fired after its timer was replaced or stopped.
	timerGen uint64

	workers *utils.StoppableWorkers
}

// NewBridge returns a Disconnected bridge. A nil dial uses the websocket dialer.
func NewBridge(cfg Config, dial DialFunc, clk clock.Clock, logger logging.Logger) *Bridge {
	if dial == nil {
		dial = WebsocketDialer(cfg.WriteTimeout)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Bridge{
		delay:   cfg.ReconnectDelay,
		dial:    dial,
		clock:   clk,
		logger:  logger,
		workers: utils.NewStoppableWorkers(),
	}
}

// Connect sets the endpoint and opens a connection to it unless one is already open or being
// opened. A pending reconnect is attempted right away.
func (b *Bridge) Connect(endpoint string) error {
	if endpoint == "" {
		return ErrNoEndpoint
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return ErrClosed
	case Backoff:
		b.stopTimerLocked()
		b.endpoint = endpoint
		b.connectLocked()
	case Disconnected:
		b.endpoint = endpoint
		b.connectLocked()
	case Connecting, Connected:
		b.endpoint = endpoint
	}
	return nil
}

// State returns the connection state.
func (b *Bridge) State() ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Endpoint returns the configured endpoint.
func (b *Bridge) Endpoint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endpoint
}

// QueueLen returns the number of messages waiting for a connection.
func (b *Bridge) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Send encodes msg and sends it, or queues it until a connection is open. Queuing while
// Disconnected starts a connection attempt.
func (b *Bridge) Send(msg any) error {
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encoding telemetry message")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return ErrClosed
	case Connected:
		if err := b.conn.WriteMessage(data); err != nil {
			b.queue = append(b.queue, data)
			b.dropLocked(b.conn, err)
		}
		return nil
	case Disconnected:
		if b.endpoint == "" {
			return ErrNoEndpoint
		}
		b.queue = append(b.queue, data)
		b.connectLocked()
	case Connecting, Backoff:
		b.queue = append(b.queue, data)
	}
	return nil
}

// SendIfConnected sends msg only if a connection is open. It is never queued. It reports whether
// the message was written.
func (b *Bridge) SendIfConnected(msg any) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Connected {
		return false, nil
	}
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return false, errors.Wrap(err, "encoding telemetry message")
	}
	if err := b.conn.WriteMessage(data); err != nil {
		b.dropLocked(b.conn, err)
		return false, nil
	}
	return true, nil
}

// SendActuatorSample queues a joint state sample.
func (b *Bridge) SendActuatorSample(position, velocity []float64) {
	err := b.Send(ActuatorSample{
		Topic:      ActuatorTopic,
		Stamp:      b.clock.Now().UnixMilli(),
		Position:   position,
		Velocity:   velocity,
		Normalized: []float64{},
	})
	if err != nil {
		b.logger.Debugw("actuator sample not sent", "error", err)
	}
}

// SendTimeReference reports the duration of a tick if a connection is open.
func (b *Bridge) SendTimeReference(tick time.Duration) {
	_, err := b.SendIfConnected(TimeReferenceSample{
		Topic:   TimeReferenceTopic,
		Stamp:   b.clock.Now().UnixMilli(),
		Header:  Header{FrameID: TimeReferenceFrame},
		TimeRef: NewTimeReference(tick),
		Source:  TimeReferenceSource,
	})
	if err != nil {
		b.logger.Debugw("time reference not sent", "error", err)
	}
}

// Close stops reconnecting, closes the connection and waits for the background workers. Queued
// messages are dropped.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.state == Closed {
		b.mu.Unlock()
		return nil
	}
	b.state = Closed
	b.stopTimerLocked()
	conn := b.conn
	b.conn = nil
	dropped := len(b.queue)
	b.queue = nil
	b.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	b.workers.Stop()
	if dropped > 0 {
		b.logger.Warnw("telemetry bridge closed with queued messages", "dropped", dropped)
	}
	return err
}

func (b *Bridge) connectLocked() {
	b.state = Connecting
	endpoint := b.endpoint
	if !b.workers.Add(func(ctx context.Context) {
		conn, err := b.dial(ctx, endpoint)
		b.finishDial(conn, err)
	}) {
		b.state = Closed
	}
}

func (b *Bridge) finishDial(conn Conn, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Closed {
		if conn != nil {
			//nolint:errcheck
			conn.Close()
		}
		return
	}
	if err != nil {
		b.logger.Warnw("telemetry connection failed, will retry", "endpoint", b.endpoint, "error", err)
		b.scheduleReconnectLocked()
		return
	}

	b.logger.Infow("telemetry connected", "endpoint", b.endpoint, "queued", len(b.queue))
	b.conn = conn
	b.state = Connected
	b.workers.Add(func(ctx context.Context) {
		b.readPump(ctx, conn)
	})
	b.flushLocked()
}

// flushLocked writes the queue in order. A failed message stays at the head of the queue.
func (b *Bridge) flushLocked() {
	for len(b.queue) > 0 {
		if err := b.conn.WriteMessage(b.queue[0]); err != nil {
			b.dropLocked(b.conn, err)
			return
		}
		b.queue[0] = nil
		b.queue = b.queue[1:]
	}
	b.queue = nil
}

// readPump discards inbound frames and notices when the connection ends.
func (b *Bridge) readPump(ctx context.Context, conn Conn) {
	for ctx.Err() == nil {
		if _, err := conn.ReadMessage(); err != nil {
			b.mu.Lock()
			b.dropLocked(conn, err)
			b.mu.Unlock()
			return
		}
	}
}

// dropLocked closes conn if it is still the live connection and schedules a reconnect.
func (b *Bridge) dropLocked(conn Conn, cause error) {
	if conn == nil || b.conn != conn {
		return
	}
	b.conn = nil
	//nolint:errcheck
	conn.Close()
	b.logger.Warnw("telemetry connection lost, will retry", "endpoint", b.endpoint, "error", cause)
	b.scheduleReconnectLocked()
}

func (b *Bridge) scheduleReconnectLocked() {
	if b.state == Closed {
		return
	}
	b.state = Backoff
	if b.timer != nil {
		return
	}
	b.timerGen++
	gen := b.timerGen
	b.timer = b.clock.AfterFunc(b.delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if gen != b.timerGen {
			return
		}
		b.timer = nil
		if b.state != Backoff {
			return
		}
		b.logger.Debugw("reconnecting telemetry", "endpoint", b.endpoint)
		b.connectLocked()
	})
}

func (b *Bridge) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
		b.timerGen++
	}
}
