// Package worker runs the motion worker: it gates host commands through the state machine,
// builds the engines from a model in the background and drives the controller tick loop.
package worker

import (
	"context"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/armcd/motionworker/config"
	"github.com/armcd/motionworker/engine"
	"github.com/armcd/motionworker/events"
	"github.com/armcd/motionworker/logging"
	"github.com/armcd/motionworker/modelgraph"
	"github.com/armcd/motionworker/motion"
	"github.com/armcd/motionworker/state"
	"github.com/armcd/motionworker/telemetry"
	"github.com/armcd/motionworker/utils"
)

// ErrStopped is returned by Submit once the worker has shut down.
var ErrStopped = errors.New("worker stopped")

const commandQueueSize = 64

// Options are the collaborators of a Worker. Config, Factory, Fetcher and Sink are required.
type Options struct {
	Config  *config.Config
	Factory engine.Factory
	Fetcher modelgraph.Fetcher
	Sink    events.Sink
	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Dial defaults to the websocket transport.
	Dial telemetry.DialFunc
}

// Worker owns the state machine, the controller and the telemetry bridge. Commands are handled
// and ticks run on the goroutine calling Run.
type Worker struct {
	cfg     *config.Config
	factory engine.Factory
	loader  *modelgraph.Loader
	sink    events.Sink
	clock   clock.Clock
	logger  logging.Logger
	// loggers are every logger set_worker_loglevel applies to.
	loggers []logging.Logger

	machine    *state.Machine
	controller *motion.Controller
	bridge     *telemetry.Bridge

	commands    chan Command
	initResults chan *initResult
	// initWorkers runs the model load chain.
	initWorkers *utils.StoppableWorkers

	started  bool
	stopping bool
	lastTick time.Time
	ticks    *atomic.Uint64
	stopped  *atomic.Bool
	done     chan struct{}
}

// New returns a Worker in the Initializing phase. Run starts it.
func New(opts Options, logger logging.Logger) (*Worker, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("worker config is required")
	case opts.Factory == nil:
		return nil, errors.New("engine factory is required")
	case opts.Fetcher == nil:
		return nil, errors.New("model fetcher is required")
	case opts.Sink == nil:
		return nil, errors.New("event sink is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	motionLogger := logger.Sublogger("motion")
	telemetryLogger := logger.Sublogger("telemetry")
	modelLogger := logger.Sublogger("model")

	machine := state.NewMachine()
	controller, err := motion.New(opts.Config.Motion, machine, opts.Sink, motionLogger)
	if err != nil {
		return nil, err
	}
	bridge := telemetry.NewBridge(opts.Config.Telemetry, opts.Dial, clk, telemetryLogger)
	controller.SetActuatorSink(bridge)

	return &Worker{
		cfg:         opts.Config,
		factory:     opts.Factory,
		loader:      modelgraph.NewLoader(opts.Fetcher, modelLogger),
		sink:        opts.Sink,
		clock:       clk,
		logger:      logger,
		loggers:     []logging.Logger{logger, motionLogger, telemetryLogger, modelLogger},
		machine:     machine,
		controller:  controller,
		bridge:      bridge,
		commands:    make(chan Command, commandQueueSize),
		initResults: make(chan *initResult, 1),
		initWorkers: utils.NewStoppableWorkers(),
		ticks:       atomic.NewUint64(0),
		stopped:     atomic.NewBool(false),
		done:        make(chan struct{}),
	}, nil
}

// Machine returns the state machine of the worker.
func (w *Worker) Machine() *state.Machine {
	return w.machine
}

// Ticks returns the number of controller steps run so far.
func (w *Worker) Ticks() uint64 {
	return w.ticks.Load()
}

// Done is closed once the worker has shut down.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Submit queues a command for the loop. It blocks while the queue is full.
func (w *Worker) Submit(ctx context.Context, cmd Command) error {
	if w.stopped.Load() {
		return ErrStopped
	}
	select {
	case w.commands <- cmd:
		return nil
	case <-w.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run emits ready and runs the loop until a shutdown command is handled or ctx is done. Either way
// the engines are released, the bridge is closed and shutdown_complete is emitted.
func (w *Worker) Run(ctx context.Context) error {
	w.Start()
	for {
		if !w.stepping() {
			// Nothing to step until the controller is ready, so wait for input instead of spinning.
			select {
			case cmd := <-w.commands:
				w.handle(cmd)
			case res := <-w.initResults:
				w.applyInit(res)
			case <-ctx.Done():
			}
			w.lastTick = w.clock.Now()
		}
		if ctx.Err() != nil {
			w.logger.Infow("worker context done, shutting down", "error", ctx.Err())
			w.stopping = true
		}
		if !w.Tick() {
			return ctx.Err()
		}
		w.pace(ctx)
	}
}

// Start advances to WaitingModel and emits ready. Run calls it; tests driving Tick call it
// directly.
func (w *Worker) Start() {
	if w.started {
		return
	}
	w.started = true
	if err := w.machine.Advance(state.WaitingModel); err != nil {
		w.logger.Errorw("cannot start worker", "error", err)
		return
	}
	w.lastTick = w.clock.Now()
	w.sink.Emit(events.Ready{})
	w.logger.Info("worker ready")
}

// Tick runs one loop iteration: queued commands, a finished init chain, the shutdown check and one
// controller step. It returns false once the worker has shut down.
func (w *Worker) Tick() bool {
	if w.stopped.Load() {
		return false
	}
	w.drain()
	if w.stopping {
		w.finish()
		return false
	}

	now := w.clock.Now()
	dt := now.Sub(w.lastTick).Seconds()
	w.lastTick = now
	if !w.stepping() {
		return true
	}

	start := w.clock.Now()
	if err := w.controller.Step(dt); err != nil {
		w.logger.Warnw("tick failed, state unchanged", "error", err)
	}
	w.ticks.Inc()
	w.bridge.SendTimeReference(w.clock.Since(start))
	return true
}

func (w *Worker) stepping() bool {
	return w.stopping || w.machine.Phase() == state.ControllerReady
}

func (w *Worker) drain() {
	for !w.stopping {
		select {
		case cmd := <-w.commands:
			w.handle(cmd)
		case res := <-w.initResults:
			w.applyInit(res)
		default:
			return
		}
	}
}

func (w *Worker) pace(ctx context.Context) {
	if w.cfg.MinTickPeriod <= 0 {
		runtime.Gosched()
		return
	}
	remaining := w.cfg.MinTickPeriod - w.clock.Since(w.lastTick)
	if remaining <= 0 {
		return
	}
	timer := w.clock.Timer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (w *Worker) finish() {
	if !w.machine.Shutdown() {
		return
	}
	w.initWorkers.Stop()
	select {
	case res := <-w.initResults:
		//nolint:errcheck
		res.release()
	default:
	}
	err := multierr.Combine(w.controller.Close(), w.bridge.Close())
	if err != nil {
		w.logger.Warnw("errors releasing resources during shutdown", "error", err)
	}
	w.stopped.Store(true)
	w.sink.Emit(events.ShutdownComplete{})
	close(w.done)
	w.logger.Infow("worker shut down", "ticks", w.ticks.Load())
}

// handle gates and applies one command. Rejections and failures are diagnostics only.
func (w *Worker) handle(cmd Command) {
	if err := w.machine.Gate(cmd.Kind()); err != nil {
		w.logger.Warnw("command rejected", "command", cmd.Kind(), "error", err)
		return
	}
	if err := w.apply(cmd); err != nil {
		w.logger.Warnw("command failed", "command", cmd.Kind(), "error", err)
	}
}

func (w *Worker) apply(cmd Command) error {
	switch c := cmd.(type) {
	case InitCmd:
		return w.startInit(c)
	case SetInitialJointsCmd:
		if err := w.controller.SetInitialJoints(c.Joints); err != nil {
			return err
		}
		if w.machine.Phase() == state.ModelReady {
			return w.machine.Advance(state.ControllerReady)
		}
		return nil
	case DestinationCmd:
		return w.controller.SetDestination(c.EndLinkPose)
	case SetJointTargetsCmd:
		return w.controller.SetJointTargets(c.Joints)
	case SlowRewindCmd:
		return w.controller.SetRewind(c.SlowRewind)
	case SetEndEffectorPointCmd:
		if len(c.EndEffectorPoint) != 3 {
			return errors.Wrapf(motion.ErrDimensionMismatch,
				"end effector point has %d values, expected 3", len(c.EndEffectorPoint))
		}
		p := c.EndEffectorPoint
		return w.controller.SetEndEffectorPoint(r3.Vector{X: p[0], Y: p[1], Z: p[2]})
	case SetExactSolutionCmd:
		return w.controller.SetExactSolution(c.ExactSolution)
	case SetJointWeightsCmd:
		return w.controller.WithSolver(func(s engine.VelocitySolver) error {
			return s.SetJointWeights(c.Weights)
		})
	case SetJointDesirableVLimitCmd:
		return w.controller.WithSolver(func(s engine.VelocitySolver) error {
			return s.SetJointDesirableVLimit(c.VLimit)
		})
	case SetJointDesirableCmd:
		return w.controller.WithSolver(func(s engine.VelocitySolver) error {
			return s.SetJointDesirable(c.JointNumber, c.Lower, c.Upper)
		})
	case ClearJointDesirableCmd:
		return w.controller.WithSolver(func(s engine.VelocitySolver) error {
			return s.ClearJointDesirable(c.JointNumber)
		})
	case SetJointVelocityLimitCmd:
		return w.controller.WithSolver(func(s engine.VelocitySolver) error {
			return s.SetJointVelocityLimit(c.Limits)
		})
	case SetIgnoreCollisionsCmd:
		w.controller.SetIgnoreCollisions(c.Ignore)
		w.logger.Infow("collision checks", "ignored", c.Ignore)
		return nil
	case SetIgnoreJointLimitsCmd:
		w.controller.SetIgnoreJointLimits(c.Ignore)
		w.logger.Infow("joint limit checks", "ignored", c.Ignore)
		return nil
	case SetLogLevelCmd:
		return w.setLogLevel(c)
	case SetJointLimitsCmd:
		return w.controller.SetJointLimits(motion.Limits{Lower: c.Lower, Upper: c.Upper})
	case ShutdownCmd:
		w.stopping = true
		return nil
	}
	return errors.Errorf("unhandled command %T", cmd)
}

func (w *Worker) setLogLevel(cmd SetLogLevelCmd) error {
	level, err := logging.LevelFromProtocol(cmd.LogLevel)
	if err != nil {
		return err
	}
	switch cmd.Target {
	case LogTargetSolver:
		return w.factory.SetSolverLogLevel(cmd.LogLevel)
	case LogTargetCollision:
		return w.factory.SetCollisionLogLevel(cmd.LogLevel)
	case LogTargetWorker:
		w.SetLogLevel(level)
		return nil
	}
	return errors.Errorf("unknown log target %d", cmd.Target)
}

// SetLogLevel sets the level of the worker logger and its subloggers. It is safe to call from any
// goroutine.
func (w *Worker) SetLogLevel(level logging.Level) {
	for _, logger := range w.loggers {
		logger.SetLevel(level)
	}
}

// jointModels converts ordered model joints to the engine representation.
func jointModels(joints []modelgraph.Joint) []engine.JointModel {
	return lo.Map(joints, func(joint modelgraph.Joint, _ int) engine.JointModel {
		return engine.JointModel{Axis: joint.Axis, Origin: joint.XYZ, RPY: joint.RPY}
	})
}
