package worker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
	"gonum.org/v1/gonum/num/quat"

	"github.com/armcd/motionworker/config"
	"github.com/armcd/motionworker/engine"
	"github.com/armcd/motionworker/engine/fake"
	"github.com/armcd/motionworker/events"
	"github.com/armcd/motionworker/logging"
	"github.com/armcd/motionworker/state"
	"github.com/armcd/motionworker/telemetry"
	"github.com/armcd/motionworker/testutils/inject"
)

const (
	armModel = `[
	{"$": {"name": "j1", "type": "revolute"}, "parent": {"$": {"link": "base"}}, "child": {"$": {"link": "l1"}},
		"limit": {"$": {"lower": -1, "upper": 1}}},
	{"$": {"name": "j2", "type": "revolute"}, "parent": {"$": {"link": "l1"}}, "child": {"$": {"link": "l2"}},
		"axis": {"$": {"xyz": "0 1 0"}}, "limit": {"$": {"lower": -1, "upper": 1}}},
	{"$": {"name": "j3", "type": "revolute"}, "parent": {"$": {"link": "l2"}}, "child": {"$": {"link": "l3"}},
		"origin": {"$": {"xyz": "0 0 0.2"}}, "limit": {"$": {"lower": -1, "upper": 1}}}
]`
	armPatch = `{"0": {"limit": {"$": {"upper": 0.5}}}}`
	hull     = `[[[0, 0, 0], [0, 0, 0.1], [0, 0.1, 0], [0.1, 0, 0]]]`
	tickStep = 10 * time.Millisecond
)

var armShapes = "[" + strings.Repeat(hull+",", 4) + hull + "]"

type mapFetcher map[string]string

func (f mapFetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	data, ok := f[source]
	if !ok {
		return nil, errors.Errorf("%q not found", source)
	}
	return []byte(data), nil
}

// recordingConn keeps every frame written to it.
type recordingConn struct {
	mu        sync.Mutex
	frames    [][]byte
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *recordingConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

func (c *recordingConn) ReadMessage() ([]byte, error) {
	<-c.closed
	return nil, io.EOF
}

func (c *recordingConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *recordingConn) topics(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var topics []string
	for _, frame := range c.frames {
		var header struct {
			Topic string `msgpack:"topic"`
		}
		test.That(t, msgpack.Unmarshal(frame, &header), test.ShouldBeNil)
		topics = append(topics, header.Topic)
	}
	return topics
}

type harness struct {
	t        *testing.T
	w        *Worker
	rec      *events.Recorder
	clk      *clock.Mock
	logs     *observer.ObservedLogs
	logger   logging.Logger
	engines  *fake.Factory
	conn     *recordingConn
	fetcher  mapFetcher
	mu       sync.Mutex
	solvers  []*fake.Solver
	detector []*fake.CollisionDetector
}

func newHarness(t *testing.T, modify func(*config.Config)) *harness {
	t.Helper()
	logger, logs := logging.NewObservedTestLogger(t)
	h := &harness{
		t:       t,
		rec:     &events.Recorder{},
		clk:     clock.NewMock(),
		logs:    logs,
		logger:  logger,
		engines: fake.NewFactory(logger),
		conn:    &recordingConn{closed: make(chan struct{})},
		fetcher: mapFetcher{"arm.json": armModel, "patch.json": armPatch, "shapes.json": armShapes},
	}
	factory := &inject.Factory{Factory: h.engines}
	factory.NewSolverFunc = func(joints []engine.JointModel) (engine.VelocitySolver, error) {
		solver := fake.NewSolver(len(joints))
		h.mu.Lock()
		h.solvers = append(h.solvers, solver)
		h.mu.Unlock()
		return solver, nil
	}
	factory.NewCollisionDetectorFunc = func(
		joints []engine.JointModel, basePosition r3.Vector, baseOrientation quat.Number,
	) (engine.CollisionDetector, error) {
		detector := fake.NewCollisionDetector(len(joints))
		h.mu.Lock()
		h.detector = append(h.detector, detector)
		h.mu.Unlock()
		return detector, nil
	}

	cfg := config.Default()
	if modify != nil {
		modify(cfg)
	}
	w, err := New(Options{
		Config:  cfg,
		Factory: factory,
		Fetcher: h.fetcher,
		Sink:    h.rec,
		Clock:   h.clk,
		Dial: func(ctx context.Context, endpoint string) (telemetry.Conn, error) {
			return h.conn, nil
		},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	h.w = w
	t.Cleanup(func() {
		if err := w.Submit(context.Background(), ShutdownCmd{}); err == nil {
			w.Tick()
		}
	})
	w.Start()
	return h
}

func (h *harness) submit(cmd Command) {
	h.t.Helper()
	test.That(h.t, h.w.Submit(context.Background(), cmd), test.ShouldBeNil)
}

// tick advances the clock by one step and runs one loop iteration.
func (h *harness) tick() bool {
	h.clk.Add(tickStep)
	return h.w.Tick()
}

// runWhile ticks at least once and then while the motion state is `motion`.
func (h *harness) runWhile(motion state.MotionState, maxTicks int) {
	h.t.Helper()
	h.tick()
	for i := 0; i < maxTicks && h.w.Machine().Motion() == motion; i++ {
		h.tick()
	}
}

func (h *harness) waitConnected() {
	h.t.Helper()
	testutils.WaitForAssertion(h.t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, h.w.bridge.State(), test.ShouldEqual, telemetry.Connected)
	})
}

func (h *harness) waitForPhase(phase state.Phase) {
	h.t.Helper()
	testutils.WaitForAssertion(h.t, func(tb testing.TB) {
		tb.Helper()
		h.w.Tick()
		test.That(tb, h.w.Machine().Phase(), test.ShouldEqual, phase)
	})
}

func (h *harness) solver() *fake.Solver {
	h.mu.Lock()
	defer h.mu.Unlock()
	test.That(h.t, len(h.solvers), test.ShouldBeGreaterThan, 0)
	return h.solvers[len(h.solvers)-1]
}

// ready runs init and set_initial_joints.
func (h *harness) ready(initial []float64, cmd InitCmd) {
	h.t.Helper()
	h.submit(cmd)
	h.waitForPhase(state.ModelReady)
	h.submit(SetInitialJointsCmd{Joints: initial})
	h.tick()
	test.That(h.t, h.w.Machine().Phase(), test.ShouldEqual, state.ControllerReady)
}

func lastJoints(t *testing.T, rec *events.Recorder) []float64 {
	t.Helper()
	joints := rec.OfType(events.TypeJoints)
	test.That(t, len(joints), test.ShouldBeGreaterThan, 0)
	return joints[len(joints)-1].(events.Joints).Joints
}

func transform(x, y, z float64) []float64 {
	pose := make([]float64, 16)
	pose[0], pose[5], pose[10], pose[15] = 1, 1, 1, 1
	pose[12], pose[13], pose[14] = x, y, z
	return pose
}

func TestNew(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := New(Options{}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg := config.Default()
	cfg.Motion.PoseSize = 3
	_, err = New(Options{
		Config:  cfg,
		Factory: fake.NewFactory(logger),
		Fetcher: mapFetcher{},
		Sink:    &events.Recorder{},
	}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "pose_size")
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	test.That(t, h.rec.Events(), test.ShouldResemble, []events.Event{events.Ready{}})
	test.That(t, h.w.Machine().Phase(), test.ShouldEqual, state.WaitingModel)

	// Nothing but init is accepted yet.
	h.submit(SetInitialJointsCmd{Joints: []float64{0, 0, 0}})
	h.tick()
	test.That(t, h.logs.FilterMessageSnippet("command rejected").Len(), test.ShouldEqual, 1)

	h.submit(InitCmd{Filename: "arm.json", Modifier: "patch.json", LinkShapes: "shapes.json", BridgeURL: "ws://bridge"})
	test.That(t, h.w.Tick(), test.ShouldBeTrue)
	h.waitForPhase(state.ModelReady)
	test.That(t, h.rec.OfType(events.TypeGeneratorReady), test.ShouldHaveLength, 1)
	test.That(t, h.w.Ticks(), test.ShouldEqual, 0)
	h.waitConnected()

	settings := h.solver().Settings()
	test.That(t, settings.LinearGain, test.ShouldEqual, engine.DefaultTuning().LinearGain)
	test.That(t, settings.JointVelocityLimits, test.ShouldHaveLength, 3)

	h.mu.Lock()
	detector := h.detector[0]
	h.mu.Unlock()
	test.That(t, detector.NumShapes(), test.ShouldEqual, 5)
	// Default pairs referencing links past the end effector are dropped.
	test.That(t, detector.TestPairs(), test.ShouldResemble, []engine.ShapePair{
		{A: 0, B: 2}, {A: 0, B: 3}, {A: 0, B: 4}, {A: 1, B: 3}, {A: 1, B: 4}, {A: 2, B: 4},
	})

	h.submit(SetInitialJointsCmd{Joints: []float64{0, 0, 0}})
	h.tick()
	test.That(t, h.w.Machine().Phase(), test.ShouldEqual, state.ControllerReady)
	test.That(t, h.w.Ticks(), test.ShouldEqual, 1)
	// The hold-pose evaluation reports END.
	test.That(t, h.w.Machine().Motion(), test.ShouldEqual, state.Converged)

	h.submit(DestinationCmd{EndLinkPose: transform(0.2, -0.1, 0.05)})
	h.runWhile(state.Moving, 200)
	test.That(t, h.w.Machine().Motion(), test.ShouldEqual, state.Converged)
	joints := lastJoints(t, h.rec)
	test.That(t, joints[0], test.ShouldAlmostEqual, 0.2, 1e-3)
	test.That(t, joints[1], test.ShouldAlmostEqual, -0.1, 1e-3)
	test.That(t, joints[2], test.ShouldAlmostEqual, 0.05, 1e-3)

	statuses := h.rec.OfType(events.TypeStatus)
	test.That(t, statuses[len(statuses)-1].(events.Status).Status, test.ShouldEqual, "END")
	test.That(t, h.rec.OfType(events.TypePose), test.ShouldHaveLength, len(h.rec.OfType(events.TypeJoints)))

	// Every tick reports its duration once telemetry is up.
	topics := h.conn.topics(t)
	test.That(t, len(topics), test.ShouldBeGreaterThan, 0)
	for _, topic := range topics {
		test.That(t, topic, test.ShouldEqual, telemetry.TimeReferenceTopic)
	}

	h.submit(ShutdownCmd{})
	test.That(t, h.tick(), test.ShouldBeFalse)
	test.That(t, h.rec.OfType(events.TypeShutdownComplete), test.ShouldHaveLength, 1)
	test.That(t, h.w.Machine().Phase(), test.ShouldEqual, state.Shutdown)
	test.That(t, h.solver().Closed(), test.ShouldBeTrue)
	test.That(t, detector.Closed(), test.ShouldBeTrue)
	test.That(t, h.w.Submit(context.Background(), ShutdownCmd{}), test.ShouldBeError, ErrStopped)
	test.That(t, h.w.Tick(), test.ShouldBeFalse)
	test.That(t, h.rec.OfType(events.TypeShutdownComplete), test.ShouldHaveLength, 1)
	select {
	case <-h.w.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestPatchedLimits(t *testing.T) {
	h := newHarness(t, nil)
	h.ready([]float64{0, 0, 0}, InitCmd{Filename: "arm.json", Modifier: "patch.json"})

	// The patch lowered the upper limit of j1 to 0.5.
	h.submit(DestinationCmd{EndLinkPose: transform(0.8, 0, 0)})
	h.runWhile(state.Moving, 200)
	test.That(t, h.w.Machine().Motion(), test.ShouldEqual, state.Converged)
	test.That(t, lastJoints(t, h.rec)[0], test.ShouldEqual, 0.5)
	statuses := h.rec.OfType(events.TypeStatus)
	test.That(t, statuses[len(statuses)-1].(events.Status).LimitFlag, test.ShouldResemble, []int{1, 0, 0})
}

func TestSetJointTargetsWhileMovingRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.ready([]float64{0, 0, 0}, InitCmd{Filename: "arm.json"})

	h.submit(DestinationCmd{EndLinkPose: transform(0.3, 0, 0)})
	h.tick()
	test.That(t, h.w.Machine().Motion(), test.ShouldEqual, state.Moving)

	h.submit(SetJointTargetsCmd{Joints: []float64{0.1, 0.1, 0.1}})
	h.tick()
	test.That(t, h.w.Machine().Motion(), test.ShouldEqual, state.Moving)
	rejected := h.logs.FilterMessageSnippet("command rejected").All()
	test.That(t, rejected, test.ShouldHaveLength, 1)
	test.That(t, fmt.Sprint(rejected[0].ContextMap()["command"]), test.ShouldEqual, string(state.CmdSetJointTargets))
}

func TestJointMoveAndRewind(t *testing.T) {
	h := newHarness(t, nil)
	h.ready([]float64{0, 0, 0}, InitCmd{Filename: "arm.json", BridgeURL: "ws://bridge"})
	h.waitConnected()

	h.submit(SetJointTargetsCmd{Joints: []float64{0.3, -0.2, 0.1}})
	h.runWhile(state.JointMoving, 500)
	test.That(t, h.w.Machine().Motion(), test.ShouldEqual, state.Converged)
	joints := lastJoints(t, h.rec)
	test.That(t, joints[0], test.ShouldAlmostEqual, 0.3, 1e-2)
	test.That(t, joints[1], test.ShouldAlmostEqual, -0.2, 1e-2)

	h.submit(SlowRewindCmd{SlowRewind: true})
	h.tick()
	test.That(t, h.w.Machine().Motion(), test.ShouldEqual, state.Rewinding)
	h.submit(SlowRewindCmd{SlowRewind: false})
	h.tick()
	test.That(t, h.w.Machine().Motion(), test.ShouldEqual, state.Converged)

	// Stopping twice is a diagnostic only.
	h.submit(SlowRewindCmd{SlowRewind: false})
	h.tick()
	test.That(t, h.logs.FilterMessageSnippet("command failed").Len(), test.ShouldEqual, 1)

	// The rewind profile is slow, so only check that every joint heads home.
	h.submit(SlowRewindCmd{SlowRewind: true})
	for i := 0; i < 200; i++ {
		h.tick()
	}
	test.That(t, h.w.Machine().Motion(), test.ShouldEqual, state.Rewinding)
	rewound := lastJoints(t, h.rec)
	test.That(t, rewound[0], test.ShouldBeLessThan, joints[0])
	test.That(t, rewound[1], test.ShouldBeGreaterThan, joints[1])
	test.That(t, h.w.controller.Home(), test.ShouldResemble, []float64{0, 0, 0})

	// Rewind ticks mirror the joint state to telemetry.
	actuatorSamples := 0
	for _, topic := range h.conn.topics(t) {
		if topic == telemetry.ActuatorTopic {
			actuatorSamples++
		}
	}
	test.That(t, actuatorSamples, test.ShouldBeGreaterThan, 0)
}

func TestInitFailure(t *testing.T) {
	h := newHarness(t, nil)

	h.submit(InitCmd{Filename: "missing.json"})
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		h.w.Tick()
		test.That(tb, h.logs.FilterMessageSnippet("init failed").Len(), test.ShouldEqual, 1)
	})
	test.That(t, h.w.Machine().Phase(), test.ShouldEqual, state.WaitingModel)
	test.That(t, h.rec.OfType(events.TypeGeneratorReady), test.ShouldHaveLength, 0)

	// A shape list that does not cover every link fails and releases what was built.
	h.fetcher["short.json"] = "[" + hull + "]"
	h.submit(InitCmd{Filename: "arm.json", LinkShapes: "short.json"})
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		h.w.Tick()
		test.That(tb, h.logs.FilterMessageSnippet("init failed").Len(), test.ShouldEqual, 2)
	})
	test.That(t, h.w.Machine().Phase(), test.ShouldEqual, state.WaitingModel)
	test.That(t, h.solver().Closed(), test.ShouldBeTrue)
	h.mu.Lock()
	test.That(t, h.detector[0].Closed(), test.ShouldBeTrue)
	h.mu.Unlock()

	// Init can be retried.
	h.submit(InitCmd{Filename: "arm.json"})
	h.waitForPhase(state.ModelReady)
	test.That(t, h.rec.OfType(events.TypeGeneratorReady), test.ShouldHaveLength, 1)
	test.That(t, h.solver().Closed(), test.ShouldBeFalse)
}

func TestEngineCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.ready([]float64{0, 0, 0}, InitCmd{Filename: "arm.json"})

	for _, cmd := range []Command{
		SetExactSolutionCmd{ExactSolution: true},
		SetJointWeightsCmd{Weights: []float64{1, 2, 3}},
		SetJointDesirableVLimitCmd{VLimit: 0.25},
		SetJointDesirableCmd{JointNumber: 1, Lower: -0.5, Upper: 0.5},
		SetJointVelocityLimitCmd{Limits: []float64{1, 1, 1}},
		SetEndEffectorPointCmd{EndEffectorPoint: []float64{0, 0, 0.1}},
	} {
		h.submit(cmd)
	}
	h.tick()
	test.That(t, h.logs.FilterMessageSnippet("command failed").Len(), test.ShouldEqual, 0)

	settings := h.solver().Settings()
	test.That(t, settings.ExactSolution, test.ShouldBeTrue)
	test.That(t, settings.JointWeights, test.ShouldResemble, []float64{1, 2, 3})
	test.That(t, settings.DesirableVLimit, test.ShouldEqual, 0.25)
	test.That(t, settings.Desirable, test.ShouldResemble, map[int][2]float64{1: {-0.5, 0.5}})
	test.That(t, settings.JointVelocityLimits, test.ShouldResemble, []float64{1, 1, 1})
	test.That(t, settings.EndEffector, test.ShouldResemble, r3.Vector{Z: 0.1})

	h.submit(ClearJointDesirableCmd{JointNumber: -1})
	h.submit(SetEndEffectorPointCmd{EndEffectorPoint: []float64{1, 2}})
	h.submit(SetJointWeightsCmd{Weights: []float64{1}})
	h.tick()
	test.That(t, h.solver().Settings().Desirable, test.ShouldResemble, map[int][2]float64{})
	test.That(t, h.logs.FilterMessageSnippet("command failed").Len(), test.ShouldEqual, 2)
}

func TestSafetyToggles(t *testing.T) {
	h := newHarness(t, nil)
	h.ready([]float64{0, 0, 0}, InitCmd{Filename: "arm.json"})

	h.submit(SetIgnoreJointLimitsCmd{Ignore: true})
	h.submit(SetIgnoreCollisionsCmd{Ignore: true})
	h.submit(DestinationCmd{EndLinkPose: transform(1.5, 0, 0)})
	h.runWhile(state.Moving, 300)
	test.That(t, lastJoints(t, h.rec)[0], test.ShouldAlmostEqual, 1.5, 1e-3)

	h.submit(SetIgnoreJointLimitsCmd{Ignore: false})
	h.submit(SetJointLimitsCmd{Lower: []float64{-2, -2, -2}, Upper: []float64{2, 2, 2}})
	h.submit(DestinationCmd{EndLinkPose: transform(1.8, 0, 0)})
	h.runWhile(state.Moving, 300)
	test.That(t, lastJoints(t, h.rec)[0], test.ShouldAlmostEqual, 1.8, 1e-3)

	h.submit(SetJointLimitsCmd{Lower: []float64{-1}, Upper: []float64{1}})
	h.tick()
	test.That(t, h.logs.FilterMessageSnippet("command failed").Len(), test.ShouldEqual, 1)
}

func TestLogLevelCommands(t *testing.T) {
	h := newHarness(t, nil)

	h.submit(SetLogLevelCmd{Target: LogTargetSolver, LogLevel: 0})
	h.submit(SetLogLevelCmd{Target: LogTargetCollision, LogLevel: 4})
	h.submit(SetLogLevelCmd{Target: LogTargetWorker, LogLevel: 2})
	h.tick()
	solverLevel, collisionLevel := h.engines.LogLevels()
	test.That(t, solverLevel, test.ShouldEqual, 0)
	test.That(t, collisionLevel, test.ShouldEqual, 4)
	test.That(t, h.logger.GetLevel(), test.ShouldEqual, logging.WARN)
	for _, logger := range h.w.loggers {
		test.That(t, logger.GetLevel(), test.ShouldEqual, logging.WARN)
	}

	h.submit(SetLogLevelCmd{Target: LogTargetWorker, LogLevel: 4})
	h.submit(SetLogLevelCmd{Target: LogTargetSolver, LogLevel: 5})
	h.tick()
	test.That(t, h.logger.GetLevel(), test.ShouldEqual, logging.DEBUG)
	test.That(t, h.logs.FilterMessageSnippet("command failed").Len(), test.ShouldEqual, 1)
	solverLevel, _ = h.engines.LogLevels()
	test.That(t, solverLevel, test.ShouldEqual, 0)
}

func TestShutdownDuringInit(t *testing.T) {
	h := newHarness(t, nil)
	block := make(chan struct{})
	h.w.factory = &inject.Factory{
		Factory: h.engines,
		NewSolverFunc: func(joints []engine.JointModel) (engine.VelocitySolver, error) {
			<-block
			return nil, errors.New("interrupted")
		},
	}

	h.submit(InitCmd{Filename: "arm.json"})
	h.tick()
	test.That(t, h.w.Machine().Phase(), test.ShouldEqual, state.BuildingModel)

	// Everything but shutdown and the safety toggles is rejected while building.
	h.submit(SetExactSolutionCmd{ExactSolution: true})
	h.submit(InitCmd{Filename: "arm.json"})
	h.tick()
	test.That(t, h.logs.FilterMessageSnippet("command rejected").Len(), test.ShouldEqual, 2)

	close(block)
	h.submit(ShutdownCmd{})
	test.That(t, h.tick(), test.ShouldBeFalse)
	test.That(t, h.rec.OfType(events.TypeGeneratorReady), test.ShouldHaveLength, 0)
	test.That(t, h.rec.OfType(events.TypeShutdownComplete), test.ShouldHaveLength, 1)
}

func TestRunWithStream(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	var out strings.Builder
	var mu sync.Mutex
	sink := NewJSONLinesSink(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return out.Write(p)
	}), logger)

	w, err := New(Options{
		Config:  config.Default(),
		Factory: fake.NewFactory(logger),
		Fetcher: mapFetcher{"arm.json": armModel},
		Sink:    sink,
	}, logger)
	test.That(t, err, test.ShouldBeNil)

	input := strings.Join([]string{
		`{"type": "bogus"}`,
		`not json`,
		``,
		`{"type": "set_worker_loglevel", "logLevel": 4}`,
	}, "\n")
	ctx := context.Background()
	readErr := make(chan error, 1)
	go func() {
		readErr <- ReadCommands(ctx, strings.NewReader(input), w, logger)
	}()
	test.That(t, w.Run(ctx), test.ShouldBeNil)
	test.That(t, <-readErr, test.ShouldBeNil)

	mu.Lock()
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	mu.Unlock()
	test.That(t, lines, test.ShouldResemble, []string{`{"type":"ready"}`, `{"type":"shutdown_complete"}`})
	test.That(t, logs.FilterMessageSnippet("ignoring invalid command").Len(), test.ShouldEqual, 2)
	test.That(t, logger.GetLevel(), test.ShouldEqual, logging.DEBUG)
}

func TestRunContextCanceled(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rec := &events.Recorder{}
	w, err := New(Options{
		Config:  config.Default(),
		Factory: fake.NewFactory(logger),
		Fetcher: mapFetcher{},
		Sink:    rec,
	}, logger)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, w.Run(ctx), test.ShouldBeError, context.Canceled)
	test.That(t, rec.OfType(events.TypeShutdownComplete), test.ShouldHaveLength, 1)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
