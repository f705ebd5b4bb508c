package worker

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/armcd/motionworker/engine"
	"github.com/armcd/motionworker/events"
	"github.com/armcd/motionworker/modelgraph"
	"github.com/armcd/motionworker/motion"
	"github.com/armcd/motionworker/state"
	"github.com/armcd/motionworker/utils"
)

// initResult is the outcome of a load chain, handed from the background worker to the loop.
type initResult struct {
	cmd      InitCmd
	model    *modelgraph.Model
	solver   engine.VelocitySolver
	collider engine.CollisionDetector
	err      error
}

func (res *initResult) release() error {
	var errs error
	if res.solver != nil {
		errs = multierr.Append(errs, res.solver.Close())
	}
	if res.collider != nil {
		errs = multierr.Append(errs, res.collider.Close())
	}
	return errs
}

func (w *Worker) startInit(cmd InitCmd) error {
	if cmd.Filename == "" {
		return errors.New("init requires a model filename")
	}
	if err := w.machine.Advance(state.BuildingModel); err != nil {
		return err
	}
	w.logger.Infow("building model", "filename", cmd.Filename, "modifier", cmd.Modifier,
		"link_shapes", cmd.LinkShapes, "test_pairs", cmd.TestPairs)
	if err := w.factory.SetSolverLogLevel(w.cfg.Engine.SolverLogLevel); err != nil {
		w.logger.Warnw("cannot set solver log level", "error", err)
	}

	exact := w.controller.ExactSolution()
	started := w.initWorkers.Add(func(ctx context.Context) {
		res := w.build(ctx, cmd, exact)
		select {
		case w.initResults <- res:
		case <-ctx.Done():
			goutils.UncheckedError(res.release())
		}
	})
	if !started {
		return multierr.Combine(errors.New("worker is shutting down"), w.machine.AbortBuild())
	}
	return nil
}

// build runs the load chain: model and patch, solver, then the optional collision detector with its
// shapes and test pairs. Each step waits on the previous one. Nothing built survives a failure.
func (w *Worker) build(ctx context.Context, cmd InitCmd, exact bool) (res *initResult) {
	res = &initResult{cmd: cmd}
	if timeout := w.cfg.Sources.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	guard := utils.NewGuard(func() {
		goutils.UncheckedError(res.release())
		res.solver, res.collider = nil, nil
	})
	defer guard.OnFail()

	model, err := w.loader.LoadModel(ctx, cmd.Filename, cmd.Modifier)
	if err != nil {
		res.err = err
		return res
	}
	res.model = model
	joints := jointModels(model.Joints)

	if res.solver, res.err = w.factory.NewSolver(joints); res.err != nil {
		res.err = errors.Wrap(res.err, "building solver")
		return res
	}
	if err := engine.ApplyTuning(res.solver, w.cfg.Engine, model.NumJoints(), exact); err != nil {
		res.err = errors.Wrap(err, "tuning solver")
		return res
	}

	if cmd.LinkShapes != "" {
		if res.err = w.buildCollider(ctx, res, joints); res.err != nil {
			return res
		}
	}
	guard.Success()
	return res
}

func (w *Worker) buildCollider(ctx context.Context, res *initResult, joints []engine.JointModel) error {
	if err := w.factory.SetCollisionLogLevel(w.cfg.Engine.CollisionLogLevel); err != nil {
		w.logger.Warnw("cannot set collision log level", "error", err)
	}
	collider, err := w.factory.NewCollisionDetector(joints, engine.DefaultBasePosition, engine.DefaultBaseOrientation)
	if err != nil {
		return errors.Wrap(err, "building collision detector")
	}
	res.collider = collider

	shapes, err := w.loader.LoadShapes(ctx, res.cmd.LinkShapes, len(joints))
	if err != nil {
		return err
	}
	for link, hulls := range shapes {
		if err := collider.AddLinkShape(link, hulls); err != nil {
			return errors.Wrapf(err, "adding shape of link %d", link)
		}
	}

	pairs, err := w.loader.LoadTestPairs(ctx, res.cmd.TestPairs)
	if err != nil {
		return err
	}
	pairs = modelgraph.FilterTestPairs(pairs, len(shapes), w.logger)
	if err := collider.ClearTestPairs(); err != nil {
		return errors.Wrap(err, "clearing test pairs")
	}
	for _, pair := range pairs {
		if err := collider.AddTestPair(pair[0], pair[1]); err != nil {
			return errors.Wrapf(err, "adding test pair %v", pair)
		}
	}
	w.logger.Debugw("collision detector ready", "shapes", len(shapes), "test_pairs", len(pairs))
	return nil
}

// applyInit attaches a finished build and connects telemetry. A failed build returns to
// WaitingModel so init can be sent again.
func (w *Worker) applyInit(res *initResult) {
	if w.machine.Phase() != state.BuildingModel {
		goutils.UncheckedError(res.release())
		return
	}
	err := res.err
	if err == nil {
		err = w.controller.Attach(res.solver, res.collider, motion.Limits{Lower: res.model.Lower, Upper: res.model.Upper})
		if err != nil {
			goutils.UncheckedError(res.release())
		}
	}
	if err != nil {
		w.logger.Errorw("init failed", "filename", res.cmd.Filename, "error", err)
		if abortErr := w.machine.AbortBuild(); abortErr != nil {
			w.logger.Errorw("cannot abort model build", "error", abortErr)
		}
		return
	}

	if err := w.machine.Advance(state.ModelReady); err != nil {
		w.logger.Errorw("cannot finish model build", "error", err)
		return
	}
	w.logger.Infow("model ready", "joints", res.model.NumJoints(), "collision_checks", res.collider != nil)
	if res.cmd.BridgeURL != "" {
		w.logger.Infow("connecting telemetry", "endpoint", res.cmd.BridgeURL)
		if err := w.bridge.Connect(res.cmd.BridgeURL); err != nil {
			w.logger.Warnw("cannot connect telemetry", "error", err)
		}
	}
	w.sink.Emit(events.GeneratorReady{})
}
