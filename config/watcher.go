package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/armcd/motionworker/logging"
	"github.com/armcd/motionworker/utils"
)

// DefaultWatchDelay coalesces the burst of events an editor produces when saving a file.
const DefaultWatchDelay = 250 * time.Millisecond

// A Watcher rereads a config file whenever it changes and publishes every config that reads and
// validates. Only the latest unread config is kept.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	workers *utils.StoppableWorkers
	updates chan *Config
	logger  logging.Logger
}

// NewWatcher watches filePath. The parent directory is watched so that files replaced by rename
// are still seen.
func NewWatcher(filePath string, delay time.Duration, logger logging.Logger) (*Watcher, error) {
	if delay <= 0 {
		delay = DefaultWatchDelay
	}
	path, err := filepath.Abs(filePath)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating config watcher")
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		//nolint:errcheck
		fsWatcher.Close()
		return nil, errors.Wrapf(err, "watching %q", path)
	}

	w := &Watcher{
		path:    path,
		watcher: fsWatcher,
		updates: make(chan *Config, 1),
		logger:  logger,
	}
	debounced := debounce.New(delay)
	w.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		w.watch(ctx, func() { debounced(func() { w.reload(ctx) }) })
	})
	return w, nil
}

// Config returns the channel new configs are published on.
func (w *Watcher) Config() <-chan *Config {
	return w.updates
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	w.workers.Stop()
	return err
}

func (w *Watcher) watch(ctx context.Context, changed func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			changed()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Read(w.path)
	if err != nil {
		w.logger.Warnw("ignoring invalid config change", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("config changed", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case w.updates <- cfg:
			return
		default:
			select {
			case <-w.updates:
			default:
			}
		}
	}
}
