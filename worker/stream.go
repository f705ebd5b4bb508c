package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/armcd/motionworker/events"
	"github.com/armcd/motionworker/logging"
)

// maxCommandLine bounds a single command line read from the host.
const maxCommandLine = 1 << 20

// JSONLinesSink writes every event as one JSON object per line.
type JSONLinesSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	logger logging.Logger
}

// NewJSONLinesSink returns a sink writing to w.
func NewJSONLinesSink(w io.Writer, logger logging.Logger) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w), logger: logger}
}

// Emit implements events.Sink.
func (s *JSONLinesSink) Emit(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		s.logger.Errorw("cannot write event", "type", ev.Type(), "error", err)
	}
}

// ReadCommands decodes one command per line from r and submits them to w until r ends, then submits
// a shutdown. Undecodable lines are logged and skipped.
func ReadCommands(ctx context.Context, r io.Reader, w *Worker, logger logging.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCommandLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		cmd, err := DecodeCommand(line)
		if err != nil {
			logger.Warnw("ignoring invalid command", "error", err)
			continue
		}
		if err := w.Submit(ctx, cmd); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		logger.Errorw("command stream failed", "error", scanErr)
	} else {
		logger.Info("command stream closed, shutting down")
	}
	if err := w.Submit(ctx, ShutdownCmd{}); err != nil && !errors.Is(err, ErrStopped) {
		return err
	}
	return scanErr
}
