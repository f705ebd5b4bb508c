package logging

import (
	"io"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeFormatStr is the timestamp layout of every log line.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// defaultMaxSizeMB is the rotation size of a file appender that does not set one.
const defaultMaxSizeMB = 50

// Appender receives every entry a Logger decides to write. Any zapcore.Core satisfies it.
type Appender interface {
	Write(zapcore.Entry, []zapcore.Field) error
	Sync() error
}

// lineEncoder renders tab separated lines: time, level, logger name, caller, message and then the
// fields as a single JSON object in the order they were passed.
func lineEncoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "logger",
		CallerKey:        "caller",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout(DefaultTimeFormatStr),
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: "\t",
	})
}

func newLineAppender(ws zapcore.WriteSyncer) Appender {
	// Level filtering happens in the Logger, so the core accepts everything.
	return zapcore.NewCore(lineEncoder(), zapcore.Lock(ws), zapcore.DebugLevel)
}

// writeOnly hides any Sync method of the wrapped writer. Pipes and terminals fail fsync.
type writeOnly struct {
	io.Writer
}

// NewWriterAppender returns an appender writing log lines to w.
func NewWriterAppender(w io.Writer) Appender {
	return newLineAppender(zapcore.AddSync(writeOnly{w}))
}

// FileAppenderConfig controls rotation of a file appender.
type FileAppenderConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// rotatingFile closes the current file on Sync so the next write reopens it.
type rotatingFile struct {
	*lumberjack.Logger
}

func (f rotatingFile) Sync() error {
	return f.Close()
}

// NewFileAppender returns an appender writing log lines to a file rotated by size.
func NewFileAppender(cfg FileAppenderConfig) Appender {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	return newLineAppender(rotatingFile{&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}})
}

// testWriter sends each line to tb.Log so output stays attached to the test that produced it.
type testWriter struct {
	tb testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// NewTestAppender returns an appender writing log lines through tb.Log.
func NewTestAppender(tb testing.TB) Appender {
	return newLineAppender(zapcore.AddSync(testWriter{tb}))
}
