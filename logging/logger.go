package logging

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a leveled, named logger. Every logger in a Sublogger tree writes to the same
// appenders but keeps its own level.
type Logger interface {
	Debug(args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	SetLevel(level Level)
	GetLevel() Level
	// Sublogger returns a logger named "<name>.<subname>" that starts at this logger's level.
	Sublogger(subname string) Logger
	// AddAppender adds an output to this logger and every logger sharing its tree.
	AddAppender(appender Appender)
	Sync() error
}

// outputs is the appender list shared by a logger tree.
type outputs struct {
	mu        sync.RWMutex
	appenders []Appender
}

func (o *outputs) add(appender Appender) {
	o.mu.Lock()
	o.appenders = append(o.appenders, appender)
	o.mu.Unlock()
}

func (o *outputs) write(entry zapcore.Entry, fields []zapcore.Field) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, appender := range o.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintf(os.Stderr, "cannot write log entry %q: %v\n", entry.Message, err)
		}
	}
}

func (o *outputs) sync() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var errs error
	for _, appender := range o.appenders {
		errs = multierr.Append(errs, appender.Sync())
	}
	return errs
}

type logger struct {
	name  string
	level zap.AtomicLevel
	inUTC bool
	out   *outputs
}

func newLogger(name string, level Level, inUTC bool, appenders ...Appender) *logger {
	return &logger{
		name:  name,
		level: zap.NewAtomicLevelAt(level.zap()),
		inUTC: inUTC,
		out:   &outputs{appenders: appenders},
	}
}

func (l *logger) SetLevel(level Level) {
	l.level.SetLevel(level.zap())
}

func (l *logger) GetLevel() Level {
	return Level(l.level.Level())
}

func (l *logger) Sublogger(subname string) Logger {
	name := subname
	if l.name != "" {
		name = l.name + "." + subname
	}
	return &logger{
		name:  name,
		level: zap.NewAtomicLevelAt(l.level.Level()),
		inUTC: l.inUTC,
		out:   l.out,
	}
}

func (l *logger) AddAppender(appender Appender) {
	l.out.add(appender)
}

func (l *logger) Sync() error {
	return l.out.sync()
}

// callerSkip drops write and the exported level method from the stack.
const callerSkip = 2

func (l *logger) write(level Level, msg string, keysAndValues []interface{}) {
	now := time.Now()
	if l.inUTC {
		now = now.UTC()
	}
	l.out.write(zapcore.Entry{
		Level:      level.zap(),
		Time:       now,
		LoggerName: l.name,
		Message:    msg,
		Caller:     zapcore.NewEntryCaller(runtime.Caller(callerSkip)),
	}, pairsToFields(keysAndValues))
}

// pairsToFields turns alternating keys and values into fields. A zap.Field may stand in for a
// pair, and a key left without a value is kept with an "unpaired log key" marker.
func pairsToFields(keysAndValues []interface{}) []zapcore.Field {
	if len(keysAndValues) == 0 {
		return nil
	}
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i++ {
		if field, ok := keysAndValues[i].(zapcore.Field); ok {
			fields = append(fields, field)
			continue
		}
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.String(key, "unpaired log key"))
			break
		}
		i++
		fields = append(fields, zap.Any(key, keysAndValues[i]))
	}
	return fields
}

func (l *logger) Debug(args ...interface{}) {
	if l.level.Enabled(zapcore.DebugLevel) {
		l.write(DEBUG, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Debugw(msg string, keysAndValues ...interface{}) {
	if l.level.Enabled(zapcore.DebugLevel) {
		l.write(DEBUG, msg, keysAndValues)
	}
}

func (l *logger) Info(args ...interface{}) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.write(INFO, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Infow(msg string, keysAndValues ...interface{}) {
	if l.level.Enabled(zapcore.InfoLevel) {
		l.write(INFO, msg, keysAndValues)
	}
}

func (l *logger) Warn(args ...interface{}) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.write(WARN, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Warnw(msg string, keysAndValues ...interface{}) {
	if l.level.Enabled(zapcore.WarnLevel) {
		l.write(WARN, msg, keysAndValues)
	}
}

func (l *logger) Error(args ...interface{}) {
	if l.level.Enabled(zapcore.ErrorLevel) {
		l.write(ERROR, fmt.Sprint(args...), nil)
	}
}

func (l *logger) Errorw(msg string, keysAndValues ...interface{}) {
	if l.level.Enabled(zapcore.ErrorLevel) {
		l.write(ERROR, msg, keysAndValues)
	}
}
