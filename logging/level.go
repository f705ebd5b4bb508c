package logging

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

// Level is the minimum severity a Logger writes. The values line up with zap's so a Level converts
// to a zapcore.Level without a lookup.
type Level int8

const (
	// DEBUG log level.
	DEBUG = Level(zapcore.DebugLevel)
	// INFO log level. It is the zero value.
	INFO = Level(zapcore.InfoLevel)
	// WARN log level.
	WARN = Level(zapcore.WarnLevel)
	// ERROR log level.
	ERROR = Level(zapcore.ErrorLevel)
)

func (level Level) String() string {
	return level.zap().String()
}

func (level Level) zap() zapcore.Level {
	return zapcore.Level(level)
}

// LevelFromString parses one of `debug`, `info`, `warn` (or `warning`) and `error`, ignoring case.
func LevelFromString(inp string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(inp))
	if name == "warning" {
		name = "warn"
	}
	parsed, err := zapcore.ParseLevel(name)
	if err != nil || parsed < zapcore.DebugLevel || parsed > zapcore.ErrorLevel {
		return INFO, errors.Errorf("unknown log level: %q", inp)
	}
	return Level(parsed), nil
}

// protocolLevels is indexed by the verbosity carried by the set_*_loglevel commands, 0 being the
// quietest. There is nothing above ERROR, so 0 and 1 share it.
var protocolLevels = [...]Level{ERROR, ERROR, WARN, INFO, DEBUG}

// MaxProtocolLevel is the most verbose level accepted by the set_*_loglevel commands.
const MaxProtocolLevel = len(protocolLevels) - 1

// LevelFromProtocol maps a 0-4 protocol verbosity onto a Level.
func LevelFromProtocol(verbosity int) (Level, error) {
	if verbosity < 0 || verbosity > MaxProtocolLevel {
		return ERROR, errors.Errorf("log level %d out of range [0, %d]", verbosity, MaxProtocolLevel)
	}
	return protocolLevels[verbosity], nil
}
