// Package config defines the structures to configure the motion worker and its collaborators.
package config

import (
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/armcd/motionworker/engine"
	"github.com/armcd/motionworker/logging"
	"github.com/armcd/motionworker/motion"
	"github.com/armcd/motionworker/telemetry"
)

// DefaultMaxSourceSize caps a fetched model, patch, shape or test pair source.
const DefaultMaxSourceSize = "64MiB"

// Config describes how to run a worker.
type Config struct {
	// ConfigFilePath is the file the config was read from, if any.
	ConfigFilePath string `json:"-"`

	Log       LogConfig        `json:"log"`
	Sources   SourceConfig     `json:"sources"`
	Engine    engine.Tuning    `json:"engine"`
	Motion    motion.Config    `json:"motion"`
	Telemetry telemetry.Config `json:"telemetry"`

	// MinTickPeriod throttles the tick loop. Zero runs it as fast as the scheduler allows.
	MinTickPeriod time.Duration `json:"min_tick_period"`
}

// LogConfig configures the worker logger.
type LogConfig struct {
	Level string `json:"level"`
	// File additionally writes logs to a rotating file.
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

// SourceConfig controls how model sources are fetched.
type SourceConfig struct {
	// BaseDir resolves relative source paths.
	BaseDir string `json:"base_dir"`
	// MaxSize is a human readable size such as "64MiB".
	MaxSize string        `json:"max_size"`
	Timeout time.Duration `json:"timeout"`
}

// MaxBytes returns the parsed MaxSize.
func (cfg SourceConfig) MaxBytes() (int64, error) {
	if cfg.MaxSize == "" {
		return units.RAMInBytes(DefaultMaxSourceSize)
	}
	size, err := units.RAMInBytes(cfg.MaxSize)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid sources.max_size %q", cfg.MaxSize)
	}
	return size, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: logging.INFO.String()},
		Sources: SourceConfig{
			MaxSize: DefaultMaxSourceSize,
			Timeout: 30 * time.Second,
		},
		Engine:    engine.DefaultTuning(),
		Motion:    motion.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LogLevel returns the parsed Log.Level.
func (cfg *Config) LogLevel() (logging.Level, error) {
	if cfg.Log.Level == "" {
		return logging.INFO, nil
	}
	return logging.LevelFromString(cfg.Log.Level)
}

// FileAppenderConfig returns the rotating file settings, or false when no file is configured.
func (cfg *Config) FileAppenderConfig() (logging.FileAppenderConfig, bool) {
	if cfg.Log.File == "" {
		return logging.FileAppenderConfig{}, false
	}
	return logging.FileAppenderConfig{
		Filename:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	}, true
}

// Validate ensures all parts of the config are valid. Every invalid section is reported.
func (cfg *Config) Validate() error {
	var errs error
	if _, err := cfg.LogLevel(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "log.level"))
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 {
		errs = multierr.Append(errs, errors.New("log.max_size_mb and log.max_backups must not be negative"))
	}
	if _, err := cfg.Sources.MaxBytes(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.Sources.Timeout < 0 {
		errs = multierr.Append(errs, errors.Errorf("sources.timeout must not be negative, got %v", cfg.Sources.Timeout))
	}
	if cfg.MinTickPeriod < 0 {
		errs = multierr.Append(errs, errors.Errorf("min_tick_period must not be negative, got %v", cfg.MinTickPeriod))
	}
	if err := validateTuning(cfg.Engine); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "engine"))
	}
	if err := cfg.Motion.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "motion"))
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "telemetry"))
	}
	return errs
}

func validateTuning(tuning engine.Tuning) error {
	for name, value := range map[string]float64{
		"linear_velocity_limit":  tuning.LinearVelocityLimit,
		"angular_velocity_limit": tuning.AngularVelocityLimit,
		"linear_gain":            tuning.LinearGain,
		"angular_gain":           tuning.AngularGain,
		"joint_velocity_limit":   tuning.JointVelocityLimit,
	} {
		if !(value > 0) {
			return errors.Errorf("%s must be positive, got %v", name, value)
		}
	}
	for name, level := range map[string]int{
		"solver_log_level":    tuning.SolverLogLevel,
		"collision_log_level": tuning.CollisionLogLevel,
	} {
		if _, err := logging.LevelFromProtocol(level); err != nil {
			return errors.Wrap(err, name)
		}
	}
	return nil
}
