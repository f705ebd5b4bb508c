// Package main runs the motion worker. Host commands arrive as JSON lines on stdin and events
// leave as JSON lines on stdout; logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/invopop/jsonschema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/armcd/motionworker/config"
	"github.com/armcd/motionworker/engine/fake"
	"github.com/armcd/motionworker/logging"
	"github.com/armcd/motionworker/modelgraph"
	"github.com/armcd/motionworker/worker"
)

const (
	flagConfig      = "config"
	flagLogLevel    = "log-level"
	flagLogFile     = "log-file"
	flagWatchConfig = "watch-config"
	flagModifier    = "modifier"
)

func main() {
	app := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "motionworker",
		Usage:     "drive a robot arm toward Cartesian and joint targets",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "read commands from stdin and write events to stdout until shutdown",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagLogLevel,
						Usage: "override log.level (debug, info, warn or error)",
					},
					&cli.StringFlag{
						Name:  flagLogFile,
						Usage: "also write logs to a rotating `FILE`",
					},
					&cli.BoolFlag{
						Name:  flagWatchConfig,
						Usage: "apply log level changes made to the config file while running",
					},
				},
				Action: func(c *cli.Context) error {
					return runAction(c, stdin, stdout, stderr)
				},
			},
			{
				Name:      "order",
				Usage:     "print the joints of a model description in solver order",
				ArgsUsage: "<model>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagModifier,
						Usage: "apply the override patch at `SOURCE`",
					},
				},
				Action: func(c *cli.Context) error {
					return orderAction(c, stdout, stderr)
				},
			},
			{
				Name:  "schema",
				Usage: "print the JSON schema of the config file",
				Action: func(c *cli.Context) error {
					return printSchema(stdout)
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		return config.Default(), nil
	}
	return config.Read(path)
}

func newFetcher(cfg *config.Config) (*modelgraph.SourceFetcher, error) {
	maxBytes, err := cfg.Sources.MaxBytes()
	if err != nil {
		return nil, err
	}
	return &modelgraph.SourceFetcher{BaseDir: cfg.Sources.BaseDir, MaxBytes: maxBytes}, nil
}

func runAction(c *cli.Context, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if level := c.String(flagLogLevel); level != "" {
		cfg.Log.Level = level
	}
	if file := c.String(flagLogFile); file != "" {
		cfg.Log.File = file
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}

	logger := logging.NewBlankLogger("motionworker")
	logger.SetLevel(level)
	logger.AddAppender(logging.NewWriterAppender(stderr))
	if fileCfg, ok := cfg.FileAppenderConfig(); ok {
		logger.AddAppender(logging.NewFileAppender(fileCfg))
	}
	logging.ReplaceGlobal(logger)
	//nolint:errcheck
	defer logger.Sync()

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}
	w, err := worker.New(worker.Options{
		Config:  cfg,
		Factory: fake.NewFactory(logger.Sublogger("engine")),
		Fetcher: fetcher,
		Sink:    worker.NewJSONLinesSink(stdout, logger),
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var watcher *config.Watcher
	if c.Bool(flagWatchConfig) && cfg.ConfigFilePath != "" {
		if watcher, err = config.NewWatcher(cfg.ConfigFilePath, config.DefaultWatchDelay, logger.Sublogger("config")); err != nil {
			return err
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warnw("cannot close config watcher", "error", err)
			}
		}()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return w.Run(ctx)
	})
	group.Go(func() error {
		// stdin cannot be interrupted, so a blocked read is left behind once the worker is done.
		readErr := make(chan error, 1)
		go func() {
			readErr <- worker.ReadCommands(groupCtx, stdin, w, logger)
		}()
		select {
		case err := <-readErr:
			return err
		case <-w.Done():
			return nil
		}
	})
	if watcher != nil {
		group.Go(func() error {
			applyConfigChanges(groupCtx, watcher, w, logger)
			return nil
		})
	}
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// applyConfigChanges applies the log level of every reloaded config until the worker stops.
func applyConfigChanges(ctx context.Context, watcher *config.Watcher, w *worker.Worker, logger logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Done():
			return
		case cfg := <-watcher.Config():
			level, err := cfg.LogLevel()
			if err != nil {
				logger.Warnw("ignoring config log level", "error", err)
				continue
			}
			w.SetLogLevel(level)
			logger.Infow("log level changed", "level", level)
		}
	}
}

func orderAction(c *cli.Context, stdout, stderr io.Writer) error {
	if c.NArg() != 1 {
		return errors.New("order requires exactly one model source")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}
	logger := logging.NewBlankLogger("order")
	logger.SetLevel(logging.WARN)
	logger.AddAppender(logging.NewWriterAppender(stderr))
	loader := modelgraph.NewLoader(fetcher, logger)

	ctx := c.Context
	if cfg.Sources.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Sources.Timeout)
		defer cancel()
	}
	joints, err := loader.LoadJoints(ctx, c.Args().First(), c.String(flagModifier))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, jointTable(joints))
	return err
}

// jointTable renders one row per joint. Only revolute joints get a solver index.
func jointTable(joints []modelgraph.Joint) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Name", "Type", "Parent", "Child", "Lower", "Upper"})
	index := 0
	for _, joint := range joints {
		position, lower, upper := "", "", ""
		if joint.Revolute() {
			position = fmt.Sprintf("%d", index)
			lower = fmt.Sprintf("%.4f", joint.Lower)
			upper = fmt.Sprintf("%.4f", joint.Upper)
			index++
		}
		t.AppendRow(table.Row{position, joint.Name, joint.Type, joint.Parent, joint.Child, lower, upper})
	}
	return t.Render()
}

func printSchema(stdout io.Writer) error {
	schema := jsonschema.Reflect(config.Default())
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding config schema")
	}
	_, err = fmt.Fprintln(stdout, string(data))
	return err
}
