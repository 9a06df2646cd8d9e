package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TFMV/fraudpipe/auth"
	"github.com/TFMV/fraudpipe/config"
	"github.com/TFMV/fraudpipe/pipeline"
	"github.com/TFMV/fraudpipe/server"
	"github.com/docopt/docopt.go"
	"go.uber.org/zap"
)

const version = "0.1.0"

const usage = `fraudpipe: batch fraud scoring pipeline.

Usage:
  fraudpipe run <stage> [options]
  fraudpipe run-all [options]
  fraudpipe schedule [--interval=<duration>] [options]
  fraudpipe serve [--addr=<addr>] [options]
  fraudpipe artifacts serve [--flight-addr=<addr>] [options]
  fraudpipe (-h | --help)
  fraudpipe --version

Stages:
  extract, transform, score, load

Options:
  -h --help               Show this screen.
  --version               Show version.
  --config=<path>         YAML configuration file.
  --env-file=<path>       Dotenv file, ignored when absent [default: .env].
  --source=<path>         Source CSV file.
  --artifacts=<uri>       Artifact location: a directory, gs://bucket/prefix or flight://host:port.
  --format=<format>       Artifact format, csv or arrow.
  --table=<name>          Sink table.
  --interval=<duration>   Schedule interval, e.g. 24h.
  --addr=<addr>           HTTP listen address.
  --flight-addr=<addr>    Flight artifact server listen address.
`

func main() {
	arguments, err := docopt.ParseDoc(usage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}
	if v, _ := arguments.Bool("--version"); v {
		fmt.Println("fraudpipe version " + version)
		os.Exit(0)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(arguments, logger); err != nil {
		logger.Error("fraudpipe failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(arguments docopt.Opts, logger *zap.Logger) error {
	cfg, err := config.Load(optString(arguments, "--config"), optString(arguments, "--env-file"))
	if err != nil {
		return err
	}
	if err := applyFlags(&cfg, arguments); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if isSet(arguments, "artifacts") {
		return serveArtifacts(ctx, cfg, logger)
	}

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	defer writeMetrics(cfg, logger)

	switch {
	case isSet(arguments, "run"):
		report, err := a.runner.RunStage(ctx, optString(arguments, "<stage>"))
		logReport(logger, report)
		return err
	case isSet(arguments, "run-all"):
		report, err := a.runner.RunAll(ctx)
		logReport(logger, report)
		return err
	case isSet(arguments, "schedule"):
		return a.runner.Schedule(ctx, cfg.Schedule.Interval)
	case isSet(arguments, "serve"):
		srv := server.New(a.runner, auth.StaticToken(cfg.Server.Token), logger)
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	}
	return fmt.Errorf("no command given")
}

// applyFlags overrides cfg with any command-line options that were set.
func applyFlags(cfg *config.Config, arguments docopt.Opts) error {
	set := func(key string, dst *string) {
		if v := optString(arguments, key); v != "" {
			*dst = v
		}
	}
	set("--source", &cfg.SourcePath)
	set("--artifacts", &cfg.ArtifactURI)
	set("--format", &cfg.ArtifactFormat)
	set("--table", &cfg.Table)
	set("--addr", &cfg.Server.Addr)
	set("--flight-addr", &cfg.FlightAddr)

	if v := optString(arguments, "--interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid --interval %q: %w", v, err)
		}
		cfg.Schedule.Interval = d
	}
	return nil
}

func optString(arguments docopt.Opts, key string) string {
	v, _ := arguments[key].(string)
	return v
}

func isSet(arguments docopt.Opts, key string) bool {
	v, _ := arguments[key].(bool)
	return v
}

func logReport(logger *zap.Logger, report pipeline.Report) {
	for _, s := range report.Stages {
		logger.Info("Stage report",
			zap.String("run_id", report.RunID),
			zap.String("stage", s.Name),
			zap.Int("attempts", s.Attempts),
			zap.Duration("duration", s.Duration))
	}
}
