package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/TFMV/fraudpipe/config"
	"github.com/TFMV/fraudpipe/extract"
	"github.com/TFMV/fraudpipe/flight"
	"github.com/TFMV/fraudpipe/metrics"
	"github.com/TFMV/fraudpipe/pipeline"
	"github.com/TFMV/fraudpipe/score"
	"github.com/TFMV/fraudpipe/sink"
	"github.com/TFMV/fraudpipe/storage"
	"github.com/TFMV/fraudpipe/transform"
	"go.uber.org/zap"
)

type app struct {
	runner *pipeline.Runner
	store  io.Closer
}

func (a *app) Close() error { return a.store.Close() }

// build wires the four stages from cfg.
func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	to, err := cfg.TransformOptions()
	if err != nil {
		return nil, err
	}
	so, err := cfg.ScoreOptions()
	if err != nil {
		return nil, err
	}
	store, closer, err := storage.Open(ctx, cfg.ArtifactURI, cfg.StorageOptions())
	if err != nil {
		return nil, err
	}

	desc := cfg.Sink
	stages := pipeline.NewStages(pipeline.Deps{
		Extractor:   extract.New(cfg.SourcePath, logger),
		Transformer: transform.New(to, logger),
		Scorer:      score.New(so, logger),
		OpenSink: func(ctx context.Context) (pipeline.Sink, error) {
			l, err := sink.Open(ctx, desc, logger)
			if err != nil {
				return nil, err
			}
			return l, nil
		},
		Store:  store,
		Table:  cfg.Table,
		Logger: logger,
	})
	return &app{
		runner: pipeline.NewRunner(stages, cfg.RetryPolicy(), logger),
		store:  closer,
	}, nil
}

// serveArtifacts exposes the configured artifact location over Flight
// until ctx is done.
func serveArtifacts(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if strings.HasPrefix(cfg.ArtifactURI, "flight://") {
		return fmt.Errorf("artifact server cannot be backed by another flight server (%s)", cfg.ArtifactURI)
	}
	store, closer, err := storage.Open(ctx, cfg.ArtifactURI, cfg.StorageOptions())
	if err != nil {
		return err
	}
	defer closer.Close()

	srv, err := flight.NewServer(cfg.FlightAddr, store, logger)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	logger.Info("Serving artifacts over Flight",
		zap.String("addr", srv.Addr().String()),
		zap.String("backing", cfg.ArtifactURI))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	srv.Shutdown()
	return nil
}

func writeMetrics(cfg config.Config, logger *zap.Logger) {
	if cfg.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		logger.Warn("Failed to write metrics textfile", zap.Error(err))
	}
}
