// Package pipeline sequences the extract, transform, score and load
// stages. Stages hand data to each other only through named artifacts, so
// any stage can be invoked on its own, in this process or another.
package pipeline

import (
	"context"
	"fmt"

	"github.com/TFMV/fraudpipe/metrics"
	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Stage names, in execution order.
const (
	StageExtract   = "extract"
	StageTransform = "transform"
	StageScore     = "score"
	StageLoad      = "load"
)

// Artifact names written at each stage boundary.
const (
	ArtifactExtracted   = "extracted"
	ArtifactTransformed = "transformed"
	ArtifactPredicted   = "predicted"
)

// Stage is an independently invokable unit of work.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// Extractor produces the raw table.
type Extractor interface {
	Extract(ctx context.Context) (arrow.Record, error)
}

// Transformer cleans and enriches the raw table.
type Transformer interface {
	Transform(rec arrow.Record) (arrow.Record, error)
}

// Scorer appends predictions to the transformed table.
type Scorer interface {
	Score(ctx context.Context, rec arrow.Record) (arrow.Record, error)
}

// Sink appends the scored table to its destination.
type Sink interface {
	Load(ctx context.Context, rec arrow.Record, table string) error
	Close() error
}

// SinkOpener connects to the sink when the load stage runs.
type SinkOpener func(ctx context.Context) (Sink, error)

// ArtifactStore persists the records handed between stages.
type ArtifactStore interface {
	Save(ctx context.Context, name string, rec arrow.Record) error
	Load(ctx context.Context, name string) (arrow.Record, error)
	Location(name string) string
}

// Deps are the collaborators the four stages are built from.
type Deps struct {
	Extractor   Extractor
	Transformer Transformer
	Scorer      Scorer
	OpenSink    SinkOpener
	Store       ArtifactStore
	Table       string
	Logger      *zap.Logger
}

// NewStages returns the extract, transform, score and load stages in order.
func NewStages(d Deps) []Stage {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	a := &artifacts{store: d.Store, logger: d.Logger.Named("artifacts")}

	return []Stage{
		stageFunc{StageExtract, func(ctx context.Context) error {
			rec, err := d.Extractor.Extract(ctx)
			if err != nil {
				return err
			}
			defer rec.Release()
			return a.save(ctx, ArtifactExtracted, rec)
		}},
		stageFunc{StageTransform, func(ctx context.Context) error {
			in, err := a.load(ctx, ArtifactExtracted)
			if err != nil {
				return err
			}
			defer in.Release()
			out, err := d.Transformer.Transform(in)
			if err != nil {
				return err
			}
			defer out.Release()
			return a.save(ctx, ArtifactTransformed, out)
		}},
		stageFunc{StageScore, func(ctx context.Context) error {
			in, err := a.load(ctx, ArtifactTransformed)
			if err != nil {
				return err
			}
			defer in.Release()
			out, err := d.Scorer.Score(ctx, in)
			if err != nil {
				return err
			}
			defer out.Release()
			return a.save(ctx, ArtifactPredicted, out)
		}},
		stageFunc{StageLoad, func(ctx context.Context) (err error) {
			in, err := a.load(ctx, ArtifactPredicted)
			if err != nil {
				return err
			}
			defer in.Release()
			sink, err := d.OpenSink(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := sink.Close(); cerr != nil {
					err = multierr.Append(err, fmt.Errorf("close sink: %w", cerr))
				}
			}()
			return sink.Load(ctx, in, d.Table)
		}},
	}
}

type stageFunc struct {
	name string
	run  func(ctx context.Context) error
}

func (s stageFunc) Name() string                  { return s.name }
func (s stageFunc) Run(ctx context.Context) error { return s.run(ctx) }

// ----------------------------------------------------------------------------
// Artifact handoff
// ----------------------------------------------------------------------------

type artifacts struct {
	store  ArtifactStore
	logger *zap.Logger
}

func (a *artifacts) save(ctx context.Context, name string, rec arrow.Record) error {
	if err := a.store.Save(ctx, name, rec); err != nil {
		return err
	}
	metrics.ArtifactRows.WithLabelValues(name).Set(float64(rec.NumRows()))
	a.logger.Info("Wrote artifact",
		zap.String("artifact", name),
		zap.String("location", a.store.Location(name)),
		zap.Int64("rows", rec.NumRows()))
	return nil
}

func (a *artifacts) load(ctx context.Context, name string) (arrow.Record, error) {
	rec, err := a.store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Read artifact",
		zap.String("artifact", name),
		zap.String("location", a.store.Location(name)),
		zap.Int64("rows", rec.NumRows()))
	return rec, nil
}
