// Package score fits the fraud classifier on a transformed table and
// appends its FraudPrediction column.
package score

import (
	"context"
	"fmt"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/TFMV/fraudpipe/frame"
	"github.com/TFMV/fraudpipe/metrics"
	"github.com/TFMV/fraudpipe/model"
	"github.com/TFMV/fraudpipe/summary"
	"github.com/TFMV/fraudpipe/transform"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"
)

// ColFraudPrediction is the 0/1 prediction column appended by Score.
const ColFraudPrediction = "FraudPrediction"

// Options configures a Scorer.
type Options struct {
	HoldoutFraction float64
	Seed            int64
	Penalty         model.Penalty
	C               float64
	MaxIter         int
	Tol             float64
	// HoldoutOnly predicts only held-out rows; training rows get a null
	// prediction. The default scores every row, training rows included.
	HoldoutOnly bool
	// Categories is the full AmountCategory level set used for one-hot
	// encoding.
	Categories []string
}

// DefaultOptions returns a 20% hold-out with seed 42 and an L2 model with
// C=1 and at most 1000 iterations.
func DefaultOptions() Options {
	return Options{
		HoldoutFraction: 0.2,
		Seed:            42,
		Penalty:         model.L2,
		C:               1.0,
		MaxIter:         1000,
		Tol:             1e-4,
		Categories:      transform.NewBucketer(transform.NegativeAsSmall).Categories(),
	}
}

// Scorer trains a logistic regression per call and predicts with it.
type Scorer struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Scorer.
func New(opts Options, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Categories == nil {
		opts.Categories = DefaultOptions().Categories
	}
	return &Scorer{opts: opts, logger: logger.Named("score")}
}

// Score returns a copy of rec with FraudPrediction appended. A missing or
// non-binary Class fails with *errs.SchemaError; a table that cannot be
// fitted (no rows, one class) fails with errs.ErrFit. Identical input and
// options always yield identical predictions.
func (s *Scorer) Score(ctx context.Context, rec arrow.Record) (arrow.Record, error) {
	// Column types of an empty table are unreliable after a text round trip.
	if rec.NumRows() == 0 && frame.ColumnIndex(rec.Schema(), ColClass) >= 0 {
		return nil, fmt.Errorf("score: no rows to fit: %w", errs.ErrFit)
	}

	feats, y, err := Encode(rec, s.opts.Categories)
	if err != nil {
		return nil, err
	}

	split, err := model.StratifiedSplit(y, s.opts.HoldoutFraction, s.opts.Seed)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	trainRows := split.TrainRows()

	scaler := model.FitScaler(feats.X, trainRows)
	X := scaler.Transform(feats.X)

	Xtrain := make([][]float64, len(trainRows))
	ytrain := make([]float64, len(trainRows))
	for k, i := range trainRows {
		Xtrain[k], ytrain[k] = X[i], y[i]
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clf := model.NewLogisticRegression(s.opts.Penalty, s.opts.C, s.opts.MaxIter, s.opts.Tol)
	if err := clf.Fit(Xtrain, ytrain); err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	s.logger.Info("Model training completed",
		zap.Int("train_rows", len(trainRows)),
		zap.Int("features", len(feats.Names)),
		zap.Int("iterations", clf.Iterations),
		zap.Bool("converged", clf.Converged))

	s.evaluate(clf, X, y, split.HoldoutRows())

	pred := s.predict(clf, X, split)
	defer pred.Release()
	out := frame.WithColumn(rec, ColFraudPrediction, pred)

	sum, err := summary.Summarize(out, ColFraudPrediction)
	if err != nil {
		out.Release()
		return nil, fmt.Errorf("score: %w", err)
	}
	metrics.PredictedFraud.Reset()
	for cat, n := range sum.ByCategory {
		metrics.PredictedFraud.WithLabelValues(cat).Set(float64(n))
	}
	s.logger.Info("Fraud cases predicted",
		zap.Int64("fraud", sum.Fraud),
		zap.Int64("scored", sum.Scored),
		zap.Any("by_category", sum.ByCategory))
	return out, nil
}

func (s *Scorer) predict(clf *model.LogisticRegression, X [][]float64, split model.Split) arrow.Array {
	b := array.NewInt64Builder(frame.Pool)
	defer b.Release()
	b.Reserve(len(X))
	for i, x := range X {
		if s.opts.HoldoutOnly && !split.Holdout.Contains(uint32(i)) {
			b.AppendNull()
			continue
		}
		b.Append(clf.Predict(x))
	}
	return b.NewArray()
}

func (s *Scorer) evaluate(clf *model.LogisticRegression, X [][]float64, y []float64, rows []int) {
	if len(rows) == 0 {
		s.logger.Info("Hold-out split is empty; skipping validation")
		return
	}
	truth := make([]float64, len(rows))
	pred := make([]int64, len(rows))
	for k, i := range rows {
		truth[k] = y[i]
		pred[k] = clf.Predict(X[i])
	}
	sc := model.Evaluate(truth, pred)
	metrics.HoldoutScore.WithLabelValues("accuracy").Set(sc.Accuracy)
	metrics.HoldoutScore.WithLabelValues("precision").Set(sc.Precision)
	metrics.HoldoutScore.WithLabelValues("recall").Set(sc.Recall)
	metrics.HoldoutScore.WithLabelValues("f1").Set(sc.F1)
	s.logger.Info("Hold-out validation",
		zap.Int("rows", sc.Support),
		zap.Float64("accuracy", sc.Accuracy),
		zap.Float64("precision", sc.Precision),
		zap.Float64("recall", sc.Recall),
		zap.Float64("f1", sc.F1))
}
