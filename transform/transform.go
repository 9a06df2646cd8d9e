// Package transform cleans raw transactions and derives the HourOfDay and
// AmountCategory features.
package transform

import (
	"fmt"
	"math"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/TFMV/fraudpipe/frame"
	"github.com/TFMV/fraudpipe/index"
	"github.com/TFMV/fraudpipe/metrics"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"
)

// Column names read and written by the Transformer.
const (
	ColTime           = "Time"
	ColAmount         = "Amount"
	ColHourOfDay      = "HourOfDay"
	ColAmountCategory = "AmountCategory"
)

// Options configures a Transformer.
type Options struct {
	NegativeAmounts NegativePolicy
	// BloomFPRate tunes the duplicate prefilter. Zero selects the default.
	BloomFPRate float64
}

// Transformer deduplicates, zero-fills and enriches a raw table.
type Transformer struct {
	bucketer Bucketer
	fpRate   float64
	logger   *zap.Logger
}

// New creates a Transformer.
func New(opts Options, logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{
		bucketer: NewBucketer(opts.NegativeAmounts),
		fpRate:   opts.BloomFPRate,
		logger:   logger.Named("transform"),
	}
}

// Bucketer returns the amount partition used for AmountCategory.
func (t *Transformer) Bucketer() Bucketer { return t.bucketer }

// Transform returns a new record without exact-duplicate rows (first
// occurrence kept), with every missing cell set to zero, and with
// HourOfDay and AmountCategory columns. Rows are compared on their filled
// values. The required Time and Amount columns are checked after cleaning;
// a missing column fails with *errs.SchemaError. rec is not modified.
func (t *Transformer) Transform(rec arrow.Record) (arrow.Record, error) {
	cleaned, err := t.clean(rec)
	if err != nil {
		return nil, err
	}
	defer cleaned.Release()

	schema := cleaned.Schema()
	if missing := frame.MissingColumns(schema, ColTime, ColAmount); len(missing) > 0 {
		return nil, errs.MissingColumns("transform", missing...)
	}

	hours, err := t.hourOfDay(cleaned.Column(frame.ColumnIndex(schema, ColTime)))
	if err != nil {
		return nil, err
	}
	defer hours.Release()

	cats, err := t.amountCategory(cleaned.Column(frame.ColumnIndex(schema, ColAmount)))
	if err != nil {
		return nil, err
	}
	defer cats.Release()

	withHours := frame.WithColumn(cleaned, ColHourOfDay, hours)
	defer withHours.Release()
	return frame.WithColumn(withHours, ColAmountCategory, cats), nil
}

func (t *Transformer) clean(rec arrow.Record) (arrow.Record, error) {
	n := int(rec.NumRows())
	idx := index.NewRowIndex(n, t.fpRate)
	var key []byte
	for i := 0; i < n; i++ {
		key = frame.RowKey(key[:0], rec, i)
		idx.Add(uint32(i), key)
	}

	kept := idx.Kept().ToArray()
	rows := make([]int, len(kept))
	for i, id := range kept {
		rows[i] = int(id)
	}

	cols := make([]arrow.Array, rec.NumCols())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	filled := 0
	for j := range cols {
		col, cells, err := frame.TakeFilled(rec.Column(j), rows)
		if err != nil {
			return nil, fmt.Errorf("transform: column %q: %w", rec.ColumnName(j), err)
		}
		cols[j] = col
		filled += cells
	}

	removed := idx.Duplicates()
	metrics.DuplicatesRemoved.Add(float64(removed))
	metrics.CellsFilled.Add(float64(filled))
	t.logger.Info("Removed duplicate rows", zap.Int("removed", removed), zap.Int("remaining", len(rows)))
	if filled > 0 {
		t.logger.Info("Filled missing values with zero", zap.Int("cells", filled))
	} else {
		t.logger.Info("No missing values found")
	}

	return array.NewRecord(rec.Schema(), cols, int64(len(rows))), nil
}

func (t *Transformer) hourOfDay(col arrow.Array) (arrow.Array, error) {
	if !frame.IsNumeric(col.DataType()) {
		return nil, errs.InvalidColumn("transform", ColTime, "must be numeric, got "+col.DataType().String())
	}
	b := array.NewInt64Builder(frame.Pool)
	defer b.Release()
	b.Reserve(col.Len())
	for i := 0; i < col.Len(); i++ {
		v, _ := frame.NumericAt(col, i)
		if math.IsInf(v, 0) {
			return nil, errs.InvalidColumn("transform", ColTime, "must be finite")
		}
		b.Append(HourOfDay(v))
	}
	return b.NewArray(), nil
}

func (t *Transformer) amountCategory(col arrow.Array) (arrow.Array, error) {
	if !frame.IsNumeric(col.DataType()) {
		return nil, errs.InvalidColumn("transform", ColAmount, "must be numeric, got "+col.DataType().String())
	}
	b := array.NewStringBuilder(frame.Pool)
	defer b.Release()
	b.Reserve(col.Len())
	for i := 0; i < col.Len(); i++ {
		v, _ := frame.NumericAt(col, i)
		b.Append(t.bucketer.Category(v))
	}
	return b.NewArray(), nil
}
