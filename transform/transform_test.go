package transform

import (
	"errors"
	"math"
	"testing"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/TFMV/fraudpipe/frame"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"
)

var rawSchema = arrow.NewSchema([]arrow.Field{
	{Name: "Time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "Amount", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "V1", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "Class", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
}, nil)

func mustRows(t *testing.T, schema *arrow.Schema, rows [][]any) arrow.Record {
	t.Helper()
	rec, err := frame.FromRows(schema, rows)
	require.NoError(t, err)
	return rec
}

func column(rec arrow.Record, name string) []any {
	return frame.Values(rec.Column(frame.ColumnIndex(rec.Schema(), name)))
}

func TestTransform(t *testing.T) {
	t.Parallel()

	t.Run("DuplicateAndEnrichment", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		raw := mustRows(t, rawSchema, [][]any{
			{int64(0), 10.0, 0.1, int64(0)},
			{int64(3700), 60.0, 0.2, int64(0)},
			{int64(0), 10.0, 0.1, int64(0)},
			{int64(7200), 5000.0, 0.3, int64(1)},
		})
		defer raw.Release()

		out, err := New(Options{}, zap.New(core)).Transform(raw)
		require.NoError(t, err)
		defer out.Release()

		assert.Equal(t, int64(3), out.NumRows())
		assert.Equal(t, []any{int64(0), int64(1), int64(2)}, column(out, ColHourOfDay))
		assert.Equal(t, []any{Small, Medium, XL}, column(out, ColAmountCategory))
		assert.Equal(t, int64(4), raw.NumRows(), "input untouched")
		assert.Equal(t, int64(4), raw.NumCols(), "input untouched")

		entries := logs.FilterMessage("Removed duplicate rows").All()
		require.Len(t, entries, 1)
		assert.Equal(t, int64(1), entries[0].ContextMap()["removed"])
		assert.Equal(t, 1, logs.FilterMessage("No missing values found").Len())
	})

	t.Run("FillsMissing", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)
		raw := mustRows(t, rawSchema, [][]any{
			{nil, math.NaN(), nil, int64(1)},
			{int64(3600), nil, 1.0, nil},
		})
		defer raw.Release()

		out, err := New(Options{}, zap.New(core)).Transform(raw)
		require.NoError(t, err)
		defer out.Release()

		assert.Equal(t, []any{int64(0), int64(3600)}, column(out, "Time"))
		assert.Equal(t, []any{0.0, 0.0}, column(out, "Amount"))
		assert.Equal(t, []any{int64(1), int64(0)}, column(out, "Class"))
		assert.Equal(t, []any{int64(0), int64(1)}, column(out, ColHourOfDay))

		entries := logs.FilterMessage("Filled missing values with zero").All()
		require.Len(t, entries, 1)
		assert.Equal(t, int64(5), entries[0].ContextMap()["cells"])
	})

	t.Run("MissingAfterFillIsDuplicate", func(t *testing.T) {
		raw := mustRows(t, rawSchema, [][]any{
			{int64(0), 0.0, 0.0, int64(0)},
			{nil, nil, nil, nil},
		})
		defer raw.Release()

		out, err := New(Options{}, nil).Transform(raw)
		require.NoError(t, err)
		defer out.Release()
		assert.Equal(t, int64(1), out.NumRows())
	})

	t.Run("ReplacesExistingDerivedColumns", func(t *testing.T) {
		schema := arrow.NewSchema(append(rawSchema.Fields(),
			arrow.Field{Name: ColHourOfDay, Type: arrow.BinaryTypes.String, Nullable: true}), nil)
		raw := mustRows(t, schema, [][]any{{int64(7200), 1.0, 0.0, int64(0), "stale"}})
		defer raw.Release()

		out, err := New(Options{}, nil).Transform(raw)
		require.NoError(t, err)
		defer out.Release()
		assert.Equal(t, int64(6), out.NumCols())
		assert.Equal(t, []any{int64(2)}, column(out, ColHourOfDay))
	})

	t.Run("ZeroRows", func(t *testing.T) {
		raw := frame.Empty(rawSchema)
		defer raw.Release()

		out, err := New(Options{}, nil).Transform(raw)
		require.NoError(t, err)
		defer out.Release()
		assert.Equal(t, int64(0), out.NumRows())
		assert.GreaterOrEqual(t, frame.ColumnIndex(out.Schema(), ColAmountCategory), 0)
	})

	t.Run("NonNumericTime", func(t *testing.T) {
		schema := arrow.NewSchema([]arrow.Field{
			{Name: "Time", Type: arrow.BinaryTypes.String},
			{Name: "Amount", Type: arrow.PrimitiveTypes.Float64},
		}, nil)
		raw := mustRows(t, schema, [][]any{{"noon", 1.0}})
		defer raw.Release()

		_, err := New(Options{}, nil).Transform(raw)
		assert.ErrorIs(t, err, errs.ErrSchema)
	})
}

func TestTransformMissingColumns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		fields  []arrow.Field
		missing []string
	}{
		{"Both", []arrow.Field{{Name: "Class", Type: arrow.PrimitiveTypes.Int64}}, []string{"Time", "Amount"}},
		{"Time", []arrow.Field{{Name: "Amount", Type: arrow.PrimitiveTypes.Float64}}, []string{"Time"}},
		{"Amount", []arrow.Field{{Name: "Time", Type: arrow.PrimitiveTypes.Int64}}, []string{"Amount"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := frame.Empty(arrow.NewSchema(tc.fields, nil))
			defer raw.Release()

			_, err := New(Options{}, nil).Transform(raw)
			var se *errs.SchemaError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tc.missing, se.Missing)
		})
	}
}

func TestBucketer(t *testing.T) {
	t.Parallel()

	small := NewBucketer(NegativeAsSmall)
	cases := map[float64]string{
		-5: Small, 0: Small, 49.99: Small, 50: Medium, 199.99: Medium,
		200: Large, 999.99: Large, 1000: XL, math.Inf(1): XL, math.NaN(): Small,
	}
	for amount, want := range cases {
		assert.Equal(t, want, small.Category(amount), "amount %v", amount)
	}
	assert.Equal(t, []string{Large, Medium, Small, XL}, small.Categories())

	neg := NewBucketer(NegativeBucket)
	assert.Equal(t, Negative, neg.Category(-0.01))
	assert.Equal(t, Small, neg.Category(0))
	assert.Equal(t, []string{Large, Medium, Negative, Small, XL}, neg.Categories())
}

func TestParseNegativePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseNegativePolicy("")
	require.NoError(t, err)
	assert.Equal(t, NegativeAsSmall, p)

	p, err = ParseNegativePolicy("negative")
	require.NoError(t, err)
	assert.Equal(t, NegativeBucket, p)

	_, err = ParseNegativePolicy("drop")
	assert.Error(t, err)
}

func TestHourOfDayProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		secs := rapid.Int64Range(-10_000_000, 10_000_000).Draw(t, "secs")
		h := HourOfDay(float64(secs))
		if h < 0 || h > 23 {
			t.Fatalf("HourOfDay(%d) = %d out of range", secs, h)
		}
		q := secs / 3600
		if secs%3600 != 0 && secs < 0 {
			q--
		}
		want := ((q % 24) + 24) % 24
		if h != want {
			t.Fatalf("HourOfDay(%d) = %d, want %d", secs, h, want)
		}
	})
}

// Small value domains make duplicates and missing cells common.
func TestTransformProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(t, "rows")
		rows := make([][]any, n)
		for i := range rows {
			rows[i] = []any{
				maybe(t, "time", rapid.Int64Range(-7200, 200_000)),
				maybe(t, "amount", rapid.SampledFrom([]float64{-1, 0, 10, 49.99, 50, 199, 200, 999, 1000, 2500, math.NaN()})),
				maybe(t, "v1", rapid.SampledFrom([]float64{0, 0.5, 1})),
				maybe(t, "class", rapid.Int64Range(0, 1)),
			}
		}
		raw, err := frame.FromRows(rawSchema, rows)
		if err != nil {
			t.Fatalf("FromRows: %v", err)
		}
		defer raw.Release()

		out, err := New(Options{}, nil).Transform(raw)
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
		defer out.Release()

		if out.NumRows() > raw.NumRows() {
			t.Fatalf("row count grew: %d > %d", out.NumRows(), raw.NumRows())
		}
		if n > 0 && out.NumRows() == 0 {
			t.Fatalf("all rows dropped")
		}

		keys := map[string]bool{}
		bucketer := NewBucketer(NegativeAsSmall)
		timeCol := out.Column(frame.ColumnIndex(out.Schema(), "Time"))
		amountCol := out.Column(frame.ColumnIndex(out.Schema(), "Amount"))
		hours := column(out, ColHourOfDay)
		cats := column(out, ColAmountCategory)
		for i := 0; i < int(out.NumRows()); i++ {
			for j := 0; j < int(out.NumCols()); j++ {
				if frame.IsMissing(out.Column(j), i) {
					t.Fatalf("row %d column %s is missing", i, out.ColumnName(j))
				}
			}
			k := string(frame.RowKey(nil, out, i))
			if keys[k] {
				t.Fatalf("row %d duplicated", i)
			}
			keys[k] = true

			tm, _ := frame.NumericAt(timeCol, i)
			if hours[i].(int64) != HourOfDay(tm) {
				t.Fatalf("row %d: HourOfDay %v for Time %v", i, hours[i], tm)
			}
			amt, _ := frame.NumericAt(amountCol, i)
			if cats[i].(string) != bucketer.Category(amt) {
				t.Fatalf("row %d: AmountCategory %v for Amount %v", i, cats[i], amt)
			}
		}
	})
}

func maybe[V any](t *rapid.T, label string, gen *rapid.Generator[V]) any {
	if rapid.IntRange(0, 5).Draw(t, label+"-null") == 0 {
		return nil
	}
	return gen.Draw(t, label)
}
