package summary

import (
	"testing"

	"github.com/TFMV/fraudpipe/frame"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	t.Parallel()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "HourOfDay", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "AmountCategory", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "FraudPrediction", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
	rec, err := frame.FromRows(schema, [][]any{
		{int64(0), "Small", int64(1)},
		{int64(0), "XL", int64(1)},
		{int64(1), "XL", int64(0)},
		{int64(2), "XL", int64(1)},
		{int64(2), "Medium", nil},
	})
	require.NoError(t, err)
	defer rec.Release()

	s, err := Summarize(rec, "FraudPrediction")
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.Rows)
	assert.Equal(t, int64(4), s.Scored)
	assert.Equal(t, int64(3), s.Fraud)
	assert.Equal(t, map[string]int64{"Small": 1, "XL": 2, "Medium": 0}, s.ByCategory)
	assert.Equal(t, map[int64]int64{0: 2, 2: 1}, s.ByHour)
}

func TestSummarizeLargeStringCategory(t *testing.T) {
	t.Parallel()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "AmountCategory", Type: arrow.BinaryTypes.LargeString, Nullable: true},
		{Name: "FraudPrediction", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
	rec, err := frame.FromRows(schema, [][]any{
		{"Small", int64(1)},
		{"XL", int64(1)},
		{nil, int64(1)},
		{"XL", int64(0)},
	})
	require.NoError(t, err)
	defer rec.Release()

	s, err := Summarize(rec, "FraudPrediction")
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Fraud)
	assert.Equal(t, map[string]int64{"Small": 1, "XL": 1}, s.ByCategory)
}

func TestSummarizeErrors(t *testing.T) {
	t.Parallel()

	t.Run("MissingPrediction", func(t *testing.T) {
		rec := frame.Empty(arrow.NewSchema([]arrow.Field{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}, nil))
		defer rec.Release()
		_, err := Summarize(rec, "FraudPrediction")
		assert.Error(t, err)
	})

	t.Run("NonTextCategory", func(t *testing.T) {
		rec := frame.Empty(arrow.NewSchema([]arrow.Field{
			{Name: "AmountCategory", Type: arrow.PrimitiveTypes.Int64},
			{Name: "FraudPrediction", Type: arrow.PrimitiveTypes.Int64},
		}, nil))
		defer rec.Release()
		_, err := Summarize(rec, "FraudPrediction")
		assert.Error(t, err)
	})

	t.Run("WrongType", func(t *testing.T) {
		rec := frame.Empty(arrow.NewSchema([]arrow.Field{{Name: "FraudPrediction", Type: arrow.PrimitiveTypes.Float64}}, nil))
		defer rec.Release()
		_, err := Summarize(rec, "FraudPrediction")
		assert.Error(t, err)
	})
}
