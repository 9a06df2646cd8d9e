package frame

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txSchema = arrow.NewSchema([]arrow.Field{
	{Name: "Time", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "Amount", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "Merchant", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "Flagged", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
}, nil)

func mustRows(t *testing.T, schema *arrow.Schema, rows [][]any) arrow.Record {
	t.Helper()
	rec, err := FromRows(schema, rows)
	require.NoError(t, err)
	t.Cleanup(rec.Release)
	return rec
}

func TestReadCSV(t *testing.T) {
	t.Parallel()

	t.Run("InfersTypesFromAllValues", func(t *testing.T) {
		in := "Time,Amount,Class,Note,Flag,Empty\n" +
			"0,10,0,a,True,\n" +
			"3700,60.5,0,b,false,NA\n" +
			"7200,5000,1,,true,\n"
		rec, err := ReadCSV(strings.NewReader(in))
		require.NoError(t, err)
		defer rec.Release()

		assert.Equal(t, int64(3), rec.NumRows())
		types := map[string]arrow.Type{}
		for _, f := range rec.Schema().Fields() {
			types[f.Name] = f.Type.ID()
		}
		assert.Equal(t, arrow.INT64, types["Time"])
		assert.Equal(t, arrow.FLOAT64, types["Amount"])
		assert.Equal(t, arrow.INT64, types["Class"])
		assert.Equal(t, arrow.STRING, types["Note"])
		assert.Equal(t, arrow.BOOL, types["Flag"])
		assert.Equal(t, arrow.FLOAT64, types["Empty"])

		assert.Equal(t, []any{"a", "b", nil}, Values(rec.Column(3)))
		assert.Equal(t, []any{10.0, 60.5, 5000.0}, Values(rec.Column(1)))
	})

	t.Run("HeaderOnlyIsEmpty", func(t *testing.T) {
		rec, err := ReadCSV(strings.NewReader("Time,Amount,Class\n"))
		require.NoError(t, err)
		defer rec.Release()
		assert.Equal(t, int64(0), rec.NumRows())
		assert.Equal(t, int64(3), rec.NumCols())
	})

	t.Run("EmptyInput", func(t *testing.T) {
		_, err := ReadCSV(strings.NewReader(""))
		assert.ErrorIs(t, err, errs.ErrRead)
	})

	t.Run("RaggedRows", func(t *testing.T) {
		_, err := ReadCSV(strings.NewReader("a,b\n1,2\n3\n"))
		assert.ErrorIs(t, err, errs.ErrRead)
	})
}

func TestWriteCSVRoundTrip(t *testing.T) {
	t.Parallel()

	rec := mustRows(t, txSchema, [][]any{
		{int64(0), 10.0, "acme", true},
		{int64(3700), nil, nil, false},
		{nil, math.Inf(1), "z", nil},
	})

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rec))
	assert.Contains(t, buf.String(), "0,10.0,acme,True")

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	defer back.Release()

	require.True(t, back.Schema().Equal(rec.Schema()), back.Schema().String())
	for j := 0; j < int(rec.NumCols()); j++ {
		assert.Equal(t, Values(rec.Column(j)), Values(back.Column(j)), rec.ColumnName(j))
	}
}

func TestTakeFilled(t *testing.T) {
	t.Parallel()

	rec := mustRows(t, txSchema, [][]any{
		{nil, math.NaN(), nil, nil},
		{int64(5), 1.5, "x", true},
	})

	var filled int
	got := make([][]any, rec.NumCols())
	for j := 0; j < int(rec.NumCols()); j++ {
		col, n, err := TakeFilled(rec.Column(j), []int{1, 0})
		require.NoError(t, err)
		filled += n
		got[j] = Values(col)
		col.Release()
	}
	assert.Equal(t, 4, filled)
	assert.Equal(t, []any{int64(5), int64(0)}, got[0])
	assert.Equal(t, []any{1.5, 0.0}, got[1])
	assert.Equal(t, []any{"x", "0"}, got[2])
	assert.Equal(t, []any{true, false}, got[3])
}

func TestRowKey(t *testing.T) {
	t.Parallel()

	rec := mustRows(t, txSchema, [][]any{
		{int64(1), 2.0, "a", true},
		{int64(1), 2.0, "a", true},
		{int64(1), 2.0, "b", true},
		{int64(0), 0.0, "0", false},
		{nil, nil, nil, nil},
		{int64(0), math.Copysign(0, -1), "0", false},
	})
	key := func(i int) string { return string(RowKey(nil, rec, i)) }

	assert.Equal(t, key(0), key(1))
	assert.NotEqual(t, key(0), key(2))
	assert.Equal(t, key(3), key(4), "missing cells key as zero")
	assert.Equal(t, key(3), key(5), "negative zero folds into zero")
}

func TestWithColumn(t *testing.T) {
	t.Parallel()

	rec := mustRows(t, txSchema, [][]any{{int64(1), 2.0, "a", true}})

	b := array.NewInt64Builder(Pool)
	b.Append(9)
	col := b.NewArray()
	b.Release()
	defer col.Release()

	added := WithColumn(rec, "Extra", col)
	defer added.Release()
	assert.Equal(t, int64(5), added.NumCols())
	assert.Equal(t, int64(4), rec.NumCols(), "input untouched")

	replaced := WithColumn(rec, "Time", col)
	defer replaced.Release()
	assert.Equal(t, int64(4), replaced.NumCols())
	assert.Equal(t, []any{int64(9)}, Values(replaced.Column(0)))
}

func TestConcat(t *testing.T) {
	t.Parallel()

	a := mustRows(t, txSchema, [][]any{{int64(1), 1.0, "a", true}})
	b := mustRows(t, txSchema, [][]any{{int64(2), 2.0, "b", false}, {int64(3), 3.0, "c", true}})

	out, err := Concat(txSchema, []arrow.Record{a, b})
	require.NoError(t, err)
	defer out.Release()
	assert.Equal(t, int64(3), out.NumRows())
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, Values(out.Column(0)))

	empty, err := Concat(txSchema, nil)
	require.NoError(t, err)
	defer empty.Release()
	assert.Equal(t, int64(0), empty.NumRows())
}

func TestMissingColumns(t *testing.T) {
	t.Parallel()
	assert.Nil(t, MissingColumns(txSchema, "Time", "Amount"))
	assert.Equal(t, []string{"Class", "Other"}, MissingColumns(txSchema, "Class", "Time", "Other"))
}
