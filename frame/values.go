package frame

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ZeroString is the value a missing text cell is filled with.
const ZeroString = "0"

// IsMissing reports whether cell i is null or a floating point NaN.
func IsMissing(arr arrow.Array, i int) bool {
	if arr.IsNull(i) {
		return true
	}
	switch a := arr.(type) {
	case *array.Float64:
		return math.IsNaN(a.Value(i))
	case *array.Float32:
		return math.IsNaN(float64(a.Value(i)))
	}
	return false
}

// NumericAt returns cell i as a float64. ok is false for null cells and
// for values that are not numeric.
func NumericAt(arr arrow.Array, i int) (v float64, ok bool) {
	if arr.IsNull(i) {
		return 0, false
	}
	switch a := arr.(type) {
	case *array.Int64:
		return float64(a.Value(i)), true
	case *array.Int32:
		return float64(a.Value(i)), true
	case *array.Int16:
		return float64(a.Value(i)), true
	case *array.Int8:
		return float64(a.Value(i)), true
	case *array.Uint64:
		return float64(a.Value(i)), true
	case *array.Uint32:
		return float64(a.Value(i)), true
	case *array.Uint16:
		return float64(a.Value(i)), true
	case *array.Uint8:
		return float64(a.Value(i)), true
	case *array.Float64:
		return a.Value(i), true
	case *array.Float32:
		return float64(a.Value(i)), true
	case *array.Boolean:
		if a.Value(i) {
			return 1, true
		}
		return 0, true
	}
	if !IsNumeric(arr.DataType()) {
		return 0, false
	}
	f, err := strconv.ParseFloat(arr.ValueStr(i), 64)
	return f, err == nil
}

// Value returns cell i as a plain Go value: nil, int64, float64, bool or
// string. Types without a native mapping use their string rendering.
func Value(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i)
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Uint16:
		return int64(a.Value(i))
	case *array.Uint8:
		return int64(a.Value(i))
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Boolean:
		return a.Value(i)
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	}
	return arr.ValueStr(i)
}

// Values returns every cell of arr via Value.
func Values(arr arrow.Array) []any {
	out := make([]any, arr.Len())
	for i := range out {
		out[i] = Value(arr, i)
	}
	return out
}

// ---------------------------------------------------------------------
// Row selection with zero fill
// ---------------------------------------------------------------------

// TakeFilled copies the given rows of arr into a new array, replacing
// missing cells with the zero value of the column type. It returns the
// number of cells filled.
func TakeFilled(arr arrow.Array, rows []int) (arrow.Array, int, error) {
	b := array.NewBuilder(Pool, arr.DataType())
	defer b.Release()
	b.Reserve(len(rows))

	filled := 0
	for _, i := range rows {
		if IsMissing(arr, i) {
			appendZero(b)
			filled++
			continue
		}
		if err := appendCell(b, arr, i); err != nil {
			return nil, 0, err
		}
	}
	return b.NewArray(), filled, nil
}

func appendZero(b array.Builder) {
	switch fb := b.(type) {
	case *array.StringBuilder:
		fb.Append(ZeroString)
	case *array.LargeStringBuilder:
		fb.Append(ZeroString)
	default:
		b.AppendEmptyValue()
	}
}

func appendCell(b array.Builder, arr arrow.Array, i int) error {
	switch a := arr.(type) {
	case *array.Int64:
		b.(*array.Int64Builder).Append(a.Value(i))
	case *array.Int32:
		b.(*array.Int32Builder).Append(a.Value(i))
	case *array.Float64:
		b.(*array.Float64Builder).Append(a.Value(i))
	case *array.Float32:
		b.(*array.Float32Builder).Append(a.Value(i))
	case *array.Boolean:
		b.(*array.BooleanBuilder).Append(a.Value(i))
	case *array.String:
		b.(*array.StringBuilder).Append(a.Value(i))
	case *array.LargeString:
		b.(*array.LargeStringBuilder).Append(a.Value(i))
	default:
		if err := b.AppendValueFromString(arr.ValueStr(i)); err != nil {
			return fmt.Errorf("failed to copy %s value: %w", arr.DataType(), err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------
// Row keys
// ---------------------------------------------------------------------

// RowKey appends an exact, type-tagged encoding of row i to buf. Missing
// cells encode as the zero value TakeFilled would write, so two rows that
// differ only by a missing-versus-zero cell share a key.
func RowKey(buf []byte, rec arrow.Record, i int) []byte {
	for j := 0; j < int(rec.NumCols()); j++ {
		buf = appendKeyCell(buf, rec.Column(j), i)
	}
	return buf
}

func appendKeyCell(buf []byte, arr arrow.Array, i int) []byte {
	missing := IsMissing(arr, i)
	switch a := arr.(type) {
	case *array.Float64, *array.Float32:
		f := 0.0
		if !missing {
			f, _ = NumericAt(a, i)
		}
		if f == 0 {
			f = 0 // folds -0 into 0
		}
		buf = append(buf, 'f')
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	case *array.Boolean:
		buf = append(buf, 'b')
		if !missing && a.Value(i) {
			return append(buf, 1)
		}
		return append(buf, 0)
	case *array.String:
		s := ZeroString
		if !missing {
			s = a.Value(i)
		}
		return appendKeyString(append(buf, 's'), s)
	case *array.LargeString:
		s := ZeroString
		if !missing {
			s = a.Value(i)
		}
		return appendKeyString(append(buf, 's'), s)
	}
	if arrow.IsInteger(arr.DataType().ID()) {
		var v int64
		if !missing {
			if x, ok := Value(arr, i).(int64); ok {
				v = x
			} else {
				f, _ := NumericAt(arr, i)
				v = int64(f)
			}
		}
		buf = append(buf, 'i')
		return binary.LittleEndian.AppendUint64(buf, uint64(v))
	}
	if missing {
		return append(buf, 'z')
	}
	return appendKeyString(append(buf, 'v'), arr.ValueStr(i))
}

func appendKeyString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}
