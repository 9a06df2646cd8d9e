// Package frame holds the Arrow helpers every stage uses to inspect, copy
// and extend tabular records.
package frame

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Pool is the Go memory allocator used by Arrow.
var Pool = memory.NewGoAllocator()

// ---------------------------------------------------------------------
// Column lookup
// ---------------------------------------------------------------------

// ColumnIndex returns the position of the first column called name, or -1.
func ColumnIndex(schema *arrow.Schema, name string) int {
	if idx := schema.FieldIndices(name); len(idx) > 0 {
		return idx[0]
	}
	return -1
}

// MissingColumns returns the names not present in schema, in the order given.
func MissingColumns(schema *arrow.Schema, names ...string) []string {
	var missing []string
	for _, name := range names {
		if ColumnIndex(schema, name) < 0 {
			missing = append(missing, name)
		}
	}
	return missing
}

// IsNumeric reports whether dt is an integer or floating point type.
func IsNumeric(dt arrow.DataType) bool {
	id := dt.ID()
	return arrow.IsInteger(id) || arrow.IsFloating(id)
}

// IsString reports whether dt holds UTF-8 text.
func IsString(dt arrow.DataType) bool {
	return dt.ID() == arrow.STRING || dt.ID() == arrow.LARGE_STRING
}

// ---------------------------------------------------------------------
// Record construction
// ---------------------------------------------------------------------

// Empty returns a zero-row record with the given schema.
func Empty(schema *arrow.Schema) arrow.Record {
	b := array.NewRecordBuilder(Pool, schema)
	defer b.Release()
	return b.NewRecord()
}

// WithColumn returns a new record with col appended under name, or
// replacing the existing column of that name. The input is not modified.
func WithColumn(rec arrow.Record, name string, col arrow.Array) arrow.Record {
	schema := rec.Schema()
	fields := append([]arrow.Field(nil), schema.Fields()...)
	cols := append([]arrow.Array(nil), rec.Columns()...)

	field := arrow.Field{Name: name, Type: col.DataType(), Nullable: true}
	if idx := ColumnIndex(schema, name); idx >= 0 {
		fields[idx] = field
		cols[idx] = col
	} else {
		fields = append(fields, field)
		cols = append(cols, col)
	}

	md := schema.Metadata()
	return array.NewRecord(arrow.NewSchema(fields, &md), cols, rec.NumRows())
}

// Concat joins records sharing schema into a single record. A nil or
// empty input yields a zero-row record.
func Concat(schema *arrow.Schema, recs []arrow.Record) (arrow.Record, error) {
	switch len(recs) {
	case 0:
		return Empty(schema), nil
	case 1:
		recs[0].Retain()
		return recs[0], nil
	}

	var rows int64
	for _, rec := range recs {
		if !rec.Schema().Equal(schema) {
			return nil, fmt.Errorf("failed to concatenate records: schema mismatch")
		}
		rows += rec.NumRows()
	}

	cols := make([]arrow.Array, schema.NumFields())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()
	for j := range cols {
		parts := make([]arrow.Array, len(recs))
		for i, rec := range recs {
			parts[i] = rec.Column(j)
		}
		col, err := array.Concatenate(parts, Pool)
		if err != nil {
			return nil, fmt.Errorf("failed to concatenate column %q: %w", schema.Field(j).Name, err)
		}
		cols[j] = col
	}
	return array.NewRecord(schema, cols, rows), nil
}

// FromRows builds a record from row-major Go values. A nil value becomes
// null. Supported column types are int64, float64, bool, string and
// large string.
func FromRows(schema *arrow.Schema, rows [][]any) (arrow.Record, error) {
	b := array.NewRecordBuilder(Pool, schema)
	defer b.Release()

	for r, row := range rows {
		if len(row) != schema.NumFields() {
			return nil, fmt.Errorf("row %d has %d values, want %d", r, len(row), schema.NumFields())
		}
		for j, v := range row {
			if err := appendAny(b.Field(j), v); err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", r, schema.Field(j).Name, err)
			}
		}
	}
	return b.NewRecord(), nil
}

func appendAny(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch fb := b.(type) {
	case *array.Int64Builder:
		switch x := v.(type) {
		case int:
			fb.Append(int64(x))
		case int64:
			fb.Append(x)
		default:
			return fmt.Errorf("cannot append %T to int64 column", v)
		}
	case *array.Float64Builder:
		switch x := v.(type) {
		case float64:
			fb.Append(x)
		case int:
			fb.Append(float64(x))
		case int64:
			fb.Append(float64(x))
		default:
			return fmt.Errorf("cannot append %T to float64 column", v)
		}
	case *array.BooleanBuilder:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("cannot append %T to bool column", v)
		}
		fb.Append(x)
	case *array.StringBuilder:
		x, ok := v.(string)
		if !ok {
			return fmt.Errorf("cannot append %T to string column", v)
		}
		fb.Append(x)
	case *array.LargeStringBuilder:
		x, ok := v.(string)
		if !ok {
			return fmt.Errorf("cannot append %T to large string column", v)
		}
		fb.Append(x)
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}
