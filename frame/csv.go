package frame

import (
	"bytes"
	stdcsv "encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
)

// NullTokens are the cell spellings read as missing values.
var NullTokens = []string{"", "NA", "N/A", "NaN", "nan", "NULL", "null", "None", "#N/A"}

// boolTokens are the spellings the arrow csv decoder accepts as booleans.
var boolTokens = map[string]bool{
	"true": true, "True": true,
	"false": false, "False": false,
}

// ReadCSV decodes a delimited file with a header row into one record.
// Column types are inferred from every value in the column: int64, then
// float64, then bool, falling back to string. A column with no values at
// all is float64. Failures wrap errs.ErrRead.
func ReadCSV(r io.Reader) (arrow.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w: %w", errs.ErrRead, err)
	}

	rows, err := stdcsv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w: %w", errs.ErrRead, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("failed to parse csv: %w: missing header row", errs.ErrRead)
	}

	schema := inferSchema(rows[0], rows[1:])
	if len(rows) == 1 {
		return Empty(schema), nil
	}

	reader := csv.NewReader(
		bytes.NewReader(data),
		schema,
		csv.WithHeader(true),
		csv.WithNullReader(true, NullTokens...),
		csv.WithChunk(-1),
		csv.WithAllocator(Pool),
	)
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("failed to decode csv: %w: %w", errs.ErrRead, err)
		}
		return Empty(schema), nil
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode csv: %w: %w", errs.ErrRead, err)
	}
	rec := reader.Record()
	rec.Retain()
	return rec, nil
}

func inferSchema(header []string, rows [][]string) *arrow.Schema {
	fields := make([]arrow.Field, len(header))
	for j, name := range header {
		fields[j] = arrow.Field{Name: name, Type: inferType(rows, j), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func inferType(rows [][]string, j int) arrow.DataType {
	isInt, isFloat, isBool := true, true, true
	seen := false
	for _, row := range rows {
		cell := row[j]
		if isNullToken(cell) {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, ok := boolTokens[cell]; !ok {
				isBool = false
			}
		}
		if !isInt && !isFloat && !isBool {
			return arrow.BinaryTypes.String
		}
	}
	switch {
	case !seen:
		return arrow.PrimitiveTypes.Float64
	case isInt:
		return arrow.PrimitiveTypes.Int64
	case isFloat:
		return arrow.PrimitiveTypes.Float64
	case isBool:
		return arrow.FixedWidthTypes.Boolean
	}
	return arrow.BinaryTypes.String
}

func isNullToken(s string) bool {
	for _, tok := range NullTokens {
		if s == tok {
			return true
		}
	}
	return false
}

// WriteCSV encodes rec as a delimited file with a header row. Missing
// cells are written empty. Floats always carry a decimal point so the
// column reads back as float64.
func WriteCSV(w io.Writer, rec arrow.Record) error {
	cw := stdcsv.NewWriter(w)

	schema := rec.Schema()
	header := make([]string, schema.NumFields())
	for j, f := range schema.Fields() {
		header[j] = f.Name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	line := make([]string, len(header))
	for i := 0; i < int(rec.NumRows()); i++ {
		for j := range line {
			line[j] = formatCell(rec.Column(j), i)
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func formatCell(arr arrow.Array, i int) string {
	if IsMissing(arr, i) {
		return ""
	}
	switch a := arr.(type) {
	case *array.Float64:
		return formatFloat(a.Value(i))
	case *array.Float32:
		return formatFloat(float64(a.Value(i)))
	case *array.Boolean:
		if a.Value(i) {
			return "True"
		}
		return "False"
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	}
	if v, ok := Value(arr, i).(int64); ok {
		return strconv.FormatInt(v, 10)
	}
	return arr.ValueStr(i)
}

func formatFloat(v float64) string {
	if math.IsInf(v, 0) {
		if v > 0 {
			return "inf"
		}
		return "-inf"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
