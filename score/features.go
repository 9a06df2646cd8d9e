package score

import (
	"sort"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/TFMV/fraudpipe/frame"
	"github.com/TFMV/fraudpipe/transform"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// ColClass is the binary ground-truth label column.
const ColClass = "Class"

// Features is a dense row-major feature matrix with its column names.
type Features struct {
	Names []string
	X     [][]float64
}

// Encode splits rec into a feature matrix and the Class target. Numeric
// and boolean columns are used as-is in schema order. AmountCategory is
// one-hot encoded over the sorted categories with the first level
// dropped, and appended last as AmountCategory_<level>. Any other text
// column, a missing or non-binary Class, or a missing feature value fails
// with *errs.SchemaError.
func Encode(rec arrow.Record, categories []string) (Features, []float64, error) {
	schema := rec.Schema()
	classIdx := frame.ColumnIndex(schema, ColClass)
	if classIdx < 0 {
		return Features{}, nil, errs.MissingColumns("score", ColClass)
	}

	y, err := labels(rec.Column(classIdx))
	if err != nil {
		return Features{}, nil, err
	}

	n := int(rec.NumRows())
	var (
		numeric []int
		names   []string
		catIdx  = -1
	)
	for j, f := range schema.Fields() {
		switch {
		case j == classIdx:
		case f.Name == transform.ColAmountCategory:
			if !frame.IsString(f.Type) {
				return Features{}, nil, errs.InvalidColumn("score", f.Name, "must be text, got "+f.Type.String())
			}
			catIdx = j
		case frame.IsNumeric(f.Type) || f.Type.ID() == arrow.BOOL:
			numeric = append(numeric, j)
			names = append(names, f.Name)
		default:
			return Features{}, nil, errs.InvalidColumn("score", f.Name, "cannot be used as a feature ("+f.Type.String()+")")
		}
	}

	var levels []string
	if catIdx >= 0 {
		levels = append([]string(nil), categories...)
		sort.Strings(levels)
		if len(levels) > 0 {
			levels = levels[1:]
		}
		for _, l := range levels {
			names = append(names, transform.ColAmountCategory+"_"+l)
		}
	}

	X := make([][]float64, n)
	for i := range X {
		X[i] = make([]float64, len(names))
	}
	for k, j := range numeric {
		col := rec.Column(j)
		for i := 0; i < n; i++ {
			v, ok := frame.NumericAt(col, i)
			if !ok || frame.IsMissing(col, i) {
				return Features{}, nil, errs.InvalidColumn("score", schema.Field(j).Name, "has missing values")
			}
			X[i][k] = v
		}
	}
	if catIdx >= 0 {
		if err := oneHot(rec.Column(catIdx), categories, levels, X, len(numeric)); err != nil {
			return Features{}, nil, err
		}
	}
	return Features{Names: names, X: X}, y, nil
}

func labels(col arrow.Array) ([]float64, error) {
	y := make([]float64, col.Len())
	for i := range y {
		v, ok := frame.NumericAt(col, i)
		if !ok || frame.IsMissing(col, i) {
			return nil, errs.InvalidColumn("score", ColClass, "has missing values")
		}
		if v != 0 && v != 1 {
			return nil, errs.InvalidColumn("score", ColClass, "must be binary (0/1)")
		}
		y[i] = v
	}
	return y, nil
}

func oneHot(col arrow.Array, categories, levels []string, X [][]float64, offset int) error {
	known := make(map[string]bool, len(categories))
	for _, c := range categories {
		known[c] = true
	}
	pos := make(map[string]int, len(levels))
	for k, l := range levels {
		pos[l] = offset + k
	}

	value := func(i int) string {
		switch a := col.(type) {
		case *array.String:
			return a.Value(i)
		case *array.LargeString:
			return a.Value(i)
		}
		return col.ValueStr(i)
	}
	for i := range X {
		if col.IsNull(i) {
			return errs.InvalidColumn("score", transform.ColAmountCategory, "has missing values")
		}
		v := value(i)
		if !known[v] {
			return errs.InvalidColumn("score", transform.ColAmountCategory, "has unknown category "+v)
		}
		if k, ok := pos[v]; ok {
			X[i][k] = 1
		}
	}
	return nil
}
