// Package summary aggregates scored records into fraud counts per
// AmountCategory and HourOfDay.
package summary

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/TFMV/fraudpipe/frame"
	"github.com/TFMV/fraudpipe/index"
	"github.com/TFMV/fraudpipe/transform"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Summary counts predictions in a scored record.
type Summary struct {
	Rows   int64
	Scored int64 // rows with a non-null prediction
	Fraud  int64 // rows predicted as 1

	ByCategory map[string]int64
	ByHour     map[int64]int64
}

// Summarize groups the rows of rec whose prediction column is 1 by
// AmountCategory and HourOfDay. Either grouping column may be absent.
func Summarize(rec arrow.Record, predictionCol string) (Summary, error) {
	schema := rec.Schema()
	idx := frame.ColumnIndex(schema, predictionCol)
	if idx < 0 {
		return Summary{}, fmt.Errorf("summary: missing %s column", predictionCol)
	}
	predCol, ok := rec.Column(idx).(*array.Int64)
	if !ok {
		return Summary{}, fmt.Errorf("unexpected type for %s column: %T", predictionCol, rec.Column(idx))
	}

	fraud := roaring.New()
	var scored int64
	for i := 0; i < predCol.Len(); i++ {
		if predCol.IsNull(i) {
			continue
		}
		scored++
		if predCol.Value(i) == 1 {
			fraud.Add(uint32(i))
		}
	}

	s := Summary{
		Rows:       rec.NumRows(),
		Scored:     scored,
		Fraud:      int64(fraud.GetCardinality()),
		ByCategory: map[string]int64{},
		ByHour:     map[int64]int64{},
	}

	if j := frame.ColumnIndex(schema, transform.ColAmountCategory); j >= 0 {
		catCol := rec.Column(j)
		if !frame.IsString(catCol.DataType()) {
			return Summary{}, fmt.Errorf("unexpected type for %s column: %T", transform.ColAmountCategory, catCol)
		}
		cats := index.NewValueIndex[string]()
		for i := 0; i < catCol.Len(); i++ {
			if v, ok := frame.Value(catCol, i).(string); ok {
				cats.Add(uint32(i), v)
			}
		}
		for cat, n := range cats.CountWhere(fraud) {
			s.ByCategory[cat] = int64(n)
		}
	}

	if j := frame.ColumnIndex(schema, transform.ColHourOfDay); j >= 0 {
		hourCol, ok := rec.Column(j).(*array.Int64)
		if !ok {
			return Summary{}, fmt.Errorf("unexpected type for %s column: %T", transform.ColHourOfDay, rec.Column(j))
		}
		hours := index.NewValueIndex[int64]()
		for i := 0; i < hourCol.Len(); i++ {
			if !hourCol.IsNull(i) {
				hours.Add(uint32(i), hourCol.Value(i))
			}
		}
		for h, n := range hours.CountWhere(fraud) {
			if n > 0 {
				s.ByHour[h] = int64(n)
			}
		}
	}
	return s, nil
}
