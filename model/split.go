// Package model implements the classifier the scorer fits: a stratified
// hold-out split, feature standardization and L1/L2 logistic regression.
package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/TFMV/fraudpipe/errs"
)

// Split partitions row positions into training and held-out sets.
type Split struct {
	Train   *roaring.Bitmap
	Holdout *roaring.Bitmap
}

// TrainRows returns the training positions in ascending order.
func (s Split) TrainRows() []int { return toInts(s.Train) }

// HoldoutRows returns the held-out positions in ascending order.
func (s Split) HoldoutRows() []int { return toInts(s.Holdout) }

func toInts(bm *roaring.Bitmap) []int {
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// StratifiedSplit holds out round(fraction * n_c) rows of every class c,
// chosen by a generator seeded with seed, so class proportions are kept.
// Each class keeps at least one training row. Labels are visited in sorted
// order, making the split a pure function of (y, fraction, seed).
func StratifiedSplit(y []float64, fraction float64, seed int64) (Split, error) {
	if fraction < 0 || fraction >= 1 || math.IsNaN(fraction) {
		return Split{}, fmt.Errorf("holdout fraction %v outside [0,1)", fraction)
	}
	if len(y) == 0 {
		return Split{}, fmt.Errorf("cannot split zero rows: %w", errs.ErrFit)
	}

	byClass := map[float64][]uint32{}
	for i, label := range y {
		byClass[label] = append(byClass[label], uint32(i))
	}
	labels := make([]float64, 0, len(byClass))
	for label := range byClass {
		labels = append(labels, label)
	}
	sort.Float64s(labels)

	rng := rand.New(rand.NewSource(seed))
	split := Split{Train: roaring.New(), Holdout: roaring.New()}
	for _, label := range labels {
		rows := byClass[label]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		n := int(math.Round(fraction * float64(len(rows))))
		if n > len(rows)-1 {
			n = len(rows) - 1
		}
		split.Holdout.AddMany(rows[:n])
		split.Train.AddMany(rows[n:])
	}
	return split, nil
}
