// Package index provides the row indexes used to deduplicate records and
// to group rows by column value.
package index

import (
	"bytes"
	"sort"
	"sync"

	roaring "github.com/RoaringBitmap/roaring"
	bloom "github.com/bits-and-blooms/bloom/v3"
	murmur3 "github.com/spaolacci/murmur3"
)

// DefaultFPRate is the Bloom filter false-positive rate used by NewRowIndex
// when none is given.
const DefaultFPRate = 0.001

// ---------------------------------------------------------------------
// RowIndex
//
//    Detects repeated row keys. A Bloom filter answers "definitely new"
//    for most rows; candidates it cannot rule out are resolved by Murmur3
//    bucket and an exact byte comparison, so no false duplicate is ever
//    reported.
// ---------------------------------------------------------------------

// RowIndex records the first occurrence of every distinct row key.
type RowIndex struct {
	mu         sync.Mutex
	filter     *bloom.BloomFilter
	buckets    map[uint64]*roaring.Bitmap // hash -> rowIDs of first occurrences
	keys       map[uint32][]byte          // rowID -> key
	kept       *roaring.Bitmap
	duplicates int
}

// NewRowIndex sizes the index for about sizeHint rows.
func NewRowIndex(sizeHint int, fpRate float64) *RowIndex {
	if sizeHint < 1 {
		sizeHint = 1
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = DefaultFPRate
	}
	return &RowIndex{
		filter:  bloom.NewWithEstimates(uint(sizeHint), fpRate),
		buckets: make(map[uint64]*roaring.Bitmap, sizeHint),
		keys:    make(map[uint32][]byte, sizeHint),
		kept:    roaring.New(),
	}
}

// Add registers key for rowID and reports whether it is the first row
// seen with that key.
func (x *RowIndex) Add(rowID uint32, key []byte) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	h := murmur3.Sum64(key)
	if x.filter.Test(key) {
		if bm, ok := x.buckets[h]; ok {
			it := bm.Iterator()
			for it.HasNext() {
				if bytes.Equal(x.keys[it.Next()], key) {
					x.duplicates++
					return false
				}
			}
		}
	}

	x.filter.Add(key)
	bm, ok := x.buckets[h]
	if !ok {
		bm = roaring.New()
		x.buckets[h] = bm
	}
	bm.Add(rowID)
	x.keys[rowID] = append([]byte(nil), key...)
	x.kept.Add(rowID)
	return true
}

// Kept returns the rowIDs of first occurrences.
func (x *RowIndex) Kept() *roaring.Bitmap {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.kept.Clone()
}

// Duplicates returns how many Add calls hit an existing key.
func (x *RowIndex) Duplicates() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.duplicates
}

// ---------------------------------------------------------------------
// ValueIndex
//
//    Maps each distinct value -> roaring.Bitmap of rowIDs.
// ---------------------------------------------------------------------

// ValueIndex groups rowIDs by a comparable column value.
type ValueIndex[K comparable] struct {
	mu     sync.RWMutex
	values map[K]*roaring.Bitmap
}

// NewValueIndex constructs an empty ValueIndex.
func NewValueIndex[K comparable]() *ValueIndex[K] {
	return &ValueIndex[K]{values: make(map[K]*roaring.Bitmap)}
}

// Add inserts rowID under value.
func (v *ValueIndex[K]) Add(rowID uint32, value K) {
	v.mu.Lock()
	defer v.mu.Unlock()

	bm, ok := v.values[value]
	if !ok {
		bm = roaring.New()
		v.values[value] = bm
	}
	bm.Add(rowID)
}

// Search returns the rows holding value, or an empty bitmap.
func (v *ValueIndex[K]) Search(value K) *roaring.Bitmap {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if bm, ok := v.values[value]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// CountWhere returns, per value, how many of its rows are also in rows.
func (v *ValueIndex[K]) CountWhere(rows *roaring.Bitmap) map[K]uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make(map[K]uint64, len(v.values))
	for value, bm := range v.values {
		out[value] = bm.AndCardinality(rows)
	}
	return out
}

// Cardinality returns the number of distinct values.
func (v *ValueIndex[K]) Cardinality() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.values)
}

// SortedKeys returns the distinct values ordered by less.
func SortedKeys[K comparable](v *ValueIndex[K], less func(a, b K) bool) []K {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]K, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}
