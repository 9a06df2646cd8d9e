package transform

import (
	"fmt"
	"math"
	"sort"
)

// Amount categories.
const (
	Small    = "Small"
	Medium   = "Medium"
	Large    = "Large"
	XL       = "XL"
	Negative = "Negative"
)

// NegativePolicy decides where amounts below zero are bucketed.
type NegativePolicy string

const (
	// NegativeAsSmall clamps negative amounts into Small.
	NegativeAsSmall NegativePolicy = "small"
	// NegativeBucket places negative amounts in a dedicated Negative bucket.
	NegativeBucket NegativePolicy = "negative"
)

// ParseNegativePolicy validates a policy name. Empty selects NegativeAsSmall.
func ParseNegativePolicy(s string) (NegativePolicy, error) {
	switch NegativePolicy(s) {
	case "", NegativeAsSmall:
		return NegativeAsSmall, nil
	case NegativeBucket:
		return NegativeBucket, nil
	}
	return "", fmt.Errorf("unknown negative amount policy %q (want %q or %q)", s, NegativeAsSmall, NegativeBucket)
}

// Bucketer maps an amount onto the left-closed partition
// [0,50) Small, [50,200) Medium, [200,1000) Large, [1000,inf) XL.
type Bucketer struct {
	bounds []float64
	labels []string
	policy NegativePolicy
}

// NewBucketer returns the standard four-bucket partition.
func NewBucketer(policy NegativePolicy) Bucketer {
	if policy == "" {
		policy = NegativeAsSmall
	}
	return Bucketer{
		bounds: []float64{50, 200, 1000},
		labels: []string{Small, Medium, Large, XL},
		policy: policy,
	}
}

// Policy returns the negative amount policy in effect.
func (b Bucketer) Policy() NegativePolicy { return b.policy }

// Category returns the bucket for amount. NaN is treated as zero.
func (b Bucketer) Category(amount float64) string {
	if math.IsNaN(amount) {
		amount = 0
	}
	if amount < 0 && b.policy == NegativeBucket {
		return Negative
	}
	// number of lower bounds <= amount
	i := sort.Search(len(b.bounds), func(i int) bool { return b.bounds[i] > amount })
	return b.labels[i]
}

// Categories returns every label Category can produce, sorted.
func (b Bucketer) Categories() []string {
	out := append([]string(nil), b.labels...)
	if b.policy == NegativeBucket {
		out = append(out, Negative)
	}
	sort.Strings(out)
	return out
}

// HourOfDay returns floor(t/3600) mod 24, always in [0,23].
func HourOfDay(t float64) int64 {
	h := math.Mod(math.Floor(t/3600), 24)
	if h < 0 {
		h += 24
	}
	return int64(h)
}
