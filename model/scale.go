package model

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes features to zero mean and unit variance.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler learns per-column mean and standard deviation over rows of X.
// Constant or single-sample columns get a unit deviation.
func FitScaler(X [][]float64, rows []int) *Scaler {
	if len(X) == 0 {
		return &Scaler{}
	}
	d := len(X[0])
	s := &Scaler{Mean: make([]float64, d), Std: make([]float64, d)}
	col := make([]float64, len(rows))
	for j := 0; j < d; j++ {
		for k, i := range rows {
			col[k] = X[i][j]
		}
		mean, std := 0.0, 1.0
		if len(col) > 0 {
			mean = stat.Mean(col, nil)
		}
		if len(col) > 1 {
			_, std = stat.MeanStdDev(col, nil)
		}
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s
}

// Transform returns a standardized copy of X.
func (s *Scaler) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		z := make([]float64, len(row))
		for j, v := range row {
			z[j] = (v - s.Mean[j]) / s.Std[j]
		}
		out[i] = z
	}
	return out
}
