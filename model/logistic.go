package model

import (
	"fmt"
	"math"

	"github.com/TFMV/fraudpipe/errs"
	"gonum.org/v1/gonum/floats"
)

// Penalty selects the regularization term.
type Penalty string

const (
	L1 Penalty = "l1"
	L2 Penalty = "l2"
)

// ParsePenalty validates a penalty name. Empty selects L2.
func ParsePenalty(s string) (Penalty, error) {
	switch Penalty(s) {
	case "", L2:
		return L2, nil
	case L1:
		return L1, nil
	}
	return "", fmt.Errorf("unknown penalty %q (want l1 or l2)", s)
}

// LogisticRegression is a binary classifier fitted by full-batch proximal
// gradient descent on
//
//	mean log-loss + ||w||^2 / (2*C*n)   (L2)
//	mean log-loss + ||w||_1 / (C*n)     (L1)
//
// The intercept is not penalized. Weights start at zero, so a fit is fully
// determined by its inputs.
type LogisticRegression struct {
	Penalty Penalty
	C       float64
	MaxIter int
	Tol     float64

	Weights    []float64
	Intercept  float64
	Iterations int
	Converged  bool
}

// NewLogisticRegression returns an unfitted model. Non-positive C, maxIter
// or tol fall back to 1.0, 1000 and 1e-4.
func NewLogisticRegression(penalty Penalty, c float64, maxIter int, tol float64) *LogisticRegression {
	if penalty == "" {
		penalty = L2
	}
	if c <= 0 {
		c = 1.0
	}
	if maxIter <= 0 {
		maxIter = 1000
	}
	if tol <= 0 {
		tol = 1e-4
	}
	return &LogisticRegression{Penalty: penalty, C: c, MaxIter: maxIter, Tol: tol}
}

// Fit trains on rows of X with 0/1 labels y. It fails with errs.ErrFit when
// there are no rows or only one class.
func (m *LogisticRegression) Fit(X [][]float64, y []float64) error {
	n := len(X)
	if n == 0 {
		return fmt.Errorf("cannot fit on zero rows: %w", errs.ErrFit)
	}
	if len(y) != n {
		return fmt.Errorf("have %d labels for %d rows: %w", len(y), n, errs.ErrFit)
	}
	var pos int
	for _, v := range y {
		switch v {
		case 1:
			pos++
		case 0:
		default:
			return fmt.Errorf("label %v is not binary: %w", v, errs.ErrFit)
		}
	}
	if pos == 0 || pos == n {
		return fmt.Errorf("training data contains a single class: %w", errs.ErrFit)
	}

	d := len(X[0])
	fn := float64(n)
	lambda := 1 / (m.C * fn)

	// Step 1/L where L bounds the Lipschitz constant of the loss gradient.
	var sq float64
	for _, x := range X {
		sq += floats.Dot(x, x)
	}
	lip := 0.25 * (1 + sq/fn)
	if m.Penalty == L2 {
		lip += lambda
	}
	eta := 1 / lip

	w := make([]float64, d)
	b := 0.0
	grad := make([]float64, d)
	m.Converged = false
	for m.Iterations = 1; m.Iterations <= m.MaxIter; m.Iterations++ {
		floats.Scale(0, grad)
		gb := 0.0
		for i, x := range X {
			r := sigmoid(floats.Dot(w, x)+b) - y[i]
			floats.AddScaled(grad, r, x)
			gb += r
		}
		floats.Scale(1/fn, grad)
		gb /= fn
		if m.Penalty == L2 {
			floats.AddScaled(grad, lambda, w)
		}

		delta := 0.0
		for k := range w {
			next := w[k] - eta*grad[k]
			if m.Penalty == L1 {
				next = softThreshold(next, eta*lambda)
			}
			delta = math.Max(delta, math.Abs(next-w[k]))
			w[k] = next
		}
		nb := b - eta*gb
		delta = math.Max(delta, math.Abs(nb-b))
		b = nb

		if delta < m.Tol {
			m.Converged = true
			break
		}
	}
	if m.Iterations > m.MaxIter {
		m.Iterations = m.MaxIter
	}

	m.Weights, m.Intercept = w, b
	return nil
}

// DecisionFunction returns w.x + b.
func (m *LogisticRegression) DecisionFunction(x []float64) float64 {
	return floats.Dot(m.Weights, x) + m.Intercept
}

// PredictProba returns P(y=1 | x).
func (m *LogisticRegression) PredictProba(x []float64) float64 {
	return sigmoid(m.DecisionFunction(x))
}

// Predict returns 1 when the decision function is positive, else 0.
func (m *LogisticRegression) Predict(x []float64) int64 {
	if m.DecisionFunction(x) > 0 {
		return 1
	}
	return 0
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	}
	return 0
}
