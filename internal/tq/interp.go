package tq

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// maxTau2 is the maximum allowed tau squared for monotonicity preservation
// in PCHIP (Fritsch-Carlson constraint).
const maxTau2 = 9.0

// hermiteInterp evaluates a cubic Hermite spline at xi given interval [xk, xk1],
// function values [yk, yk1], and derivatives [dk, dk1].
func hermiteInterp(xk, xk1, yk, yk1, dk, dk1, xi float64) float64 {
	h := xk1 - xk
	t := (xi - xk) / h
	t2 := t * t
	t3 := t2 * t

	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	return h00*yk + h10*h*dk + h01*yk1 + h11*h*dk1
}

// Lerp performs linear interpolation between two points.
// x[0], y[0] is the first point, x[1], y[1] is the second point.
// Returns nil if interpolation is not possible.
func Lerp(x, y [2]float64, xi float64) *float64 {
	if x[1] <= x[0] {
		return nil
	}

	t := (xi - x[0]) / (x[1] - x[0])
	result := t*(y[1]-y[0]) + y[0]
	return &result
}

// FritschCarlson performs Fritsch-Carlson monotonic spline interpolation.
// Requires exactly 3 points. Returns nil if interpolation is not possible.
func FritschCarlson(x, y []float64, xi float64) *float64 {
	n := len(x)
	if n != 3 || xi < x[0] || xi > x[n-1] {
		return nil
	}

	k := 0
	for i := range 2 {
		if xi >= x[i] && xi <= x[i+1] {
			k = i
			break
		}
	}

	d0 := (y[1] - y[0]) / (x[1] - x[0])
	d1 := (y[2] - y[1]) / (x[2] - x[1])

	m := [3]float64{d0, 0, d1}

	if d0*d1 <= 0 {
		m[1] = 0
	} else {
		h0 := x[1] - x[0]
		h1 := x[2] - x[1]
		w1 := 2*h1 + h0
		w2 := 2*h0 + h1
		m[1] = (w1 + w2) / (w1/d0 + w2/d1)
	}

	result := hermiteInterp(x[k], x[k+1], y[k], y[k+1], m[k], m[k+1], xi)
	return &result
}

// PCHIP performs monotone piecewise cubic Hermite interpolation over n>=3
// points with strictly increasing x, evaluating at xi. Generalized from a
// fixed-4-point special case to any n>=3, since the round table (spec
// §4.G) only requires 3 candidates for this round.
func PCHIP(x, y []float64, xi float64) *float64 {
	n := len(x)
	if n < 3 || len(y) != n {
		return nil
	}
	for i := 0; i < n-1; i++ {
		if x[i+1] <= x[i] {
			return nil
		}
	}
	if xi < x[0] || xi > x[n-1] {
		return nil
	}

	delta := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		delta[i] = (y[i+1] - y[i]) / (x[i+1] - x[i])
	}

	d := make([]float64, n)
	d[0] = delta[0]
	d[n-1] = delta[n-2]
	for i := 1; i < n-1; i++ {
		if delta[i-1]*delta[i] <= 0 {
			d[i] = 0
			continue
		}
		hPrev := x[i] - x[i-1]
		hNext := x[i+1] - x[i]
		w1 := 2*hNext + hPrev
		w2 := 2*hPrev + hNext
		d[i] = (w1 + w2) / (w1/delta[i-1] + w2/delta[i])
	}

	for i := 0; i < n-1; i++ {
		if delta[i] == 0 {
			d[i] = 0
			d[i+1] = 0
			continue
		}
		alpha := d[i] / delta[i]
		beta := d[i+1] / delta[i]
		tau := alpha*alpha + beta*beta
		if tau > maxTau2 {
			scale := 3.0 / math.Sqrt(tau)
			d[i] = scale * alpha * delta[i]
			d[i+1] = scale * beta * delta[i]
		}
	}

	k := 0
	for i := 0; i < n-1; i++ {
		if xi >= x[i] && xi <= x[i+1] {
			k = i
			break
		}
	}

	result := hermiteInterp(x[k], x[k+1], y[k], y[k+1], d[k], d[k+1], xi)
	return &result
}

// Akima performs Akima spline interpolation.
// Requires at least 5 points. Returns nil if interpolation is not possible.
func Akima(x, y []float64, xi float64) *float64 {
	n := len(x)
	if n < 5 || len(y) != n {
		return nil
	}

	for i := 0; i < n-1; i++ {
		if x[i+1] <= x[i] {
			return nil
		}
	}

	if xi < x[0] || xi > x[n-1] {
		return nil
	}

	k := 0
	for i := n - 2; i >= 0; i-- {
		if xi >= x[i] {
			k = i
			break
		}
	}

	m := make([]float64, n+1)
	for i := 0; i < n-1; i++ {
		m[i+1] = (y[i+1] - y[i]) / (x[i+1] - x[i])
	}

	m[0] = 2*m[1] - m[2]
	m[n] = 2*m[n-1] - m[n-2]

	tan := make([]float64, n)
	for i := 0; i < n-1; i++ {
		w1 := math.Abs(m[i+2] - m[i+1])
		w2 := math.Abs(m[i] - m[i+1])

		if w1+w2 < 1e-10 {
			tan[i] = stat.Mean([]float64{m[i], m[i+1]}, nil)
		} else {
			tan[i] = (w1*m[i] + w2*m[i+1]) / (w1 + w2)
		}
	}
	tan[n-1] = m[n-1]

	result := hermiteInterp(x[k], x[k+1], y[k], y[k+1], tan[k], tan[k+1], xi)
	return &result
}

// InterpolateCRF picks the interpolation method for the given round (spec
// §4.G round table) and evaluates it at target, returning the raw
// (unsnapped) CRF. Grid snapping and collision resolution happen in
// NextCRF. Returns nil when the round's point-count requirement isn't met
// or round is 1, 2, or 7 (binary-only rounds).
func InterpolateCRF(candidates []Candidate, target float64, round int) *float64 {
	if round <= 2 || round >= MaxRounds {
		return nil
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Score < sorted[j].Score
	})

	n := len(sorted)
	x := make([]float64, n)
	y := make([]float64, n)
	for i, c := range sorted {
		x[i] = c.Score
		y[i] = c.CRF
	}

	switch round {
	case 3:
		if n >= 2 {
			return Lerp([2]float64{x[0], x[1]}, [2]float64{y[0], y[1]}, target)
		}
	case 4:
		if n >= 3 {
			return FritschCarlson(x[:3], y[:3], target)
		}
	case 5:
		if n >= 3 {
			return PCHIP(x, y, target)
		}
	case 6:
		if n >= 5 {
			return Akima(x, y, target)
		}
	}
	return nil
}
