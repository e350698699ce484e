package csvm

import (
	"context"
	"math"

	"github.com/samcharles93/plssvm/internal/logger"
)

// LinearOperator computes out = A·d for a symmetric positive definite A.
type LinearOperator[T Real] func(d, out []T) error

// CGResult is the outcome of a conjugate gradient solve.
type CGResult[T Real] struct {
	X          []T
	Iterations int
	// Residual is ‖b - A·x‖ as tracked by the solver.
	Residual float64
}

// residualRefresh is the iteration interval at which the residual is recomputed
// from scratch to shed accumulated rounding error.
const residualRefresh = 50

func dot[T Real](a, b []T) T {
	var s T
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// SolveCG solves A·x = b with the conjugate gradient method starting at x = 0.
// It stops once ‖r‖ <= eps·‖b‖ or after imax iterations, whichever comes first;
// reaching imax is not an error. imax == 0 returns the zero vector.
func SolveCG[T Real](ctx context.Context, apply LinearOperator[T], b []T, imax int, eps T) (CGResult[T], error) {
	log := logger.FromContext(ctx)
	n := len(b)
	x := make([]T, n)
	res := CGResult[T]{X: x}
	if imax <= 0 || n == 0 {
		res.Residual = math.Sqrt(float64(dot(b, b)))
		return res, nil
	}

	r := make([]T, n)
	copy(r, b)
	d := make([]T, n)
	copy(d, r)
	ad := make([]T, n)

	delta := dot(r, r)
	delta0 := delta
	target := eps * eps * delta0

	it := 0
	for ; it < imax; it++ {
		if delta <= target {
			break
		}
		if err := apply(d, ad); err != nil {
			return res, err
		}
		dAd := dot(d, ad)
		if dAd == 0 {
			break
		}
		alpha := delta / dAd
		for i := range x {
			x[i] += alpha * d[i]
		}

		if (it+1)%residualRefresh == 0 {
			if err := apply(x, ad); err != nil {
				return res, err
			}
			for i := range r {
				r[i] = b[i] - ad[i]
			}
		} else {
			for i := range r {
				r[i] -= alpha * ad[i]
			}
		}

		deltaOld := delta
		delta = dot(r, r)
		beta := delta / deltaOld
		for i := range d {
			d[i] = r[i] + beta*d[i]
		}
		log.Debug("cg iteration", "iteration", it+1, "residual", math.Sqrt(float64(delta)), "target", math.Sqrt(float64(target)))
	}

	res.Iterations = it
	res.Residual = math.Sqrt(float64(delta))
	return res, nil
}
