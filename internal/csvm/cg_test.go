package csvm

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/samcharles93/plssvm/internal/logger"
)

func denseOperator(a *mat.SymDense) LinearOperator[float64] {
	return func(d, out []float64) error {
		var res mat.VecDense
		res.MulVec(a, mat.NewVecDense(len(d), d))
		copy(out, res.RawVector().Data)
		return nil
	}
}

func spd4() *mat.SymDense {
	return mat.NewSymDense(4, []float64{
		4, 1, 0, 0.5,
		1, 3, 0.2, 0,
		0, 0.2, 5, 1,
		0.5, 0, 1, 2,
	})
}

func TestSolveCGDense(t *testing.T) {
	t.Parallel()
	ctx := logger.WithContext(context.Background(), logger.Discard())
	a := spd4()
	b := []float64{1, -2, 3, 0.5}
	eps := 1e-10

	res, err := SolveCG(ctx, denseOperator(a), b, 100, eps)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Iterations == 0 || res.Iterations > 100 {
		t.Fatalf("unexpected iteration count %d", res.Iterations)
	}

	var ax mat.VecDense
	ax.MulVec(a, mat.NewVecDense(4, res.X))
	ax.SubVec(&ax, mat.NewVecDense(4, b))
	if got, bound := mat.Norm(&ax, 2), eps*mat.Norm(mat.NewVecDense(4, b), 2); got > bound*10 {
		t.Fatalf("‖Ax-b‖ = %g exceeds %g", got, bound)
	}

	var want mat.VecDense
	if err := want.SolveVec(a, mat.NewVecDense(4, b)); err != nil {
		t.Fatalf("reference solve: %v", err)
	}
	for i, x := range res.X {
		if math.Abs(x-want.AtVec(i)) > 1e-8 {
			t.Fatalf("x[%d] = %g, want %g", i, x, want.AtVec(i))
		}
	}
}

func TestSolveCGZeroIterations(t *testing.T) {
	t.Parallel()
	ctx := logger.WithContext(context.Background(), logger.Discard())
	called := false
	apply := func(d, out []float64) error {
		called = true
		return nil
	}
	res, err := SolveCG(ctx, apply, []float64{1, 2, 3}, 0, 1e-3)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if called {
		t.Fatalf("operator must not be applied when imax is 0")
	}
	for i, x := range res.X {
		if x != 0 {
			t.Fatalf("x[%d] = %g, want 0", i, x)
		}
	}
	if res.Iterations != 0 {
		t.Fatalf("iterations = %d", res.Iterations)
	}
}

func TestSolveCGIterationCap(t *testing.T) {
	t.Parallel()
	ctx := logger.WithContext(context.Background(), logger.Discard())
	res, err := SolveCG(ctx, denseOperator(spd4()), []float64{1, 1, 1, 1}, 1, 1e-12)
	if err != nil {
		t.Fatalf("reaching the cap must not fail: %v", err)
	}
	if res.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", res.Iterations)
	}
}

func TestSolveCGZeroRHS(t *testing.T) {
	t.Parallel()
	ctx := logger.WithContext(context.Background(), logger.Discard())
	res, err := SolveCG(ctx, denseOperator(spd4()), make([]float64, 4), 10, 1e-3)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Iterations != 0 || res.Residual != 0 {
		t.Fatalf("zero right-hand side must return immediately: %+v", res)
	}
}

func TestSolveCGRefreshesResidual(t *testing.T) {
	t.Parallel()
	ctx := logger.WithContext(context.Background(), logger.Discard())
	const n = 200
	a := mat.NewSymDense(n, nil)
	b := make([]float64, n)
	for i := range n {
		a.SetSym(i, i, 2)
		if i+1 < n {
			a.SetSym(i, i+1, -1)
		}
		b[i] = math.Sin(float64(i + 1))
	}
	calls := 0
	op := denseOperator(a)
	apply := func(d, out []float64) error {
		calls++
		return op(d, out)
	}
	eps := 1e-12

	res, err := SolveCG(ctx, apply, b, 2000, eps)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.Iterations <= 50 {
		t.Fatalf("expected more than 50 iterations, got %d", res.Iterations)
	}
	if want := res.Iterations + res.Iterations/50; calls != want {
		t.Fatalf("operator applied %d times, want %d", calls, want)
	}

	var ax mat.VecDense
	ax.MulVec(a, mat.NewVecDense(n, res.X))
	ax.SubVec(&ax, mat.NewVecDense(n, b))
	if got, bound := mat.Norm(&ax, 2), eps*mat.Norm(mat.NewVecDense(n, b), 2); got > bound*10 {
		t.Fatalf("‖Ax-b‖ = %g exceeds %g", got, bound)
	}
}
