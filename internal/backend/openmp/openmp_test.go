package openmp

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/device"
	"github.com/samcharles93/plssvm/internal/svmerr"
	"github.com/samcharles93/plssvm/internal/tiling"
)

func TestStreamStickyError(t *testing.T) {
	t.Parallel()
	s := newStream(0)
	boom := errors.New("boom")
	ran := 0
	s.submit(func() error { ran++; return nil })
	s.submit(func() error { return boom })
	s.submit(func() error { ran++; return nil })
	if err := s.synchronize(); !errors.Is(err, boom) {
		t.Fatalf("synchronize = %v, want boom", err)
	}
	if ran != 1 {
		t.Fatalf("tasks after a failure must be skipped, ran %d", ran)
	}
	if err := s.close(); !errors.Is(err, boom) {
		t.Fatalf("close = %v, want boom", err)
	}
}

func TestStreamRecoversPanic(t *testing.T) {
	t.Parallel()
	s := newStream(0)
	s.submit(func() error { panic("index out of range") })
	err := s.close()
	if err == nil || !strings.Contains(err.Error(), "kernel panic") {
		t.Fatalf("close = %v, want kernel panic", err)
	}
}

func TestParallelCoversRange(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 7, 100, 1001} {
		seen := make([]int, n)
		parallel(n, 4, 16, func(begin, end int) {
			for i := begin; i < end; i++ {
				seen[i]++
			}
		})
		for i, c := range seen {
			if c != 1 {
				t.Fatalf("n=%d: item %d visited %d times", n, i, c)
			}
		}
	}
}

type fixture struct {
	b      *Backend[float64]
	tuning tiling.Config
	points [][]float64
	last   []float64
	args   csvm.KernelArgs[float64]
	buf    csvm.Buffers[float64]
}

func alloc(t *testing.T, b *Backend[float64], values []float64) *device.Ptr[float64] {
	t.Helper()
	p, err := device.Alloc[float64](b.Memory(), 0, len(values))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := p.CopyToDevice(values); err != nil {
		t.Fatalf("copy: %v", err)
	}
	t.Cleanup(func() { _ = p.Free() })
	return p
}

func newFixture(t *testing.T, kernel csvm.KernelParams[float64]) *fixture {
	t.Helper()
	tuning := tiling.Default()
	b, err := New[float64](Options{Workers: 3, Tuning: tuning})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	all := [][]float64{{1, 0.5}, {-1, 2}, {0.25, -0.75}, {3, 1}, {-2, -2}, {0.5, 0.5}}
	points := all[:len(all)-1]
	last := all[len(all)-1]
	n := len(points)
	boundary := tuning.BoundarySize()

	f := &fixture{b: b, tuning: tuning, points: points, last: last}
	f.args = csvm.KernelArgs[float64]{
		Kernel:      kernel,
		QACost:      kernel.Eval(last, last) + 1,
		InverseCost: 1,
		NumRows:     n,
		NumFeatures: 2,
		Boundary:    boundary,
		RowBegin:    0,
		RowEnd:      n,
		OwnsLast:    true,
	}
	f.buf.Data = alloc(t, b, csvm.TransformData(points, boundary, n))
	f.buf.DataLast = alloc(t, b, last)
	f.buf.Q = alloc(t, b, make([]float64, n+boundary))
	return f
}

func readBack(t *testing.T, p *device.Ptr[float64]) []float64 {
	t.Helper()
	out := make([]float64, p.Size())
	if err := p.CopyToHost(out); err != nil {
		t.Fatalf("copy to host: %v", err)
	}
	return out
}

func near(a, b float64) bool { return math.Abs(a-b) <= 1e-12*max(1, math.Abs(b)) }

func TestKernelsMatchReference(t *testing.T) {
	t.Parallel()
	for _, kernel := range []csvm.KernelParams[float64]{
		{Kernel: csvm.Linear},
		{Kernel: csvm.Polynomial, Degree: 3, Gamma: 0.5, Coef0: 1},
		{Kernel: csvm.RBF, Gamma: 0.25},
	} {
		f := newFixture(t, kernel)
		n := f.args.NumRows

		if err := f.b.RunQKernel(0, f.tuning.ForVector(n), &f.buf, f.args); err != nil {
			t.Fatalf("%s q: %v", kernel.Kernel, err)
		}
		q := readBack(t, f.buf.Q)
		for i, x := range f.points {
			if want := kernel.Eval(x, f.last); !near(q[i], want) {
				t.Fatalf("%s q[%d] = %g, want %g", kernel.Kernel, i, q[i], want)
			}
		}

		d := make([]float64, n+f.args.Boundary)
		for i := range n {
			d[i] = float64(i) - 1.5
		}
		f.buf.D = alloc(t, f.b, d)
		f.buf.R = alloc(t, f.b, make([]float64, n+f.args.Boundary))
		if err := f.b.RunSVMKernel(0, f.tuning.ForKernelMatrix(n, n), &f.buf, 2, f.args); err != nil {
			t.Fatalf("%s svm: %v", kernel.Kernel, err)
		}
		r := readBack(t, f.buf.R)
		for i := range n {
			var want float64
			for j := range n {
				a := kernel.Eval(f.points[i], f.points[j]) + f.args.QACost - q[i] - q[j]
				if i == j {
					a += f.args.InverseCost
				}
				want += a * d[j]
			}
			if !near(r[i], 2*want) {
				t.Fatalf("%s r[%d] = %g, want %g", kernel.Kernel, i, r[i], 2*want)
			}
		}

		alpha := make([]float64, n+f.args.Boundary)
		copy(alpha, []float64{0.5, -1, 0.25, 0.75, -0.125})
		alpha[n] = -0.375
		f.buf.Alpha = alloc(t, f.b, alpha)

		if kernel.Kernel == csvm.Linear {
			f.buf.W = alloc(t, f.b, make([]float64, 2))
			if err := f.b.RunWKernel(0, f.tuning.ForVector(2), &f.buf, f.args); err != nil {
				t.Fatalf("w: %v", err)
			}
			w := readBack(t, f.buf.W)
			for ft := range 2 {
				want := alpha[n] * f.last[ft]
				for i, x := range f.points {
					want += alpha[i] * x[ft]
				}
				if !near(w[ft], want) {
					t.Fatalf("w[%d] = %g, want %g", ft, w[ft], want)
				}
			}
			continue
		}

		probe := [][]float64{{0, 0}, {1, -1}, {2.5, 0.5}}
		args := f.args
		args.NumPredict = len(probe)
		f.buf.Points = alloc(t, f.b, csvm.TransformData(probe, f.args.Boundary, len(probe)))
		f.buf.Out = alloc(t, f.b, make([]float64, len(probe)+f.args.Boundary))
		if err := f.b.RunPredictKernel(0, f.tuning.ForPredict(n, len(probe)), &f.buf, args); err != nil {
			t.Fatalf("%s predict: %v", kernel.Kernel, err)
		}
		out := readBack(t, f.buf.Out)
		for p, z := range probe {
			want := alpha[n] * kernel.Eval(f.last, z)
			for i, x := range f.points {
				want += alpha[i] * kernel.Eval(x, z)
			}
			if !near(out[p], want) {
				t.Fatalf("%s out[%d] = %g, want %g", kernel.Kernel, p, out[p], want)
			}
		}
	}
}

func TestRunRejectsMissingBuffers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, csvm.KernelParams[float64]{Kernel: csvm.Linear})
	if err := f.b.RunSVMKernel(0, f.tuning.ForKernelMatrix(5, 5), &f.buf, 1, f.args); !errors.Is(err, svmerr.ErrBackend) {
		t.Fatalf("svm kernel without d and r must fail, got %v", err)
	}
	if err := f.b.RunQKernel(3, f.tuning.ForVector(5), &f.buf, f.args); !errors.Is(err, svmerr.ErrBackend) {
		t.Fatalf("invalid device must fail, got %v", err)
	}
	if err := f.b.DeviceSynchronize(-1); !errors.Is(err, svmerr.ErrBackend) {
		t.Fatalf("invalid device must fail, got %v", err)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()
	if _, err := New[float32](Options{Devices: -1, Tuning: tiling.Default()}); !errors.Is(err, svmerr.ErrInvalidParameter) {
		t.Fatalf("negative devices must fail, got %v", err)
	}
	bad := tiling.Default()
	bad.FeatureBlockSize = 3
	if _, err := New[float32](Options{Tuning: bad}); !errors.Is(err, svmerr.ErrInvalidParameter) {
		t.Fatalf("invalid tuning must fail, got %v", err)
	}
	b, err := New[float32](Options{Devices: 3, Tuning: tiling.Default()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer b.Close()
	if b.DeviceCount() != 3 || b.Name() != Name {
		t.Fatalf("unexpected backend %s with %d devices", b.Name(), b.DeviceCount())
	}
}
