package backend

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/samcharles93/plssvm/internal/backend/sycl"
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/logger"
	"github.com/samcharles93/plssvm/internal/perf"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := map[string]Type{
		"":          Automatic,
		"auto":      Automatic,
		"Automatic": Automatic,
		"openmp":    OpenMP,
		" CUDA ":    CUDA,
		"hip":       HIP,
		"OpenCL":    OpenCL,
		"sycl":      SYCL,
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil || got != want {
			t.Fatalf("Normalize(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := Normalize("metal"); !errors.Is(err, svmerr.ErrUnsupportedBackend) {
		t.Fatalf("unknown backend must fail, got %v", err)
	}
}

func TestNormalizeTarget(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Target{"": TargetAutomatic, "cpu": CPU, "GPU_NVIDIA": GPUNvidia, "gpu_amd": GPUAMD, "gpu_intel": GPUIntel} {
		got, err := NormalizeTarget(in)
		if err != nil || got != want {
			t.Fatalf("NormalizeTarget(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := NormalizeTarget("fpga"); !errors.Is(err, svmerr.ErrUnsupportedBackend) {
		t.Fatalf("unknown target must fail, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	b, target, err := Resolve(OpenMP, TargetAutomatic)
	if err != nil || b != OpenMP || target != CPU {
		t.Fatalf("Resolve(openmp) = %s %s %v", b, target, err)
	}

	_, _, err = Resolve(OpenMP, GPUNvidia)
	if !errors.Is(err, svmerr.ErrUnsupportedBackend) || !strings.Contains(err.Error(), "Invalid target platform 'gpu_nvidia' for the OpenMP backend!") {
		t.Fatalf("openmp on a gpu must fail, got %v", err)
	}

	_, _, err = Resolve(SYCL, TargetAutomatic)
	if !errors.Is(err, svmerr.ErrUnsupportedBackend) || !strings.Contains(err.Error(), "No SYCL backend available!") {
		t.Fatalf("sycl must be unavailable, got %v", err)
	}

	b, _, err = Resolve(Automatic, CPU)
	if err != nil {
		t.Fatalf("automatic cpu: %v", err)
	}
	if !supports(b, CPU) || !Has(b) {
		t.Fatalf("automatic selection picked %s for cpu", b)
	}

	b, _, err = Resolve("", "")
	if err != nil || !Has(b) {
		t.Fatalf("automatic selection = %s, %v", b, err)
	}
}

func TestUnavailableBackendMessages(t *testing.T) {
	t.Parallel()
	for b, msg := range map[Type]string{
		CUDA:   "No CUDA backend available!",
		HIP:    "No HIP backend available!",
		OpenCL: "No OpenCL backend available!",
	} {
		if Has(b) {
			continue
		}
		_, _, err := Resolve(b, TargetAutomatic)
		if !errors.Is(err, svmerr.ErrUnsupportedBackend) || !strings.Contains(err.Error(), msg) {
			t.Fatalf("%s: got %v, want %q", b, err, msg)
		}
	}
}

func TestAvailable(t *testing.T) {
	t.Parallel()
	avail := Available()
	if !slices.Contains(avail, OpenMP) {
		t.Fatalf("openmp must always be available, got %v", avail)
	}
	if slices.Contains(avail, SYCL) {
		t.Fatalf("sycl must never be available")
	}
	if !strings.Contains(AvailableString(), "openmp") {
		t.Fatalf("AvailableString = %q", AvailableString())
	}
	if !slices.Contains(AvailableTargets(), CPU) {
		t.Fatalf("cpu target must be available, got %v", AvailableTargets())
	}
}

func TestNewKernelBackendSYCL(t *testing.T) {
	t.Parallel()
	// Resolve rejects SYCL before the implementation is consulted.
	_, err := NewKernelBackend[float64](context.Background(), Options{Backend: SYCL, SYCLImplementation: sycl.DPCPP})
	if !errors.Is(err, svmerr.ErrUnsupportedBackend) {
		t.Fatalf("sycl backend must fail, got %v", err)
	}
}

func TestNewOpenMPLearns(t *testing.T) {
	t.Parallel()
	tracker := perf.New()
	ctx := perf.WithContext(logger.WithContext(context.Background(), logger.Discard()), tracker)

	data := [][]float64{{2, 2}, {3, 2.5}, {2.5, 3}, {-2, -2}, {-3, -2.5}, {-2.5, -3}}
	labels := []float64{1, 1, 1, -1, -1, -1}
	svm, err := New(ctx, Options{Backend: OpenMP, Devices: 2, Workers: 2}, csvm.DefaultParameter(), data, labels)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer svm.Close()

	if got, ok := tracker.Lookup(perf.CategoryBackend, "backend"); !ok || got != "openmp" {
		t.Fatalf("backend entry = %v, %v", got, ok)
	}
	if got, ok := tracker.Lookup(perf.CategoryBackend, "num_devices"); !ok || got != 2 {
		t.Fatalf("num_devices entry = %v, %v", got, ok)
	}

	if err := svm.Learn(ctx, csvm.LearnOptions{Epsilon: 1e-8}); err != nil {
		t.Fatalf("learn: %v", err)
	}
	acc, err := svm.Accuracy()
	if err != nil || acc != 1 {
		t.Fatalf("accuracy = %g, %v", acc, err)
	}

	m, err := svm.Model()
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	pred, err := NewFromModel(ctx, Options{Backend: OpenMP}, m)
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	defer pred.Close()
	got, err := pred.PredictLabels([][]float64{{4, 4}, {-4, -4}})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if got[0] != 1 || got[1] != -1 {
		t.Fatalf("labels = %v", got)
	}
}

func TestNewRejectsBadData(t *testing.T) {
	t.Parallel()
	ctx := logger.WithContext(context.Background(), logger.Discard())
	_, err := New(ctx, Options{Backend: OpenMP}, csvm.DefaultParameter(), [][]float64{{1}, {2, 3}}, []float64{1, -1})
	if !errors.Is(err, svmerr.ErrInvalidData) {
		t.Fatalf("ragged data must fail, got %v", err)
	}
}
