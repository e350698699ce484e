package svmerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	t.Parallel()
	err := DevicePtr("copy", "too few data (needed: %d, provided: %d)", 4, 2)
	if !errors.Is(err, ErrDevicePtr) {
		t.Fatalf("expected device ptr kind, got %v", err)
	}
	if errors.Is(err, ErrUnsupportedBackend) {
		t.Fatalf("device ptr error must not match unsupported backend")
	}
	wrapped := fmt.Errorf("learn: %w", err)
	if !errors.Is(wrapped, ErrDevicePtr) {
		t.Fatalf("wrapped error lost its kind: %v", wrapped)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()
	err := InvalidParameter("cost", "must be positive, got %g", -1.0)
	if got := err.Error(); got != "cost: must be positive, got -1" {
		t.Fatalf("unexpected message: %q", got)
	}
	cause := errors.New("boom")
	werr := Wrap(KindBackend, "cudaMalloc", cause, "allocation failed")
	if !strings.Contains(werr.Error(), "boom") {
		t.Fatalf("missing cause: %v", werr)
	}
	if !errors.Is(werr, cause) {
		t.Fatalf("cause not reachable through Unwrap")
	}
	if Wrap(KindBackend, "x", nil, "ignored") != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("outer: %w", UnsupportedBackend("No %s backend available!", "CUDA"))
	loc := Location(err)
	if !strings.HasPrefix(loc, "errors_test.go:") {
		t.Fatalf("unexpected location %q", loc)
	}
	if Location(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no location")
	}
}

func TestBackendError(t *testing.T) {
	t.Parallel()
	err := Backend("cuda", "cuLaunchKernel", 719, "CUDA_ERROR_LAUNCH_FAILED")
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected backend kind")
	}
	want := "cuLaunchKernel: cuda error 719 (CUDA_ERROR_LAUNCH_FAILED)"
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
}
