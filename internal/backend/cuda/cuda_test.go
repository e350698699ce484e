//go:build cuda

package cuda

import (
	"errors"
	"os"
	"testing"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

func TestNewRequiresKernelSource(t *testing.T) {
	if _, err := New[float64](Options{}); !errors.Is(err, svmerr.ErrInvalidParameter) {
		t.Fatalf("missing kernel source must fail, got %v", err)
	}
}

// TestNewWithKernels runs when PLSSVM_CUDA_PTX points at a compiled kernel module.
func TestNewWithKernels(t *testing.T) {
	ptx := os.Getenv("PLSSVM_CUDA_PTX")
	if ptx == "" {
		t.Skip("PLSSVM_CUDA_PTX not set")
	}
	names, err := DeviceNames()
	if err != nil || len(names) == 0 {
		t.Skipf("no cuda device available: %v", err)
	}
	b, err := New[float64](Options{Devices: 1, KernelSource: ptx})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer b.Close()
	if b.DeviceCount() != 1 || b.DeviceNames()[0] != names[0] {
		t.Fatalf("unexpected devices %v", b.DeviceNames())
	}
	if err := b.DeviceSynchronize(0); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
}
