//go:build hip

package hip

import (
	"errors"
	"os"
	"testing"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

func TestNewRequiresKernelSource(t *testing.T) {
	if _, err := New[float32](Options{}); !errors.Is(err, svmerr.ErrInvalidParameter) {
		t.Fatalf("missing kernel source must fail, got %v", err)
	}
}

func TestDeviceMemoryRoundTrip(t *testing.T) {
	obj := os.Getenv("PLSSVM_HIP_CODE_OBJECT")
	if obj == "" {
		t.Skip("PLSSVM_HIP_CODE_OBJECT not set")
	}
	names, err := DeviceNames()
	if err != nil || len(names) == 0 {
		t.Skipf("no hip device available: %v", err)
	}
	b, err := New[float32](Options{Devices: 1, KernelSource: obj})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer b.Close()
	mem := b.Memory()
	h, err := mem.Allocate(0, 16)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	in := []byte("0123456789abcdef")
	if err := mem.CopyToDevice(0, h, 0, in); err != nil {
		t.Fatalf("copy: %v", err)
	}
	out := make([]byte, 8)
	if err := mem.CopyToHost(0, h, 8, out); err != nil {
		t.Fatalf("copy back: %v", err)
	}
	if string(out) != "89abcdef" {
		t.Fatalf("got %q", out)
	}
	if err := mem.Free(0, h); err != nil {
		t.Fatalf("free: %v", err)
	}
}
