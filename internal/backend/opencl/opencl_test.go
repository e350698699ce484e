//go:build opencl

package opencl

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

func TestMatchVendor(t *testing.T) {
	t.Parallel()
	if !matchVendor(nil, "anything") {
		t.Fatalf("empty filter must match")
	}
	if !matchVendor([]string{"nvidia"}, "NVIDIA Corporation") {
		t.Fatalf("match must ignore case")
	}
	if matchVendor([]string{"intel"}, "Advanced Micro Devices, Inc.", "gfx1030") {
		t.Fatalf("unexpected match")
	}
}

func TestNewRequiresKernelSource(t *testing.T) {
	if _, err := New[float32](Options{}); !errors.Is(err, svmerr.ErrInvalidParameter) {
		t.Fatalf("missing kernel source must fail, got %v", err)
	}
}

func TestBuildFailureReportsLog(t *testing.T) {
	devs, err := Devices(AllDevices)
	if err != nil || len(devs) == 0 {
		t.Skipf("no opencl device available: %v", err)
	}
	src := filepath.Join(t.TempDir(), "broken.cl")
	if err := os.WriteFile(src, []byte("__kernel void broken( {"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New[float32](Options{Devices: 1, KernelSource: src}); !errors.Is(err, svmerr.ErrBackend) {
		t.Fatalf("broken source must fail to build, got %v", err)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	devs, err := Devices(AllDevices)
	if err != nil || len(devs) == 0 {
		t.Skipf("no opencl device available: %v", err)
	}
	src := filepath.Join(t.TempDir(), "empty.cl")
	if err := os.WriteFile(src, []byte("__kernel void noop(__global float* x) { }\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := New[float32](Options{Devices: 1, KernelSource: src})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer b.Close()
	mem := b.Memory()
	h, err := mem.Allocate(0, 8)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := mem.CopyToDevice(0, h, 0, []byte("abcdefgh")); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := mem.Memset(0, h, 'x', 2, 2); err != nil {
		t.Fatalf("memset: %v", err)
	}
	out := make([]byte, 8)
	if err := mem.CopyToHost(0, h, 0, out); err != nil {
		t.Fatalf("copy back: %v", err)
	}
	if string(out) != "abxxefgh" {
		t.Fatalf("got %q", out)
	}
	if err := mem.Free(0, h); err != nil {
		t.Fatalf("free: %v", err)
	}
}
