package device

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

func TestCopyRoundTrip(t *testing.T) {
	t.Parallel()
	mem := NewHostMemory(1)
	p, err := Alloc[float64](mem, 0, 4)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer p.Free()

	src := []float64{1, 2, 3, 4, 5}
	if err := p.CopyToDevice(src); err != nil {
		t.Fatalf("copy to device: %v", err)
	}
	dst := make([]float64, 4)
	if err := p.CopyToHost(dst); err != nil {
		t.Fatalf("copy to host: %v", err)
	}
	if diff := cmp.Diff(src[:4], dst); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCopyShortHostBuffer(t *testing.T) {
	t.Parallel()
	mem := NewHostMemory(1)
	p, err := Alloc[float32](mem, 0, 8)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer p.Free()

	err = p.CopyToDevice(make([]float32, 5))
	if !errors.Is(err, svmerr.ErrDevicePtr) {
		t.Fatalf("expected device ptr error, got %v", err)
	}
	if !strings.Contains(err.Error(), "needed: 8, provided: 5") {
		t.Fatalf("message must cite both sizes: %v", err)
	}

	err = p.CopyToHost(make([]float32, 2))
	if !errors.Is(err, svmerr.ErrDevicePtr) || !strings.Contains(err.Error(), "needed: 8, provided: 2") {
		t.Fatalf("unexpected copy to host error: %v", err)
	}
}

func TestCopyRangeClips(t *testing.T) {
	t.Parallel()
	mem := NewHostMemory(1)
	p, err := Alloc[float64](mem, 0, 6)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer p.Free()
	if err := p.MemsetAll(0); err != nil {
		t.Fatalf("memset: %v", err)
	}
	// count exceeds the remaining size, only two elements are copied
	if err := p.CopyToDeviceRange([]float64{7, 8}, 4, 10); err != nil {
		t.Fatalf("copy range: %v", err)
	}
	if err := p.Fill(1.5, 0, 2); err != nil {
		t.Fatalf("fill: %v", err)
	}
	got := make([]float64, 6)
	if err := p.CopyToHost(got); err != nil {
		t.Fatalf("copy to host: %v", err)
	}
	want := []float64{1.5, 1.5, 0, 0, 7, 8}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if err := p.CopyToDeviceRange(nil, 7, 1); !errors.Is(err, svmerr.ErrDevicePtr) {
		t.Fatalf("position past end must fail, got %v", err)
	}
}

func TestNullPointer(t *testing.T) {
	t.Parallel()
	mem := NewHostMemory(1)
	p, err := Alloc[float64](mem, 0, 0)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if !p.Empty() {
		t.Fatalf("zero sized allocation must be empty")
	}
	if err := p.MemsetAll(0); !errors.Is(err, svmerr.ErrDevicePtr) {
		t.Fatalf("memset on null pointer must fail, got %v", err)
	}
}

func TestMoveSwapFree(t *testing.T) {
	t.Parallel()
	mem := NewHostMemory(2)
	a, err := Alloc[float32](mem, 0, 3)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	b, err := Alloc2D[float32](mem, 1, 2, 5)
	if err != nil {
		t.Fatalf("alloc2d: %v", err)
	}
	if b.Extents() != [2]int{2, 5} || b.Size() != 10 {
		t.Fatalf("unexpected extents %v size %d", b.Extents(), b.Size())
	}

	moved := a.Move()
	if !a.Empty() || a.Size() != 0 {
		t.Fatalf("source must be reset after move")
	}
	if moved.Size() != 3 || moved.Queue() != 0 {
		t.Fatalf("unexpected moved ptr: size %d queue %d", moved.Size(), moved.Queue())
	}

	moved.Swap(b)
	if moved.Size() != 10 || moved.Queue() != 1 || b.Size() != 3 || b.Queue() != 0 {
		t.Fatalf("swap did not exchange ownership")
	}

	if mem.Allocations() != 2 {
		t.Fatalf("allocations = %d, want 2", mem.Allocations())
	}
	for _, p := range []*Ptr[float32]{moved, b, a} {
		if err := p.Free(); err != nil {
			t.Fatalf("free: %v", err)
		}
		if err := p.Free(); err != nil {
			t.Fatalf("second free: %v", err)
		}
	}
	if mem.Allocations() != 0 {
		t.Fatalf("allocations leaked: %d", mem.Allocations())
	}
	if inUse, peak := mem.Stats(); inUse != 0 || peak != 13*4 {
		t.Fatalf("stats = %d/%d", inUse, peak)
	}
}

func TestHostMemoryQueueMismatch(t *testing.T) {
	t.Parallel()
	mem := NewHostMemory(2)
	p, err := Alloc[float64](mem, 1, 2)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer p.Free()
	if err := mem.CopyToDevice(0, p.Handle(), 0, make([]byte, 8)); !errors.Is(err, svmerr.ErrDevicePtr) {
		t.Fatalf("copy on wrong queue must fail, got %v", err)
	}
	if _, err := mem.Allocate(2, 8); err == nil {
		t.Fatalf("allocate on missing queue must fail")
	}
	view, err := HostSlice(mem, p)
	if err != nil {
		t.Fatalf("host slice: %v", err)
	}
	view[1] = 42
	got := make([]float64, 2)
	if err := p.CopyToHost(got); err != nil {
		t.Fatalf("copy to host: %v", err)
	}
	if got[1] != 42 {
		t.Fatalf("host slice must alias the allocation")
	}
}
