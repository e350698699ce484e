// Package device provides a move-only typed handle to device memory. The
// backend supplies the native operations through the Memory interface.
package device

import (
	"unsafe"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

// Real is the element type of device buffers.
type Real interface {
	~float32 | ~float64
}

// Handle is an opaque native allocation handle. Zero is the null handle.
type Handle uintptr

// Memory is the backend strategy behind Ptr. Offsets and lengths are in bytes;
// queue selects the device the allocation lives on.
type Memory interface {
	Allocate(queue int, bytes int) (Handle, error)
	Free(queue int, h Handle) error
	Memset(queue int, h Handle, pattern byte, offset, n int) error
	CopyToDevice(queue int, h Handle, offset int, src []byte) error
	CopyToHost(queue int, h Handle, offset int, dst []byte) error
}

// noCopy is flagged by go vet's copylocks check when a Ptr is copied by value.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Ptr exclusively owns one device allocation of Size elements of T.
type Ptr[T Real] struct {
	_ noCopy

	mem     Memory
	queue   int
	handle  Handle
	size    int
	extents [2]int
}

// Alloc allocates size elements on queue.
func Alloc[T Real](mem Memory, queue, size int) (*Ptr[T], error) {
	return Alloc2D[T](mem, queue, size, 1)
}

// Alloc2D allocates rows*cols elements on queue and records the extents.
func Alloc2D[T Real](mem Memory, queue, rows, cols int) (*Ptr[T], error) {
	if rows < 0 || cols < 0 {
		return nil, svmerr.DevicePtr("alloc", "negative extents (%d, %d)", rows, cols)
	}
	p := &Ptr[T]{mem: mem, queue: queue, size: rows * cols, extents: [2]int{rows, cols}}
	if p.size == 0 {
		return p, nil
	}
	h, err := mem.Allocate(queue, p.size*elemSize[T]())
	if err != nil {
		return nil, err
	}
	p.handle = h
	return p, nil
}

func elemSize[T Real]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// Size is the number of elements.
func (p *Ptr[T]) Size() int { return p.size }

// Extents returns the 2D shape; 1D buffers report (size, 1).
func (p *Ptr[T]) Extents() [2]int { return p.extents }

// Queue is the queue (device index) the allocation belongs to.
func (p *Ptr[T]) Queue() int { return p.queue }

// Handle exposes the native handle for kernel launches.
func (p *Ptr[T]) Handle() Handle { return p.handle }

// Empty reports whether p holds no allocation.
func (p *Ptr[T]) Empty() bool { return p.handle == 0 }

// Move transfers ownership to a new Ptr and resets p to the empty state.
func (p *Ptr[T]) Move() *Ptr[T] {
	out := &Ptr[T]{mem: p.mem, queue: p.queue, handle: p.handle, size: p.size, extents: p.extents}
	p.handle = 0
	p.size = 0
	p.queue = 0
	p.extents = [2]int{}
	return out
}

// Swap exchanges the allocations owned by p and o.
func (p *Ptr[T]) Swap(o *Ptr[T]) {
	p.mem, o.mem = o.mem, p.mem
	p.queue, o.queue = o.queue, p.queue
	p.handle, o.handle = o.handle, p.handle
	p.size, o.size = o.size, p.size
	p.extents, o.extents = o.extents, p.extents
}

// Free releases the allocation. Calling it again is a no-op.
func (p *Ptr[T]) Free() error {
	if p == nil || p.handle == 0 {
		return nil
	}
	err := p.mem.Free(p.queue, p.handle)
	p.handle = 0
	p.size = 0
	p.extents = [2]int{}
	return err
}

func (p *Ptr[T]) span(op string, pos, count int) (int, error) {
	if p.handle == 0 {
		return 0, svmerr.DevicePtr(op, "invalid data pointer")
	}
	if pos < 0 || pos > p.size {
		return 0, svmerr.DevicePtr(op, "position %d out of range for buffer of size %d", pos, p.size)
	}
	if count < 0 {
		return 0, svmerr.DevicePtr(op, "negative count %d", count)
	}
	return min(count, p.size-pos), nil
}

// MemsetAll sets every byte of the buffer to pattern.
func (p *Ptr[T]) MemsetAll(pattern byte) error {
	return p.Memset(pattern, 0, p.size)
}

// Memset sets the bytes of elements [pos, pos+count) to pattern. count is
// clipped to the end of the buffer.
func (p *Ptr[T]) Memset(pattern byte, pos, count int) error {
	rcount, err := p.span("memset", pos, count)
	if err != nil {
		return err
	}
	if rcount == 0 {
		return nil
	}
	sz := elemSize[T]()
	return p.mem.Memset(p.queue, p.handle, pattern, pos*sz, rcount*sz)
}

// Fill writes value to elements [pos, pos+count).
func (p *Ptr[T]) Fill(value T, pos, count int) error {
	rcount, err := p.span("fill", pos, count)
	if err != nil {
		return err
	}
	if rcount == 0 {
		return nil
	}
	buf := make([]T, rcount)
	for i := range buf {
		buf[i] = value
	}
	return p.mem.CopyToDevice(p.queue, p.handle, pos*elemSize[T](), asBytes(buf))
}

// CopyToDevice copies the whole buffer from host.
func (p *Ptr[T]) CopyToDevice(host []T) error {
	return p.CopyToDeviceRange(host, 0, p.size)
}

// CopyToDeviceRange copies min(count, Size()-pos) elements from host to
// elements starting at pos.
func (p *Ptr[T]) CopyToDeviceRange(host []T, pos, count int) error {
	rcount, err := p.span("copy_to_device", pos, count)
	if err != nil {
		return err
	}
	if len(host) < rcount {
		return svmerr.DevicePtr("copy_to_device", "too few data to perform copy (needed: %d, provided: %d)", rcount, len(host))
	}
	if rcount == 0 {
		return nil
	}
	return p.mem.CopyToDevice(p.queue, p.handle, pos*elemSize[T](), asBytes(host[:rcount]))
}

// CopyToHost copies the whole buffer into host.
func (p *Ptr[T]) CopyToHost(host []T) error {
	return p.CopyToHostRange(host, 0, p.size)
}

// CopyToHostRange copies min(count, Size()-pos) elements starting at pos into host.
func (p *Ptr[T]) CopyToHostRange(host []T, pos, count int) error {
	rcount, err := p.span("copy_to_host", pos, count)
	if err != nil {
		return err
	}
	if len(host) < rcount {
		return svmerr.DevicePtr("copy_to_host", "buffer too small to perform copy (needed: %d, provided: %d)", rcount, len(host))
	}
	if rcount == 0 {
		return nil
	}
	return p.mem.CopyToHost(p.queue, p.handle, pos*elemSize[T](), asBytes(host[:rcount]))
}

// asBytes reinterprets s as its backing bytes without copying.
func asBytes[T Real](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*elemSize[T]())
}

// fromBytes reinterprets b as a []T. len(b) must be a multiple of the element size
// and b must be suitably aligned.
func fromBytes[T Real](b []byte) []T {
	sz := elemSize[T]()
	if len(b) < sz {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/sz)
}

func asBytes64(s []uint64) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*8)
}
