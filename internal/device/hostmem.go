package device

import (
	"sync"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

type hostAlloc struct {
	queue int
	buf   []byte
}

// HostMemory implements Memory on host RAM for a fixed number of virtual
// devices. Allocations are backed by []uint64 so every element type is aligned.
type HostMemory struct {
	mu      sync.Mutex
	queues  int
	next    Handle
	allocs  map[Handle]*hostAlloc
	inUse   int64
	peakUse int64
}

// NewHostMemory creates a host memory strategy serving queues virtual devices.
func NewHostMemory(queues int) *HostMemory {
	return &HostMemory{
		queues: queues,
		allocs: make(map[Handle]*hostAlloc),
	}
}

func (m *HostMemory) lookup(op string, queue int, h Handle) (*hostAlloc, error) {
	if queue < 0 || queue >= m.queues {
		return nil, svmerr.DevicePtr(op, "invalid queue %d (have %d)", queue, m.queues)
	}
	a, ok := m.allocs[h]
	if !ok {
		return nil, svmerr.DevicePtr(op, "unknown handle %#x", uintptr(h))
	}
	if a.queue != queue {
		return nil, svmerr.DevicePtr(op, "handle %#x belongs to queue %d, not %d", uintptr(h), a.queue, queue)
	}
	return a, nil
}

func checkSpan(op string, a *hostAlloc, offset, n int) error {
	if offset < 0 || n < 0 || offset+n > len(a.buf) {
		return svmerr.DevicePtr(op, "byte range [%d, %d) outside allocation of %d bytes", offset, offset+n, len(a.buf))
	}
	return nil
}

func (m *HostMemory) Allocate(queue int, bytes int) (Handle, error) {
	if queue < 0 || queue >= m.queues {
		return 0, svmerr.DevicePtr("allocate", "invalid queue %d (have %d)", queue, m.queues)
	}
	if bytes <= 0 {
		return 0, svmerr.DevicePtr("allocate", "invalid allocation size %d", bytes)
	}
	words := make([]uint64, (bytes+7)/8)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	h := m.next
	m.allocs[h] = &hostAlloc{queue: queue, buf: asBytes64(words)[:bytes]}
	m.inUse += int64(bytes)
	m.peakUse = max(m.peakUse, m.inUse)
	return h, nil
}

func (m *HostMemory) Free(queue int, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.lookup("free", queue, h)
	if err != nil {
		return err
	}
	m.inUse -= int64(len(a.buf))
	delete(m.allocs, h)
	return nil
}

func (m *HostMemory) Memset(queue int, h Handle, pattern byte, offset, n int) error {
	m.mu.Lock()
	a, err := m.lookup("memset", queue, h)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if err := checkSpan("memset", a, offset, n); err != nil {
		return err
	}
	dst := a.buf[offset : offset+n]
	for i := range dst {
		dst[i] = pattern
	}
	return nil
}

func (m *HostMemory) CopyToDevice(queue int, h Handle, offset int, src []byte) error {
	m.mu.Lock()
	a, err := m.lookup("copy_to_device", queue, h)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if err := checkSpan("copy_to_device", a, offset, len(src)); err != nil {
		return err
	}
	copy(a.buf[offset:], src)
	return nil
}

func (m *HostMemory) CopyToHost(queue int, h Handle, offset int, dst []byte) error {
	m.mu.Lock()
	a, err := m.lookup("copy_to_host", queue, h)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if err := checkSpan("copy_to_host", a, offset, len(dst)); err != nil {
		return err
	}
	copy(dst, a.buf[offset:offset+len(dst)])
	return nil
}

// Stats reports the bytes currently allocated and the peak.
func (m *HostMemory) Stats() (inUse, peak int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse, m.peakUse
}

// Allocations is the number of live allocations.
func (m *HostMemory) Allocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.allocs)
}

// HostSlice returns the typed view of a host allocation so host kernels can
// operate on device buffers in place.
func HostSlice[T Real](m *HostMemory, p *Ptr[T]) ([]T, error) {
	if p == nil || p.Empty() {
		return nil, nil
	}
	m.mu.Lock()
	a, err := m.lookup("host_slice", p.queue, p.handle)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return fromBytes[T](a.buf)[:p.size], nil
}
