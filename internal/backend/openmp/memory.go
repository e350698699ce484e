package openmp

import (
	"github.com/samcharles93/plssvm/internal/device"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

// memory serves device.Memory from host RAM. Transfers and frees wait for the
// owning stream first, so they are ordered after every queued kernel.
type memory struct {
	host    *device.HostMemory
	streams []*stream
}

func (m *memory) sync(op string, queue int) error {
	if queue < 0 || queue >= len(m.streams) {
		return svmerr.DevicePtr(op, "invalid queue %d (have %d)", queue, len(m.streams))
	}
	if err := m.streams[queue].synchronize(); err != nil {
		return svmerr.Wrap(svmerr.KindBackend, op, err, "openmp device %d failed", queue)
	}
	return nil
}

func (m *memory) Allocate(queue int, bytes int) (device.Handle, error) {
	return m.host.Allocate(queue, bytes)
}

func (m *memory) Free(queue int, h device.Handle) error {
	if err := m.sync("free", queue); err != nil {
		return err
	}
	return m.host.Free(queue, h)
}

func (m *memory) Memset(queue int, h device.Handle, pattern byte, offset, n int) error {
	if err := m.sync("memset", queue); err != nil {
		return err
	}
	return m.host.Memset(queue, h, pattern, offset, n)
}

func (m *memory) CopyToDevice(queue int, h device.Handle, offset int, src []byte) error {
	if err := m.sync("copy_to_device", queue); err != nil {
		return err
	}
	return m.host.CopyToDevice(queue, h, offset, src)
}

func (m *memory) CopyToHost(queue int, h device.Handle, offset int, dst []byte) error {
	if err := m.sync("copy_to_host", queue); err != nil {
		return err
	}
	return m.host.CopyToHost(queue, h, offset, dst)
}
