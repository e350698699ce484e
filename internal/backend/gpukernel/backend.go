package gpukernel

import (
	"errors"
	"fmt"

	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/device"
	"github.com/samcharles93/plssvm/internal/svmerr"
	"github.com/samcharles93/plssvm/internal/tiling"
)

// Device is the native surface of one GPU. Handles are opaque to the caller;
// offsets are in bytes. Copies complete before they return, Memset and Launch
// are ordered on the device queue.
type Device interface {
	Name() string
	Malloc(bytes int) (uintptr, error)
	Free(h uintptr) error
	Memset(h uintptr, value byte, offset, bytes int) error
	CopyToDevice(h uintptr, offset int, src []byte) error
	CopyToHost(h uintptr, offset int, dst []byte) error
	Launch(kernel string, grid, block [3]uint32, args *Args) error
	Synchronize() error
	Close() error
}

// Backend drives the kernels of one GPU runtime over its devices.
type Backend[T csvm.Real] struct {
	name    string
	devices []Device
}

var _ csvm.KernelBackend[float32] = (*Backend[float32])(nil)

// NewBackend takes ownership of devices.
func NewBackend[T csvm.Real](name string, devices []Device) (*Backend[T], error) {
	if len(devices) == 0 {
		return nil, svmerr.UnsupportedBackend("No %s devices available!", name)
	}
	return &Backend[T]{name: name, devices: devices}, nil
}

func (b *Backend[T]) Name() string { return b.name }

func (b *Backend[T]) DeviceCount() int { return len(b.devices) }

// DeviceNames lists the device names in queue order.
func (b *Backend[T]) DeviceNames() []string {
	names := make([]string, len(b.devices))
	for i, d := range b.devices {
		names[i] = d.Name()
	}
	return names
}

func (b *Backend[T]) Memory() device.Memory { return memory[T]{b} }

func (b *Backend[T]) device(op string, queue int) (Device, error) {
	if queue < 0 || queue >= len(b.devices) {
		return nil, svmerr.DevicePtr(op, "invalid %s device %d (have %d)", b.name, queue, len(b.devices))
	}
	return b.devices[queue], nil
}

func (b *Backend[T]) DeviceSynchronize(queue int) error {
	d, err := b.device("device_synchronize", queue)
	if err != nil {
		return err
	}
	return d.Synchronize()
}

func (b *Backend[T]) launch(kind Kind, queue int, r tiling.Range, buf *csvm.Buffers[T], add T, ka csvm.KernelArgs[T]) error {
	d, err := b.device(kind.String()+"_kernel", queue)
	if err != nil {
		return err
	}
	name, err := Name[T](kind, ka.Kernel.Kernel)
	if err != nil {
		return err
	}
	args, err := Build(kind, buf, add, ka)
	if err != nil {
		return err
	}
	grid, block := Dims(r)
	return d.Launch(name, grid, block, args)
}

func (b *Backend[T]) RunQKernel(queue int, r tiling.Range, buf *csvm.Buffers[T], args csvm.KernelArgs[T]) error {
	return b.launch(Q, queue, r, buf, 0, args)
}

func (b *Backend[T]) RunSVMKernel(queue int, r tiling.Range, buf *csvm.Buffers[T], add T, args csvm.KernelArgs[T]) error {
	return b.launch(SVM, queue, r, buf, add, args)
}

func (b *Backend[T]) RunWKernel(queue int, r tiling.Range, buf *csvm.Buffers[T], args csvm.KernelArgs[T]) error {
	return b.launch(W, queue, r, buf, 0, args)
}

func (b *Backend[T]) RunPredictKernel(queue int, r tiling.Range, buf *csvm.Buffers[T], args csvm.KernelArgs[T]) error {
	return b.launch(Predict, queue, r, buf, 0, args)
}

func (b *Backend[T]) Close() error {
	var errs []error
	for i, d := range b.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s device %d: %w", b.name, i, err))
		}
	}
	b.devices = nil
	return errors.Join(errs...)
}

// memory routes device.Memory calls to the device owning the queue.
type memory[T csvm.Real] struct {
	b *Backend[T]
}

func (m memory[T]) Allocate(queue int, bytes int) (device.Handle, error) {
	d, err := m.b.device("allocate", queue)
	if err != nil {
		return 0, err
	}
	h, err := d.Malloc(bytes)
	return device.Handle(h), err
}

func (m memory[T]) Free(queue int, h device.Handle) error {
	d, err := m.b.device("free", queue)
	if err != nil {
		return err
	}
	return d.Free(uintptr(h))
}

func (m memory[T]) Memset(queue int, h device.Handle, pattern byte, offset, n int) error {
	d, err := m.b.device("memset", queue)
	if err != nil {
		return err
	}
	return d.Memset(uintptr(h), pattern, offset, n)
}

func (m memory[T]) CopyToDevice(queue int, h device.Handle, offset int, src []byte) error {
	d, err := m.b.device("copy_to_device", queue)
	if err != nil {
		return err
	}
	return d.CopyToDevice(uintptr(h), offset, src)
}

func (m memory[T]) CopyToHost(queue int, h device.Handle, offset int, dst []byte) error {
	d, err := m.b.device("copy_to_host", queue)
	if err != nil {
		return err
	}
	return d.CopyToHost(uintptr(h), offset, dst)
}
