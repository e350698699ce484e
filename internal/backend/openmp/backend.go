// Package openmp is the host backend. Each virtual device is an in-order
// goroutine stream; kernels split their tiles across worker goroutines.
package openmp

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/device"
	"github.com/samcharles93/plssvm/internal/svmerr"
	"github.com/samcharles93/plssvm/internal/tiling"
)

// Name is the backend name.
const Name = "openmp"

// Options configure the host backend.
type Options struct {
	// Devices is the number of virtual devices. Zero means one.
	Devices int
	// Workers is the goroutine count per launch. Zero means GOMAXPROCS.
	Workers int
	Tuning  tiling.Config
}

// Backend implements csvm.KernelBackend on the host.
type Backend[T csvm.Real] struct {
	host    *device.HostMemory
	mem     *memory
	streams []*stream
	workers int
	grain   int
}

var _ csvm.KernelBackend[float64] = (*Backend[float64])(nil)

// New starts the virtual devices.
func New[T csvm.Real](opts Options) (*Backend[T], error) {
	if opts.Devices < 0 {
		return nil, svmerr.InvalidParameter("devices", "must not be negative, got %d", opts.Devices)
	}
	if err := opts.Tuning.Validate(); err != nil {
		return nil, svmerr.Wrap(svmerr.KindInvalidParameter, "tuning", err, "invalid tuning configuration")
	}
	n := max(opts.Devices, 1)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	b := &Backend[T]{
		host:    device.NewHostMemory(n),
		streams: make([]*stream, n),
		workers: workers,
		grain:   opts.Tuning.OpenMPBlockSize,
	}
	for i := range b.streams {
		b.streams[i] = newStream(i)
	}
	b.mem = &memory{host: b.host, streams: b.streams}
	return b, nil
}

func (b *Backend[T]) Name() string { return Name }

func (b *Backend[T]) DeviceCount() int { return len(b.streams) }

func (b *Backend[T]) Memory() device.Memory { return b.mem }

// HostMemory exposes allocation statistics.
func (b *Backend[T]) HostMemory() *device.HostMemory { return b.host }

func (b *Backend[T]) stream(queue int) (*stream, error) {
	if queue < 0 || queue >= len(b.streams) {
		return nil, svmerr.New(svmerr.KindBackend, "openmp", "invalid device %d (have %d)", queue, len(b.streams))
	}
	return b.streams[queue], nil
}

func (b *Backend[T]) DeviceSynchronize(queue int) error {
	s, err := b.stream(queue)
	if err != nil {
		return err
	}
	if err := s.synchronize(); err != nil {
		return svmerr.Wrap(svmerr.KindBackend, "device_synchronize", err, "openmp device %d failed", queue)
	}
	return nil
}

// views resolves the host slices behind the non-nil buffers of buf.
func (b *Backend[T]) views(buf *csvm.Buffers[T]) (views[T], error) {
	var v views[T]
	var errs []error
	get := func(p *device.Ptr[T]) []T {
		s, err := device.HostSlice(b.host, p)
		if err != nil {
			errs = append(errs, err)
		}
		return s
	}
	v.data = get(buf.Data)
	v.last = get(buf.DataLast)
	v.q = get(buf.Q)
	v.d = get(buf.D)
	v.r = get(buf.R)
	v.alpha = get(buf.Alpha)
	v.w = get(buf.W)
	v.points = get(buf.Points)
	v.out = get(buf.Out)
	return v, errors.Join(errs...)
}

func (b *Backend[T]) launch(queue int, buf *csvm.Buffers[T], need func(v views[T]) error, run func(v views[T])) error {
	s, err := b.stream(queue)
	if err != nil {
		return err
	}
	v, err := b.views(buf)
	if err != nil {
		return err
	}
	if err := need(v); err != nil {
		return err
	}
	s.submit(func() error {
		run(v)
		return nil
	})
	return nil
}

func missing(kernel string, names ...string) error {
	return svmerr.New(svmerr.KindBackend, kernel, "missing device buffer(s) %v", names)
}

func (b *Backend[T]) RunQKernel(queue int, r tiling.Range, buf *csvm.Buffers[T], args csvm.KernelArgs[T]) error {
	return b.launch(queue, buf, func(v views[T]) error {
		if v.data == nil || v.last == nil || v.q == nil {
			return missing("q_kernel", "data", "data_last", "q")
		}
		return nil
	}, func(v views[T]) {
		qKernel(v, r, args, b.workers, b.grain)
	})
}

func (b *Backend[T]) RunSVMKernel(queue int, r tiling.Range, buf *csvm.Buffers[T], add T, args csvm.KernelArgs[T]) error {
	return b.launch(queue, buf, func(v views[T]) error {
		if v.data == nil || v.q == nil || v.d == nil || v.r == nil {
			return missing("svm_kernel", "data", "q", "d", "r")
		}
		return nil
	}, func(v views[T]) {
		svmKernel(v, r, add, args, b.workers)
	})
}

func (b *Backend[T]) RunWKernel(queue int, r tiling.Range, buf *csvm.Buffers[T], args csvm.KernelArgs[T]) error {
	return b.launch(queue, buf, func(v views[T]) error {
		if v.data == nil || v.last == nil || v.alpha == nil || v.w == nil {
			return missing("w_kernel", "data", "data_last", "alpha", "w")
		}
		return nil
	}, func(v views[T]) {
		wKernel(v, r, args, b.workers, b.grain)
	})
}

func (b *Backend[T]) RunPredictKernel(queue int, r tiling.Range, buf *csvm.Buffers[T], args csvm.KernelArgs[T]) error {
	return b.launch(queue, buf, func(v views[T]) error {
		if v.data == nil || v.last == nil || v.alpha == nil || v.points == nil || v.out == nil {
			return missing("predict_kernel", "data", "data_last", "alpha", "points", "out")
		}
		return nil
	}, func(v views[T]) {
		predictKernel(v, r, args, b.workers)
	})
}

// Submit queues an arbitrary task on a device. Tests use it to inject failures.
func (b *Backend[T]) Submit(queue int, task func() error) error {
	s, err := b.stream(queue)
	if err != nil {
		return err
	}
	s.submit(task)
	return nil
}

// Close drains and stops every stream.
func (b *Backend[T]) Close() error {
	var errs []error
	for _, s := range b.streams {
		if err := s.close(); err != nil {
			errs = append(errs, fmt.Errorf("openmp device %d: %w", s.id, err))
		}
	}
	b.streams = nil
	b.mem.streams = nil
	return errors.Join(errs...)
}
