//go:build cuda

// Package cuda is the CUDA backend. The kernels come from a PTX module loaded at
// startup and every device is driven from its own locked OS thread.
package cuda

import (
	"errors"
	"fmt"
	"os"

	"github.com/samcharles93/plssvm/internal/backend/cuda/native"
	"github.com/samcharles93/plssvm/internal/backend/gpukernel"
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

const Name = "cuda"

type Options struct {
	// Devices limits the number of devices used. Zero uses all of them.
	Devices int
	// KernelSource is the PTX (or cubin) file exporting the gpukernel symbols.
	KernelSource string
}

// DeviceNames lists the visible CUDA devices.
func DeviceNames() ([]string, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return nil, err
	}
	names := make([]string, count)
	for id := range count {
		if names[id], err = native.DeviceName(id); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func New[T csvm.Real](opts Options) (*gpukernel.Backend[T], error) {
	if opts.KernelSource == "" {
		return nil, svmerr.InvalidParameter("kernel_source", "the CUDA backend needs a PTX module")
	}
	image, err := os.ReadFile(opts.KernelSource)
	if err != nil {
		return nil, fmt.Errorf("read cuda kernels: %w", err)
	}
	count, err := native.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("cuda device query failed: %w", err)
	}
	if count < 1 {
		return nil, svmerr.UnsupportedBackend("No CUDA devices found!")
	}
	if opts.Devices > 0 {
		count = min(count, opts.Devices)
	}

	devices := make([]gpukernel.Device, 0, count)
	for id := range count {
		g, err := open(id, image)
		if err != nil {
			for _, d := range devices {
				_ = d.Close()
			}
			return nil, fmt.Errorf("cuda device %d: %w", id, err)
		}
		devices = append(devices, g)
	}
	return gpukernel.NewBackend[T](Name, devices)
}

// gpu is one CUDA device with its stream and kernel module.
type gpu struct {
	id     int
	name   string
	thread *gpukernel.Thread
	stream native.Stream
	module native.Module
	fns    map[string]native.Function
}

var _ gpukernel.Device = (*gpu)(nil)

func open(id int, image []byte) (*gpu, error) {
	g := &gpu{id: id, fns: map[string]native.Function{}}
	th, err := gpukernel.StartThread(fmt.Sprintf("cuda device %d", id), func() error {
		if err := native.SetDevice(id); err != nil {
			return err
		}
		name, err := native.DeviceName(id)
		if err != nil {
			return err
		}
		g.name = name
		if g.stream, err = native.NewStream(); err != nil {
			return err
		}
		if g.module, err = native.LoadModule(image); err != nil {
			_ = g.stream.Destroy()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.thread = th
	return g, nil
}

func (g *gpu) Name() string { return g.name }

func (g *gpu) Malloc(bytes int) (uintptr, error) {
	var ptr uintptr
	err := g.thread.Do(func() error {
		var err error
		ptr, err = native.Malloc(bytes)
		return err
	})
	return ptr, err
}

func (g *gpu) Free(h uintptr) error {
	return g.thread.Do(func() error { return native.Free(h) })
}

func (g *gpu) Memset(h uintptr, value byte, offset, bytes int) error {
	return g.thread.Do(func() error {
		return native.MemsetAsync(h+uintptr(offset), value, bytes, g.stream)
	})
}

func (g *gpu) CopyToDevice(h uintptr, offset int, src []byte) error {
	return g.thread.Do(func() error {
		if err := native.MemcpyH2DAsync(h+uintptr(offset), src, g.stream); err != nil {
			return err
		}
		return g.stream.Synchronize()
	})
}

func (g *gpu) CopyToHost(h uintptr, offset int, dst []byte) error {
	return g.thread.Do(func() error {
		if err := native.MemcpyD2HAsync(dst, h+uintptr(offset), g.stream); err != nil {
			return err
		}
		return g.stream.Synchronize()
	})
}

func (g *gpu) Launch(kernel string, grid, block [3]uint32, args *gpukernel.Args) error {
	return g.thread.Do(func() error {
		fn, ok := g.fns[kernel]
		if !ok {
			var err error
			if fn, err = g.module.Function(kernel); err != nil {
				return err
			}
			g.fns[kernel] = fn
		}
		return native.Launch(fn, grid, block, g.stream, args.Pointers(), args.Sizes())
	})
}

func (g *gpu) Synchronize() error {
	return g.thread.Do(g.stream.Synchronize)
}

func (g *gpu) Close() error {
	err := g.thread.Do(func() error {
		return errors.Join(g.stream.Synchronize(), g.module.Unload(), g.stream.Destroy())
	})
	g.thread.Stop()
	return err
}
