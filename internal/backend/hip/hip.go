//go:build hip

// Package hip is the HIP backend for AMD GPUs. The kernels come from a code
// object loaded at startup.
package hip

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/samcharles93/plssvm/internal/backend/gpukernel"
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

const Name = "hip"

type Options struct {
	// Devices limits the number of devices used. Zero uses all of them.
	Devices int
	// KernelSource is the HIP code object exporting the gpukernel symbols.
	KernelSource string
}

// DeviceNames lists the visible HIP devices.
func DeviceNames() ([]string, error) {
	count, err := deviceCount()
	if err != nil {
		return nil, err
	}
	names := make([]string, count)
	for id := range count {
		if names[id], err = deviceName(id); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func New[T csvm.Real](opts Options) (*gpukernel.Backend[T], error) {
	if opts.KernelSource == "" {
		return nil, svmerr.InvalidParameter("kernel_source", "the HIP backend needs a code object")
	}
	image, err := os.ReadFile(opts.KernelSource)
	if err != nil {
		return nil, fmt.Errorf("read hip kernels: %w", err)
	}
	count, err := deviceCount()
	if err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, svmerr.UnsupportedBackend("No HIP devices found!")
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
			return nil, fmt.Errorf("hip device %d: %w", id, err)
		}
		devices = append(devices, g)
	}
	return gpukernel.NewBackend[T](Name, devices)
}

type gpu struct {
	id     int
	name   string
	thread *gpukernel.Thread
	stream uintptr
	module uintptr
	fns    map[string]uintptr
}

var _ gpukernel.Device = (*gpu)(nil)

func open(id int, image []byte) (*gpu, error) {
	g := &gpu{id: id, fns: map[string]uintptr{}}
	th, err := gpukernel.StartThread(fmt.Sprintf("hip device %d", id), func() error {
		if err := check(hipSetDevice(int32(id)), "hipSetDevice"); err != nil {
			return err
		}
		name, err := deviceName(id)
		if err != nil {
			return err
		}
		g.name = name
		if err := check(hipStreamCreate(&g.stream), "hipStreamCreate"); err != nil {
			return err
		}
		if g.module, err = loadModule(image); err != nil {
			_ = hipStreamDestroy(g.stream)
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
		ptr, err = malloc(bytes)
		return err
	})
	return ptr, err
}

func (g *gpu) Free(h uintptr) error {
	if h == 0 {
		return nil
	}
	return g.thread.Do(func() error { return check(hipFree(h), "hipFree") })
}

func (g *gpu) Memset(h uintptr, value byte, offset, bytes int) error {
	if bytes <= 0 {
		return nil
	}
	return g.thread.Do(func() error {
		return check(hipMemsetAsync(h+uintptr(offset), int32(value), uint64(bytes), g.stream), "hipMemsetAsync")
	})
}

func (g *gpu) CopyToDevice(h uintptr, offset int, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	err := g.thread.Do(func() error {
		code := hipMemcpyHtoDAsync(h+uintptr(offset), unsafe.Pointer(&src[0]), uint64(len(src)), hipMemcpyHostToDevice, g.stream)
		if err := check(code, "hipMemcpyAsync"); err != nil {
			return err
		}
		return check(hipStreamSynchronize(g.stream), "hipStreamSynchronize")
	})
	runtime.KeepAlive(src)
	return err
}

func (g *gpu) CopyToHost(h uintptr, offset int, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	err := g.thread.Do(func() error {
		code := hipMemcpyDtoHAsync(unsafe.Pointer(&dst[0]), h+uintptr(offset), uint64(len(dst)), hipMemcpyDeviceToHost, g.stream)
		if err := check(code, "hipMemcpyAsync"); err != nil {
			return err
		}
		return check(hipStreamSynchronize(g.stream), "hipStreamSynchronize")
	})
	runtime.KeepAlive(dst)
	return err
}

func (g *gpu) Launch(kernel string, grid, block [3]uint32, args *gpukernel.Args) error {
	return g.thread.Do(func() error {
		fn, ok := g.fns[kernel]
		if !ok {
			var err error
			if fn, err = function(g.module, kernel); err != nil {
				return err
			}
			g.fns[kernel] = fn
		}
		params := args.Pointers()
		var p unsafe.Pointer
		if len(params) > 0 {
			p = unsafe.Pointer(&params[0])
		}
		code := hipModuleLaunchKernel(fn, grid[0], grid[1], grid[2], block[0], block[1], block[2], 0, g.stream, p, nil)
		runtime.KeepAlive(params)
		runtime.KeepAlive(args)
		if err := check(code, "hipModuleLaunchKernel"); err != nil {
			return fmt.Errorf("kernel %q: %w", kernel, err)
		}
		return nil
	})
}

func (g *gpu) Synchronize() error {
	return g.thread.Do(func() error { return check(hipStreamSynchronize(g.stream), "hipStreamSynchronize") })
}

func (g *gpu) Close() error {
	err := g.thread.Do(func() error {
		return errors.Join(
			check(hipStreamSynchronize(g.stream), "hipStreamSynchronize"),
			check(hipModuleUnload(g.module), "hipModuleUnload"),
			check(hipStreamDestroy(g.stream), "hipStreamDestroy"),
		)
	})
	g.thread.Stop()
	return err
}
