//go:build opencl

// Package opencl is the OpenCL backend. The kernel source is compiled at
// startup for every selected device.
package opencl

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/samcharles93/plssvm/internal/backend/gpukernel"
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

const Name = "opencl"

// DeviceType selects the OpenCL device class.
type DeviceType int

const (
	AllDevices DeviceType = iota
	CPUDevices
	GPUDevices
)

func (t DeviceType) mask() uint64 {
	switch t {
	case CPUDevices:
		return clDeviceTypeCPU
	case GPUDevices:
		return clDeviceTypeGPU
	default:
		return clDeviceTypeAll
	}
}

type Options struct {
	// Devices limits the number of devices used. Zero uses all of them.
	Devices int
	// KernelSource is the OpenCL C file defining the gpukernel symbols.
	KernelSource string
	// BuildOptions are passed to clBuildProgram.
	BuildOptions string
	Type         DeviceType
	// Vendors keeps devices whose platform or device vendor contains one of
	// the strings (case-insensitive). Empty keeps all.
	Vendors []string
}

// DeviceInfo describes a selectable device.
type DeviceInfo struct {
	Name   string
	Vendor string
}

type candidate struct {
	id   uintptr
	info DeviceInfo
}

func matchVendor(vendors []string, names ...string) bool {
	if len(vendors) == 0 {
		return true
	}
	for _, v := range vendors {
		for _, n := range names {
			if strings.Contains(strings.ToLower(n), strings.ToLower(v)) {
				return true
			}
		}
	}
	return false
}

func discover(typ DeviceType, vendors []string) ([]candidate, error) {
	if err := loadLoader(); err != nil {
		return nil, err
	}
	ps, err := platforms()
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, p := range ps {
		pv, err := platformVendor(p)
		if err != nil {
			return nil, err
		}
		ids, err := devices(p, typ.mask())
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			name, err := deviceInfo(id, clDeviceName)
			if err != nil {
				return nil, err
			}
			dv, err := deviceInfo(id, clDeviceVendor)
			if err != nil {
				return nil, err
			}
			if matchVendor(vendors, pv, dv) {
				out = append(out, candidate{id: id, info: DeviceInfo{Name: name, Vendor: dv}})
			}
		}
	}
	return out, nil
}

// Devices lists the devices matching the filter.
func Devices(typ DeviceType, vendors ...string) ([]DeviceInfo, error) {
	cs, err := discover(typ, vendors)
	if err != nil {
		return nil, err
	}
	out := make([]DeviceInfo, len(cs))
	for i, c := range cs {
		out[i] = c.info
	}
	return out, nil
}

func New[T csvm.Real](opts Options) (*gpukernel.Backend[T], error) {
	if opts.KernelSource == "" {
		return nil, svmerr.InvalidParameter("kernel_source", "the OpenCL backend needs a kernel source file")
	}
	source, err := os.ReadFile(opts.KernelSource)
	if err != nil {
		return nil, fmt.Errorf("read opencl kernels: %w", err)
	}
	cs, err := discover(opts.Type, opts.Vendors)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, svmerr.UnsupportedBackend("No OpenCL devices found!")
	}
	if opts.Devices > 0 {
		cs = cs[:min(len(cs), opts.Devices)]
	}

	devices := make([]gpukernel.Device, 0, len(cs))
	for i, c := range cs {
		d, err := open(c, source, opts.BuildOptions)
		if err != nil {
			for _, prev := range devices {
				_ = prev.Close()
			}
			return nil, fmt.Errorf("opencl device %d (%s): %w", i, c.info.Name, err)
		}
		devices = append(devices, d)
	}
	return gpukernel.NewBackend[T](Name, devices)
}

// clDevice is one device with its own context, in-order queue and program.
// Kernel arguments are per kernel object, so launches are serialized.
type clDevice struct {
	mu      sync.Mutex
	info    DeviceInfo
	id      uintptr
	ctx     uintptr
	queue   uintptr
	program uintptr
	kernels map[string]uintptr
}

var _ gpukernel.Device = (*clDevice)(nil)

func open(c candidate, source []byte, options string) (*clDevice, error) {
	d := &clDevice{info: c.info, id: c.id, kernels: map[string]uintptr{}}
	var code int32
	d.ctx = clCreateContext(nil, 1, &d.id, nil, nil, &code)
	if err := check(code, "clCreateContext"); err != nil {
		return nil, err
	}
	d.queue = clCreateCommandQueue(d.ctx, d.id, 0, &code)
	if err := check(code, "clCreateCommandQueue"); err != nil {
		_ = clReleaseContext(d.ctx)
		return nil, err
	}

	src := append(source[:len(source):len(source)], 0)
	srcPtr := &src[0]
	length := uintptr(len(source))
	d.program = clCreateProgramWithSource(d.ctx, 1, &srcPtr, &length, &code)
	runtime.KeepAlive(src)
	if err := check(code, "clCreateProgramWithSource"); err != nil {
		_ = d.Close()
		return nil, err
	}
	opt := append([]byte(options), 0)
	if err := check(clBuildProgram(d.program, 1, &d.id, &opt[0], nil, nil), "clBuildProgram"); err != nil {
		log := buildLog(d.program, d.id)
		_ = d.Close()
		if log != "" {
			return nil, fmt.Errorf("%w\n%s", err, log)
		}
		return nil, err
	}
	return d, nil
}

func (d *clDevice) Name() string { return d.info.Name }

func (d *clDevice) Malloc(bytes int) (uintptr, error) {
	if bytes <= 0 {
		return 0, svmerr.DevicePtr("clCreateBuffer", "device alloc size must be > 0")
	}
	var code int32
	mem := clCreateBuffer(d.ctx, clMemReadWrite, uintptr(bytes), nil, &code)
	if err := check(code, "clCreateBuffer"); err != nil {
		return 0, err
	}
	return mem, nil
}

func (d *clDevice) Free(h uintptr) error {
	if h == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := check(clFinish(d.queue), "clFinish"); err != nil {
		return err
	}
	return check(clReleaseMemObject(h), "clReleaseMemObject")
}

func (d *clDevice) Memset(h uintptr, value byte, offset, bytes int) error {
	if bytes <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pattern := value
	code := clEnqueueFillBuffer(d.queue, h, unsafe.Pointer(&pattern), 1, uintptr(offset), uintptr(bytes), 0, nil, nil)
	return check(code, "clEnqueueFillBuffer")
}

func (d *clDevice) CopyToDevice(h uintptr, offset int, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	code := clEnqueueWriteBuffer(d.queue, h, clTrue, uintptr(offset), uintptr(len(src)), unsafe.Pointer(&src[0]), 0, nil, nil)
	runtime.KeepAlive(src)
	return check(code, "clEnqueueWriteBuffer")
}

func (d *clDevice) CopyToHost(h uintptr, offset int, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	code := clEnqueueReadBuffer(d.queue, h, clTrue, uintptr(offset), uintptr(len(dst)), unsafe.Pointer(&dst[0]), 0, nil, nil)
	runtime.KeepAlive(dst)
	return check(code, "clEnqueueReadBuffer")
}

func (d *clDevice) kernel(name string) (uintptr, error) {
	if k, ok := d.kernels[name]; ok {
		return k, nil
	}
	var code int32
	k := clCreateKernel(d.program, name, &code)
	if err := check(code, "clCreateKernel"); err != nil {
		return 0, fmt.Errorf("kernel %q: %w", name, err)
	}
	d.kernels[name] = k
	return k, nil
}

func (d *clDevice) Launch(name string, grid, block [3]uint32, args *gpukernel.Args) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, err := d.kernel(name)
	if err != nil {
		return err
	}
	values, sizes := args.Pointers(), args.Sizes()
	for i := range values {
		if err := check(clSetKernelArg(k, uint32(i), sizes[i], values[i]), "clSetKernelArg"); err != nil {
			return fmt.Errorf("kernel %q argument %d: %w", name, i, err)
		}
	}
	runtime.KeepAlive(args)
	var global, local [3]uintptr
	for i := range 3 {
		global[i] = uintptr(grid[i]) * uintptr(block[i])
		local[i] = uintptr(block[i])
	}
	code := clEnqueueNDRangeKernel(d.queue, k, 3, nil, &global[0], &local[0], 0, nil, nil)
	if err := check(code, "clEnqueueNDRangeKernel"); err != nil {
		return fmt.Errorf("kernel %q: %w", name, err)
	}
	return nil
}

func (d *clDevice) Synchronize() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return check(clFinish(d.queue), "clFinish")
}

func (d *clDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	if d.queue != 0 {
		errs = append(errs, check(clFinish(d.queue), "clFinish"))
	}
	for _, k := range d.kernels {
		errs = append(errs, check(clReleaseKernel(k), "clReleaseKernel"))
	}
	d.kernels = nil
	if d.program != 0 {
		errs = append(errs, check(clReleaseProgram(d.program), "clReleaseProgram"))
	}
	if d.queue != 0 {
		errs = append(errs, check(clReleaseCommandQueue(d.queue), "clReleaseCommandQueue"))
	}
	if d.ctx != 0 {
		errs = append(errs, check(clReleaseContext(d.ctx), "clReleaseContext"))
	}
	d.program, d.queue, d.ctx = 0, 0, 0
	return errors.Join(errs...)
}
