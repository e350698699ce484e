//go:build opencl

package opencl

import (
	"bytes"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

// OpenCL bindings via purego; libOpenCL.so (the ICD loader) is loaded on
// first use.

const (
	clDeviceTypeCPU = 1 << 1
	clDeviceTypeGPU = 1 << 2
	clDeviceTypeAll = 0xFFFFFFFF

	clDeviceName      = 0x102B
	clDeviceVendor    = 0x102C
	clPlatformVendor  = 0x0903
	clProgramBuildLog = 0x1183
	clMemReadWrite    = 1 << 0
	clTrue            = 1
	clDeviceNotFound  = -1
)

var (
	loaderOnce sync.Once
	loaderErr  error

	clGetPlatformIDs          func(num uint32, platforms *uintptr, count *uint32) int32
	clGetPlatformInfo         func(platform uintptr, param uint32, size uintptr, value unsafe.Pointer, ret *uintptr) int32
	clGetDeviceIDs            func(platform uintptr, typ uint64, num uint32, devices *uintptr, count *uint32) int32
	clGetDeviceInfo           func(device uintptr, param uint32, size uintptr, value unsafe.Pointer, ret *uintptr) int32
	clCreateContext           func(props unsafe.Pointer, num uint32, devices *uintptr, notify, user unsafe.Pointer, errcode *int32) uintptr
	clCreateCommandQueue      func(ctx, device uintptr, props uint64, errcode *int32) uintptr
	clCreateProgramWithSource func(ctx uintptr, count uint32, sources **byte, lengths *uintptr, errcode *int32) uintptr
	clBuildProgram            func(program uintptr, num uint32, devices *uintptr, options *byte, notify, user unsafe.Pointer) int32
	clGetProgramBuildInfo     func(program, device uintptr, param uint32, size uintptr, value unsafe.Pointer, ret *uintptr) int32
	clCreateKernel            func(program uintptr, name string, errcode *int32) uintptr
	clSetKernelArg            func(kernel uintptr, index uint32, size uintptr, value unsafe.Pointer) int32
	clEnqueueNDRangeKernel    func(queue, kernel uintptr, dims uint32, offset, global, local *uintptr, numEvents uint32, wait, event unsafe.Pointer) int32
	clCreateBuffer            func(ctx uintptr, flags uint64, size uintptr, host unsafe.Pointer, errcode *int32) uintptr
	clEnqueueWriteBuffer      func(queue, mem uintptr, blocking uint32, offset, size uintptr, src unsafe.Pointer, numEvents uint32, wait, event unsafe.Pointer) int32
	clEnqueueReadBuffer       func(queue, mem uintptr, blocking uint32, offset, size uintptr, dst unsafe.Pointer, numEvents uint32, wait, event unsafe.Pointer) int32
	clEnqueueFillBuffer       func(queue, mem uintptr, pattern unsafe.Pointer, patternSize, offset, size uintptr, numEvents uint32, wait, event unsafe.Pointer) int32
	clFinish                  func(queue uintptr) int32
	clReleaseMemObject        func(mem uintptr) int32
	clReleaseKernel           func(kernel uintptr) int32
	clReleaseProgram          func(program uintptr) int32
	clReleaseCommandQueue     func(queue uintptr) int32
	clReleaseContext          func(ctx uintptr) int32
)

func loadLoader() error {
	loaderOnce.Do(func() {
		var lib uintptr
		lib, loaderErr = purego.Dlopen("libOpenCL.so.1", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
		if loaderErr != nil {
			lib, loaderErr = purego.Dlopen("libOpenCL.so", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if loaderErr != nil {
				loaderErr = svmerr.UnsupportedBackend("cannot load libOpenCL.so: %v (is an OpenCL ICD installed?)", loaderErr)
				return
			}
		}
		purego.RegisterLibFunc(&clGetPlatformIDs, lib, "clGetPlatformIDs")
		purego.RegisterLibFunc(&clGetPlatformInfo, lib, "clGetPlatformInfo")
		purego.RegisterLibFunc(&clGetDeviceIDs, lib, "clGetDeviceIDs")
		purego.RegisterLibFunc(&clGetDeviceInfo, lib, "clGetDeviceInfo")
		purego.RegisterLibFunc(&clCreateContext, lib, "clCreateContext")
		purego.RegisterLibFunc(&clCreateCommandQueue, lib, "clCreateCommandQueue")
		purego.RegisterLibFunc(&clCreateProgramWithSource, lib, "clCreateProgramWithSource")
		purego.RegisterLibFunc(&clBuildProgram, lib, "clBuildProgram")
		purego.RegisterLibFunc(&clGetProgramBuildInfo, lib, "clGetProgramBuildInfo")
		purego.RegisterLibFunc(&clCreateKernel, lib, "clCreateKernel")
		purego.RegisterLibFunc(&clSetKernelArg, lib, "clSetKernelArg")
		purego.RegisterLibFunc(&clEnqueueNDRangeKernel, lib, "clEnqueueNDRangeKernel")
		purego.RegisterLibFunc(&clCreateBuffer, lib, "clCreateBuffer")
		purego.RegisterLibFunc(&clEnqueueWriteBuffer, lib, "clEnqueueWriteBuffer")
		purego.RegisterLibFunc(&clEnqueueReadBuffer, lib, "clEnqueueReadBuffer")
		purego.RegisterLibFunc(&clEnqueueFillBuffer, lib, "clEnqueueFillBuffer")
		purego.RegisterLibFunc(&clFinish, lib, "clFinish")
		purego.RegisterLibFunc(&clReleaseMemObject, lib, "clReleaseMemObject")
		purego.RegisterLibFunc(&clReleaseKernel, lib, "clReleaseKernel")
		purego.RegisterLibFunc(&clReleaseProgram, lib, "clReleaseProgram")
		purego.RegisterLibFunc(&clReleaseCommandQueue, lib, "clReleaseCommandQueue")
		purego.RegisterLibFunc(&clReleaseContext, lib, "clReleaseContext")
	})
	return loaderErr
}

func check(code int32, call string) error {
	if code == 0 {
		return nil
	}
	return svmerr.Backend("opencl", call, int(code), errorName(code))
}

func errorName(code int32) string {
	switch code {
	case -1:
		return "CL_DEVICE_NOT_FOUND"
	case -2:
		return "CL_DEVICE_NOT_AVAILABLE"
	case -4:
		return "CL_MEM_OBJECT_ALLOCATION_FAILURE"
	case -5:
		return "CL_OUT_OF_RESOURCES"
	case -6:
		return "CL_OUT_OF_HOST_MEMORY"
	case -11:
		return "CL_BUILD_PROGRAM_FAILURE"
	case -30:
		return "CL_INVALID_VALUE"
	case -36:
		return "CL_INVALID_COMMAND_QUEUE"
	case -38:
		return "CL_INVALID_MEM_OBJECT"
	case -46:
		return "CL_INVALID_KERNEL_NAME"
	case -48:
		return "CL_INVALID_KERNEL"
	case -49:
		return "CL_INVALID_ARG_INDEX"
	case -50:
		return "CL_INVALID_ARG_VALUE"
	case -51:
		return "CL_INVALID_ARG_SIZE"
	case -52:
		return "CL_INVALID_KERNEL_ARGS"
	case -54:
		return "CL_INVALID_WORK_GROUP_SIZE"
	case -1001:
		return "CL_PLATFORM_NOT_FOUND_KHR"
	default:
		return ""
	}
}

func infoString(get func(size uintptr, value unsafe.Pointer, ret *uintptr) int32, call string) (string, error) {
	var size uintptr
	if err := check(get(0, nil, &size), call); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	if err := check(get(size, unsafe.Pointer(&buf[0]), nil), call); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf, "\x00")), nil
}

func platforms() ([]uintptr, error) {
	var count uint32
	code := clGetPlatformIDs(0, nil, &count)
	if code == -1001 || count == 0 {
		return nil, nil
	}
	if err := check(code, "clGetPlatformIDs"); err != nil {
		return nil, err
	}
	ids := make([]uintptr, count)
	if err := check(clGetPlatformIDs(count, &ids[0], nil), "clGetPlatformIDs"); err != nil {
		return nil, err
	}
	return ids, nil
}

func platformVendor(p uintptr) (string, error) {
	return infoString(func(size uintptr, value unsafe.Pointer, ret *uintptr) int32 {
		return clGetPlatformInfo(p, clPlatformVendor, size, value, ret)
	}, "clGetPlatformInfo")
}

func devices(platform uintptr, typ uint64) ([]uintptr, error) {
	var count uint32
	code := clGetDeviceIDs(platform, typ, 0, nil, &count)
	if code == clDeviceNotFound || count == 0 {
		return nil, nil
	}
	if err := check(code, "clGetDeviceIDs"); err != nil {
		return nil, err
	}
	ids := make([]uintptr, count)
	if err := check(clGetDeviceIDs(platform, typ, count, &ids[0], nil), "clGetDeviceIDs"); err != nil {
		return nil, err
	}
	return ids, nil
}

func deviceInfo(d uintptr, param uint32) (string, error) {
	return infoString(func(size uintptr, value unsafe.Pointer, ret *uintptr) int32 {
		return clGetDeviceInfo(d, param, size, value, ret)
	}, "clGetDeviceInfo")
}

func buildLog(program, device uintptr) string {
	log, err := infoString(func(size uintptr, value unsafe.Pointer, ret *uintptr) int32 {
		return clGetProgramBuildInfo(program, device, clProgramBuildLog, size, value, ret)
	}, "clGetProgramBuildInfo")
	if err != nil {
		return ""
	}
	return log
}
