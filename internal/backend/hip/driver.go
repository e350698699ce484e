//go:build hip

package hip

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

// HIP runtime bindings via purego; libamdhip64.so is loaded on first use.

const (
	hipMemcpyHostToDevice = 1
	hipMemcpyDeviceToHost = 2
)

var (
	runtimeOnce sync.Once
	runtimeErr  error

	hipGetErrorString     func(code int32) string
	hipGetDeviceCount     func(count *int32) int32
	hipSetDevice          func(device int32) int32
	hipDeviceGetName      func(name *byte, length int32, device int32) int32
	hipStreamCreate       func(stream *uintptr) int32
	hipStreamSynchronize  func(stream uintptr) int32
	hipStreamDestroy      func(stream uintptr) int32
	hipMalloc             func(ptr *uintptr, size uint64) int32
	hipFree               func(ptr uintptr) int32
	hipMemcpyHtoDAsync    func(dst uintptr, src unsafe.Pointer, size uint64, kind int32, stream uintptr) int32
	hipMemcpyDtoHAsync    func(dst unsafe.Pointer, src uintptr, size uint64, kind int32, stream uintptr) int32
	hipMemsetAsync        func(dst uintptr, value int32, size uint64, stream uintptr) int32
	hipModuleLoadData     func(module *uintptr, image unsafe.Pointer) int32
	hipModuleUnload       func(module uintptr) int32
	hipModuleGetFunction  func(fn *uintptr, module uintptr, name string) int32
	hipModuleLaunchKernel func(
		fn uintptr,
		gridX, gridY, gridZ uint32,
		blockX, blockY, blockZ uint32,
		sharedMem uint32,
		stream uintptr,
		params unsafe.Pointer,
		extra unsafe.Pointer,
	) int32
)

func loadRuntime() error {
	runtimeOnce.Do(func() {
		var lib uintptr
		lib, runtimeErr = purego.Dlopen("libamdhip64.so", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
		if runtimeErr != nil {
			lib, runtimeErr = purego.Dlopen("/opt/rocm/lib/libamdhip64.so", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if runtimeErr != nil {
				runtimeErr = svmerr.UnsupportedBackend("cannot load libamdhip64.so: %v (is ROCm installed?)", runtimeErr)
				return
			}
		}
		purego.RegisterLibFunc(&hipGetErrorString, lib, "hipGetErrorString")
		purego.RegisterLibFunc(&hipGetDeviceCount, lib, "hipGetDeviceCount")
		purego.RegisterLibFunc(&hipSetDevice, lib, "hipSetDevice")
		purego.RegisterLibFunc(&hipDeviceGetName, lib, "hipDeviceGetName")
		purego.RegisterLibFunc(&hipStreamCreate, lib, "hipStreamCreate")
		purego.RegisterLibFunc(&hipStreamSynchronize, lib, "hipStreamSynchronize")
		purego.RegisterLibFunc(&hipStreamDestroy, lib, "hipStreamDestroy")
		purego.RegisterLibFunc(&hipMalloc, lib, "hipMalloc")
		purego.RegisterLibFunc(&hipFree, lib, "hipFree")
		purego.RegisterLibFunc(&hipMemcpyHtoDAsync, lib, "hipMemcpyAsync")
		purego.RegisterLibFunc(&hipMemcpyDtoHAsync, lib, "hipMemcpyAsync")
		purego.RegisterLibFunc(&hipMemsetAsync, lib, "hipMemsetAsync")
		purego.RegisterLibFunc(&hipModuleLoadData, lib, "hipModuleLoadData")
		purego.RegisterLibFunc(&hipModuleUnload, lib, "hipModuleUnload")
		purego.RegisterLibFunc(&hipModuleGetFunction, lib, "hipModuleGetFunction")
		purego.RegisterLibFunc(&hipModuleLaunchKernel, lib, "hipModuleLaunchKernel")
	})
	return runtimeErr
}

func check(code int32, call string) error {
	if code == 0 {
		return nil
	}
	return svmerr.Backend("hip", call, int(code), hipGetErrorString(code))
}

func deviceCount() (int, error) {
	if err := loadRuntime(); err != nil {
		return 0, err
	}
	var count int32
	if err := check(hipGetDeviceCount(&count), "hipGetDeviceCount"); err != nil {
		return 0, err
	}
	return int(count), nil
}

func deviceName(id int) (string, error) {
	buf := make([]byte, 256)
	if err := check(hipDeviceGetName(&buf[0], int32(len(buf)), int32(id)), "hipDeviceGetName"); err != nil {
		return "", err
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}

func malloc(bytes int) (uintptr, error) {
	if bytes <= 0 {
		return 0, svmerr.DevicePtr("hipMalloc", "device alloc size must be > 0")
	}
	var ptr uintptr
	if err := check(hipMalloc(&ptr, uint64(bytes)), "hipMalloc"); err != nil {
		return 0, err
	}
	return ptr, nil
}

func loadModule(image []byte) (uintptr, error) {
	if len(image) == 0 {
		return 0, svmerr.New(svmerr.KindBackend, "hipModuleLoadData", "empty module image")
	}
	var mod uintptr
	if err := check(hipModuleLoadData(&mod, unsafe.Pointer(&image[0])), "hipModuleLoadData"); err != nil {
		return 0, err
	}
	return mod, nil
}

func function(module uintptr, name string) (uintptr, error) {
	var fn uintptr
	if err := check(hipModuleGetFunction(&fn, module, name), "hipModuleGetFunction"); err != nil {
		return 0, fmt.Errorf("kernel %q: %w", name, err)
	}
	return fn, nil
}
