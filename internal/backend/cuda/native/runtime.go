//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart -lcuda

#include <stdint.h>
#include <stdlib.h>
#include <string.h>

// Minimal CUDA runtime and driver forward declarations to avoid requiring headers at compile time.
// Linker will still require libcudart and libcuda when building with the cuda tag.
typedef void* cudaStream_t;
typedef int cudaError_t;
typedef int CUresult;
typedef int CUdevice;
typedef struct CUmod_st* CUmodule;
typedef struct CUfunc_st* CUfunction;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaSetDevice(int device);
extern cudaError_t cudaDeviceSynchronize(void);
extern cudaError_t cudaStreamCreate(cudaStream_t* stream);
extern cudaError_t cudaStreamDestroy(cudaStream_t stream);
extern cudaError_t cudaStreamSynchronize(cudaStream_t stream);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream);
extern cudaError_t cudaMemsetAsync(void* dst, int value, unsigned long long size, cudaStream_t stream);

extern CUresult cuGetErrorString(CUresult err, const char** out);
extern CUresult cuDeviceGet(CUdevice* device, int ordinal);
extern CUresult cuDeviceGetName(char* name, int len, CUdevice device);
extern CUresult cuModuleLoadData(CUmodule* module, const void* image);
extern CUresult cuModuleUnload(CUmodule module);
extern CUresult cuModuleGetFunction(CUfunction* fn, CUmodule module, const char* name);
extern CUresult cuLaunchKernel(CUfunction f,
	unsigned int gx, unsigned int gy, unsigned int gz,
	unsigned int bx, unsigned int by, unsigned int bz,
	unsigned int shared, cudaStream_t stream, void** params, void** extra);

#define PLSSVM_CUDA_MEMCPY_HOST_TO_DEVICE 1
#define PLSSVM_CUDA_MEMCPY_DEVICE_TO_HOST 2

static const char* plssvmCudaGetErrorString(int err) {
	return cudaGetErrorString((cudaError_t)err);
}

static const char* plssvmCuGetErrorString(int err) {
	const char* out = 0;
	if (cuGetErrorString((CUresult)err, &out) != 0 || out == 0) {
		return "unknown driver error";
	}
	return out;
}

static int plssvmCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int plssvmCudaSetDevice(int device) {
	return (int)cudaSetDevice(device);
}

static int plssvmCudaDeviceSynchronize(void) {
	return (int)cudaDeviceSynchronize();
}

static int plssvmCudaStreamCreate(cudaStream_t* out) {
	return (int)cudaStreamCreate(out);
}

static int plssvmCudaStreamDestroy(cudaStream_t stream) {
	return (int)cudaStreamDestroy(stream);
}

static int plssvmCudaStreamSynchronize(cudaStream_t stream) {
	return (int)cudaStreamSynchronize(stream);
}

static int plssvmCudaMalloc(uintptr_t* out, unsigned long long size) {
	void* ptr = 0;
	int err = (int)cudaMalloc(&ptr, size);
	*out = (uintptr_t)ptr;
	return err;
}

static int plssvmCudaFree(uintptr_t ptr) {
	return (int)cudaFree((void*)ptr);
}

static int plssvmCudaMemcpyH2DAsync(uintptr_t dst, const void* src, unsigned long long size, cudaStream_t stream) {
	return (int)cudaMemcpyAsync((void*)dst, src, size, PLSSVM_CUDA_MEMCPY_HOST_TO_DEVICE, stream);
}

static int plssvmCudaMemcpyD2HAsync(void* dst, uintptr_t src, unsigned long long size, cudaStream_t stream) {
	return (int)cudaMemcpyAsync(dst, (const void*)src, size, PLSSVM_CUDA_MEMCPY_DEVICE_TO_HOST, stream);
}

static int plssvmCudaMemsetAsync(uintptr_t dst, int value, unsigned long long size, cudaStream_t stream) {
	return (int)cudaMemsetAsync((void*)dst, value, size, stream);
}

static int plssvmCuDeviceGetName(char* name, int len, int ordinal) {
	CUdevice dev;
	CUresult err = cuDeviceGet(&dev, ordinal);
	if (err != 0) {
		return (int)err;
	}
	return (int)cuDeviceGetName(name, len, dev);
}

static int plssvmCuModuleLoadData(CUmodule* out, const void* image) {
	return (int)cuModuleLoadData(out, image);
}

static int plssvmCuModuleUnload(CUmodule module) {
	return (int)cuModuleUnload(module);
}

static int plssvmCuModuleGetFunction(CUfunction* out, CUmodule module, const char* name) {
	return (int)cuModuleGetFunction(out, module, name);
}

static int plssvmCuLaunchKernel(CUfunction f,
	unsigned int gx, unsigned int gy, unsigned int gz,
	unsigned int bx, unsigned int by, unsigned int bz,
	cudaStream_t stream, void** params) {
	return (int)cuLaunchKernel(f, gx, gy, gz, bx, by, bz, 0, stream, params, 0);
}
*/
import "C"

import (
	"unsafe"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

type Stream struct {
	ptr C.cudaStream_t
}

type Module struct {
	ptr C.CUmodule
}

type Function struct {
	ptr  C.CUfunction
	name string
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr("cudaGetDeviceCount", C.plssvmCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

// SetDevice binds the calling OS thread to a device. Callers keep the
// goroutine locked to its thread for as long as they use the device.
func SetDevice(id int) error {
	return cudaErr("cudaSetDevice", C.plssvmCudaSetDevice(C.int(id)))
}

func DeviceSynchronize() error {
	return cudaErr("cudaDeviceSynchronize", C.plssvmCudaDeviceSynchronize())
}

func DeviceName(id int) (string, error) {
	buf := (*C.char)(C.malloc(256))
	defer C.free(unsafe.Pointer(buf))
	if err := driverErr("cuDeviceGetName", C.plssvmCuDeviceGetName(buf, 256, C.int(id))); err != nil {
		return "", err
	}
	return C.GoString(buf), nil
}

func NewStream() (Stream, error) {
	var stream C.cudaStream_t
	if err := cudaErr("cudaStreamCreate", C.plssvmCudaStreamCreate(&stream)); err != nil {
		return Stream{}, err
	}
	return Stream{ptr: stream}, nil
}

func (s Stream) Destroy() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr("cudaStreamDestroy", C.plssvmCudaStreamDestroy(s.ptr))
}

func (s Stream) Synchronize() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr("cudaStreamSynchronize", C.plssvmCudaStreamSynchronize(s.ptr))
}

func Malloc(bytes int) (uintptr, error) {
	if bytes <= 0 {
		return 0, svmerr.DevicePtr("cudaMalloc", "device alloc size must be > 0")
	}
	var ptr C.uintptr_t
	if err := cudaErr("cudaMalloc", C.plssvmCudaMalloc(&ptr, C.ulonglong(bytes))); err != nil {
		return 0, err
	}
	return uintptr(ptr), nil
}

func Free(ptr uintptr) error {
	if ptr == 0 {
		return nil
	}
	return cudaErr("cudaFree", C.plssvmCudaFree(C.uintptr_t(ptr)))
}

func MemcpyH2DAsync(dst uintptr, src []byte, s Stream) error {
	if len(src) == 0 {
		return nil
	}
	return cudaErr("cudaMemcpyAsync", C.plssvmCudaMemcpyH2DAsync(C.uintptr_t(dst), unsafe.Pointer(&src[0]), C.ulonglong(len(src)), s.ptr))
}

func MemcpyD2HAsync(dst []byte, src uintptr, s Stream) error {
	if len(dst) == 0 {
		return nil
	}
	return cudaErr("cudaMemcpyAsync", C.plssvmCudaMemcpyD2HAsync(unsafe.Pointer(&dst[0]), C.uintptr_t(src), C.ulonglong(len(dst)), s.ptr))
}

func MemsetAsync(dst uintptr, value byte, bytes int, s Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr("cudaMemsetAsync", C.plssvmCudaMemsetAsync(C.uintptr_t(dst), C.int(value), C.ulonglong(bytes), s.ptr))
}

// LoadModule loads a PTX or cubin image into the current context.
func LoadModule(image []byte) (Module, error) {
	if len(image) == 0 {
		return Module{}, svmerr.New(svmerr.KindBackend, "cuModuleLoadData", "empty module image")
	}
	// PTX must be NUL terminated.
	buf := C.CBytes(append(image[:len(image):len(image)], 0))
	defer C.free(buf)
	var mod C.CUmodule
	if err := driverErr("cuModuleLoadData", C.plssvmCuModuleLoadData(&mod, buf)); err != nil {
		return Module{}, err
	}
	return Module{ptr: mod}, nil
}

func (m Module) Unload() error {
	if m.ptr == nil {
		return nil
	}
	return driverErr("cuModuleUnload", C.plssvmCuModuleUnload(m.ptr))
}

func (m Module) Function(name string) (Function, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var fn C.CUfunction
	if err := driverErr("cuModuleGetFunction", C.plssvmCuModuleGetFunction(&fn, m.ptr, cname)); err != nil {
		return Function{}, svmerr.Wrap(svmerr.KindBackend, "cuModuleGetFunction", err, "kernel %q", name)
	}
	return Function{ptr: fn, name: name}, nil
}

func (f Function) Name() string { return f.name }

// Launch enqueues fn on s. values[i] points to an argument of sizes[i] bytes.
func Launch(fn Function, grid, block [3]uint32, s Stream, values []unsafe.Pointer, sizes []uintptr) error {
	n := len(values)
	params := unsafe.Slice((*unsafe.Pointer)(C.malloc(C.size_t(max(n, 1))*C.size_t(unsafe.Sizeof(uintptr(0))))), max(n, 1))
	defer C.free(unsafe.Pointer(&params[0]))

	// The parameter array handed to the driver must not point into the Go heap.
	for i := range n {
		tmp := C.malloc(C.size_t(sizes[i]))
		defer C.free(tmp)
		C.memcpy(tmp, values[i], C.size_t(sizes[i]))
		params[i] = tmp
	}
	code := C.plssvmCuLaunchKernel(fn.ptr,
		C.uint(grid[0]), C.uint(grid[1]), C.uint(grid[2]),
		C.uint(block[0]), C.uint(block[1]), C.uint(block[2]),
		s.ptr, &params[0])
	if err := driverErr("cuLaunchKernel", code); err != nil {
		return svmerr.Wrap(svmerr.KindBackend, "cuLaunchKernel", err, "kernel %q", fn.name)
	}
	return nil
}

func cudaErr(call string, code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.plssvmCudaGetErrorString(code))
	return svmerr.Backend("cuda", call, int(code), msg)
}

func driverErr(call string, code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.plssvmCuGetErrorString(code))
	return svmerr.Backend("cuda", call, int(code), msg)
}
