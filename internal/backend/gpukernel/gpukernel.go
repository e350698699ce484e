// Package gpukernel defines the launch ABI shared by the GPU backends: kernel
// symbol names and the order and types of kernel arguments. The kernel bodies
// themselves are external artifacts (PTX, HIP code objects, OpenCL C) built
// against this ABI.
package gpukernel

import (
	"fmt"
	"unsafe"

	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/device"
	"github.com/samcharles93/plssvm/internal/svmerr"
	"github.com/samcharles93/plssvm/internal/tiling"
)

// Kind identifies one of the four device kernels.
type Kind int

const (
	Q Kind = iota
	SVM
	W
	Predict
)

func (k Kind) String() string {
	switch k {
	case Q:
		return "q"
	case SVM:
		return "svm"
	case W:
		return "w"
	case Predict:
		return "predict"
	default:
		return "unknown"
	}
}

func kernelSuffix(kernel csvm.KernelType) (string, error) {
	switch kernel {
	case csvm.Linear:
		return "linear", nil
	case csvm.Polynomial:
		return "poly", nil
	case csvm.RBF:
		return "radial", nil
	default:
		return "", svmerr.UnsupportedKernelType("gpukernel", "unknown kernel type %d", int(kernel))
	}
}

func precisionSuffix[T csvm.Real]() string {
	var zero T
	if unsafe.Sizeof(zero) == 4 {
		return "f32"
	}
	return "f64"
}

// Name returns the symbol of the kernel of the given kind, e.g.
// device_kernel_q_radial_f64. The w kernel only exists for the linear kernel and
// the predict kernel only for the non-linear ones.
func Name[T csvm.Real](kind Kind, kernel csvm.KernelType) (string, error) {
	suffix, err := kernelSuffix(kernel)
	if err != nil {
		return "", err
	}
	p := precisionSuffix[T]()
	switch kind {
	case Q:
		return fmt.Sprintf("device_kernel_q_%s_%s", suffix, p), nil
	case SVM:
		return fmt.Sprintf("device_kernel_%s_%s", suffix, p), nil
	case W:
		if kernel != csvm.Linear {
			return "", svmerr.UnsupportedKernelType("gpukernel", "the w kernel requires the linear kernel, got %s", kernel)
		}
		return "device_kernel_w_linear_" + p, nil
	case Predict:
		if kernel == csvm.Linear {
			return "", svmerr.UnsupportedKernelType("gpukernel", "the linear kernel predicts through w")
		}
		return fmt.Sprintf("device_kernel_predict_%s_%s", suffix, p), nil
	default:
		return "", svmerr.New(svmerr.KindBackend, "gpukernel", "unknown kernel kind %d", int(kind))
	}
}

// Names lists every symbol a kernel artifact must export for one kernel type.
func Names[T csvm.Real](kernel csvm.KernelType) ([]string, error) {
	var out []string
	for _, kind := range []Kind{Q, SVM, W, Predict} {
		name, err := Name[T](kind, kernel)
		if err != nil {
			if kind == W || kind == Predict {
				continue
			}
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

type argKind uint8

const (
	argPtr argKind = iota
	argInt
	argF32
	argF64
)

type arg struct {
	kind argKind
	ptr  uintptr
	i32  int32
	f32  float32
	f64  float64
}

// Args is an ordered kernel argument list. Pointers() hands out addresses into
// the list, so it must stay alive until the launch call returns.
type Args struct {
	list []arg
}

func (a *Args) Handle(h device.Handle) *Args {
	a.list = append(a.list, arg{kind: argPtr, ptr: uintptr(h)})
	return a
}

func (a *Args) Int(v int) *Args {
	a.list = append(a.list, arg{kind: argInt, i32: int32(v)})
	return a
}

func (a *Args) Bool(v bool) *Args {
	if v {
		return a.Int(1)
	}
	return a.Int(0)
}

func realArg[T csvm.Real](a *Args, v T) *Args {
	var zero T
	if unsafe.Sizeof(zero) == 4 {
		a.list = append(a.list, arg{kind: argF32, f32: float32(v)})
	} else {
		a.list = append(a.list, arg{kind: argF64, f64: float64(v)})
	}
	return a
}

// Len is the number of arguments.
func (a *Args) Len() int { return len(a.list) }

// Pointers returns one pointer per argument to its value, as expected by
// cuLaunchKernel and hipModuleLaunchKernel.
func (a *Args) Pointers() []unsafe.Pointer {
	out := make([]unsafe.Pointer, len(a.list))
	for i := range a.list {
		v := &a.list[i]
		switch v.kind {
		case argPtr:
			out[i] = unsafe.Pointer(&v.ptr)
		case argInt:
			out[i] = unsafe.Pointer(&v.i32)
		case argF32:
			out[i] = unsafe.Pointer(&v.f32)
		case argF64:
			out[i] = unsafe.Pointer(&v.f64)
		}
	}
	return out
}

// Sizes returns the byte size of every argument, as expected by clSetKernelArg.
func (a *Args) Sizes() []uintptr {
	out := make([]uintptr, len(a.list))
	for i, v := range a.list {
		switch v.kind {
		case argPtr:
			out[i] = unsafe.Sizeof(v.ptr)
		case argInt:
			out[i] = 4
		case argF32:
			out[i] = 4
		case argF64:
			out[i] = 8
		}
	}
	return out
}

func handleOf[T csvm.Real](p *device.Ptr[T]) device.Handle {
	if p == nil {
		return 0
	}
	return p.Handle()
}

func kernelParams[T csvm.Real](a *Args, kp csvm.KernelParams[T]) {
	switch kp.Kernel {
	case csvm.Polynomial:
		a.Int(kp.Degree)
		realArg(a, kp.Gamma)
		realArg(a, kp.Coef0)
	case csvm.RBF:
		realArg(a, kp.Gamma)
	}
}

// Build assembles the arguments of a launch. The order per kind is:
//
//	q:       q, data, data_last, num_rows, num_features, row_begin, row_end, [kernel params]
//	svm:     q, r, d, data, QA_cost, 1/cost, num_rows, num_features, row_begin, row_end, add, [kernel params]
//	w:       w, alpha, data, data_last, num_rows, num_features, row_begin, row_end, owns_last
//	predict: out, alpha, data, data_last, points, num_rows, num_predict, num_features, row_begin, row_end, owns_last, [kernel params]
//
// Kernel params are (degree, gamma, coef0) for poly, (gamma) for rbf and empty for linear.
func Build[T csvm.Real](kind Kind, b *csvm.Buffers[T], add T, ka csvm.KernelArgs[T]) (*Args, error) {
	a := &Args{}
	switch kind {
	case Q:
		a.Handle(handleOf(b.Q)).Handle(handleOf(b.Data)).Handle(handleOf(b.DataLast))
		a.Int(ka.NumRows).Int(ka.NumFeatures).Int(ka.RowBegin).Int(ka.RowEnd)
		kernelParams(a, ka.Kernel)
	case SVM:
		a.Handle(handleOf(b.Q)).Handle(handleOf(b.R)).Handle(handleOf(b.D)).Handle(handleOf(b.Data))
		realArg(a, ka.QACost)
		realArg(a, ka.InverseCost)
		a.Int(ka.NumRows).Int(ka.NumFeatures).Int(ka.RowBegin).Int(ka.RowEnd)
		realArg(a, add)
		kernelParams(a, ka.Kernel)
	case W:
		a.Handle(handleOf(b.W)).Handle(handleOf(b.Alpha)).Handle(handleOf(b.Data)).Handle(handleOf(b.DataLast))
		a.Int(ka.NumRows).Int(ka.NumFeatures).Int(ka.RowBegin).Int(ka.RowEnd).Bool(ka.OwnsLast)
	case Predict:
		a.Handle(handleOf(b.Out)).Handle(handleOf(b.Alpha)).Handle(handleOf(b.Data)).Handle(handleOf(b.DataLast)).Handle(handleOf(b.Points))
		a.Int(ka.NumRows).Int(ka.NumPredict).Int(ka.NumFeatures).Int(ka.RowBegin).Int(ka.RowEnd).Bool(ka.OwnsLast)
		kernelParams(a, ka.Kernel)
	default:
		return nil, svmerr.New(svmerr.KindBackend, "gpukernel", "unknown kernel kind %d", int(kind))
	}
	for i, v := range a.list {
		if v.kind == argPtr && v.ptr == 0 {
			return nil, svmerr.New(svmerr.KindBackend, "gpukernel", "%s kernel argument %d is a null device pointer", kind, i)
		}
	}
	return a, nil
}

// Dims converts a range to launch dimensions.
func Dims(r tiling.Range) (grid, block [3]uint32) {
	for i := range 3 {
		grid[i] = uint32(max(r.Grid[i], 1))
		block[i] = uint32(max(r.Block[i], 1))
	}
	return grid, block
}

// GlobalSize is the OpenCL NDRange global size (grid × block) per dimension.
func GlobalSize(r tiling.Range) [3]uintptr {
	grid, block := Dims(r)
	return [3]uintptr{uintptr(grid[0] * block[0]), uintptr(grid[1] * block[1]), uintptr(grid[2] * block[2])}
}
