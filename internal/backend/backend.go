// Package backend selects and constructs the device backend of a C-SVM.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/samcharles93/plssvm/internal/backend/openmp"
	"github.com/samcharles93/plssvm/internal/backend/sycl"
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/logger"
	"github.com/samcharles93/plssvm/internal/perf"
	"github.com/samcharles93/plssvm/internal/svmerr"
	"github.com/samcharles93/plssvm/internal/tiling"
)

// Type names a backend.
type Type string

const (
	Automatic Type = "automatic"
	OpenMP    Type = "openmp"
	CUDA      Type = "cuda"
	HIP       Type = "hip"
	OpenCL    Type = "opencl"
	SYCL      Type = "sycl"
)

// Target names a target platform.
type Target string

const (
	TargetAutomatic Target = "automatic"
	CPU             Target = "cpu"
	GPUNvidia       Target = "gpu_nvidia"
	GPUAMD          Target = "gpu_amd"
	GPUIntel        Target = "gpu_intel"
)

// Normalize parses a backend name. The empty string means automatic.
func Normalize(name string) (Type, error) {
	b := Type(strings.ToLower(strings.TrimSpace(name)))
	switch b {
	case "", "auto":
		return Automatic, nil
	case Automatic, OpenMP, CUDA, HIP, OpenCL, SYCL:
		return b, nil
	default:
		return "", svmerr.UnsupportedBackend("unknown backend %q (expected automatic, openmp, cuda, hip, opencl or sycl)", name)
	}
}

// NormalizeTarget parses a target platform name. The empty string means automatic.
func NormalizeTarget(name string) (Target, error) {
	t := Target(strings.ToLower(strings.TrimSpace(name)))
	switch t {
	case "", "auto":
		return TargetAutomatic, nil
	case TargetAutomatic, CPU, GPUNvidia, GPUAMD, GPUIntel:
		return t, nil
	default:
		return "", svmerr.UnsupportedBackend("unknown target platform %q (expected automatic, cpu, gpu_nvidia, gpu_amd or gpu_intel)", name)
	}
}

func (b Type) displayName() string {
	switch b {
	case OpenMP:
		return "OpenMP"
	case CUDA:
		return "CUDA"
	case HIP:
		return "HIP"
	case OpenCL:
		return "OpenCL"
	case SYCL:
		return "SYCL"
	default:
		return string(b)
	}
}

// supports reports whether backend b can run on target t.
func supports(b Type, t Target) bool {
	switch b {
	case OpenMP:
		return t == CPU
	case CUDA:
		return t == GPUNvidia
	case HIP:
		return t == GPUAMD
	case OpenCL, SYCL:
		return true
	default:
		return false
	}
}

// defaultTarget is the target a backend uses when none was requested.
func defaultTarget(b Type) Target {
	switch b {
	case CUDA:
		return GPUNvidia
	case HIP:
		return GPUAMD
	case OpenMP:
		return CPU
	default:
		return TargetAutomatic
	}
}

// preference is the order automatic selection tries the backends in.
var preference = []Type{CUDA, HIP, OpenCL, SYCL, OpenMP}

// Resolve turns automatic selections into a concrete backend and target and
// checks that the pair is available in this build.
func Resolve(b Type, t Target) (Type, Target, error) {
	if b == "" {
		b = Automatic
	}
	if t == "" {
		t = TargetAutomatic
	}
	if b == Automatic {
		for _, cand := range preference {
			if Has(cand) && (t == TargetAutomatic || supports(cand, t)) {
				b = cand
				break
			}
		}
		if b == Automatic {
			return "", "", svmerr.UnsupportedBackend("No backend available for target platform '%s'!", t)
		}
	}
	if !Has(b) {
		return "", "", svmerr.UnsupportedBackend("No %s backend available!", b.displayName())
	}
	if t == TargetAutomatic {
		t = defaultTarget(b)
	}
	if t != TargetAutomatic && !supports(b, t) {
		return "", "", svmerr.UnsupportedBackend("Invalid target platform '%s' for the %s backend!", t, b.displayName())
	}
	return b, t, nil
}

// Options configure backend construction.
type Options struct {
	Backend Type
	Target  Target
	Tuning  tiling.Config
	// Devices is the number of devices to use; zero uses all. For the OpenMP
	// backend it is the number of virtual devices.
	Devices int
	// Workers is the OpenMP goroutine count per launch.
	Workers int
	// KernelSource is the path of the GPU kernel artifact (PTX, HIP code object
	// or OpenCL C source).
	KernelSource string

	SYCLImplementation sycl.ImplementationType
	SYCLInvocation     sycl.KernelInvocationType
}

// tuning returns the configured tiling or the default when unset.
func (o Options) tuning() tiling.Config {
	if o.Tuning == (tiling.Config{}) {
		return tiling.Default()
	}
	return o.Tuning
}

// NewKernelBackend creates the backend selected by opts.
func NewKernelBackend[T csvm.Real](ctx context.Context, opts Options) (csvm.KernelBackend[T], error) {
	b, target, err := Resolve(opts.Backend, opts.Target)
	if err != nil {
		return nil, err
	}
	if err := opts.tuning().Validate(); err != nil {
		return nil, svmerr.Wrap(svmerr.KindInvalidParameter, "tuning", err, "invalid tuning configuration")
	}

	var kb csvm.KernelBackend[T]
	switch b {
	case OpenMP:
		kb, err = openmp.New[T](openmp.Options{Devices: opts.Devices, Workers: opts.Workers, Tuning: opts.tuning()})
	case CUDA:
		kb, err = newCUDA[T](opts)
	case HIP:
		kb, err = newHIP[T](opts)
	case OpenCL:
		kb, err = newOpenCL[T](opts, target)
	case SYCL:
		err = sycl.Unavailable(opts.SYCLImplementation)
	default:
		err = svmerr.UnsupportedBackend("Can't recognize backend %q!", b)
	}
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("using backend", "backend", kb.Name(), "target", string(target), "devices", kb.DeviceCount())
	tracker := perf.FromContext(ctx)
	tracker.Add(perf.CategoryBackend, "backend", string(b))
	tracker.Add(perf.CategoryBackend, "target_platform", string(target))
	tracker.Add(perf.CategoryBackend, "num_devices", kb.DeviceCount())
	return kb, nil
}

// New creates a backend and a C-SVM over the training data.
func New[T csvm.Real](ctx context.Context, opts Options, param csvm.Parameter, data [][]T, labels []T) (*csvm.CSVM[T], error) {
	kb, err := NewKernelBackend[T](ctx, opts)
	if err != nil {
		return nil, err
	}
	svm, err := csvm.New(kb, opts.tuning(), param, data, labels)
	if err != nil {
		_ = kb.Close()
		return nil, err
	}
	return svm, nil
}

// NewFromModel creates a backend and a C-SVM ready to predict with m.
func NewFromModel[T csvm.Real](ctx context.Context, opts Options, m *csvm.Model[T]) (*csvm.CSVM[T], error) {
	kb, err := NewKernelBackend[T](ctx, opts)
	if err != nil {
		return nil, err
	}
	svm, err := csvm.FromModel(kb, opts.tuning(), m)
	if err != nil {
		_ = kb.Close()
		return nil, fmt.Errorf("load model: %w", err)
	}
	return svm, nil
}
