//go:build opencl

package backend

import (
	"github.com/samcharles93/plssvm/internal/backend/opencl"
	"github.com/samcharles93/plssvm/internal/csvm"
)

const hasOpenCL = true

// openclFilter maps a target platform to an OpenCL device filter.
func openclFilter(t Target) (opencl.DeviceType, []string) {
	switch t {
	case CPU:
		return opencl.CPUDevices, nil
	case GPUNvidia:
		return opencl.GPUDevices, []string{"nvidia"}
	case GPUAMD:
		return opencl.GPUDevices, []string{"amd", "advanced micro devices"}
	case GPUIntel:
		return opencl.GPUDevices, []string{"intel"}
	default:
		return opencl.AllDevices, nil
	}
}

func newOpenCL[T csvm.Real](opts Options, target Target) (csvm.KernelBackend[T], error) {
	typ, vendors := openclFilter(target)
	b, err := opencl.New[T](opencl.Options{
		Devices:      opts.Devices,
		KernelSource: opts.KernelSource,
		Type:         typ,
		Vendors:      vendors,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func openclDeviceNames() ([]string, error) {
	devs, err := opencl.Devices(opencl.AllDevices)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(devs))
	for i, d := range devs {
		names[i] = d.Name + " (" + d.Vendor + ")"
	}
	return names, nil
}
