package backend

import (
	"strings"
)

// Has reports whether backend b is compiled into this binary.
func Has(b Type) bool {
	switch b {
	case OpenMP:
		return true
	case CUDA:
		return hasCUDA
	case HIP:
		return hasHIP
	case OpenCL:
		return hasOpenCL
	default:
		return false
	}
}

// Available returns the backends compiled into this binary.
func Available() []Type {
	var out []Type
	for _, b := range []Type{OpenMP, CUDA, HIP, OpenCL, SYCL} {
		if Has(b) {
			out = append(out, b)
		}
	}
	return out
}

// AvailableString is Available as a comma-separated list.
func AvailableString() string {
	entries := make([]string, 0, 5)
	for _, b := range Available() {
		entries = append(entries, string(b))
	}
	return strings.Join(entries, ",")
}

// AvailableTargets returns the target platforms some compiled-in backend can serve.
func AvailableTargets() []Target {
	var out []Target
	for _, t := range []Target{CPU, GPUNvidia, GPUAMD, GPUIntel} {
		for _, b := range Available() {
			if supports(b, t) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// DeviceInfo is one device of a compiled-in backend.
type DeviceInfo struct {
	Backend Type
	Index   int
	Name    string
}

// Devices enumerates the devices visible to every compiled-in GPU backend.
// Backends whose runtime cannot be queried report the error instead.
func Devices() ([]DeviceInfo, map[Type]error) {
	var out []DeviceInfo
	errs := map[Type]error{}
	for _, q := range []struct {
		b     Type
		names func() ([]string, error)
	}{
		{CUDA, cudaDeviceNames},
		{HIP, hipDeviceNames},
		{OpenCL, openclDeviceNames},
	} {
		if !Has(q.b) {
			continue
		}
		names, err := q.names()
		if err != nil {
			errs[q.b] = err
			continue
		}
		for i, n := range names {
			out = append(out, DeviceInfo{Backend: q.b, Index: i, Name: n})
		}
	}
	return out, errs
}
