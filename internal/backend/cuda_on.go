//go:build cuda

package backend

import (
	"github.com/samcharles93/plssvm/internal/backend/cuda"
	"github.com/samcharles93/plssvm/internal/csvm"
)

const hasCUDA = true

func newCUDA[T csvm.Real](opts Options) (csvm.KernelBackend[T], error) {
	b, err := cuda.New[T](cuda.Options{Devices: opts.Devices, KernelSource: opts.KernelSource})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func cudaDeviceNames() ([]string, error) { return cuda.DeviceNames() }
