//go:build !cuda

package backend

import (
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

const hasCUDA = false

func newCUDA[T csvm.Real](Options) (csvm.KernelBackend[T], error) {
	return nil, svmerr.UnsupportedBackend("No CUDA backend available!")
}

func cudaDeviceNames() ([]string, error) { return nil, nil }
