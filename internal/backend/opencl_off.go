//go:build !opencl

package backend

import (
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

const hasOpenCL = false

func newOpenCL[T csvm.Real](Options, Target) (csvm.KernelBackend[T], error) {
	return nil, svmerr.UnsupportedBackend("No OpenCL backend available!")
}

func openclDeviceNames() ([]string, error) { return nil, nil }
