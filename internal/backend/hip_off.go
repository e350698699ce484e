//go:build !hip

package backend

import (
	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

const hasHIP = false

func newHIP[T csvm.Real](Options) (csvm.KernelBackend[T], error) {
	return nil, svmerr.UnsupportedBackend("No HIP backend available!")
}

func hipDeviceNames() ([]string, error) { return nil, nil }
