//go:build hip

package backend

import (
	"github.com/samcharles93/plssvm/internal/backend/hip"
	"github.com/samcharles93/plssvm/internal/csvm"
)

const hasHIP = true

func newHIP[T csvm.Real](opts Options) (csvm.KernelBackend[T], error) {
	b, err := hip.New[T](hip.Options{Devices: opts.Devices, KernelSource: opts.KernelSource})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func hipDeviceNames() ([]string, error) { return hip.DeviceNames() }
