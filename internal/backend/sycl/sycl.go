// Package sycl holds the SYCL selectors. No SYCL implementation can be linked
// from Go, so the backend itself is never available; the selectors are still
// parsed, validated and reported.
package sycl

import (
	"strings"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

// ImplementationType selects the SYCL implementation.
type ImplementationType int

const (
	AutomaticImplementation ImplementationType = iota
	DPCPP
	AdaptiveCpp
)

func (t ImplementationType) String() string {
	switch t {
	case AutomaticImplementation:
		return "automatic"
	case DPCPP:
		return "dpcpp"
	case AdaptiveCpp:
		return "adaptivecpp"
	default:
		return "unknown"
	}
}

// ParseImplementationType accepts the names printed by String plus the
// aliases icpx, acpp and hipsycl.
func ParseImplementationType(s string) (ImplementationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "automatic":
		return AutomaticImplementation, nil
	case "dpcpp", "dpc++", "icpx":
		return DPCPP, nil
	case "adaptivecpp", "acpp", "hipsycl":
		return AdaptiveCpp, nil
	default:
		return 0, svmerr.InvalidParameter("sycl_implementation_type", "unknown SYCL implementation type %q (expected automatic, dpcpp or adaptivecpp)", s)
	}
}

func (t ImplementationType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *ImplementationType) UnmarshalText(b []byte) error {
	v, err := ParseImplementationType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// KernelInvocationType selects how SYCL kernels are launched.
type KernelInvocationType int

const (
	AutomaticInvocation KernelInvocationType = iota
	NDRange
	Hierarchical
)

func (t KernelInvocationType) String() string {
	switch t {
	case AutomaticInvocation:
		return "automatic"
	case NDRange:
		return "nd_range"
	case Hierarchical:
		return "hierarchical"
	default:
		return "unknown"
	}
}

func ParseKernelInvocationType(s string) (KernelInvocationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "automatic":
		return AutomaticInvocation, nil
	case "nd_range", "ndrange":
		return NDRange, nil
	case "hierarchical":
		return Hierarchical, nil
	default:
		return 0, svmerr.InvalidParameter("sycl_kernel_invocation_type", "unknown SYCL kernel invocation type %q (expected automatic, nd_range or hierarchical)", s)
	}
}

func (t KernelInvocationType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *KernelInvocationType) UnmarshalText(b []byte) error {
	v, err := ParseKernelInvocationType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Unavailable is the error returned for every SYCL backend request.
func Unavailable(impl ImplementationType) error {
	switch impl {
	case DPCPP:
		return svmerr.UnsupportedBackend("No SYCL backend using DPC++ available!")
	case AdaptiveCpp:
		return svmerr.UnsupportedBackend("No SYCL backend using AdaptiveCpp available!")
	default:
		return svmerr.UnsupportedBackend("No SYCL backend available!")
	}
}
