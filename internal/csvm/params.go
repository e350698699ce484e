package csvm

import (
	"fmt"
	"strings"

	"github.com/samcharles93/plssvm/internal/device"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

// Real is the floating point type the solver runs in.
type Real interface {
	device.Real
}

// KernelType selects the kernel function.
type KernelType int

const (
	Linear KernelType = iota
	Polynomial
	RBF
)

// ParseKernelType accepts the names and numeric ids used by LIBSVM, case-insensitively.
func ParseKernelType(s string) (KernelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear", "0":
		return Linear, nil
	case "polynomial", "poly", "1":
		return Polynomial, nil
	case "rbf", "2":
		return RBF, nil
	default:
		return 0, svmerr.UnsupportedKernelType("parse_kernel_type", "unknown kernel type %q", s)
	}
}

func (k KernelType) String() string {
	switch k {
	case Linear:
		return "linear"
	case Polynomial:
		return "polynomial"
	case RBF:
		return "rbf"
	default:
		return "unknown"
	}
}

// MathString renders the kernel formula.
func (k KernelType) MathString() string {
	switch k {
	case Linear:
		return "u'*v"
	case Polynomial:
		return "(gamma*u'*v+coef0)^degree"
	case RBF:
		return "exp(-gamma*|u-v|^2)"
	default:
		return "unknown"
	}
}

func (k KernelType) valid() bool {
	return k == Linear || k == Polynomial || k == RBF
}

// MarshalText and UnmarshalText let KernelType appear in YAML/JSON as its name.
func (k KernelType) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, svmerr.UnsupportedKernelType("marshal_kernel_type", "unknown kernel type %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *KernelType) UnmarshalText(b []byte) error {
	v, err := ParseKernelType(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Parameter holds the kernel and regularization hyper-parameters. A zero Gamma
// means 1/numFeatures and is resolved when data is bound.
type Parameter struct {
	Kernel KernelType
	Degree int
	Gamma  float64
	Coef0  float64
	Cost   float64
}

// DefaultParameter matches the LIBSVM defaults.
func DefaultParameter() Parameter {
	return Parameter{
		Kernel: Linear,
		Degree: 3,
		Gamma:  0,
		Coef0:  0,
		Cost:   1,
	}
}

// Validate checks the parameter ranges independent of any data.
func (p Parameter) Validate() error {
	if !p.Kernel.valid() {
		return svmerr.UnsupportedKernelType("validate", "unknown kernel type %d", int(p.Kernel))
	}
	if !(p.Cost > 0) {
		return svmerr.InvalidParameter("cost", "must be positive, got %g", p.Cost)
	}
	if p.Kernel != Linear && p.Gamma < 0 {
		return svmerr.InvalidParameter("gamma", "must be positive, got %g", p.Gamma)
	}
	if p.Kernel == Polynomial && p.Degree < 1 {
		return svmerr.InvalidParameter("degree", "must be at least 1, got %d", p.Degree)
	}
	return nil
}

func (p Parameter) String() string {
	switch p.Kernel {
	case Linear:
		return fmt.Sprintf("kernel_type=%s cost=%g", p.Kernel, p.Cost)
	case Polynomial:
		return fmt.Sprintf("kernel_type=%s degree=%d gamma=%g coef0=%g cost=%g", p.Kernel, p.Degree, p.Gamma, p.Coef0, p.Cost)
	default:
		return fmt.Sprintf("kernel_type=%s gamma=%g cost=%g", p.Kernel, p.Gamma, p.Cost)
	}
}

// withDefaults resolves the default gamma.
func (p Parameter) withDefaults(numFeatures int) Parameter {
	if p.Gamma == 0 && numFeatures > 0 {
		p.Gamma = 1 / float64(numFeatures)
	}
	return p
}
