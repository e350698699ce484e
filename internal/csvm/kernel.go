package csvm

import (
	"math"

	"github.com/samcharles93/plssvm/internal/svmerr"
)

// KernelParams is the per-launch view of Parameter in the solver's precision.
// Kernels accumulate feature by feature and finalize once per matrix entry.
type KernelParams[T Real] struct {
	Kernel KernelType
	Degree int
	Gamma  T
	Coef0  T
}

func kernelParams[T Real](p Parameter) KernelParams[T] {
	return KernelParams[T]{Kernel: p.Kernel, Degree: p.Degree, Gamma: T(p.Gamma), Coef0: T(p.Coef0)}
}

// Accumulate folds one feature pair into acc: a product for linear and
// polynomial kernels, a squared difference for rbf.
func (k KernelParams[T]) Accumulate(acc, a, b T) T {
	if k.Kernel == RBF {
		d := a - b
		return acc + d*d
	}
	return acc + a*b
}

// Finalize turns an accumulated value into the kernel value.
func (k KernelParams[T]) Finalize(acc T) T {
	switch k.Kernel {
	case Polynomial:
		return T(math.Pow(float64(k.Gamma*acc+k.Coef0), float64(k.Degree)))
	case RBF:
		return T(math.Exp(float64(-k.Gamma * acc)))
	default:
		return acc
	}
}

// Eval computes k(xi, xj). Lengths must match.
func (k KernelParams[T]) Eval(xi, xj []T) T {
	var acc T
	for f := range xi {
		acc = k.Accumulate(acc, xi[f], xj[f])
	}
	return k.Finalize(acc)
}

// KernelFunction evaluates the kernel selected by p on xi and xj.
func KernelFunction[T Real](xi, xj []T, p Parameter) (T, error) {
	if len(xi) != len(xj) {
		return 0, svmerr.InvalidData("kernel_function", "sizes mismatch: %d != %d", len(xi), len(xj))
	}
	if !p.Kernel.valid() {
		return 0, svmerr.UnsupportedKernelType("kernel_function", "unknown kernel type %d", int(p.Kernel))
	}
	return kernelParams[T](p).Eval(xi, xj), nil
}
