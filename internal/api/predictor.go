package api

import (
	"sync"

	"github.com/samcharles93/plssvm/internal/csvm"
)

// ModelInfo describes the served model.
type ModelInfo struct {
	KernelType        string     `json:"kernel_type"`
	Degree            int        `json:"degree,omitempty"`
	Gamma             float64    `json:"gamma,omitempty"`
	Coef0             float64    `json:"coef0,omitempty"`
	Cost              float64    `json:"cost"`
	Rho               float64    `json:"rho"`
	Labels            [2]float64 `json:"labels"`
	NumSupportVectors int        `json:"num_support_vectors"`
	NumFeatures       int        `json:"num_features"`
	Precision         string     `json:"precision"`
	Backend           string     `json:"backend"`
	Devices           int        `json:"devices"`
}

// Predictor computes decision values for a trained model. Implementations
// must be safe for concurrent use.
type Predictor interface {
	Predict(points [][]float64) ([]float64, error)
	Info() ModelInfo
}

type svmPredictor[T csvm.Real] struct {
	mu  sync.Mutex
	svm *csvm.CSVM[T]
}

// NewPredictor serializes access to svm.
func NewPredictor[T csvm.Real](svm *csvm.CSVM[T]) Predictor {
	return &svmPredictor[T]{svm: svm}
}

func (p *svmPredictor[T]) Predict(points [][]float64) ([]float64, error) {
	conv := make([][]T, len(points))
	for i, row := range points {
		conv[i] = make([]T, len(row))
		for j, v := range row {
			conv[i][j] = T(v)
		}
	}
	p.mu.Lock()
	values, err := p.svm.Predict(conv)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out, nil
}

func (p *svmPredictor[T]) Info() ModelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	param := p.svm.Parameter()
	info := ModelInfo{
		KernelType:        param.Kernel.String(),
		Cost:              param.Cost,
		Rho:               -float64(p.svm.Bias()),
		Labels:            p.svm.ClassLabels(),
		NumSupportVectors: p.svm.NumDataPoints(),
		NumFeatures:       p.svm.NumFeatures(),
		Precision:         "double",
		Backend:           p.svm.Backend().Name(),
		Devices:           p.svm.Backend().DeviceCount(),
	}
	var zero T
	if _, ok := any(zero).(float32); ok {
		info.Precision = "float"
	}
	switch param.Kernel {
	case csvm.Polynomial:
		info.Degree, info.Gamma, info.Coef0 = param.Degree, param.Gamma, param.Coef0
	case csvm.RBF:
		info.Gamma = param.Gamma
	}
	return info
}
