// Package csvm implements a binary least-squares support vector machine whose
// kernel matrix is never materialized: every matrix-vector product of the
// conjugate gradient solver is computed by device kernels supplied through
// KernelBackend.
package csvm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samcharles93/plssvm/internal/logger"
	"github.com/samcharles93/plssvm/internal/perf"
	"github.com/samcharles93/plssvm/internal/svmerr"
	"github.com/samcharles93/plssvm/internal/tiling"
)

type state int

const (
	stateConstructed state = iota
	stateDataLoaded
	stateModelFit
)

func (s state) String() string {
	switch s {
	case stateConstructed:
		return "constructed"
	case stateDataLoaded:
		return "data_loaded"
	case stateModelFit:
		return "model_fit"
	default:
		return "unknown"
	}
}

// TeardownFatal is called when a device fails while the solver shuts down.
// Device state is undefined at that point, so the process exits.
var TeardownFatal = func(err error) {
	logger.Default().Error("device failure during teardown", "error", err, "location", svmerr.Location(err))
	os.Exit(1)
}

// LearnOptions control the CG solve. MaxIter == 0 means one iteration per data point.
type LearnOptions struct {
	Epsilon float64
	MaxIter int
}

// DefaultLearnOptions returns epsilon 0.001 and an automatic iteration cap.
func DefaultLearnOptions() LearnOptions {
	return LearnOptions{Epsilon: 0.001}
}

// CSVM is a binary LS-SVM bound to one backend. It is not safe for concurrent
// use: Learn must not race Predict.
type CSVM[T Real] struct {
	backend KernelBackend[T]
	tuning  tiling.Config
	param   Parameter
	labels  [2]float64

	data        [][]T
	y           []T
	numPoints   int
	numFeatures int

	qaCost T
	alpha  []T
	bias   T
	w      []T
	cg     CGResult[T]
	state  state

	devices      []*deviceSlot[T]
	alphaUpdated bool
}

func validateData[T Real](op string, data [][]T) (int, error) {
	if len(data) < 2 {
		return 0, svmerr.InvalidData(op, "at least two data points are required, got %d", len(data))
	}
	numFeatures := len(data[0])
	if numFeatures == 0 {
		return 0, svmerr.InvalidData(op, "data points have no features")
	}
	for i, row := range data {
		if len(row) != numFeatures {
			return 0, svmerr.InvalidData(op, "point %d has %d features, expected %d", i, len(row), numFeatures)
		}
	}
	return numFeatures, nil
}

// New binds labelled training data to backend. labels must be +1 or -1.
// The CSVM takes ownership of backend and closes it in Close.
func New[T Real](backend KernelBackend[T], tuning tiling.Config, param Parameter, data [][]T, labels []T) (*CSVM[T], error) {
	if err := tuning.Validate(); err != nil {
		return nil, svmerr.Wrap(svmerr.KindInvalidParameter, "tuning", err, "invalid tuning configuration")
	}
	if err := param.Validate(); err != nil {
		return nil, err
	}
	numFeatures, err := validateData("new", data)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(data) {
		return nil, svmerr.InvalidData("new", "number of labels (%d) must match the number of data points (%d)", len(labels), len(data))
	}
	for i, y := range labels {
		if y != 1 && y != -1 {
			return nil, svmerr.InvalidData("new", "label of point %d must be +1 or -1, got %v", i, y)
		}
	}
	return &CSVM[T]{
		backend:     backend,
		tuning:      tuning,
		param:       param.withDefaults(numFeatures),
		labels:      [2]float64{1, -1},
		data:        data,
		y:           labels,
		numPoints:   len(data),
		numFeatures: numFeatures,
		state:       stateDataLoaded,
	}, nil
}

// FromModel builds a predict-only CSVM from a trained model.
func FromModel[T Real](backend KernelBackend[T], tuning tiling.Config, m *Model[T]) (*CSVM[T], error) {
	if err := tuning.Validate(); err != nil {
		return nil, svmerr.Wrap(svmerr.KindInvalidParameter, "tuning", err, "invalid tuning configuration")
	}
	if err := m.Param.Validate(); err != nil {
		return nil, err
	}
	numFeatures, err := validateData("from_model", m.SV)
	if err != nil {
		return nil, err
	}
	if len(m.Alpha) != len(m.SV) {
		return nil, svmerr.ModelFormat("from_model", "%d coefficients for %d support vectors", len(m.Alpha), len(m.SV))
	}
	y := m.Y
	if len(y) != len(m.SV) {
		y = make([]T, len(m.SV))
	}
	return &CSVM[T]{
		backend:     backend,
		tuning:      tuning,
		param:       m.Param.withDefaults(numFeatures),
		labels:      m.Labels,
		data:        m.SV,
		y:           y,
		numPoints:   len(m.SV),
		numFeatures: numFeatures,
		alpha:       append([]T(nil), m.Alpha...),
		bias:        -m.Rho,
		state:       stateModelFit,
	}, nil
}

// SetClassLabels records the original labels mapped to +1 and -1 for the model file.
func (c *CSVM[T]) SetClassLabels(positive, negative float64) {
	c.labels = [2]float64{positive, negative}
}

// ClassLabels returns the original labels mapped to +1 and -1.
func (c *CSVM[T]) ClassLabels() [2]float64 { return c.labels }

func (c *CSVM[T]) Parameter() Parameter { return c.param }
func (c *CSVM[T]) Tuning() tiling.Config { return c.tuning }
func (c *CSVM[T]) Backend() KernelBackend[T] { return c.backend }
func (c *CSVM[T]) NumDataPoints() int { return c.numPoints }
func (c *CSVM[T]) NumFeatures() int { return c.numFeatures }
func (c *CSVM[T]) Bias() T { return c.bias }
func (c *CSVM[T]) QACost() T { return c.qaCost }
func (c *CSVM[T]) LastSolve() CGResult[T] { return c.cg }
func (c *CSVM[T]) Fitted() bool { return c.state == stateModelFit }
func (c *CSVM[T]) Alpha() []T { return append([]T(nil), c.alpha...) }
func (c *CSVM[T]) W() []T { return append([]T(nil), c.w...) }

func (c *CSVM[T]) requireFit(op string) error {
	if c.state != stateModelFit {
		return svmerr.New(svmerr.KindInvalidData, op, "no model available (state %s), call Learn first", c.state)
	}
	return nil
}

// Learn solves the LS-SVM system for the bound data.
func (c *CSVM[T]) Learn(ctx context.Context, opts LearnOptions) error {
	if c.state == stateConstructed {
		return svmerr.New(svmerr.KindInvalidData, "learn", "no data bound")
	}
	if !(opts.Epsilon > 0) {
		return svmerr.InvalidParameter("epsilon", "must be positive, got %g", opts.Epsilon)
	}
	if opts.MaxIter < 0 {
		return svmerr.InvalidParameter("max_iter", "must not be negative, got %d", opts.MaxIter)
	}
	log := logger.FromContext(ctx)
	tracker := perf.FromContext(ctx)
	defer tracker.Time(perf.CategoryTiming, "learn")()

	imax := opts.MaxIter
	if imax == 0 {
		imax = c.numPoints
	}
	dept := c.numPoints - 1

	start := time.Now()
	if err := c.setupDataOnDevice(); err != nil {
		return fmt.Errorf("setup data on device: %w", err)
	}
	log.Info("setup data on device",
		"backend", c.backend.Name(),
		"devices", len(c.devices),
		"points", c.numPoints,
		"features", c.numFeatures,
		"elapsed", time.Since(start))
	tracker.Add(perf.CategoryTiming, "setup", time.Since(start))

	kp := kernelParams[T](c.param)
	last := c.data[dept]
	c.qaCost = kp.Eval(last, last) + T(1/c.param.Cost)

	start = time.Now()
	q, err := c.generateQ()
	if err != nil {
		return fmt.Errorf("generate q: %w", err)
	}
	tracker.Add(perf.CategoryTiming, "q", time.Since(start))

	yLast := c.y[dept]
	b := make([]T, dept)
	for i := range b {
		b[i] = c.y[i] - yLast
	}

	start = time.Now()
	res, err := SolveCG(ctx, c.applyKernelMatrix, b, imax, T(opts.Epsilon))
	if err != nil {
		return fmt.Errorf("cg solver: %w", err)
	}
	log.Info("cg finished", "iterations", res.Iterations, "max_iter", imax, "residual", res.Residual, "elapsed", time.Since(start))
	tracker.Add(perf.CategoryCG, "iterations", res.Iterations)
	tracker.Add(perf.CategoryCG, "residual", res.Residual)
	tracker.Add(perf.CategoryCG, "epsilon", opts.Epsilon)
	tracker.Add(perf.CategoryCG, "max_iter", imax)
	tracker.Add(perf.CategoryTiming, "cg", time.Since(start))

	var sum T
	for _, a := range res.X {
		sum += a
	}
	c.bias = yLast + c.qaCost*sum - dot(q, res.X)
	c.alpha = append(res.X, -sum)
	c.cg = res
	c.alphaUpdated = false
	c.w = nil
	c.state = stateModelFit

	if err := c.updateW(); err != nil {
		return fmt.Errorf("update w: %w", err)
	}
	return nil
}

// Predict returns the decision values Σ alpha_i k(x_i, z) + bias.
func (c *CSVM[T]) Predict(points [][]T) ([]T, error) {
	if err := c.requireFit("predict"); err != nil {
		return nil, err
	}
	for i, p := range points {
		if len(p) != c.numFeatures {
			return nil, svmerr.InvalidData("predict", "point %d has %d features, model expects %d", i, len(p), c.numFeatures)
		}
	}
	if len(points) == 0 {
		return nil, nil
	}
	return c.predictValues(points)
}

func sign[T Real](v T) T {
	if v >= 0 {
		return 1
	}
	return -1
}

// PredictLabel returns +1 or -1 for point.
func (c *CSVM[T]) PredictLabel(point []T) (T, error) {
	labels, err := c.PredictLabels([][]T{point})
	if err != nil {
		return 0, err
	}
	return labels[0], nil
}

// PredictLabels classifies all points with one dispatch.
func (c *CSVM[T]) PredictLabels(points [][]T) ([]T, error) {
	values, err := c.Predict(points)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		values[i] = sign(v)
	}
	return values, nil
}

// Accuracy is the fraction of training points classified correctly.
func (c *CSVM[T]) Accuracy() (float64, error) {
	if err := c.requireFit("accuracy"); err != nil {
		return 0, err
	}
	return c.AccuracyOn(c.data, c.y)
}

// AccuracyOn is the fraction of points whose predicted label agrees with labels.
func (c *CSVM[T]) AccuracyOn(points [][]T, labels []T) (float64, error) {
	if len(points) != len(labels) {
		return 0, svmerr.InvalidData("accuracy", "number of labels (%d) must match the number of points (%d)", len(labels), len(points))
	}
	if len(points) == 0 {
		return 0, nil
	}
	values, err := c.Predict(points)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i, v := range values {
		if labels[i]*sign(v) > 0 {
			correct++
		}
	}
	return float64(correct) / float64(len(points)), nil
}

// Model returns the trained model.
func (c *CSVM[T]) Model() (*Model[T], error) {
	if err := c.requireFit("model"); err != nil {
		return nil, err
	}
	return &Model[T]{
		Param:  c.param,
		Labels: c.labels,
		SV:     c.data,
		Alpha:  append([]T(nil), c.alpha...),
		Y:      append([]T(nil), c.y...),
		Rho:    -c.bias,
	}, nil
}

// WriteModel writes the trained model in LIBSVM format.
func (c *CSVM[T]) WriteModel(w io.Writer) error {
	m, err := c.Model()
	if err != nil {
		return err
	}
	return WriteModel(w, m)
}

// SaveModel writes the trained model to path.
func (c *CSVM[T]) SaveModel(path string) error {
	m, err := c.Model()
	if err != nil {
		return err
	}
	return SaveModel(path, m)
}

// Close waits for every device, releases device memory and closes the backend.
func (c *CSVM[T]) Close() error {
	for _, s := range c.devices {
		if err := c.backend.DeviceSynchronize(s.queue); err != nil {
			TeardownFatal(err)
		}
	}
	err := c.freeDevices()
	if cerr := c.backend.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}
