package csvm

import (
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/plssvm/internal/device"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

// deviceSlot is the per-device state: the shard of rows the device owns and its
// buffers. Data, the last point and q are replicated on every device.
type deviceSlot[T Real] struct {
	queue    int
	rowBegin int
	rowEnd   int
	ownsLast bool
	buf      Buffers[T]
}

type shard struct {
	queue      int
	begin, end int
}

// splitRows distributes n rows over devices contiguous shards. Devices that
// would get no rows are dropped, but at least one shard is always returned.
func splitRows(n, devices int) []shard {
	if devices < 1 {
		return nil
	}
	if n == 0 {
		return []shard{{queue: 0}}
	}
	base, extra := n/devices, n%devices
	shards := make([]shard, 0, devices)
	begin := 0
	for d := 0; d < devices; d++ {
		rows := base
		if d < extra {
			rows++
		}
		if rows == 0 {
			continue
		}
		shards = append(shards, shard{queue: d, begin: begin, end: begin + rows})
		begin += rows
	}
	return shards
}

func (c *CSVM[T]) args(s *deviceSlot[T]) KernelArgs[T] {
	return KernelArgs[T]{
		Kernel:      kernelParams[T](c.param),
		QACost:      c.qaCost,
		InverseCost: T(1 / c.param.Cost),
		NumRows:     c.numPoints - 1,
		NumFeatures: c.numFeatures,
		Boundary:    c.tuning.BoundarySize(),
		RowBegin:    s.rowBegin,
		RowEnd:      s.rowEnd,
		OwnsLast:    s.ownsLast,
	}
}

func (c *CSVM[T]) freeDevices() error {
	var errs []error
	for _, s := range c.devices {
		s.buf.each(func(p **device.Ptr[T]) {
			if *p != nil {
				if err := (*p).Free(); err != nil {
					errs = append(errs, err)
				}
				*p = nil
			}
		})
	}
	c.devices = nil
	c.alphaUpdated = false
	return errors.Join(errs...)
}

// setupDataOnDevice uploads the first numPoints-1 points in feature-major
// layout plus the last point to every device and allocates the solver vectors.
func (c *CSVM[T]) setupDataOnDevice() error {
	if err := c.freeDevices(); err != nil {
		return err
	}
	count := c.backend.DeviceCount()
	if count < 1 {
		return svmerr.New(svmerr.KindBackend, "setup_data_on_device", "backend %s reports no devices", c.backend.Name())
	}
	dept := c.numPoints - 1
	boundary := c.tuning.BoundarySize()
	soa := TransformData(c.data, boundary, dept)
	last := transformPoint(c.data[dept], boundary)
	mem := c.backend.Memory()

	shards := splitRows(dept, count)
	for i, sh := range shards {
		s := &deviceSlot[T]{queue: sh.queue, rowBegin: sh.begin, rowEnd: sh.end, ownsLast: i == len(shards)-1}
		c.devices = append(c.devices, s)
		if err := c.allocSlot(mem, s, soa, last); err != nil {
			_ = c.freeDevices()
			return err
		}
	}
	return nil
}

func (c *CSVM[T]) allocSlot(mem device.Memory, s *deviceSlot[T], soa, last []T) error {
	dept := c.numPoints - 1
	boundary := c.tuning.BoundarySize()
	var err error
	if s.buf.Data, err = device.Alloc2D[T](mem, s.queue, c.numFeatures, dept+boundary); err != nil {
		return err
	}
	if err := s.buf.Data.CopyToDevice(soa); err != nil {
		return err
	}
	if s.buf.DataLast, err = device.Alloc[T](mem, s.queue, c.numFeatures+boundary); err != nil {
		return err
	}
	if err := s.buf.DataLast.CopyToDevice(last); err != nil {
		return err
	}
	for _, p := range []**device.Ptr[T]{&s.buf.Q, &s.buf.D, &s.buf.R, &s.buf.Alpha} {
		if *p, err = device.Alloc[T](mem, s.queue, dept+boundary); err != nil {
			return err
		}
		if err := (*p).MemsetAll(0); err != nil {
			return err
		}
	}
	if s.buf.W, err = device.Alloc[T](mem, s.queue, c.numFeatures); err != nil {
		return err
	}
	return nil
}

// synchronizeAll waits for every device.
func (c *CSVM[T]) synchronizeAll() error {
	var g errgroup.Group
	for _, s := range c.devices {
		g.Go(func() error {
			return c.backend.DeviceSynchronize(s.queue)
		})
	}
	return g.Wait()
}

// forEachDevice runs fn for every device concurrently.
func (c *CSVM[T]) forEachDevice(fn func(s *deviceSlot[T]) error) error {
	var g errgroup.Group
	for _, s := range c.devices {
		g.Go(func() error {
			return fn(s)
		})
	}
	return g.Wait()
}

// generateQ computes q_i = k(x_i, x_last) shard-wise, gathers it and replicates
// the full vector to every device.
func (c *CSVM[T]) generateQ() ([]T, error) {
	dept := c.numPoints - 1
	for _, s := range c.devices {
		args := c.args(s)
		if args.ShardRows() == 0 {
			continue
		}
		if err := c.backend.RunQKernel(s.queue, c.tuning.ForVector(args.ShardRows()), &s.buf, args); err != nil {
			return nil, err
		}
	}
	if err := c.synchronizeAll(); err != nil {
		return nil, err
	}
	q := make([]T, dept)
	if err := c.forEachDevice(func(s *deviceSlot[T]) error {
		return s.buf.Q.CopyToHostRange(q[s.rowBegin:s.rowEnd], s.rowBegin, s.rowEnd-s.rowBegin)
	}); err != nil {
		return nil, err
	}
	if err := c.forEachDevice(func(s *deviceSlot[T]) error {
		return s.buf.Q.CopyToDeviceRange(q, 0, dept)
	}); err != nil {
		return nil, err
	}
	return q, nil
}

// applyKernelMatrix computes out = A·d with the svm kernel.
func (c *CSVM[T]) applyKernelMatrix(d, out []T) error {
	dept := c.numPoints - 1
	if err := c.forEachDevice(func(s *deviceSlot[T]) error {
		if err := s.buf.D.CopyToDeviceRange(d, 0, dept); err != nil {
			return err
		}
		return s.buf.R.MemsetAll(0)
	}); err != nil {
		return err
	}
	for _, s := range c.devices {
		args := c.args(s)
		if args.ShardRows() == 0 {
			continue
		}
		r := c.tuning.ForKernelMatrix(args.ShardRows(), dept)
		if err := c.backend.RunSVMKernel(s.queue, r, &s.buf, 1, args); err != nil {
			return err
		}
	}
	if err := c.synchronizeAll(); err != nil {
		return err
	}
	return c.forEachDevice(func(s *deviceSlot[T]) error {
		return s.buf.R.CopyToHostRange(out[s.rowBegin:s.rowEnd], s.rowBegin, s.rowEnd-s.rowBegin)
	})
}

// ensureDevices uploads data and coefficients when the devices do not hold the
// current model, e.g. after FromModel.
func (c *CSVM[T]) ensureDevices() error {
	if c.devices == nil {
		if err := c.setupDataOnDevice(); err != nil {
			return err
		}
	}
	if c.alphaUpdated {
		return nil
	}
	if err := c.forEachDevice(func(s *deviceSlot[T]) error {
		if err := s.buf.Alpha.MemsetAll(0); err != nil {
			return err
		}
		return s.buf.Alpha.CopyToDeviceRange(c.alpha, 0, c.numPoints)
	}); err != nil {
		return err
	}
	c.alphaUpdated = true
	return nil
}

// updateW computes w = Σ alpha_i x_i for the linear kernel. It is a no-op for
// the other kernels.
func (c *CSVM[T]) updateW() error {
	if c.param.Kernel != Linear {
		c.w = nil
		return nil
	}
	if err := c.ensureDevices(); err != nil {
		return err
	}
	for _, s := range c.devices {
		args := c.args(s)
		if err := c.backend.RunWKernel(s.queue, c.tuning.ForVector(c.numFeatures), &s.buf, args); err != nil {
			return err
		}
	}
	if err := c.synchronizeAll(); err != nil {
		return err
	}
	partials := make([][]T, len(c.devices))
	if err := c.forEachDevice(func(s *deviceSlot[T]) error {
		i := c.slotIndex(s)
		partials[i] = make([]T, c.numFeatures)
		return s.buf.W.CopyToHost(partials[i])
	}); err != nil {
		return err
	}
	w := make([]T, c.numFeatures)
	for _, p := range partials {
		for f := range w {
			w[f] += p[f]
		}
	}
	c.w = w
	return nil
}

func (c *CSVM[T]) slotIndex(s *deviceSlot[T]) int {
	for i, o := range c.devices {
		if o == s {
			return i
		}
	}
	return -1
}

// predictValues dispatches the prediction. The linear kernel uses w on the
// host; other kernels launch the predict kernel on every device and sum.
func (c *CSVM[T]) predictValues(points [][]T) ([]T, error) {
	out := make([]T, len(points))
	if c.param.Kernel == Linear {
		if c.w == nil {
			if err := c.updateW(); err != nil {
				return nil, err
			}
		}
		for i, p := range points {
			out[i] = dot(c.w, p) + c.bias
		}
		return out, nil
	}

	if err := c.ensureDevices(); err != nil {
		return nil, err
	}
	m := len(points)
	boundary := c.tuning.BoundarySize()
	soa := TransformData(points, boundary, m)
	mem := c.backend.Memory()
	defer func() {
		for _, s := range c.devices {
			_ = s.buf.Points.Free()
			_ = s.buf.Out.Free()
			s.buf.Points, s.buf.Out = nil, nil
		}
	}()

	for _, s := range c.devices {
		var err error
		if s.buf.Points, err = device.Alloc2D[T](mem, s.queue, c.numFeatures, m+boundary); err != nil {
			return nil, err
		}
		if err := s.buf.Points.CopyToDevice(soa); err != nil {
			return nil, err
		}
		if s.buf.Out, err = device.Alloc[T](mem, s.queue, m+boundary); err != nil {
			return nil, err
		}
		if err := s.buf.Out.MemsetAll(0); err != nil {
			return nil, err
		}
		args := c.args(s)
		args.NumPredict = m
		if err := c.backend.RunPredictKernel(s.queue, c.tuning.ForPredict(args.ShardRows(), m), &s.buf, args); err != nil {
			return nil, err
		}
	}
	if err := c.synchronizeAll(); err != nil {
		return nil, err
	}
	partials := make([][]T, len(c.devices))
	if err := c.forEachDevice(func(s *deviceSlot[T]) error {
		i := c.slotIndex(s)
		partials[i] = make([]T, m)
		return s.buf.Out.CopyToHostRange(partials[i], 0, m)
	}); err != nil {
		return nil, err
	}
	for _, p := range partials {
		for i := range out {
			out[i] += p[i]
		}
	}
	for i := range out {
		out[i] += c.bias
	}
	return out, nil
}
