package csvm

import (
	"github.com/samcharles93/plssvm/internal/device"
	"github.com/samcharles93/plssvm/internal/tiling"
)

// KernelArgs are the scalar launch arguments shared by all kernels.
//
// Point-indexed buffers (Data, Q, D, R, Alpha) are laid out over NumRows+Boundary
// slots; Data is feature-major with that stride. A launch only touches the rows
// [RowBegin, RowEnd) of the device's shard. The device marked OwnsLast also
// accounts for the last data point, which is kept outside Data in DataLast.
type KernelArgs[T Real] struct {
	Kernel KernelParams[T]

	QACost      T
	InverseCost T

	NumRows     int
	NumFeatures int
	Boundary    int

	RowBegin int
	RowEnd   int
	OwnsLast bool

	// NumPredict is the number of points in a predict launch.
	NumPredict int
}

// ShardRows is RowEnd-RowBegin.
func (a KernelArgs[T]) ShardRows() int { return a.RowEnd - a.RowBegin }

// Stride is the padded length of one feature row of Data.
func (a KernelArgs[T]) Stride() int { return a.NumRows + a.Boundary }

// Buffers are the device buffers of one device.
type Buffers[T Real] struct {
	Data     *device.Ptr[T]
	DataLast *device.Ptr[T]
	Q        *device.Ptr[T]
	D        *device.Ptr[T]
	R        *device.Ptr[T]
	Alpha    *device.Ptr[T]
	W        *device.Ptr[T]
	Points   *device.Ptr[T]
	Out      *device.Ptr[T]
}

func (b *Buffers[T]) each(fn func(p **device.Ptr[T])) {
	fn(&b.Data)
	fn(&b.DataLast)
	fn(&b.Q)
	fn(&b.D)
	fn(&b.R)
	fn(&b.Alpha)
	fn(&b.W)
	fn(&b.Points)
	fn(&b.Out)
}

// KernelBackend is what a device backend provides to the solver. Launches are
// asynchronous with respect to the host; errors raised while a launch runs may
// surface from DeviceSynchronize instead of the Run call.
type KernelBackend[T Real] interface {
	Name() string
	DeviceCount() int
	Memory() device.Memory
	DeviceSynchronize(queue int) error

	// RunQKernel writes q[i] = k(x_i, x_last) for the shard rows.
	RunQKernel(queue int, r tiling.Range, b *Buffers[T], args KernelArgs[T]) error
	// RunSVMKernel adds add·(A·d)[i] to R[i] for the shard rows, where
	// A_ij = k(x_i, x_j) + QACost - q_i - q_j + δ_ij·InverseCost over all NumRows columns.
	RunSVMKernel(queue int, r tiling.Range, b *Buffers[T], add T, args KernelArgs[T]) error
	// RunWKernel writes W[f] = Σ alpha_i x_i[f] over the shard rows, plus the last
	// point when OwnsLast.
	RunWKernel(queue int, r tiling.Range, b *Buffers[T], args KernelArgs[T]) error
	// RunPredictKernel writes Out[p] = Σ alpha_i k(x_i, z_p) over the shard rows,
	// plus the last point when OwnsLast. Points is feature-major with stride
	// NumPredict+Boundary.
	RunPredictKernel(queue int, r tiling.Range, b *Buffers[T], args KernelArgs[T]) error

	Close() error
}
