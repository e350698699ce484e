package gpukernel

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/plssvm/internal/csvm"
	"github.com/samcharles93/plssvm/internal/device"
	"github.com/samcharles93/plssvm/internal/svmerr"
	"github.com/samcharles93/plssvm/internal/tiling"
)

func TestNames(t *testing.T) {
	t.Parallel()
	got, err := Names[float64](csvm.Linear)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	want := []string{"device_kernel_q_linear_f64", "device_kernel_linear_f64", "device_kernel_w_linear_f64"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	got, err = Names[float32](csvm.RBF)
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	want = []string{"device_kernel_q_radial_f32", "device_kernel_radial_f32", "device_kernel_predict_radial_f32"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	if _, err := Name[float64](W, csvm.Polynomial); !errors.Is(err, svmerr.ErrUnsupportedKernelType) {
		t.Fatalf("w kernel for poly must fail, got %v", err)
	}
	if _, err := Name[float64](Q, csvm.KernelType(9)); !errors.Is(err, svmerr.ErrUnsupportedKernelType) {
		t.Fatalf("unknown kernel must fail, got %v", err)
	}
}

type fakeAlloc struct{ buf []byte }

type launch struct {
	kernel      string
	grid, block [3]uint32
	sizes       []uintptr
	first       uintptr
}

// fakeDevice keeps allocations in host memory and records launches.
type fakeDevice struct {
	mu       sync.Mutex
	next     uintptr
	allocs   map[uintptr]*fakeAlloc
	launches []launch
	syncErr  error
	closed   bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{next: 0x1000, allocs: map[uintptr]*fakeAlloc{}}
}

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Malloc(bytes int) (uintptr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.next
	d.next += 0x1000
	d.allocs[h] = &fakeAlloc{buf: make([]byte, bytes)}
	return h, nil
}

func (d *fakeDevice) Free(h uintptr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.allocs, h)
	return nil
}

func (d *fakeDevice) Memset(h uintptr, value byte, offset, bytes int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.allocs[h].buf[offset : offset+bytes]
	for i := range b {
		b[i] = value
	}
	return nil
}

func (d *fakeDevice) CopyToDevice(h uintptr, offset int, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.allocs[h].buf[offset:], src)
	return nil
}

func (d *fakeDevice) CopyToHost(h uintptr, offset int, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(dst, d.allocs[h].buf[offset:])
	return nil
}

func (d *fakeDevice) Launch(kernel string, grid, block [3]uint32, args *Args) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	first := *(*uintptr)(args.Pointers()[0])
	d.launches = append(d.launches, launch{kernel: kernel, grid: grid, block: block, sizes: args.Sizes(), first: first})
	return nil
}

func (d *fakeDevice) Synchronize() error { return d.syncErr }

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

func TestBackendRoutesMemoryAndLaunches(t *testing.T) {
	t.Parallel()
	d0, d1 := newFakeDevice(), newFakeDevice()
	b, err := NewBackend[float32]("fake", []Device{d0, d1})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	p, err := device.Alloc[float32](b.Memory(), 1, 4)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := p.CopyToDevice([]float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := p.Memset(0, 1, 2); err != nil {
		t.Fatalf("memset: %v", err)
	}
	got := make([]float32, 4)
	if err := p.CopyToHost(got); err != nil {
		t.Fatalf("copy back: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 0, 0, 4}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if len(d0.allocs) != 0 || len(d1.allocs) != 1 {
		t.Fatalf("allocation must land on device 1: %d %d", len(d0.allocs), len(d1.allocs))
	}

	q, err := device.Alloc[float32](b.Memory(), 1, 4)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	data, err := device.Alloc[float32](b.Memory(), 1, 4)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	buf := &csvm.Buffers[float32]{Q: q, Data: data, DataLast: p}
	args := csvm.KernelArgs[float32]{
		Kernel:      csvm.KernelParams[float32]{Kernel: csvm.RBF, Gamma: 0.5},
		NumRows:     3,
		NumFeatures: 1,
		RowEnd:      3,
	}
	r := tiling.Default().ForVector(3)
	if err := b.RunQKernel(1, r, buf, args); err != nil {
		t.Fatalf("q kernel: %v", err)
	}
	if len(d1.launches) != 1 {
		t.Fatalf("expected one launch, got %d", len(d1.launches))
	}
	l := d1.launches[0]
	if l.kernel != "device_kernel_q_radial_f32" || l.first != uintptr(q.Handle()) {
		t.Fatalf("unexpected launch %+v", l)
	}
	// q, data, last, 4 ints, gamma
	wantSizes := []uintptr{unsafe.Sizeof(uintptr(0)), unsafe.Sizeof(uintptr(0)), unsafe.Sizeof(uintptr(0)), 4, 4, 4, 4, 4}
	if diff := cmp.Diff(wantSizes, l.sizes); diff != "" {
		t.Fatalf("arg sizes (-want +got):\n%s", diff)
	}
	if l.grid != [3]uint32{1, 1, 1} || l.block != [3]uint32{3, 1, 1} {
		t.Fatalf("dims grid %v block %v", l.grid, l.block)
	}

	if err := b.RunSVMKernel(1, r, buf, 1, args); !errors.Is(err, svmerr.ErrBackend) {
		t.Fatalf("svm kernel without r and d must fail, got %v", err)
	}
	if err := b.RunQKernel(2, r, buf, args); !errors.Is(err, svmerr.ErrDevicePtr) {
		t.Fatalf("invalid queue must fail, got %v", err)
	}

	d1.syncErr = errors.New("lost")
	if err := b.DeviceSynchronize(1); err == nil {
		t.Fatalf("synchronize must report the device error")
	}
	for _, ptr := range []*device.Ptr[float32]{p, q, data} {
		if err := ptr.Free(); err != nil {
			t.Fatalf("free: %v", err)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !d0.closed || !d1.closed {
		t.Fatalf("close must close every device")
	}
}

func TestNewBackendWithoutDevices(t *testing.T) {
	t.Parallel()
	_, err := NewBackend[float64]("cuda", nil)
	if !errors.Is(err, svmerr.ErrUnsupportedBackend) || !strings.Contains(err.Error(), "No cuda devices available!") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestBuildArgumentLayout(t *testing.T) {
	t.Parallel()
	mem := device.NewHostMemory(1)
	alloc := func() *device.Ptr[float64] {
		p, err := device.Alloc[float64](mem, 0, 2)
		if err != nil {
			t.Fatalf("alloc: %v", err)
		}
		return p
	}
	buf := &csvm.Buffers[float64]{
		Data: alloc(), DataLast: alloc(), Q: alloc(), D: alloc(), R: alloc(),
		Alpha: alloc(), W: alloc(), Points: alloc(), Out: alloc(),
	}
	poly := csvm.KernelArgs[float64]{Kernel: csvm.KernelParams[float64]{Kernel: csvm.Polynomial, Degree: 3, Gamma: 0.5, Coef0: 1}}
	cases := []struct {
		kind Kind
		args csvm.KernelArgs[float64]
		want int
	}{
		{Q, poly, 7 + 3},
		{SVM, poly, 11 + 3},
		{W, csvm.KernelArgs[float64]{Kernel: csvm.KernelParams[float64]{Kernel: csvm.Linear}}, 9},
		{Predict, poly, 11 + 3},
	}
	for _, tc := range cases {
		a, err := Build(tc.kind, buf, 2, tc.args)
		if err != nil {
			t.Fatalf("%s: %v", tc.kind, err)
		}
		if a.Len() != tc.want || len(a.Pointers()) != tc.want {
			t.Fatalf("%s: %d args, want %d", tc.kind, a.Len(), tc.want)
		}
	}

	a, err := Build(SVM, buf, 2, poly)
	if err != nil {
		t.Fatalf("svm: %v", err)
	}
	ptrs, sizes := a.Pointers(), a.Sizes()
	if sizes[4] != 8 || *(*float64)(ptrs[4]) != 0 {
		t.Fatalf("QA cost slot: size %d value %g", sizes[4], *(*float64)(ptrs[4]))
	}
	if *(*float64)(ptrs[10]) != 2 {
		t.Fatalf("add slot = %g", *(*float64)(ptrs[10]))
	}
	if *(*int32)(ptrs[11]) != 3 || *(*float64)(ptrs[12]) != 0.5 || *(*float64)(ptrs[13]) != 1 {
		t.Fatalf("kernel params not appended in order")
	}
}

func TestDims(t *testing.T) {
	t.Parallel()
	r := tiling.Default().ForKernelMatrix(100, 40)
	grid, block := Dims(r)
	if grid != [3]uint32{4, 2, 1} || block != [3]uint32{8, 8, 1} {
		t.Fatalf("grid %v block %v", grid, block)
	}
	if g := GlobalSize(r); g != [3]uintptr{32, 16, 1} {
		t.Fatalf("global size %v", g)
	}
}

func TestThreadRunsOnOneOSThread(t *testing.T) {
	t.Parallel()
	inits := 0
	th, err := StartThread("test", func() error { inits++; return nil })
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer th.Stop()
	var calls int
	for range 10 {
		if err := th.Do(func() error { calls++; return nil }); err != nil {
			t.Fatalf("do: %v", err)
		}
	}
	if inits != 1 || calls != 10 {
		t.Fatalf("inits %d calls %d", inits, calls)
	}

	err = th.Do(func() error { panic(errors.New("boom")) })
	if err == nil || !strings.Contains(err.Error(), "test execution failed") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("panic must surface as an error, got %v", err)
	}
	err = th.Do(func() error { panic("panic text") })
	if err == nil || !strings.Contains(err.Error(), "panic text") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestStartThreadInitFailure(t *testing.T) {
	t.Parallel()
	boom := errors.New("no device")
	if _, err := StartThread("test", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("init error must be returned, got %v", err)
	}
}
