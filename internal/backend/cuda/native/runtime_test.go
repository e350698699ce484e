//go:build cuda

package native

import (
	"encoding/binary"
	"math"
	"runtime"
	"testing"
)

func requireDevice(t *testing.T) {
	t.Helper()
	count, err := DeviceCount()
	if err != nil {
		t.Skipf("DeviceCount: %v", err)
	}
	if count < 1 {
		t.Skip("no cuda device available")
	}
}

func TestMemcpyRoundTrip(t *testing.T) {
	requireDevice(t)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := SetDevice(0); err != nil {
		t.Fatalf("SetDevice: %v", err)
	}

	stream, err := NewStream()
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	defer func() {
		if err := stream.Destroy(); err != nil {
			t.Fatalf("stream destroy: %v", err)
		}
	}()

	const n = 256
	in := make([]byte, 8*n)
	for i := range n {
		binary.LittleEndian.PutUint64(in[8*i:], math.Float64bits(float64(i)*1.25))
	}
	dev, err := Malloc(len(in))
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	defer func() {
		if err := Free(dev); err != nil {
			t.Fatalf("device free: %v", err)
		}
	}()

	if err := MemcpyH2DAsync(dev, in, stream); err != nil {
		t.Fatalf("MemcpyH2DAsync: %v", err)
	}
	if err := MemsetAsync(dev, 0, 8, stream); err != nil {
		t.Fatalf("MemsetAsync: %v", err)
	}
	out := make([]byte, len(in))
	if err := MemcpyD2HAsync(out, dev, stream); err != nil {
		t.Fatalf("MemcpyD2HAsync: %v", err)
	}
	if err := stream.Synchronize(); err != nil {
		t.Fatalf("stream synchronize: %v", err)
	}
	for i := range n {
		got := math.Float64frombits(binary.LittleEndian.Uint64(out[8*i:]))
		want := float64(i) * 1.25
		if i == 0 {
			want = 0
		}
		if got != want {
			t.Fatalf("mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestMallocRejectsEmpty(t *testing.T) {
	if _, err := Malloc(0); err == nil {
		t.Fatalf("zero sized allocation must fail")
	}
}

func TestLoadModuleRejectsGarbage(t *testing.T) {
	requireDevice(t)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := SetDevice(0); err != nil {
		t.Fatalf("SetDevice: %v", err)
	}
	if _, err := LoadModule([]byte("not a ptx module")); err == nil {
		t.Fatalf("loading garbage must fail")
	}
}
