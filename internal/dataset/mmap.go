package dataset

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

type mapping struct {
	data    []byte
	mmapped bool
}

// mapFile maps path read-only, falling back to reading it when mmap is
// unavailable.
func mapFile(path string) (*mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size == 0 {
		return &mapping{}, nil
	}
	if size > int64(int(^uint(0)>>1)) {
		return nil, io.ErrUnexpectedEOF
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return &mapping{data: data, mmapped: true}, nil
	}

	data, err = io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &mapping{data: data}, nil
}

func (m *mapping) close() error {
	if m == nil || !m.mmapped {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data, m.mmapped = nil, false
	return err
}
