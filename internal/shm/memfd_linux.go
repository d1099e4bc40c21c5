//go:build linux

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MemfdBackend backs regions with an anonymous memfd mapped MAP_SHARED, so
// the descriptor can be passed to another process.
type MemfdBackend struct{}

func (MemfdBackend) Name() string { return "memfd" }

func (MemfdBackend) Map(size int) (Mapping, error) {
	fd, err := unix.MemfdCreate("capshim-region", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate memfd to %d: %w", size, err)
	}
	b, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap memfd: %w", err)
	}
	return &memfdMapping{fd: fd, b: b}, nil
}

type memfdMapping struct {
	fd int
	b  []byte
}

func (m *memfdMapping) Bytes() []byte { return m.b }
func (m *memfdMapping) FD() int       { return m.fd }

func (m *memfdMapping) Close() error {
	err := unix.Munmap(m.b)
	m.b = nil
	if cerr := unix.Close(m.fd); err == nil {
		err = cerr
	}
	return err
}
