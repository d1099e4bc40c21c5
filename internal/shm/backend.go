package shm

import "errors"

// ErrBackendUnsupported is returned by backends unavailable on this platform.
var ErrBackendUnsupported = errors.New("shm: backend not supported on this platform")

// Backend maps blocks of memory for regions.
type Backend interface {
	Name() string
	Map(size int) (Mapping, error)
}

// Mapping is one mapped block.
type Mapping interface {
	Bytes() []byte
	FD() int
	Close() error
}

// BackendByName returns the backend for a configuration value.
func BackendByName(name string) (Backend, error) {
	switch name {
	case "", "heap":
		return HeapBackend{}, nil
	case "memfd":
		return MemfdBackend{}, nil
	default:
		return nil, errors.New("shm: unknown backend " + name)
	}
}

// HeapBackend allocates regions on the Go heap. Regions are shared with the
// remote service by copy over the transport.
type HeapBackend struct{}

func (HeapBackend) Name() string { return "heap" }

func (HeapBackend) Map(size int) (Mapping, error) {
	return &heapMapping{buf: make([]byte, size)}, nil
}

type heapMapping struct {
	buf []byte
}

func (m *heapMapping) Bytes() []byte { return m.buf }
func (m *heapMapping) FD() int       { return -1 }

func (m *heapMapping) Close() error {
	m.buf = nil
	return nil
}
