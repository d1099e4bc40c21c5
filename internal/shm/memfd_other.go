//go:build !linux

package shm

// MemfdBackend requires memfd_create(2) and is unavailable here.
type MemfdBackend struct{}

func (MemfdBackend) Name() string { return "memfd" }

func (MemfdBackend) Map(int) (Mapping, error) {
	return nil, ErrBackendUnsupported
}
