package shm

import (
	"errors"
	"sync/atomic"

	"github.com/GriffinCanCode/capshim/internal/shared/id"
)

// ErrReleased is returned when a region is used after its last reference
// was dropped.
var ErrReleased = errors.New("shm: region already released")

// Region is a reference-counted, zero-initialized shared memory block.
// A new region holds one reference owned by its creator.
type Region struct {
	id      id.RegionID
	tag     Tag
	size    uint64
	mapping Mapping
	refs    atomic.Int32
}

func newRegion(tag Tag, size uint64, m Mapping) *Region {
	r := &Region{
		id:      id.NewRegionID(),
		tag:     tag,
		size:    size,
		mapping: m,
	}
	r.refs.Store(1)
	return r
}

// ID returns the region identifier used in logs.
func (r *Region) ID() id.RegionID { return r.id }

// Tag returns the caller tag the region was allocated for.
func (r *Region) Tag() Tag { return r.tag }

// Size returns the region size in bytes.
func (r *Region) Size() uint64 { return r.size }

// Bytes returns the raw backing memory. It must not be used after the last
// Release.
func (r *Region) Bytes() []byte {
	if r.refs.Load() <= 0 {
		return nil
	}
	return r.mapping.Bytes()
}

// FD returns the file descriptor backing the region, or -1 for heap memory.
func (r *Region) FD() int { return r.mapping.FD() }

// Refs returns the current reference count.
func (r *Region) Refs() int32 { return r.refs.Load() }

// Acquire adds a reference.
func (r *Region) Acquire() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference and unmaps the region when it was the last one.
func (r *Region) Release() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if r.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				return r.mapping.Close()
			}
			return nil
		}
	}
}
