package profile

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/GriffinCanCode/capshim/internal/caps"
)

type stage int

const (
	stageNew stage = iota
	stageSized
	stagePrepared
	stageFinalized
)

// Capability is a caps.Capability backed by profile values. It serves a
// single acquisition: ReportSize, Prepare and Finalize, once each, in order.
type Capability struct {
	idx    caps.CameraIndex
	size   uint64
	values map[string]string

	mu        sync.Mutex
	stage     stage
	prepared  []byte
	committed map[string]string
}

var _ caps.Capability = (*Capability)(nil)

func newCapability(idx caps.CameraIndex, size uint64, values map[string]string) *Capability {
	v := make(map[string]string, len(values))
	for k, val := range values {
		v[k] = val
	}
	return &Capability{idx: idx, size: size, values: v}
}

// ReportSize returns the configured size.
func (c *Capability) ReportSize() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage == stageNew {
		c.stage = stageSized
	}
	return c.size
}

// Prepare writes the header and the values as sorted key=value lines.
func (c *Capability) Prepare(d *caps.Descriptor) caps.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != stageSized {
		return caps.StatusBadValue
	}

	payload := encodeValues(c.values)
	err := d.PutHeader(caps.Header{Version: caps.DescriptorVersion, Index: c.idx}, payload)
	if err != nil {
		return caps.StatusNoMemory
	}
	c.prepared = payload
	c.stage = stagePrepared
	return caps.StatusOK
}

// Finalize checks that d is the descriptor this object prepared and commits
// its values.
func (c *Capability) Finalize(d *caps.Descriptor) caps.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stage != stagePrepared {
		return caps.StatusBadValue
	}

	h, payload, err := d.ReadHeader()
	if err != nil || h.Index != c.idx || !bytes.Equal(payload, c.prepared) {
		return caps.StatusBadValue
	}
	c.committed = decodeValues(payload)
	c.stage = stageFinalized
	return caps.StatusOK
}

// Committed returns the values committed by Finalize, or nil.
func (c *Capability) Committed() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed == nil {
		return nil
	}
	out := make(map[string]string, len(c.committed))
	for k, v := range c.committed {
		out[k] = v
	}
	return out
}

// Finalized reports whether the acquisition committed.
func (c *Capability) Finalized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage == stageFinalized
}

func encodeValues(values map[string]string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func decodeValues(payload []byte) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(string(payload), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
