// Package id provides ID generation for regions, acquisitions and trace spans.
//
// All IDs are ULIDs carrying a short type prefix so that log lines stay
// readable when a single acquisition touches several regions:
//
//	shm_01J9Z3V6W3R8Y2N4K5M7P8Q9T0   shared memory region
//	acq_01J9Z3V6W3R8Y2N4K5M7P8Q9T1   capability acquisition
//	req_01J9Z3V6W3R8Y2N4K5M7P8Q9T2   trace / span
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RegionID identifies a shared memory region
type RegionID string

// AcquisitionID identifies one capability acquisition attempt
type AcquisitionID string

// RequestID identifies a traced request or span
type RequestID string

const (
	RegionPrefix      = "shm"
	AcquisitionPrefix = "acq"
	RequestPrefix     = "req"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewRegionID generates a new region ID
func NewRegionID() RegionID {
	return RegionID(Default().GenerateWithPrefix(RegionPrefix))
}

// NewAcquisitionID generates a new acquisition ID
func NewAcquisitionID() AcquisitionID {
	return AcquisitionID(Default().GenerateWithPrefix(AcquisitionPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id RegionID) String() string      { return string(id) }
func (id AcquisitionID) String() string { return string(id) }
func (id RequestID) String() string     { return string(id) }

// IsValid checks if an ID string is a valid ULID, with or without a prefix
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Parse parses a ULID string, stripping a type prefix if present
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}

// Timestamp extracts the creation time from an ID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
