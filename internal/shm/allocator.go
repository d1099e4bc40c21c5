package shm

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/capshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/monitoring"
)

var (
	// ErrTooLarge is returned when the corrected size exceeds MaxSize.
	ErrTooLarge = errors.New("shm: size exceeds maximum")
	// ErrReservedRange is returned when the corrected size lies at or above ReservedFloor.
	ErrReservedRange = errors.New("shm: size in reserved range")
)

// Allocator turns untrusted size requests into zeroed regions or definite
// rejections, logging one diagnostic line per request.
type Allocator struct {
	backend Backend
	logger  *logging.Logger
	metrics *monitoring.Metrics
	pid     func() int
	tid     func() int
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithBackend sets the memory backend (HeapBackend by default).
func WithBackend(b Backend) Option {
	return func(a *Allocator) { a.backend = b }
}

// WithLogger sets the diagnostic sink.
func WithLogger(l *logging.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// WithMetrics enables decision counters.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(a *Allocator) { a.metrics = m }
}

// NewAllocator creates an allocator.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		backend: HeapBackend{},
		logger:  logging.NewNop(),
		pid:     os.Getpid,
		tid:     currentTID,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.NewNop()
	}
	if a.backend == nil {
		a.backend = HeapBackend{}
	}
	a.logger = a.logger.Named("shm")
	return a
}

// Backend returns the configured backend.
func (a *Allocator) Backend() Backend { return a.backend }

// Allocate sanitizes raw for tag and allocates a zeroed region of the
// corrected size. A zero size yields (nil, d, nil). Rejections return a nil
// region and ErrTooLarge and/or ErrReservedRange.
func (a *Allocator) Allocate(raw uint64, tag Tag) (*Region, Decision, error) {
	d := Plan(raw, tag)

	var (
		region *Region
		err    error
	)
	switch d.Outcome {
	case OutcomeRejected:
		var errs []error
		if d.RejectMax {
			errs = append(errs, ErrTooLarge)
		}
		if d.RejectReserved {
			errs = append(errs, ErrReservedRange)
		}
		err = fmt.Errorf("%s: size %d (raw 0x%x): %w", tag, d.Size, d.Raw, errors.Join(errs...))
	case OutcomeAllocated:
		region, err = a.mapZeroed(tag, d.Size)
		if err != nil {
			d.Outcome = OutcomeFailed
			err = fmt.Errorf("%s: allocate %d bytes: %w", tag, d.Size, err)
		}
	}

	a.record(d, region, err)
	return region, d, err
}

// AllocClient is the client-side entry point for memory sized by the remote
// service.
func (a *Allocator) AllocClient(size uint64) (*Region, Decision, error) {
	return a.Allocate(size, TagClient)
}

// AllocService is the service-side entry point. Its 32-bit input is
// zero-extended, so it never needs sign repair.
func (a *Allocator) AllocService(size uint32) (*Region, Decision, error) {
	return a.Allocate(uint64(size), TagService)
}

func (a *Allocator) mapZeroed(tag Tag, size uint64) (*Region, error) {
	m, err := a.backend.Map(int(size))
	if err != nil {
		return nil, err
	}
	b := m.Bytes()
	if uint64(len(b)) != size {
		m.Close()
		return nil, fmt.Errorf("%s backend mapped %d bytes, want %d", a.backend.Name(), len(b), size)
	}
	clear(b)
	return newRegion(tag, size, m), nil
}

func (a *Allocator) record(d Decision, region *Region, err error) {
	for _, branch := range d.Branches() {
		a.metrics.RecordAllocDecision(string(d.Tag), branch)
	}

	fields := []zap.Field{
		zap.String("tag", string(d.Tag)),
		zap.Int("pid", a.pid()),
		zap.Int("tid", a.tid()),
		zap.Uint64("raw", d.Raw),
		zap.String("raw_hex", fmt.Sprintf("0x%x", d.Raw)),
		zap.Uint64("fixed", d.Fixed),
		zap.Uint64("size", d.Size),
		zap.Bool("sign_repaired", d.SignRepaired),
		zap.Bool("caps_path", d.CapsPath),
		zap.Bool("clamped", d.Clamped),
		zap.Uint64("caps_min", CapsMinSize),
		zap.Uint64("max", MaxSize),
		zap.Bool("reject_max", d.RejectMax),
		zap.Bool("reject_reserved", d.RejectReserved),
		zap.String("outcome", string(d.Outcome)),
		zap.String("backend", a.backend.Name()),
	}

	level := zapcore.DebugLevel
	switch {
	case err != nil:
		level = zapcore.ErrorLevel
		fields = append(fields, zap.Error(err))
	case d.SignRepaired || d.Clamped:
		level = zapcore.WarnLevel
	}
	if region != nil {
		a.metrics.RecordAllocBytes(string(d.Tag), d.Size)
		fields = append(fields, zap.String("region_id", region.ID().String()))
	}

	if ce := a.logger.Check(level, "allocator decision"); ce != nil {
		ce.Write(fields...)
	}
}
