package acquire

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/capshim/internal/caps"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/capshim/internal/service"
	"github.com/GriffinCanCode/capshim/internal/shared/id"
	"github.com/GriffinCanCode/capshim/internal/shm"
)

// RetryPolicy bounds AwaitCaps.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      15 * time.Second,
	}
}

// Acquisition is a successful capability acquisition. The caller owns
// Region and must Release it.
type Acquisition struct {
	ID       id.AcquisitionID
	Index    caps.CameraIndex
	Status   caps.Status
	Region   *shm.Region
	Decision shm.Decision
	Replaced bool
}

// Release drops the caller's reference to the region.
func (a *Acquisition) Release() error {
	if a == nil || a.Region == nil {
		return nil
	}
	return a.Region.Release()
}

// Orchestrator runs the capability acquisition protocol.
type Orchestrator struct {
	conns   *service.Manager
	alloc   *shm.Allocator
	logger  *logging.Logger
	metrics *monitoring.Metrics
	retry   RetryPolicy
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics sets the orchestrator metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRetryPolicy sets the policy used by AwaitCaps without an explicit backoff.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// New creates an orchestrator.
func New(conns *service.Manager, alloc *shm.Allocator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conns: conns,
		alloc: alloc,
		retry: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.alloc == nil {
		o.alloc = shm.NewAllocator(shm.WithLogger(o.logger), shm.WithMetrics(o.metrics))
	}
	o.logger = o.logger.Named("acquire")
	return o
}

// GetCaps acquires the capabilities of idx into c and returns the flattened
// status: 0 on success or when the service is not ready, -0x67 for a nil
// object, -0x6f for allocation and remote failures, -0x6e verbatim from the
// service, Prepare failures verbatim, otherwise the Finalize result.
func (o *Orchestrator) GetCaps(ctx context.Context, idx caps.CameraIndex, c caps.Capability) caps.Status {
	acq, err := o.Acquire(ctx, idx, c)
	if err != nil {
		return StatusOf(err)
	}
	acq.Release()
	return acq.Status
}

// isNil reports whether c is nil or wraps a nil pointer.
func isNil(c caps.Capability) bool {
	if c == nil {
		return true
	}
	v := reflect.ValueOf(c)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// Acquire runs the protocol and hands the final region to the caller. On
// failure the returned error is a *StatusError and no region escapes.
func (o *Orchestrator) Acquire(ctx context.Context, idx caps.CameraIndex, c caps.Capability) (*Acquisition, error) {
	a := &attempt{id: id.NewAcquisitionID(), idx: idx}

	if err := o.conns.Connect(ctx); err != nil {
		o.logger.Debug("capability service connect failed",
			zap.String("acquisition_id", string(a.id)),
			zap.Error(err),
		)
	}
	conn, ok := o.conns.Current()
	if !ok {
		return nil, o.fail(a, caps.StatusNotReady, ErrNotConnected, "no connection")
	}
	if conn.PID != o.conns.PID() {
		return nil, o.fail(a, caps.StatusNotReady,
			fmt.Errorf("%w: owner %d, current %d", ErrStaleConnection, conn.PID, o.conns.PID()),
			"stale connection")
	}
	if isNil(c) {
		return nil, o.fail(a, caps.StatusInvalidArgument, ErrNilCapability, "nil capability")
	}

	a.raw = c.ReportSize()
	region, d, err := o.alloc.Allocate(a.raw, shm.TagGetCaps)
	a.decision = d
	if region == nil {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrAllocation, err)
		} else {
			err = ErrAllocation
		}
		return nil, o.fail(a, caps.StatusFailed, err, "allocation")
	}

	var tr caps.Transfer
	if st := c.Prepare(tr.Local()); st.Failed() {
		region.Release()
		return nil, o.fail(a, st, ErrPrepare, "prepare")
	}
	tr.Seal()

	next, st := conn.Proxy.Negotiate(ctx, idx, region, tr.Wire())
	if next != nil && next != region {
		region.Release()
		region = next
		a.replaced = true
	}
	switch {
	case st == caps.StatusNotSupported:
		region.Release()
		return nil, o.fail(a, st, ErrNotSupported, "negotiate")
	case st == caps.StatusDeadObject:
		region.Release()
		o.conns.InvalidateConn(conn)
		return nil, o.fail(a, caps.StatusFailed, fmt.Errorf("%w: remote status %s", ErrRemote, st), "negotiate")
	case st != caps.StatusOK:
		region.Release()
		return nil, o.fail(a, caps.StatusFailed, fmt.Errorf("%w: remote status %s", ErrRemote, st), "negotiate")
	}

	result := c.Finalize(tr.Local())
	if result.Failed() {
		region.Release()
		return nil, o.fail(a, result, ErrFinalize, "finalize")
	}

	acq := &Acquisition{
		ID:       a.id,
		Index:    idx,
		Status:   result,
		Region:   region,
		Decision: d,
		Replaced: a.replaced,
	}
	o.metrics.RecordAcquisition(result.String())
	o.logger.Info("capabilities acquired",
		append(a.fields(),
			zap.String("status", result.String()),
			zap.String("region_id", region.ID().String()),
			zap.Uint64("region_size", region.Size()),
		)...,
	)
	return acq, nil
}

// AwaitCaps retries Acquire while the service is not ready, dropping a
// connection inherited from another process between attempts. Any other
// outcome ends the wait. A nil b uses the orchestrator's retry policy.
func (o *Orchestrator) AwaitCaps(ctx context.Context, idx caps.CameraIndex, c caps.Capability, b backoff.BackOff) (*Acquisition, error) {
	if b == nil {
		b = o.NewBackOff()
	}

	var acq *Acquisition
	attempts := 0
	op := func() error {
		attempts++
		a, err := o.Acquire(ctx, idx, c)
		if err == nil {
			acq = a
			return nil
		}
		if !NotReady(err) {
			return backoff.Permanent(err)
		}
		o.conns.ResetIfStale()
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if NotReady(err) {
			o.logger.Warn("capability service not ready, giving up",
				zap.Uint32("camera", idx.ID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return acq, nil
}

// NewBackOff returns a fresh exponential backoff from the retry policy.
func (o *Orchestrator) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retry.InitialInterval
	b.MaxInterval = o.retry.MaxInterval
	b.MaxElapsedTime = o.retry.MaxElapsed
	b.Reset()
	return b
}

type attempt struct {
	id       id.AcquisitionID
	idx      caps.CameraIndex
	raw      uint64
	decision shm.Decision
	replaced bool
}

func (a *attempt) fields() []zap.Field {
	return []zap.Field{
		zap.String("acquisition_id", string(a.id)),
		zap.Uint32("camera", a.idx.ID),
		zap.Uint32("facing", a.idx.Facing),
		zap.Uint64("raw", a.raw),
		zap.Uint64("size", a.decision.Size),
		zap.Bool("replaced", a.replaced),
	}
}

func (o *Orchestrator) fail(a *attempt, st caps.Status, err error, reason string) error {
	label := st.String()
	level := zapcore.WarnLevel
	if NotReady(err) {
		label = "NOT_READY"
		level = zapcore.InfoLevel
	}
	o.metrics.RecordAcquisition(label)

	if ce := o.logger.Check(level, "capability acquisition rejected"); ce != nil {
		ce.Write(append(a.fields(),
			zap.Int32("status", int32(st)),
			zap.String("status_name", label),
			zap.String("reason", reason),
			zap.Error(err),
		)...)
	}
	return statusError(a.id, st, err)
}
