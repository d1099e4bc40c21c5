package acquire

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/capshim/internal/caps"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/capshim/internal/service"
	"github.com/GriffinCanCode/capshim/internal/shm"
)

type fakeCapability struct {
	size           uint64
	prepareStatus  caps.Status
	finalizeStatus caps.Status

	calls     []string
	prepared  *caps.Descriptor
	finalized *caps.Descriptor
	seen      caps.Descriptor
}

func (f *fakeCapability) ReportSize() uint64 {
	f.calls = append(f.calls, "size")
	return f.size
}

func (f *fakeCapability) Prepare(d *caps.Descriptor) caps.Status {
	f.calls = append(f.calls, "prepare")
	f.prepared = d
	copy(d[:], "prepared")
	return f.prepareStatus
}

func (f *fakeCapability) Finalize(d *caps.Descriptor) caps.Status {
	f.calls = append(f.calls, "finalize")
	f.finalized = d
	f.seen = *d
	return f.finalizeStatus
}

type proxyFunc func(ctx context.Context, idx caps.CameraIndex, mem *shm.Region, wire *caps.Descriptor) (*shm.Region, caps.Status)

func (f proxyFunc) Negotiate(ctx context.Context, idx caps.CameraIndex, mem *shm.Region, wire *caps.Descriptor) (*shm.Region, caps.Status) {
	return f(ctx, idx, mem, wire)
}

type negotiation struct {
	calls  atomic.Int32
	region *shm.Region
	wire   caps.Descriptor
}

// recording returns a proxy answering st, keeping what it was sent.
func (n *negotiation) recording(st caps.Status) proxyFunc {
	return func(_ context.Context, _ caps.CameraIndex, mem *shm.Region, wire *caps.Descriptor) (*shm.Region, caps.Status) {
		n.calls.Add(1)
		n.region = mem
		n.wire = *wire
		return mem, st
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type harness struct {
	orch    *Orchestrator
	conns   *service.Manager
	alloc   *shm.Allocator
	metrics *monitoring.Metrics
	logs    *observer.ObservedLogs
	dials   atomic.Int32
	closes  atomic.Int32
}

func newHarness(t *testing.T, proxy service.Proxy, opts ...service.ManagerOption) *harness {
	t.Helper()
	h := &harness{}

	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs
	logger := logging.FromZap(zap.New(core))
	h.metrics = monitoring.NewMetrics(prometheus.NewRegistry())
	h.alloc = shm.NewAllocator(shm.WithLogger(logger), shm.WithMetrics(h.metrics))

	dialer := service.DialerFunc(func(context.Context) (service.Proxy, io.Closer, error) {
		h.dials.Add(1)
		if proxy == nil {
			return nil, nil, errors.New("connection refused")
		}
		return proxy, closerFunc(func() error { h.closes.Add(1); return nil }), nil
	})
	h.conns = service.NewManager(dialer, append([]service.ManagerOption{service.WithLogger(logger)}, opts...)...)
	h.orch = New(h.conns, h.alloc, WithLogger(logger), WithMetrics(h.metrics))
	return h
}

func (h *harness) acquisitions(status string) float64 {
	return testutil.ToFloat64(h.metrics.Acquisitions.WithLabelValues(status))
}

func TestGetCapsWithoutServiceIsNotReady(t *testing.T) {
	h := newHarness(t, nil)
	c := &fakeCapability{}

	assert.Equal(t, caps.Status(0), h.orch.GetCaps(context.Background(), caps.CameraIndex{}, c))
	assert.Empty(t, c.calls)

	_, err := h.orch.Acquire(context.Background(), caps.CameraIndex{}, c)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, NotReady(err))
	assert.Equal(t, float64(2), h.acquisitions("NOT_READY"))
}

func TestGetCapsWithStaleConnectionIsNotReady(t *testing.T) {
	var pid atomic.Int64
	pid.Store(10)
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusOK), service.WithPIDFunc(func() int { return int(pid.Load()) }))
	require.NoError(t, h.conns.Connect(context.Background()))

	pid.Store(11)
	c := &fakeCapability{}
	assert.Equal(t, caps.Status(0), h.orch.GetCaps(context.Background(), caps.CameraIndex{}, c))
	assert.Empty(t, c.calls)
	assert.Equal(t, int32(0), n.calls.Load())

	_, err := h.orch.Acquire(context.Background(), caps.CameraIndex{}, c)
	assert.ErrorIs(t, err, ErrStaleConnection)
	assert.Equal(t, int32(1), h.dials.Load(), "a stale connection is not redialed inline")
}

func TestGetCapsNilCapability(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusOK))

	assert.Equal(t, caps.Status(-0x67), h.orch.GetCaps(context.Background(), caps.CameraIndex{}, nil))
	assert.Equal(t, int32(0), n.calls.Load())
}

func TestGetCapsTypedNilCapability(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusOK))

	var c *fakeCapability
	assert.NotPanics(t, func() {
		assert.Equal(t, caps.Status(-0x67), h.orch.GetCaps(context.Background(), caps.CameraIndex{}, c))
	})
	assert.Equal(t, int32(0), n.calls.Load())

	_, err := h.orch.Acquire(context.Background(), caps.CameraIndex{}, c)
	assert.ErrorIs(t, err, ErrNilCapability)
}

func TestGetCapsHostileSizeIsRejected(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusOK))
	c := &fakeCapability{size: 0xFFFFFFFF80000100}

	assert.Equal(t, caps.Status(-0x6f), h.orch.GetCaps(context.Background(), caps.CameraIndex{ID: 1}, c))
	assert.Equal(t, []string{"size"}, c.calls)
	assert.Equal(t, int32(0), n.calls.Load())

	decisions := h.logs.FilterMessage("allocator decision").All()
	require.Len(t, decisions, 1)
	fields := decisions[0].ContextMap()
	assert.Equal(t, uint64(0xFFFFFFFF80000100), fields["raw"])
	assert.Equal(t, uint64(0x80000100), fields["fixed"])
	assert.Equal(t, true, fields["sign_repaired"])
	assert.Equal(t, true, fields["reject_max"])
	assert.Equal(t, "rejected", fields["outcome"])

	rejected := h.logs.FilterMessage("capability acquisition rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "allocation", rejected[0].ContextMap()["reason"])

	_, err := h.orch.Acquire(context.Background(), caps.CameraIndex{ID: 1}, c)
	assert.ErrorIs(t, err, ErrAllocation)
	assert.ErrorIs(t, err, shm.ErrTooLarge)
}

func TestGetCapsReservedSizeIsRejected(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusOK))

	_, err := h.orch.Acquire(context.Background(), caps.CameraIndex{}, &fakeCapability{size: 0xE0000000})
	assert.ErrorIs(t, err, shm.ErrReservedRange)
	assert.Equal(t, caps.StatusFailed, StatusOf(err))
}

func TestGetCapsZeroSizeIsClamped(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusOK))
	c := &fakeCapability{}

	assert.Equal(t, caps.StatusOK, h.orch.GetCaps(context.Background(), caps.CameraIndex{}, c))
	require.NotNil(t, n.region)
	assert.Equal(t, uint64(0x198), n.region.Size())
	assert.Equal(t, int32(0), n.region.Refs(), "GetCaps releases the region")
}

func TestGetCapsPrepareFailureIsVerbatim(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusOK))
	c := &fakeCapability{size: 1024, prepareStatus: caps.StatusNoMemory}

	assert.Equal(t, caps.StatusNoMemory, h.orch.GetCaps(context.Background(), caps.CameraIndex{}, c))
	assert.Equal(t, []string{"size", "prepare"}, c.calls)
	assert.Equal(t, int32(0), n.calls.Load())
}

func TestGetCapsPrepareSeesZeroedBuffer(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusOK))
	var before caps.Descriptor
	c := &probeCapability{onPrepare: func(d *caps.Descriptor) { before = *d }}

	h.orch.GetCaps(context.Background(), caps.CameraIndex{}, c)
	assert.Equal(t, caps.Descriptor{}, before)
}

type probeCapability struct {
	onPrepare func(*caps.Descriptor)
}

func (p *probeCapability) ReportSize() uint64 { return 0 }

func (p *probeCapability) Prepare(d *caps.Descriptor) caps.Status {
	p.onPrepare(d)
	return caps.StatusOK
}

func (p *probeCapability) Finalize(*caps.Descriptor) caps.Status { return caps.StatusOK }

func TestGetCapsNotSupportedIsVerbatim(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusNotSupported))
	c := &fakeCapability{}

	assert.Equal(t, caps.Status(-0x6e), h.orch.GetCaps(context.Background(), caps.CameraIndex{}, c))
	assert.Equal(t, []string{"size", "prepare"}, c.calls, "finalize must not run")
	assert.Equal(t, int32(0), n.region.Refs())

	_, err := h.orch.Acquire(context.Background(), caps.CameraIndex{}, c)
	assert.ErrorIs(t, err, ErrNotSupported)
}

func TestGetCapsRemoteFailureIsNormalized(t *testing.T) {
	for _, remote := range []caps.Status{caps.StatusBadValue, caps.StatusNoMemory, caps.StatusFailed, 5} {
		t.Run(remote.String(), func(t *testing.T) {
			var n negotiation
			h := newHarness(t, n.recording(remote))
			c := &fakeCapability{}

			assert.Equal(t, caps.Status(-0x6f), h.orch.GetCaps(context.Background(), caps.CameraIndex{}, c))
			assert.NotContains(t, c.calls, "finalize")
			assert.True(t, h.conns.IsValid(), "connection survives a remote status")
		})
	}
}

func TestGetCapsDeadObjectInvalidatesConnection(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusDeadObject))

	assert.Equal(t, caps.Status(-0x6f), h.orch.GetCaps(context.Background(), caps.CameraIndex{}, &fakeCapability{}))
	assert.False(t, h.conns.IsValid())
	assert.Equal(t, int32(1), h.closes.Load())

	h.orch.GetCaps(context.Background(), caps.CameraIndex{}, &fakeCapability{})
	assert.Equal(t, int32(2), h.dials.Load())
}

func TestDeadObjectLeavesNewerConnectionAlone(t *testing.T) {
	var h *harness
	var calls atomic.Int32
	proxy := proxyFunc(func(ctx context.Context, _ caps.CameraIndex, mem *shm.Region, _ *caps.Descriptor) (*shm.Region, caps.Status) {
		if calls.Add(1) == 1 {
			// another caller replaces the connection while this one is in flight
			h.conns.Invalidate()
			require.NoError(t, h.conns.Connect(ctx))
		}
		return mem, caps.StatusDeadObject
	})
	h = newHarness(t, proxy)

	assert.Equal(t, caps.Status(-0x6f), h.orch.GetCaps(context.Background(), caps.CameraIndex{}, &fakeCapability{}))
	assert.True(t, h.conns.IsValid())
	assert.Equal(t, int32(2), h.dials.Load())
	assert.Equal(t, int32(1), h.closes.Load())
}

func TestFinalizeUsesLocalDescriptor(t *testing.T) {
	var wireSeen caps.Descriptor
	proxy := proxyFunc(func(_ context.Context, _ caps.CameraIndex, mem *shm.Region, wire *caps.Descriptor) (*shm.Region, caps.Status) {
		wireSeen = *wire
		for i := range wire {
			wire[i] = 0xFF
		}
		return mem, caps.StatusOK
	})
	h := newHarness(t, proxy)
	c := &fakeCapability{}

	require.Equal(t, caps.StatusOK, h.orch.GetCaps(context.Background(), caps.CameraIndex{}, c))
	assert.Same(t, c.prepared, c.finalized)
	assert.Equal(t, "prepared", string(c.seen[:8]))
	assert.Equal(t, byte(0), c.seen[caps.DescriptorSize-1])
	assert.Equal(t, "prepared", string(wireSeen[:8]), "the service receives a copy of the prepared descriptor")
}

func TestGetCapsReturnsFinalizeResult(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusOK))

	c := &fakeCapability{finalizeStatus: caps.StatusBadValue}
	assert.Equal(t, caps.StatusBadValue, h.orch.GetCaps(context.Background(), caps.CameraIndex{}, c))
	assert.Equal(t, []string{"size", "prepare", "finalize"}, c.calls)
	assert.Equal(t, int32(0), n.region.Refs())

	_, err := h.orch.Acquire(context.Background(), caps.CameraIndex{}, &fakeCapability{finalizeStatus: caps.StatusBadValue})
	assert.ErrorIs(t, err, ErrFinalize)
}

func TestAcquireRegionReflectsNegotiate(t *testing.T) {
	proxy := proxyFunc(func(_ context.Context, _ caps.CameraIndex, mem *shm.Region, _ *caps.Descriptor) (*shm.Region, caps.Status) {
		copy(mem.Bytes(), "from service")
		return mem, caps.StatusOK
	})
	h := newHarness(t, proxy)

	acq, err := h.orch.Acquire(context.Background(), caps.CameraIndex{ID: 3}, &fakeCapability{size: 4096})
	require.NoError(t, err)
	defer acq.Release()

	assert.Equal(t, caps.StatusOK, acq.Status)
	assert.Equal(t, uint64(4096), acq.Region.Size())
	assert.Equal(t, "from service", string(acq.Region.Bytes()[:12]))
	assert.False(t, acq.Replaced)
	assert.NotEmpty(t, acq.ID)
	assert.Equal(t, float64(1), h.acquisitions("OK"))
}

func TestAcquireUsesReplacementRegion(t *testing.T) {
	var original *shm.Region
	var alloc *shm.Allocator
	proxy := proxyFunc(func(_ context.Context, _ caps.CameraIndex, mem *shm.Region, _ *caps.Descriptor) (*shm.Region, caps.Status) {
		original = mem
		region, _, err := alloc.AllocClient(8192)
		if err != nil {
			return mem, caps.StatusNoMemory
		}
		copy(region.Bytes(), "replacement")
		return region, caps.StatusOK
	})
	h := newHarness(t, proxy)
	alloc = h.alloc

	acq, err := h.orch.Acquire(context.Background(), caps.CameraIndex{}, &fakeCapability{})
	require.NoError(t, err)
	defer acq.Release()

	assert.True(t, acq.Replaced)
	assert.NotSame(t, original, acq.Region)
	assert.Equal(t, int32(0), original.Refs(), "original region is released")
	assert.Equal(t, "replacement", string(acq.Region.Bytes()[:11]))
}

func TestAcquireReleasesReplacementOnFailure(t *testing.T) {
	var replacement *shm.Region
	var alloc *shm.Allocator
	proxy := proxyFunc(func(_ context.Context, _ caps.CameraIndex, mem *shm.Region, _ *caps.Descriptor) (*shm.Region, caps.Status) {
		replacement, _, _ = alloc.AllocClient(1024)
		return replacement, caps.StatusBadValue
	})
	h := newHarness(t, proxy)
	alloc = h.alloc

	_, err := h.orch.Acquire(context.Background(), caps.CameraIndex{}, &fakeCapability{})
	assert.ErrorIs(t, err, ErrRemote)
	require.NotNil(t, replacement)
	assert.Equal(t, int32(0), replacement.Refs())
}

func TestConcurrentGetCapsDialsOnce(t *testing.T) {
	var n atomic.Int32
	proxy := proxyFunc(func(_ context.Context, _ caps.CameraIndex, mem *shm.Region, _ *caps.Descriptor) (*shm.Region, caps.Status) {
		n.Add(1)
		return mem, caps.StatusOK
	})
	h := newHarness(t, proxy)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := h.orch.GetCaps(context.Background(), caps.CameraIndex{ID: uint32(i)}, &fakeCapability{size: uint64(i) * 512})
			assert.Equal(t, caps.StatusOK, st)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.dials.Load())
	assert.Equal(t, int32(16), n.Load())
}

func fastBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	b.Reset()
	return b
}

func TestAwaitCapsRetriesUntilConnected(t *testing.T) {
	var fails atomic.Int32
	fails.Store(2)
	var n negotiation
	proxy := n.recording(caps.StatusOK)

	h := &harness{}
	h.metrics = monitoring.NewMetrics(prometheus.NewRegistry())
	h.alloc = shm.NewAllocator()
	h.conns = service.NewManager(service.DialerFunc(func(context.Context) (service.Proxy, io.Closer, error) {
		h.dials.Add(1)
		if fails.Add(-1) >= 0 {
			return nil, nil, errors.New("connection refused")
		}
		return proxy, nil, nil
	}))
	h.orch = New(h.conns, h.alloc, WithMetrics(h.metrics))

	acq, err := h.orch.AwaitCaps(context.Background(), caps.CameraIndex{}, &fakeCapability{}, fastBackOff())
	require.NoError(t, err)
	defer acq.Release()

	assert.Equal(t, int32(3), h.dials.Load())
	assert.Equal(t, float64(2), h.acquisitions("NOT_READY"))
}

func TestAwaitCapsDropsStaleConnection(t *testing.T) {
	var pid atomic.Int64
	pid.Store(1)
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusOK), service.WithPIDFunc(func() int { return int(pid.Load()) }))
	require.NoError(t, h.conns.Connect(context.Background()))

	pid.Store(2)
	acq, err := h.orch.AwaitCaps(context.Background(), caps.CameraIndex{}, &fakeCapability{}, fastBackOff())
	require.NoError(t, err)
	defer acq.Release()

	conn, ok := h.conns.Current()
	require.True(t, ok)
	assert.Equal(t, 2, conn.PID)
	assert.Equal(t, int32(2), h.dials.Load())
}

func TestAwaitCapsDoesNotRetryFailures(t *testing.T) {
	var n negotiation
	h := newHarness(t, n.recording(caps.StatusNotSupported))

	_, err := h.orch.AwaitCaps(context.Background(), caps.CameraIndex{}, &fakeCapability{}, fastBackOff())
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.Equal(t, caps.StatusNotSupported, StatusOf(err))
	assert.Equal(t, int32(1), n.calls.Load())

	_, err = h.orch.AwaitCaps(context.Background(), caps.CameraIndex{}, nil, fastBackOff())
	assert.ErrorIs(t, err, ErrNilCapability)
}

func TestAwaitCapsGivesUpWithContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.orch.AwaitCaps(ctx, caps.CameraIndex{}, &fakeCapability{}, fastBackOff())
	require.Error(t, err)
	assert.True(t, NotReady(err))
	assert.Greater(t, h.dials.Load(), int32(1))
}

func TestNewBackOffFollowsPolicy(t *testing.T) {
	o := New(service.NewManager(nil), nil, WithRetryPolicy(RetryPolicy{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		MaxElapsed:      time.Second,
	}))
	b, ok := o.NewBackOff().(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, b.InitialInterval)
	assert.Equal(t, time.Second, b.MaxElapsedTime)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, caps.StatusOK, StatusOf(nil))
	assert.Equal(t, caps.StatusFailed, StatusOf(errors.New("other")))
	assert.Equal(t, caps.StatusNoMemory, StatusOf(statusError("", caps.StatusNoMemory, ErrPrepare)))

	wrapped := errors.Join(errors.New("context"), statusError("", caps.StatusNotSupported, ErrNotSupported))
	assert.Equal(t, caps.StatusNotSupported, StatusOf(wrapped))
	assert.ErrorIs(t, wrapped, ErrNotSupported)
}
