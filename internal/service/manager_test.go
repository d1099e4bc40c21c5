package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/capshim/internal/caps"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/capshim/internal/shm"
)

type mockProxy struct {
	mock.Mock
}

func (p *mockProxy) Negotiate(ctx context.Context, idx caps.CameraIndex, mem *shm.Region, wire *caps.Descriptor) (*shm.Region, caps.Status) {
	args := p.Called(ctx, idx, mem, wire)
	region, _ := args.Get(0).(*shm.Region)
	return region, args.Get(1).(caps.Status)
}

type countingCloser struct {
	closed atomic.Int32
}

func (c *countingCloser) Close() error {
	c.closed.Add(1)
	return nil
}

type countingDialer struct {
	dials  atomic.Int32
	closer *countingCloser
	err    error
}

func (d *countingDialer) Dial(context.Context) (Proxy, io.Closer, error) {
	d.dials.Add(1)
	if d.err != nil {
		return nil, nil, d.err
	}
	return &mockProxy{}, d.closer, nil
}

func newDialer() *countingDialer {
	return &countingDialer{closer: &countingCloser{}}
}

func TestConnectIsLazyAndIdempotent(t *testing.T) {
	d := newDialer()
	m := NewManager(d)

	_, ok := m.Current()
	assert.False(t, ok)
	assert.False(t, m.IsValid())
	assert.Equal(t, int32(0), d.dials.Load())

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))

	conn, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, m.PID(), conn.PID)
	assert.NotEqual(t, uuid.Nil, conn.ID)
	assert.False(t, conn.EstablishedAt.IsZero())
	assert.True(t, m.IsValid())
	assert.Equal(t, int32(1), d.dials.Load())
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	d := newDialer()
	m := NewManager(d)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Connect(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), d.dials.Load())
}

func TestConnectFailureLeavesNoConnection(t *testing.T) {
	d := newDialer()
	d.err = errors.New("connection refused")
	m := NewManager(d)

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, d.err)

	_, ok := m.Current()
	assert.False(t, ok)
}

func TestConnectWithoutDialer(t *testing.T) {
	m := NewManager(nil)
	assert.ErrorIs(t, m.Connect(context.Background()), ErrNoDialer)
}

func TestConnectionOwnedByOtherProcessIsInvalid(t *testing.T) {
	pid := atomic.Int64{}
	pid.Store(100)

	d := newDialer()
	m := NewManager(d, WithPIDFunc(func() int { return int(pid.Load()) }))
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsValid())

	// simulate a fork
	pid.Store(200)
	assert.False(t, m.IsValid())

	// Connect keeps the stale connection
	require.NoError(t, m.Connect(context.Background()))
	conn, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, 100, conn.PID)
	assert.Equal(t, int32(1), d.dials.Load())

	assert.True(t, m.ResetIfStale())
	assert.False(t, m.ResetIfStale())
	_, ok = m.Current()
	assert.False(t, ok)
	assert.Equal(t, int32(0), d.closer.closed.Load(), "inherited transport must not be closed")

	require.NoError(t, m.Connect(context.Background()))
	conn, _ = m.Current()
	assert.Equal(t, 200, conn.PID)
	assert.True(t, m.IsValid())
}

func TestInvalidateClosesAndRedials(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	d := newDialer()
	m := NewManager(d, WithMetrics(metrics))
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ConnectionValid))

	m.Invalidate()
	m.Invalidate()
	assert.Equal(t, int32(1), d.closer.closed.Load())
	assert.False(t, m.IsValid())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ConnectionValid))

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, int32(2), d.dials.Load())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.ConnectionsTotal))
}

func TestInvalidateConnIgnoresSupersededConnection(t *testing.T) {
	d := newDialer()
	m := NewManager(d)
	require.NoError(t, m.Connect(context.Background()))
	old, _ := m.Current()

	m.Invalidate()
	require.NoError(t, m.Connect(context.Background()))
	fresh, _ := m.Current()
	require.NotSame(t, old, fresh)

	assert.False(t, m.InvalidateConn(old))
	assert.True(t, m.IsValid())
	assert.Equal(t, int32(1), d.closer.closed.Load())

	assert.True(t, m.InvalidateConn(fresh))
	assert.False(t, m.IsValid())
	assert.Equal(t, int32(2), d.closer.closed.Load())

	assert.False(t, m.InvalidateConn(nil))
}

func TestDialerFunc(t *testing.T) {
	p := &mockProxy{}
	m := NewManager(DialerFunc(func(context.Context) (Proxy, io.Closer, error) {
		return p, nil, nil
	}))
	require.NoError(t, m.Connect(context.Background()))

	conn, ok := m.Current()
	require.True(t, ok)
	assert.Same(t, p, conn.Proxy)
	assert.NoError(t, m.Close())
}
