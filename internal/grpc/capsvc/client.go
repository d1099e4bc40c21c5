package capsvc

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/capshim/internal/caps"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/capshim/internal/shm"
	pb "github.com/GriffinCanCode/capshim/proto/capsvc"
)

// DefaultCallTimeout bounds a single negotiate call.
const DefaultCallTimeout = 5 * time.Second

// Client is the gRPC implementation of service.Proxy.
type Client struct {
	rpc     pb.CapabilityServiceClient
	alloc   *shm.Allocator
	breaker *resilience.Breaker
	logger  *logging.Logger
	metrics *monitoring.Metrics
	timeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCallTimeout sets the per-call deadline.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithBreaker guards calls with b.
func WithBreaker(b *resilience.Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the client metrics.
func WithMetrics(m *monitoring.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a proxy over cc. Replacement regions sent by the service
// are allocated through alloc.
func NewClient(cc grpc.ClientConnInterface, alloc *shm.Allocator, opts ...ClientOption) *Client {
	c := &Client{
		rpc:     pb.NewCapabilityServiceClient(cc),
		alloc:   alloc,
		timeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	if c.alloc == nil {
		c.alloc = shm.NewAllocator(shm.WithLogger(c.logger), shm.WithMetrics(c.metrics))
	}
	c.logger = c.logger.Named("capsvc")
	return c
}

// Negotiate sends the wire descriptor and the region to the service.
//
// The response descriptor is copied into wire only. Region data returned by
// the service is copied into mem, unless the service replaced the region, in
// which case a new region is allocated from the untrusted size it reported.
// Transport failures are reported as caps.StatusDeadObject.
func (c *Client) Negotiate(ctx context.Context, idx caps.CameraIndex, mem *shm.Region, wire *caps.Descriptor) (*shm.Region, caps.Status) {
	req := &pb.NegotiateRequest{
		CameraID:   idx.ID,
		Facing:     idx.Facing,
		Descriptor: wire[:],
	}
	if mem != nil {
		req.RegionID = mem.ID().String()
		req.RegionSize = mem.Size()
		req.RegionData = mem.Bytes()
	}

	start := time.Now()
	resp, err := c.call(ctx, req)
	c.metrics.RecordNegotiate(time.Since(start), errorCode(err))

	if err != nil {
		if status.Code(err) == codes.Unimplemented {
			c.logger.Info("capability service does not implement negotiate", zap.Uint32("camera", idx.ID))
			return mem, caps.StatusNotSupported
		}
		c.logger.Warn("negotiate failed",
			zap.Uint32("camera", idx.ID),
			zap.Uint32("facing", idx.Facing),
			zap.Error(err),
		)
		return mem, caps.StatusDeadObject
	}

	if len(resp.Descriptor) > 0 {
		n := copy(wire[:], resp.Descriptor)
		clear(wire[n:])
	}

	result := caps.Status(resp.Status)
	if resp.Replaced {
		region, d, err := c.alloc.AllocClient(resp.RegionSize)
		if err != nil || region == nil {
			c.logger.Warn("service replacement region refused",
				zap.Uint32("camera", idx.ID),
				zap.Uint64("raw", d.Raw),
				zap.Uint64("size", d.Size),
				zap.String("outcome", string(d.Outcome)),
				zap.Error(err),
			)
			return mem, caps.StatusNoMemory
		}
		copy(region.Bytes(), resp.RegionData)
		return region, result
	}

	if mem != nil && len(resp.RegionData) > 0 {
		copy(mem.Bytes(), resp.RegionData)
	}
	return mem, result
}

func (c *Client) call(ctx context.Context, req *pb.NegotiateRequest) (*pb.NegotiateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.breaker == nil {
		return c.rpc.Negotiate(ctx, req)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.rpc.Negotiate(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*pb.NegotiateResponse), nil
}

// TransportFailure reports whether err should count against the breaker.
// Unimplemented is an answer from a healthy service.
func TransportFailure(err error) bool {
	return err != nil && status.Code(err) != codes.Unimplemented
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return "BreakerOpen"
	default:
		return status.Code(err).String()
	}
}
