package capsvc

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/GriffinCanCode/capshim/internal/infrastructure/config"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/capshim/internal/service"
	"github.com/GriffinCanCode/capshim/internal/shm"
)

// MaxMessageSize caps both directions. It covers the largest region the
// allocator accepts plus message overhead.
const MaxMessageSize = int(shm.MaxSize) + 64*1024

// DialerConfig configures connections to the capability service.
type DialerConfig struct {
	Address     string
	CallTimeout time.Duration
	Keepalive   time.Duration
	Breaker     resilience.Settings
	// Options are appended to the default dial options.
	Options []grpc.DialOption
}

// DialerConfigFrom builds a DialerConfig from application configuration.
func DialerConfigFrom(cfg *config.Config) DialerConfig {
	return DialerConfig{
		Address:     cfg.Service.Address,
		CallTimeout: cfg.Service.CallTimeout,
		Keepalive:   cfg.Service.Keepalive,
		Breaker: resilience.Settings{
			MaxRequests:      cfg.Breaker.MaxRequests,
			Interval:         cfg.Breaker.Interval,
			Timeout:          cfg.Breaker.Timeout,
			FailureThreshold: cfg.Breaker.FailureThreshold,
		},
	}
}

// Dialer implements service.Dialer over gRPC. Every connection it creates
// shares one circuit breaker.
type Dialer struct {
	cfg     DialerConfig
	alloc   *shm.Allocator
	breaker *resilience.Breaker
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

var _ service.Dialer = (*Dialer)(nil)

// NewDialer creates a dialer. logger, metrics and tracer may be nil.
func NewDialer(cfg DialerConfig, alloc *shm.Allocator, logger *logging.Logger, metrics *monitoring.Metrics, tracer *tracing.Tracer) *Dialer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 60 * time.Second
	}

	settings := cfg.Breaker
	settings.IsSuccessful = func(err error) bool { return !TransportFailure(err) }

	return &Dialer{
		cfg:     cfg,
		alloc:   alloc,
		breaker: resilience.New("capsvc", settings, logger, metrics),
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Breaker returns the breaker shared by dialed clients.
func (d *Dialer) Breaker() *resilience.Breaker {
	return d.breaker
}

// Dial creates a client connection. The connection is established lazily
// by the first call.
func (d *Dialer) Dial(ctx context.Context) (service.Proxy, io.Closer, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                d.cfg.Keepalive,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	}
	if d.tracer != nil {
		opts = append(opts, grpc.WithUnaryInterceptor(tracing.GRPCClientInterceptor(d.tracer)))
	}
	opts = append(opts, d.cfg.Options...)

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	conn, err := grpc.NewClient(d.cfg.Address, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial capability service: %w", err)
	}

	d.logger.Debug("capability service client created", zap.String("address", d.cfg.Address))

	client := NewClient(conn, d.alloc,
		WithCallTimeout(d.cfg.CallTimeout),
		WithBreaker(d.breaker),
		WithLogger(d.logger),
		WithMetrics(d.metrics),
	)
	return client, conn, nil
}
