package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/capshim/internal/acquire"
	"github.com/GriffinCanCode/capshim/internal/caps/profile"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/config"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/capshim/internal/service"
)

// Options wires the status surface to the rest of the process.
type Options struct {
	Address        string
	Orchestrator   *acquire.Orchestrator
	Conns          *service.Manager
	Profile        *profile.Profile
	Gatherer       prometheus.Gatherer
	Tracer         *tracing.Tracer
	Logger         *logging.Logger
	RateLimit      config.RateLimitConfig
	Development    bool
	AcquireTimeout time.Duration
}

// Server is the HTTP status surface.
type Server struct {
	router *gin.Engine
	http   *http.Server
	opts   Options
	logger *logging.Logger
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("http")
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 10 * time.Second
	}

	if !opts.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Tracer != nil {
		router.Use(tracing.HTTPMiddleware(opts.Tracer))
	}
	if opts.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", opts.RateLimit.RequestsPerSecond),
			zap.Int("burst", opts.RateLimit.Burst),
		)
		router.Use(RateLimit(opts.RateLimit))
	}

	s := &Server{
		router: router,
		opts:   opts,
		logger: logger,
	}

	h := &handlers{
		orch:    opts.Orchestrator,
		conns:   opts.Conns,
		profile: opts.Profile,
		timeout: opts.AcquireTimeout,
		logger:  logger,
	}
	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	router.GET("/v1/caps/:camera", h.caps)

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.opts.Address))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
