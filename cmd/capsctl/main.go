package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/capshim/internal/acquire"
	"github.com/GriffinCanCode/capshim/internal/caps"
	"github.com/GriffinCanCode/capshim/internal/caps/profile"
	grpccaps "github.com/GriffinCanCode/capshim/internal/grpc/capsvc"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/config"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/server"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/capshim/internal/service"
	"github.com/GriffinCanCode/capshim/internal/shm"
)

// cameraList collects repeated -camera flags of the form "id" or "id/facing".
type cameraList []cameraSelector

type cameraSelector struct {
	id        uint32
	facing    uint32
	hasFacing bool
}

func (l *cameraList) String() string {
	parts := make([]string, 0, len(*l))
	for _, c := range *l {
		if c.hasFacing {
			parts = append(parts, fmt.Sprintf("%d/%d", c.id, c.facing))
		} else {
			parts = append(parts, strconv.FormatUint(uint64(c.id), 10))
		}
	}
	return strings.Join(parts, ",")
}

func (l *cameraList) Set(v string) error {
	idPart, facingPart, hasFacing := strings.Cut(v, "/")
	id, err := strconv.ParseUint(idPart, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid camera id %q", idPart)
	}
	sel := cameraSelector{id: uint32(id), hasFacing: hasFacing}
	if hasFacing {
		facing, err := strconv.ParseUint(facingPart, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid facing %q", facingPart)
		}
		sel.facing = uint32(facing)
	}
	*l = append(*l, sel)
	return nil
}

// reportEntry is one line of the acquisition report.
type reportEntry struct {
	AcquisitionID string            `json:"acquisition_id,omitempty"`
	Camera        uint32            `json:"camera"`
	Facing        uint32            `json:"facing"`
	Name          string            `json:"name,omitempty"`
	Status        int32             `json:"status"`
	StatusName    string            `json:"status_name"`
	RegionSize    uint64            `json:"region_size,omitempty"`
	Replaced      bool              `json:"replaced,omitempty"`
	Values        map[string]string `json:"values,omitempty"`
	Error         string            `json:"error,omitempty"`
}

func main() {
	// Parse flags
	serviceAddr := flag.String("service", "", "Capability service gRPC address (overrides CAPS_SERVICE_ADDR)")
	profilePath := flag.String("profile", "", "Capability profile (.yaml, .yml or .toml)")
	serveAddr := flag.String("serve", "", "Serve the status HTTP surface on this address (overrides CAPS_HTTP_ADDR)")
	dev := flag.Bool("dev", false, "Development mode (console logs, debug level)")
	jsonOut := flag.Bool("json", false, "Print the report as JSON")
	var cameras cameraList
	flag.Var(&cameras, "camera", "Camera to acquire as id or id/facing (repeatable, default all)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "capsctl: %v\n", err)
		os.Exit(2)
	}
	if *serviceAddr != "" {
		cfg.Service.Address = *serviceAddr
	}
	if *serveAddr != "" {
		cfg.HTTP.Address = *serveAddr
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "capsctl: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	if err := run(cfg, *profilePath, cameras, *jsonOut, logger); err != nil {
		logger.Error("capsctl failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, profilePath string, cameras cameraList, jsonOut bool, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	tracer := tracing.New("capsctl", logger.Logger)
	defer tracer.Close()

	backend, err := shm.BackendByName(cfg.Memory.Backend)
	if err != nil {
		return err
	}
	alloc := shm.NewAllocator(
		shm.WithBackend(backend),
		shm.WithLogger(logger),
		shm.WithMetrics(metrics),
	)

	dialer := grpccaps.NewDialer(grpccaps.DialerConfigFrom(cfg), alloc, logger, metrics, tracer)
	conns := service.NewManager(dialer, service.WithLogger(logger), service.WithMetrics(metrics))
	defer conns.Close()

	orch := acquire.New(conns, alloc,
		acquire.WithLogger(logger),
		acquire.WithMetrics(metrics),
		acquire.WithRetryPolicy(acquire.RetryPolicy{
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			MaxElapsed:      cfg.Retry.MaxElapsed,
		}),
	)

	var p *profile.Profile
	if profilePath != "" {
		p, err = profile.Load(profilePath)
		if err != nil {
			return err
		}
		logger.Info("Profile loaded",
			zap.String("path", profilePath),
			zap.Int("cameras", len(p.Cameras)),
		)

		selected, err := selectCameras(p, cameras)
		if err != nil {
			return err
		}
		report := make([]reportEntry, 0, len(selected))
		for _, cam := range selected {
			report = append(report, acquireCamera(ctx, orch, cam))
		}
		if err := printReport(report, jsonOut); err != nil {
			return err
		}
	} else if cfg.HTTP.Address == "" {
		return fmt.Errorf("nothing to do: pass -profile and/or -serve")
	}

	if cfg.HTTP.Address == "" {
		return nil
	}

	srv := server.New(server.Options{
		Address:      cfg.HTTP.Address,
		Orchestrator: orch,
		Conns:        conns,
		Profile:      p,
		Gatherer:     reg,
		Tracer:       tracer,
		Logger:       logger,
		RateLimit:    cfg.RateLimit,
		Development:  cfg.Logging.Development,
	})
	return srv.Run(ctx)
}

func selectCameras(p *profile.Profile, cameras cameraList) ([]*profile.Camera, error) {
	if len(cameras) == 0 {
		return p.Cameras, nil
	}
	out := make([]*profile.Camera, 0, len(cameras))
	for _, sel := range cameras {
		var (
			cam *profile.Camera
			ok  bool
		)
		if sel.hasFacing {
			cam, ok = p.Camera(caps.CameraIndex{ID: sel.id, Facing: sel.facing})
		} else {
			cam, ok = p.Lookup(sel.id)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", profile.ErrNoCamera, (&cameraList{sel}).String())
		}
		out = append(out, cam)
	}
	return out, nil
}

func acquireCamera(ctx context.Context, orch *acquire.Orchestrator, cam *profile.Camera) reportEntry {
	entry := reportEntry{Camera: cam.ID, Facing: cam.Facing, Name: cam.Name}
	capability := cam.Capability()

	acq, err := orch.AwaitCaps(ctx, cam.Index(), capability, nil)
	if err != nil {
		st := acquire.StatusOf(err)
		entry.Status = int32(st)
		entry.StatusName = st.String()
		if acquire.NotReady(err) {
			entry.StatusName = "NOT_READY"
		}
		var se *acquire.StatusError
		if errors.As(err, &se) {
			entry.AcquisitionID = string(se.ID)
		}
		entry.Error = err.Error()
		return entry
	}
	defer acq.Release()

	entry.AcquisitionID = string(acq.ID)
	entry.Status = int32(acq.Status)
	entry.StatusName = acq.Status.String()
	entry.RegionSize = acq.Region.Size()
	entry.Replaced = acq.Replaced
	entry.Values = capability.Committed()
	return entry
}

func printReport(report []reportEntry, jsonOut bool) error {
	if jsonOut {
		data, err := sonic.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	for _, e := range report {
		line := fmt.Sprintf("camera %d/%d %-10s status=%d (%s)", e.Camera, e.Facing, e.Name, e.Status, e.StatusName)
		if e.RegionSize > 0 {
			line += fmt.Sprintf(" region=%d", e.RegionSize)
		}
		if e.Replaced {
			line += " replaced"
		}
		if e.Error != "" {
			line += " error=" + strconv.Quote(e.Error)
		}
		fmt.Println(line)
	}
	return nil
}
