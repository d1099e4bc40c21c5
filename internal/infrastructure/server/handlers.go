package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/capshim/internal/acquire"
	"github.com/GriffinCanCode/capshim/internal/caps"
	"github.com/GriffinCanCode/capshim/internal/caps/profile"
	"github.com/GriffinCanCode/capshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/capshim/internal/service"
)

type handlers struct {
	orch    *acquire.Orchestrator
	conns   *service.Manager
	profile *profile.Profile
	timeout time.Duration
	logger  *logging.Logger
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Connected    bool   `json:"connected"`
	Valid        bool   `json:"valid"`
	PID          int    `json:"pid"`
	ConnectionID string `json:"connection_id,omitempty"`
	OwnerPID     int    `json:"owner_pid,omitempty"`
}

// CapsResponse is the body of GET /v1/caps/:camera.
type CapsResponse struct {
	AcquisitionID string            `json:"acquisition_id,omitempty"`
	Camera        uint32            `json:"camera"`
	Facing        uint32            `json:"facing"`
	Status        int32             `json:"status"`
	StatusName    string            `json:"status_name"`
	RegionSize    uint64            `json:"region_size,omitempty"`
	Replaced      bool              `json:"replaced,omitempty"`
	Values        map[string]string `json:"values,omitempty"`
	Error         string            `json:"error,omitempty"`
}

func (h *handlers) health(c *gin.Context) {
	resp := HealthResponse{}
	if h.conns != nil {
		resp.PID = h.conns.PID()
		if conn, ok := h.conns.Current(); ok {
			resp.Connected = true
			resp.ConnectionID = conn.ID.String()
			resp.OwnerPID = conn.PID
		}
		resp.Valid = h.conns.IsValid()
	}

	code := http.StatusOK
	if !resp.Valid {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (h *handlers) caps(c *gin.Context) {
	if h.orch == nil || h.profile == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no capability profile loaded"})
		return
	}

	id, err := strconv.ParseUint(c.Param("camera"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera id"})
		return
	}

	var (
		cam *profile.Camera
		ok  bool
	)
	if f := c.Query("facing"); f != "" {
		facing, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid facing"})
			return
		}
		cam, ok = h.profile.Camera(caps.CameraIndex{ID: uint32(id), Facing: uint32(facing)})
	} else {
		cam, ok = h.profile.Lookup(uint32(id))
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "camera not in profile"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	capability := cam.Capability()
	resp := CapsResponse{Camera: cam.ID, Facing: cam.Facing}

	acq, err := h.orch.Acquire(ctx, cam.Index(), capability)
	if err != nil {
		st := acquire.StatusOf(err)
		var se *acquire.StatusError
		if errors.As(err, &se) {
			resp.AcquisitionID = string(se.ID)
		}
		resp.Status = int32(st)
		resp.StatusName = st.String()
		resp.Error = err.Error()
		if acquire.NotReady(err) {
			resp.StatusName = "NOT_READY"
		}
		h.logger.Debug("acquisition over http failed", zap.Uint32("camera", cam.ID), zap.Error(err))
		c.JSON(httpStatus(err), resp)
		return
	}
	defer acq.Release()

	resp.AcquisitionID = string(acq.ID)
	resp.Status = int32(acq.Status)
	resp.StatusName = acq.Status.String()
	resp.RegionSize = acq.Region.Size()
	resp.Replaced = acq.Replaced
	resp.Values = capability.Committed()
	c.JSON(http.StatusOK, resp)
}

func httpStatus(err error) int {
	switch {
	case acquire.NotReady(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, acquire.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, acquire.ErrRemote):
		return http.StatusBadGateway
	case errors.Is(err, acquire.ErrAllocation):
		return http.StatusInsufficientStorage
	default:
		return http.StatusUnprocessableEntity
	}
}
