package acquire

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/capshim/internal/caps"
	"github.com/GriffinCanCode/capshim/internal/shared/id"
)

var (
	ErrNotConnected    = errors.New("acquire: capability service not connected")
	ErrStaleConnection = errors.New("acquire: connection owned by another process")
	ErrNilCapability   = errors.New("acquire: nil capability object")
	ErrAllocation      = errors.New("acquire: shared memory allocation failed")
	ErrNotSupported    = errors.New("acquire: not supported by capability service")
	ErrRemote          = errors.New("acquire: remote negotiate failed")
	ErrPrepare         = errors.New("acquire: prepare failed")
	ErrFinalize        = errors.New("acquire: finalize failed")
)

// StatusError carries the status an acquisition resolved to.
type StatusError struct {
	ID     id.AcquisitionID
	Status caps.Status
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %s)", e.Err, e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func statusError(acq id.AcquisitionID, st caps.Status, err error) *StatusError {
	return &StatusError{ID: acq, Status: st, Err: err}
}

// StatusOf returns the status err resolves to. A nil error is StatusOK and
// an error not produced by this package is StatusFailed.
func StatusOf(err error) caps.Status {
	if err == nil {
		return caps.StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return caps.StatusFailed
}

// NotReady reports whether err means the service is not available yet and
// the acquisition may be retried.
func NotReady(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrStaleConnection)
}
