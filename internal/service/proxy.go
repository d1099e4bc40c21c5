package service

import (
	"context"
	"io"

	"github.com/GriffinCanCode/capshim/internal/caps"
	"github.com/GriffinCanCode/capshim/internal/shm"
)

// Proxy is the remote capability service as seen by an acquisition.
type Proxy interface {
	// Negotiate hands the service the shared region and the wire copy of the
	// descriptor. The service may mutate both, or substitute its own region.
	// The returned region is the one the caller must continue with; it is
	// mem itself unless the service replaced it.
	Negotiate(ctx context.Context, idx caps.CameraIndex, mem *shm.Region, wire *caps.Descriptor) (*shm.Region, caps.Status)
}

// Dialer establishes a connection to the remote service. The returned closer
// tears the connection down.
type Dialer interface {
	Dial(ctx context.Context) (Proxy, io.Closer, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context) (Proxy, io.Closer, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Proxy, io.Closer, error) {
	return f(ctx)
}
