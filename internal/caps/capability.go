package caps

// CameraIndex identifies which capability set is requested from the service.
type CameraIndex struct {
	ID     uint32
	Facing uint32
}

// Capability is the view the acquisition protocol has over an opaque
// capability object. The object is owned by the caller.
//
// An acquisition calls ReportSize, Prepare and Finalize exactly once each
// and in that order. Anything else is undefined for the underlying object.
type Capability interface {
	// ReportSize returns the shared memory size the object asks for. The
	// value is untrusted and must go through the sanitizing allocator.
	ReportSize() uint64

	// Prepare writes a transfer descriptor into d, which the caller has
	// zeroed. A negative status aborts the acquisition.
	Prepare(d *Descriptor) Status

	// Finalize commits the transfer using d, the locally prepared
	// descriptor, and returns the acquisition result.
	Finalize(d *Descriptor) Status
}
