// Package caps defines the capability object adapter used by the
// acquisition protocol: the Capability interface, the fixed-size transfer
// Descriptor with its local/wire split, camera indices and status codes.
//
// Status codes:
//
//	0       OK, or "not ready" when no acquisition happened
//	-0x67   invalid argument (nil capability)
//	-0x6e   not supported, propagated verbatim end to end
//	-0x6f   generic failure (allocation or remote protocol)
package caps
