// Package capsvc defines the wire protocol of the remote capability service.
//
// Messages are encoded field by field with protowire and carried by gRPC
// under the "capsvc" content-subtype, whose codec is registered on import.
// capsvc.proto is the schema; the hand-written messages follow its field
// numbers and types so a protoc-generated peer interoperates.
//
// Services:
//   - Negotiate: hand the service a transfer descriptor and a shared region;
//     the service may rewrite both or answer with a replacement region
//
// Usage:
//
//	This package is typically wrapped by internal/grpc/capsvc for the
//	service.Proxy interface.
package capsvc
