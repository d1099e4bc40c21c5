/*
Package capsvc implements the remote capability service proxy over gRPC.

Client adapts the generated-style stubs in proto/capsvc to service.Proxy.
It never lets the service touch the locally prepared descriptor: responses
are copied into the wire copy only. Region sizes announced by the service are
untrusted and go through the sanitizing allocator.

Status mapping:
  - transport error or open breaker: caps.StatusDeadObject
  - codes.Unimplemented: caps.StatusNotSupported
  - refused replacement region: caps.StatusNoMemory
  - otherwise the status returned by the service
*/
package capsvc
