/*
Package acquire runs the capability acquisition protocol between a local
capability object and the remote capability service.

One acquisition:

 1. connects lazily and gives up with status 0 when the service is absent or
    the connection belongs to another process
 2. sizes a shared region from the object's untrusted report through the
    sanitizing allocator
 3. has the object prepare a descriptor into a local buffer and sends only a
    copy of it to the service
 4. finalizes with the local buffer, never with what came back

GetCaps returns the flattened status. Acquire returns the final region, or a
*StatusError; StatusOf recovers the status from any error. AwaitCaps retries
while the service is not ready.
*/
package acquire
