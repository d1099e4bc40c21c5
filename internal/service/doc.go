/*
Package service manages the link to the remote capability service.

A Manager holds at most one Connection. The connection is established
lazily by the first acquisition and records the process that created it;
after a fork the child sees a connection it does not own and treats the
service as not ready until ResetIfStale drops it.

	mgr := service.NewManager(dialer, service.WithLogger(logger))
	if err := mgr.Connect(ctx); err != nil {
		// not ready
	}
	if conn, ok := mgr.Current(); ok && mgr.IsValid() {
		region, status := conn.Proxy.Negotiate(ctx, idx, mem, wire)
	}
*/
package service
