// Package main is the entry point for capsctl, the capability acquisition
// client.
//
// capsctl connects to the remote capability service, acquires the
// capabilities declared in a profile file for one or more cameras, and
// prints what each acquisition resolved to. It can also keep running and
// expose the status HTTP surface.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Acquire every camera of a profile
//	./capsctl -service localhost:50061 -profile cameras.yaml
//
//	# Selected cameras, JSON report
//	./capsctl -profile cameras.toml -camera 0 -camera 1/0 -json
//
//	# Serve /healthz, /metrics and /v1/caps/:camera
//	./capsctl -profile cameras.yaml -serve :8090 -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
