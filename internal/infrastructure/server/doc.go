// Package server exposes process status over HTTP.
//
// Routes:
//   - GET /healthz: capability service connection state, 503 when not usable
//   - GET /metrics: Prometheus metrics from the injected registry
//   - GET /v1/caps/:camera[?facing=N]: runs one acquisition for a profile camera
package server
