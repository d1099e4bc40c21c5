/*
Package monitoring provides Prometheus metrics for capshim.

# Overview

Metrics are registered on an injected prometheus.Registerer so that tests
and embedders can use private registries. A nil *Metrics is accepted
everywhere and records nothing.

# Metrics

- capshim_alloc_decisions_total{tag,branch}: every sanitizer branch
  (sign_repair, clamp_min, reject_max, reject_reserved, empty, allocated, failed)
- capshim_alloc_bytes{tag}: allocated region sizes
- capshim_acquisitions_total{status}: getCaps results
- capshim_negotiate_duration_seconds, capshim_negotiate_errors_total{code}
- capshim_connections_total, capshim_connection_valid
- capshim_breaker_state{name}

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
