// Package config loads capshim configuration from the environment.
//
// Variables follow 12-factor conventions and are parsed with envconfig:
//
//	CAPS_SERVICE_ADDR   remote capability service target (localhost:50061)
//	CAPS_CALL_TIMEOUT   per-negotiate timeout (5s)
//	CAPS_SHM_BACKEND    heap | memfd (heap)
//	CAPS_HTTP_ADDR      status HTTP surface, disabled when empty
//	LOG_LEVEL, LOG_DEV, LOG_OUTPUT  logging
//
// CLI flags in cmd/capsctl override these values.
package config
