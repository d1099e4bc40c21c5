// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// The allocator and the acquisition orchestrator write their audit trail
// through this logger, one line per decision, so production logs are the
// place to look when a remote peer starts reporting hostile sizes.
//
// Example Usage:
//
//	logger, err := logging.New(cfg.Logging)
//	logger.Info("connected", zap.String("addr", "localhost:50061"))
//	logger.Error("negotiate failed", zap.Error(err))
package logging
