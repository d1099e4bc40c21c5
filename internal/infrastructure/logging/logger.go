package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/capshim/internal/infrastructure/config"
)

// Logger wraps zap.Logger so components can take a single named handle.
type Logger struct {
	*zap.Logger
}

// New builds a logger from the logging section of the module config.
// Production mode writes JSON, development mode writes colored console
// lines with stack traces on warnings.
func New(cfg config.LogConfig) (*Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// allocator decision lines must never be sampled away
	zc.Sampling = nil

	if cfg.Output != "" {
		zc.OutputPaths = []string{cfg.Output}
	} else {
		zc.OutputPaths = []string{"stderr"}
	}
	zc.ErrorOutputPaths = []string{"stderr"}

	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{Logger: l}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// FromZap wraps an existing zap logger, e.g. one built on an observer core.
func FromZap(l *zap.Logger) *Logger {
	if l == nil {
		return NewNop()
	}
	return &Logger{Logger: l}
}

// Named returns a child logger with the given name segment.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}
