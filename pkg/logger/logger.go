package logger

import (
	"go.uber.org/zap"
)

// LoggerConfig controls logger construction
type LoggerConfig struct {
	Debug bool
}

// NewLogger creates a zap logger. Production JSON output by default,
// human-readable development output when Debug is set.
func NewLogger(cfg *LoggerConfig) (*zap.Logger, error) {
	if cfg != nil && cfg.Debug {
		c := zap.NewDevelopmentConfig()
		return c.Build()
	}

	c := zap.NewProductionConfig()
	c.DisableStacktrace = true
	return c.Build()
}
