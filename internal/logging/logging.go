// Package logging builds the structured, leveled zap logger shared by
// every service binary.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the logger's output format and level.
type Config struct {
	Level      string // debug, info, warn, error
	Production bool   // JSON output + sampling, vs. human-readable console output
}

// New builds a *zap.Logger from cfg. Invalid levels fall back to info.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err == nil {
			// level now holds the parsed value
		}
	}

	var zcfg zap.Config
	if cfg.Production {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

// Field re-exports are omitted deliberately: callers import zap
// directly for field constructors (zap.String, zap.Uint64, ...), the
// same convention the rest of the pack follows.
