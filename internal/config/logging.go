package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level,omitempty"`       // debug, info, warn, error
	Encoding string `yaml:"encoding" json:"encoding,omitempty"` // console, json
}

// ZapLevel parses Level.
func (l LoggingConfig) ZapLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// ZapConfig returns the zap configuration for these settings. verbose
// forces debug level.
func (l LoggingConfig) ZapConfig(verbose bool) zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = l.Encoding
	if cfg.Encoding == "" {
		cfg.Encoding = "console"
	}
	if cfg.Encoding == "console" {
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	lvl, err := l.ZapLevel()
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg
}
