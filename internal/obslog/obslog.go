// Package obslog builds the process-wide zap.Logger every service component
// takes as an explicit dependency, and installs it as zap's global logger the
// way the teacher's core/cross_chain.go calls zap.L().Sugar() without ever
// constructing a logger itself.
package obslog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger (spec §6 logging.level / logging.file).
type Options struct {
	Level string // debug, info, warn, error
	File  string // empty means stderr
}

// New builds a zap.Logger from Options and installs it as zap's global
// logger via zap.ReplaceGlobals.
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(levelOrDefault(opts.Level))
	if err != nil {
		return nil, fmt.Errorf("obslog: parse level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if opts.File != "" {
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("obslog: build logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}
