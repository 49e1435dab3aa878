// Package logging builds the zap logger used by the daemon and the runner.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment selects the baseline logger profile.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentDevelopment Environment = "development"
	EnvironmentLocal       Environment = "local"
)

// Config holds logger initialization inputs.
type Config struct {
	Environment Environment
	Level       string // debug, info, warn, error; empty picks by environment
	File        string // extra output path; stderr is always written
}

func (c Config) validate() error {
	switch c.Environment {
	case EnvironmentProduction, EnvironmentDevelopment, EnvironmentLocal:
		return nil
	default:
		return fmt.Errorf("logging: invalid environment %q", c.Environment)
	}
}

// New creates a logger and returns it with a runtime-adjustable level handle.
func New(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	if cfg.Environment == "" {
		cfg.Environment = EnvironmentProduction
	}
	if err := cfg.validate(); err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	level, err := ResolveLevel(cfg.Level, cfg.Environment)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}

	zc := baseConfig(cfg.Environment)
	zc.Level = level
	zc.DisableStacktrace = true
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("logging: build logger: %w", err)
	}
	return logger, level, nil
}

// ResolveLevel parses level, defaulting to debug for development and local
// environments and info otherwise.
func ResolveLevel(level string, env Environment) (zap.AtomicLevel, error) {
	if strings.TrimSpace(level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(level); err != nil {
			return zap.AtomicLevel{}, fmt.Errorf("logging: invalid level %q: %w", level, err)
		}
		return zap.NewAtomicLevelAt(parsed), nil
	}
	if env == EnvironmentDevelopment || env == EnvironmentLocal {
		return zap.NewAtomicLevelAt(zapcore.DebugLevel), nil
	}
	return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
}

func baseConfig(env Environment) zap.Config {
	if env == EnvironmentDevelopment || env == EnvironmentLocal {
		cfg := zap.NewDevelopmentConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger { return zap.NewNop() }
