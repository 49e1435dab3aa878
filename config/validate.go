// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEnvironments = map[string]bool{
	"production":  true,
	"development": true,
	"local":       true,
}

// ValidateConfig returns the first invalid value in cfg, or nil.
func ValidateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrEmptyDataDir
	}

	if cfg.Network != "mainnet" && cfg.Network != "testnet" && cfg.Network != "regtest" {
		return ErrInvalidNetwork
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	if !validEnvironments[strings.ToLower(cfg.Environment)] {
		return ErrInvalidEnvironment
	}

	if cfg.DNSUpstream != "" {
		if _, _, err := net.SplitHostPort(cfg.DNSUpstream); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidUpstream, err)
		}
	}

	return nil
}
