// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

// Package config loads the sbed daemon configuration and the treasury
// definitions it schedules.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the daemon configuration, stored as "key = value" lines in
// <datadir>/config.
type Config struct {
	DataDir     string
	Network     string
	LogLevel    string
	LogFile     string
	Environment string
	Treasuries  string // path of the treasury YAML; relative paths resolve against DataDir
	SQLite      string // audit database path; empty disables the history
	DNSUpstream string
	FeeRate     uint64 // sat/KB
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		DataDir:     DefaultDataDir(),
		Network:     "mainnet",
		LogLevel:    "info",
		Environment: "production",
		Treasuries:  "treasuries.yaml",
		SQLite:      "history.db",
		DNSUpstream: "8.8.8.8:53",
		FeeRate:     1,
	}
}

// DefaultDataDir returns ~/.sbe, or .sbe in the working directory when the
// home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".sbe"
	}
	return filepath.Join(home, ".sbe")
}

// ConfigPath returns the config file location inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config")
}

// Resolve returns p unchanged when absolute or empty, otherwise joined to
// DataDir.
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// StorePath is the bbolt database holding state records and the journal.
func (c Config) StorePath() string { return filepath.Join(c.DataDir, "sbe.db") }

// LoadConfig reads path on top of DefaultConfig. Unknown keys are ignored.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, err := parseKeyValue(line)
		if err != nil {
			return cfg, fmt.Errorf("%w: line %d: %q", ErrInvalidConfigLine, lineNo, line)
		}
		if err := cfg.set(key, value); err != nil {
			return cfg, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

func parseKeyValue(line string) (string, string, error) {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", ErrInvalidConfigLine
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", ErrInvalidConfigLine
	}
	return strings.ToLower(key), strings.TrimSpace(value), nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "datadir":
		c.DataDir = value
	case "network":
		c.Network = value
	case "loglevel":
		c.LogLevel = value
	case "logfile":
		c.LogFile = value
	case "environment":
		c.Environment = value
	case "treasuries":
		c.Treasuries = value
	case "sqlite":
		c.SQLite = value
	case "dnsupstream":
		c.DNSUpstream = value
	case "feerate":
		rate, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidFeeRate, value)
		}
		c.FeeRate = rate
	}
	return nil
}

// SaveConfig writes cfg to path with 0600 permissions, creating the parent
// directory.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	var b strings.Builder
	b.WriteString("# SBE Configuration\n")
	fmt.Fprintf(&b, "datadir = %s\n", cfg.DataDir)
	fmt.Fprintf(&b, "network = %s\n", cfg.Network)
	fmt.Fprintf(&b, "loglevel = %s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "logfile = %s\n", cfg.LogFile)
	fmt.Fprintf(&b, "environment = %s\n", cfg.Environment)
	fmt.Fprintf(&b, "treasuries = %s\n", cfg.Treasuries)
	fmt.Fprintf(&b, "sqlite = %s\n", cfg.SQLite)
	fmt.Fprintf(&b, "dnsupstream = %s\n", cfg.DNSUpstream)
	fmt.Fprintf(&b, "feerate = %d\n", cfg.FeeRate)

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
