// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "mainnet", cfg.Network)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "treasuries.yaml", cfg.Treasuries)
	assert.Equal(t, "history.db", cfg.SQLite)
	assert.Equal(t, uint64(1), cfg.FeeRate)
	assert.Empty(t, cfg.LogFile)
	assert.True(t, strings.HasSuffix(cfg.DataDir, ".sbe"), cfg.DataDir)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config")
	want := Config{
		DataDir:     "/srv/sbe",
		Network:     "regtest",
		LogLevel:    "debug",
		LogFile:     "sbe.log",
		Environment: "development",
		Treasuries:  "/etc/sbe/treasuries.yaml",
		SQLite:      "", // history disabled
		DNSUpstream: "1.1.1.1:53",
		FeeRate:     50,
	}
	require.NoError(t, SaveConfig(path, want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# SBE Configuration\n"))
	for _, key := range []string{"datadir", "network", "loglevel", "logfile", "environment", "treasuries", "sqlite", "dnsupstream", "feerate"} {
		assert.Contains(t, string(data), key+" = ")
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file keeps defaults", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config"))
		assert.ErrorIs(t, err, ErrConfigNotFound)
		assert.Equal(t, DefaultConfig().Network, cfg.Network)
	})

	t.Run("comments blanks and unknown keys", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "# sbe\n\n  network = testnet  \nfuturekey = 1\nfeerate=250\n"))
		require.NoError(t, err)
		assert.Equal(t, "testnet", cfg.Network)
		assert.Equal(t, uint64(250), cfg.FeeRate)
		assert.Equal(t, "production", cfg.Environment, "unset keys keep defaults")
	})

	t.Run("value containing equals", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "logfile=/tmp/a=b.log\n"))
		require.NoError(t, err)
		assert.Equal(t, "/tmp/a=b.log", cfg.LogFile)
	})

	t.Run("keys are case insensitive", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "DNSUpstream = 9.9.9.9:53\n"))
		require.NoError(t, err)
		assert.Equal(t, "9.9.9.9:53", cfg.DNSUpstream)
	})

	t.Run("malformed line", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "network testnet\n"))
		assert.ErrorIs(t, err, ErrInvalidConfigLine)
		_, err = LoadConfig(writeConfig(t, " = testnet\n"))
		assert.ErrorIs(t, err, ErrInvalidConfigLine)
	})

	t.Run("bad fee rate", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "feerate = -3\n"))
		assert.ErrorIs(t, err, ErrInvalidFeeRate)
		assert.Contains(t, err.Error(), "line 1")
	})
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"regtest", func(c *Config) { c.Network = "regtest" }, nil},
		{"warn level", func(c *Config) { c.LogLevel = "WARN" }, nil},
		{"local env", func(c *Config) { c.Environment = "local" }, nil},
		{"no upstream", func(c *Config) { c.DNSUpstream = "" }, nil},
		{"empty datadir", func(c *Config) { c.DataDir = "" }, ErrEmptyDataDir},
		{"devnet", func(c *Config) { c.Network = "devnet" }, ErrInvalidNetwork},
		{"verbose", func(c *Config) { c.LogLevel = "verbose" }, ErrInvalidLogLevel},
		{"staging", func(c *Config) { c.Environment = "staging" }, ErrInvalidEnvironment},
		{"upstream without port", func(c *Config) { c.DNSUpstream = "8.8.8.8" }, ErrInvalidUpstream},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := ValidateConfig(cfg)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/home/op/.sbe", "config"), ConfigPath("/home/op/.sbe"))

	cfg := Config{DataDir: "/data"}
	assert.Equal(t, "", cfg.Resolve(""))
	assert.Equal(t, filepath.Join("/data", "history.db"), cfg.Resolve("history.db"))
	assert.Equal(t, "/abs/history.db", cfg.Resolve("/abs/history.db"))
	assert.Equal(t, filepath.Join("/data", "sbe.db"), cfg.StorePath())
}
