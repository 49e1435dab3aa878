// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrInvalidNetwork indicates the network name is not recognized.
	ErrInvalidNetwork = errors.New("config: invalid network (must be \"mainnet\", \"testnet\", or \"regtest\")")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrInvalidEnvironment indicates the logging environment is not recognized.
	ErrInvalidEnvironment = errors.New("config: invalid environment (must be \"production\", \"development\", or \"local\")")

	// ErrInvalidUpstream indicates the DNS upstream is not a host:port address.
	ErrInvalidUpstream = errors.New("config: invalid DNS upstream")

	// ErrInvalidFeeRate indicates the fee rate could not be parsed.
	ErrInvalidFeeRate = errors.New("config: invalid fee rate")

	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigLine indicates a line in the config file is malformed.
	ErrInvalidConfigLine = errors.New("config: invalid configuration line")

	// ErrInvalidTreasury indicates a treasury definition is incomplete or malformed.
	ErrInvalidTreasury = errors.New("config: invalid treasury definition")
)
