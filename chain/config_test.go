package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkPresets(t *testing.T) {
	_, ok := NetworkPresets["mainnet"]
	assert.False(t, ok, "mainnet must be configured explicitly")
	assert.Equal(t, "http://localhost:18332", NetworkPresets["regtest"].URL)
	assert.Equal(t, "http://localhost:18333", NetworkPresets["testnet"].URL)
}

func TestResolveConfig(t *testing.T) {
	tests := []struct {
		name    string
		flags   *RPCConfig
		env     map[string]string
		network string
		want    RPCConfig
		wantErr bool
	}{
		{
			name:    "preset only",
			network: "regtest",
			want:    RPCConfig{URL: "http://localhost:18332", User: "sbe", Password: "sbe", Network: "regtest"},
		},
		{
			name:    "env overrides preset",
			env:     map[string]string{EnvRPCURL: "http://node:8332", EnvRPCPass: "x"},
			network: "testnet",
			want:    RPCConfig{URL: "http://node:8332", User: "sbe", Password: "x", Network: "testnet"},
		},
		{
			name:    "flags override env",
			flags:   &RPCConfig{URL: "http://flag:1", User: "me"},
			env:     map[string]string{EnvRPCURL: "http://env:2", EnvRPCUser: "envuser"},
			network: "mainnet",
			want:    RPCConfig{URL: "http://flag:1", User: "me", Network: "mainnet"},
		},
		{
			name:    "mainnet without config",
			network: "mainnet",
			wantErr: true,
		},
		{
			name:    "empty env values ignored",
			env:     map[string]string{EnvRPCURL: ""},
			network: "regtest",
			want:    RPCConfig{URL: "http://localhost:18332", User: "sbe", Password: "sbe", Network: "regtest"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveConfig(tt.flags, tt.env, tt.network)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), EnvRPCURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}
