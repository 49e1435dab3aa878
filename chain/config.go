package chain

import "fmt"

// Environment variables consulted by ResolveConfig.
const (
	EnvRPCURL  = "SBE_RPC_URL"
	EnvRPCUser = "SBE_RPC_USER"
	EnvRPCPass = "SBE_RPC_PASS"
)

// RPCConfig holds the connection parameters for a node's JSON-RPC interface.
type RPCConfig struct {
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password"`
	Network  string `json:"network"`
}

// NetworkPresets are local-node defaults. Mainnet has none and must be
// configured explicitly.
var NetworkPresets = map[string]RPCConfig{
	"regtest": {URL: "http://localhost:18332", User: "sbe", Password: "sbe"},
	"testnet": {URL: "http://localhost:18333", User: "sbe", Password: "sbe"},
}

// ResolveConfig layers flags over environment over presets, highest first.
func ResolveConfig(flags *RPCConfig, env map[string]string, network string) (*RPCConfig, error) {
	result := RPCConfig{Network: network}
	if preset, ok := NetworkPresets[network]; ok {
		result = preset
		result.Network = network
	}

	if v := env[EnvRPCURL]; v != "" {
		result.URL = v
	}
	if v := env[EnvRPCUser]; v != "" {
		result.User = v
	}
	if v := env[EnvRPCPass]; v != "" {
		result.Password = v
	}

	if flags != nil {
		if flags.URL != "" {
			result.URL = flags.URL
		}
		if flags.User != "" {
			result.User = flags.User
		}
		if flags.Password != "" {
			result.Password = flags.Password
		}
	}

	if result.URL == "" {
		return nil, fmt.Errorf("chain: %s requires explicit RPC configuration (set --rpc-url or %s)", network, EnvRPCURL)
	}
	return &result, nil
}
