package chain

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/bsv-blockchain/go-sdk/script"
)

// BalanceOracle reports the spendable balance of a treasury address.
type BalanceOracle struct {
	svc BlockchainService
}

// NewBalanceOracle wraps svc.
func NewBalanceOracle(svc BlockchainService) *BalanceOracle {
	return &BalanceOracle{svc: svc}
}

// Balance sums every unspent output of address, confirmed or not, and
// returns the outputs it counted. A sum that does not fit in uint64 returns
// ErrBalanceOverflow rather than wrapping.
func (o *BalanceOracle) Balance(ctx context.Context, address string) (uint64, []*UTXO, error) {
	if o == nil || o.svc == nil {
		return 0, nil, fmt.Errorf("%w: blockchain service", ErrNilParam)
	}
	utxos, err := o.svc.ListUnspent(ctx, address)
	if err != nil {
		return 0, nil, fmt.Errorf("chain: list unspent for %s: %w", address, err)
	}

	var total uint64
	out := make([]*UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u == nil {
			continue
		}
		var carry uint64
		total, carry = bits.Add64(total, u.Amount, 0)
		if carry != 0 {
			return 0, nil, fmt.Errorf("%w: %s", ErrBalanceOverflow, address)
		}
		out = append(out, u)
	}
	return total, out, nil
}

// IsMainnet reports whether network uses mainnet address encoding.
func IsMainnet(network string) bool {
	return network == "" || network == "mainnet"
}

// AddressFromPKH encodes a 20-byte public key hash as a base58 P2PKH address.
func AddressFromPKH(pkh []byte, network string) (string, error) {
	addr, err := script.NewAddressFromPublicKeyHash(pkh, IsMainnet(network))
	if err != nil {
		return "", fmt.Errorf("chain: address from hash: %w", err)
	}
	return addr.AddressString, nil
}
