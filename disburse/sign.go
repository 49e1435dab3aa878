package disburse

import (
	"bytes"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
	"github.com/bsv-blockchain/go-sdk/transaction/template/p2pkh"
)

// Keys are the private keys that own the plan's inputs.
type Keys struct {
	Treasury *ec.PrivateKey
	Fee      *ec.PrivateKey
}

// PKH returns HASH160 of the compressed public key of priv.
func PKH(priv *ec.PrivateKey) []byte {
	return bsvhash.Hash160(priv.PubKey().Compressed())
}

// Sign attaches P2PKH unlockers to every input and signs the transaction.
// Treasury inputs are signed with keys.Treasury, fee inputs with keys.Fee;
// each key must hash to the owner recorded at build time.
func Sign(res *Result, keys Keys) error {
	if res == nil || res.Tx == nil {
		return fmt.Errorf("%w: result", ErrNilParam)
	}
	if keys.Treasury == nil || keys.Fee == nil {
		return fmt.Errorf("%w: signing keys", ErrNilParam)
	}
	if !bytes.Equal(PKH(keys.Treasury), res.treasuryPKH) {
		return fmt.Errorf("%w: treasury", ErrKeyMismatch)
	}
	if !bytes.Equal(PKH(keys.Fee), res.feePKH) {
		return fmt.Errorf("%w: fee", ErrKeyMismatch)
	}

	for i := range res.Tx.Inputs {
		key := keys.Fee
		if i < res.treasuryInputs {
			key = keys.Treasury
		}
		unlocker, err := p2pkh.Unlock(key, nil)
		if err != nil {
			return fmt.Errorf("%w: unlocker for input %d: %w", ErrSigningFailed, i, err)
		}
		res.Tx.Inputs[i].UnlockingScriptTemplate = unlocker
	}

	if err := res.Tx.Sign(); err != nil {
		return fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	return nil
}
