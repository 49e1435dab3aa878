package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var _ BlockchainService = (*RPCClient)(nil)

// btcToSat converts a node-reported BSV amount to satoshis.
func btcToSat(btc float64) uint64 {
	if btc <= 0 {
		return 0
	}
	return uint64(math.Round(btc * 1e8))
}

type listUnspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Amount        float64 `json:"amount"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Address       string  `json:"address"`
	Confirmations int64   `json:"confirmations"`
}

// ListUnspent calls `listunspent 0 9999999 ["address"]`.
func (c *RPCClient) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	params := []interface{}{0, 9999999, []string{address}}
	var results []listUnspentResult
	if err := c.Call(ctx, "listunspent", params, &results); err != nil {
		return nil, err
	}

	utxos := make([]*UTXO, len(results))
	for i, r := range results {
		utxos[i] = &UTXO{
			TxID:          r.TxID,
			Vout:          r.Vout,
			Amount:        btcToSat(r.Amount),
			ScriptPubKey:  r.ScriptPubKey,
			Address:       r.Address,
			Confirmations: r.Confirmations,
		}
	}
	return utxos, nil
}

// BroadcastTx calls `sendrawtransaction "hex"`. Node-side rejections wrap
// ErrBroadcastRejected; transport failures keep ErrConnectionFailed so callers
// can tell a retryable failure from a final one.
func (c *RPCClient) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	var txid string
	err := c.Call(ctx, "sendrawtransaction", []interface{}{rawTxHex}, &txid)
	if err != nil {
		var rerr *rpcError
		if errors.As(err, &rerr) {
			return "", fmt.Errorf("%w: %s", ErrBroadcastRejected, rerr.Message)
		}
		return "", err
	}
	return txid, nil
}

type verboseTxResult struct {
	Confirmations int64  `json:"confirmations"`
	BlockHash     string `json:"blockhash"`
	BlockHeight   uint64 `json:"blockheight"`
}

// GetTxStatus calls `getrawtransaction "txid" true`. An unknown txid yields
// ErrTxNotFound.
func (c *RPCClient) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	var result verboseTxResult
	err := c.Call(ctx, "getrawtransaction", []interface{}{txid, true}, &result)
	if err != nil {
		var rerr *rpcError
		if errors.As(err, &rerr) && rerr.Code == rpcCodeInvalidAddressOrKey {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txid)
		}
		return nil, err
	}
	return &TxStatus{
		Confirmed:   result.Confirmations > 0,
		BlockHash:   result.BlockHash,
		BlockHeight: result.BlockHeight,
	}, nil
}

// GetBestBlockHeight calls `getblockcount`.
func (c *RPCClient) GetBestBlockHeight(ctx context.Context) (uint64, error) {
	var height float64
	if err := c.Call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	if height < 0 {
		return 0, fmt.Errorf("%w: negative block height", ErrInvalidResponse)
	}
	return uint64(height), nil
}
