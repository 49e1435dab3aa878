// Package chain connects the buyback engine to a BSV node: UTXO lookups for
// the treasury balance, transaction broadcast, and the wall clock that feeds
// the eligibility check.
package chain

import "context"

// BlockchainService is the node surface the runner depends on.
type BlockchainService interface {
	// ListUnspent returns all unspent outputs paying to address, including
	// unconfirmed ones.
	ListUnspent(ctx context.Context, address string) ([]*UTXO, error)

	// BroadcastTx submits a raw transaction hex and returns its txid.
	BroadcastTx(ctx context.Context, rawTxHex string) (string, error)

	// GetTxStatus reports whether the node knows txid and whether it is mined.
	GetTxStatus(ctx context.Context, txid string) (*TxStatus, error)

	// GetBestBlockHeight returns the height of the chain tip.
	GetBestBlockHeight(ctx context.Context) (uint64, error)
}

// UTXO is an unspent transaction output.
type UTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        uint64 `json:"amount"`
	ScriptPubKey  string `json:"script_pubkey"`
	Address       string `json:"address"`
	Confirmations int64  `json:"confirmations"`
}

// TxStatus is the confirmation status of a transaction.
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHash   string `json:"block_hash"`
	BlockHeight uint64 `json:"block_height"`
}
