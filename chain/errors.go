package chain

import "errors"

var (
	// ErrConnectionFailed indicates the client could not reach the node.
	ErrConnectionFailed = errors.New("chain: connection failed")

	// ErrTxNotFound indicates the requested transaction or output does not exist.
	ErrTxNotFound = errors.New("chain: transaction not found")

	// ErrBroadcastRejected indicates the node rejected the transaction.
	ErrBroadcastRejected = errors.New("chain: broadcast rejected")

	// ErrInvalidResponse indicates the node returned a malformed response.
	ErrInvalidResponse = errors.New("chain: invalid response")

	// ErrBalanceOverflow indicates the UTXO sum of an address exceeds uint64.
	ErrBalanceOverflow = errors.New("chain: balance overflows uint64")

	// ErrNilParam indicates a required parameter was nil.
	ErrNilParam = errors.New("chain: nil parameter")

	// ErrCircuitOpen indicates the node breaker is rejecting calls.
	ErrCircuitOpen = errors.New("chain: circuit open")
)
