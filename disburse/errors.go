package disburse

import "errors"

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("disburse: required parameter is nil")

	// ErrInsufficientFunds indicates the treasury inputs cannot cover the
	// buckets or the fee inputs cannot cover the fee.
	ErrInsufficientFunds = errors.New("disburse: insufficient funds")

	// ErrInvalidPlan indicates a malformed plan: bad hash lengths, bad txids
	// or amounts that overflow.
	ErrInvalidPlan = errors.New("disburse: invalid plan")

	// ErrNothingToDisburse indicates every bucket is below the dust limit.
	ErrNothingToDisburse = errors.New("disburse: no bucket reaches the dust limit")

	// ErrKeyMismatch indicates a signing key does not own the inputs it signs.
	ErrKeyMismatch = errors.New("disburse: key does not match input owner")

	// ErrSigningFailed indicates transaction signing failed.
	ErrSigningFailed = errors.New("disburse: signing failed")

	// ErrScriptBuild indicates locking script construction failed.
	ErrScriptBuild = errors.New("disburse: script build failed")
)
