package service

import "errors"

var (
	// ErrNilParam indicates a required dependency or argument is nil.
	ErrNilParam = errors.New("service: nil parameter")

	// ErrUnknownTreasury indicates no treasury is bound under the given name or key.
	ErrUnknownTreasury = errors.New("service: unknown treasury")

	// ErrDuplicateTreasury indicates a treasury name or key is already bound.
	ErrDuplicateTreasury = errors.New("service: treasury already bound")

	// ErrKeyMismatch indicates a configured key does not own the record's funds.
	ErrKeyMismatch = errors.New("service: key does not match record")

	// ErrDisbursementPending indicates the cursor was committed but the
	// transaction has not been accepted yet. Resume retries it.
	ErrDisbursementPending = errors.New("service: disbursement pending")

	// ErrDisbursementFailed indicates the node rejected the disbursement.
	ErrDisbursementFailed = errors.New("service: disbursement rejected")
)
