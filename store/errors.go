package store

import "errors"

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("store: required parameter is nil")

	// ErrStateNotFound indicates no record exists under the key.
	ErrStateNotFound = errors.New("store: state not found")

	// ErrStateExists indicates a record already exists under the key.
	ErrStateExists = errors.New("store: state already exists")

	// ErrDisbursementNotFound indicates the journal has no entry with the ID.
	ErrDisbursementNotFound = errors.New("store: disbursement not found")

	// ErrInvalidKey indicates a key that is not 32 bytes of hex.
	ErrInvalidKey = errors.New("store: invalid key")

	// ErrInvalidTransition indicates a journal status change from a terminal status.
	ErrInvalidTransition = errors.New("store: invalid disbursement status transition")
)
