package authz

import "errors"

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("authz: required parameter is nil")

	// ErrInvalidPubKey indicates the caller key is not a compressed secp256k1 point.
	ErrInvalidPubKey = errors.New("authz: invalid public key")

	// ErrInvalidSignature indicates the signature is not valid DER.
	ErrInvalidSignature = errors.New("authz: invalid signature encoding")
)
