package keystore

import "errors"

var (
	// ErrNilKey indicates a nil private key was passed.
	ErrNilKey = errors.New("keystore: private key is nil")

	// ErrEmptyPassword indicates an empty password was passed to Encrypt.
	ErrEmptyPassword = errors.New("keystore: empty password")

	// ErrInvalidFormat indicates the blob is not a keystore file.
	ErrInvalidFormat = errors.New("keystore: invalid key file format")

	// ErrDecryptionFailed indicates wrong password or corrupted data.
	ErrDecryptionFailed = errors.New("keystore: decryption failed (wrong password or corrupted data)")

	// ErrChecksumMismatch indicates the decrypted key failed its checksum.
	ErrChecksumMismatch = errors.New("keystore: key checksum mismatch")
)
