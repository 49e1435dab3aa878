// Package keystore keeps treasury and fee private keys encrypted at rest.
//
// File layout:
//
//	magic "SBEK" | version(1) | argon2 time(4) | memory KiB(4) | threads(1) |
//	salt(16) | nonce(12) | AES-256-GCM(key, nonce, priv(32) || SHA256(priv)[:4])
//
// The Argon2id parameters travel with the file so they can be raised later
// without breaking existing keys.
package keystore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"golang.org/x/crypto/argon2"
)

const (
	version     = 1
	keyLen      = 32
	SaltLen     = 16
	NonceLen    = 12
	ChecksumLen = 4

	headerLen = 4 + 1 + 4 + 4 + 1
)

var magic = []byte("SBEK")

// Params are the Argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams: 3 passes over 64 MiB with 4 lanes.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 4}

func deriveKey(password string, salt []byte, p Params) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, keyLen)
}

func checksum(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:ChecksumLen]
}

// Encrypt seals priv under password with DefaultParams.
func Encrypt(priv *ec.PrivateKey, password string) ([]byte, error) {
	return EncryptWithParams(priv, password, DefaultParams)
}

// EncryptWithParams seals priv under password with explicit Argon2id costs.
func EncryptWithParams(priv *ec.PrivateKey, password string, p Params) ([]byte, error) {
	if priv == nil {
		return nil, ErrNilKey
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return nil, fmt.Errorf("%w: zero argon2 parameter", ErrInvalidFormat)
	}

	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keystore: generate nonce: %w", err)
	}

	gcm, err := newGCM(deriveKey(password, salt, p))
	if err != nil {
		return nil, err
	}

	secret := priv.Serialize()
	plaintext := append(append(make([]byte, 0, len(secret)+ChecksumLen), secret...), checksum(secret)...)

	out := make([]byte, 0, headerLen+SaltLen+NonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, magic...)
	out = append(out, version)
	out = binary.BigEndian.AppendUint32(out, p.Time)
	out = binary.BigEndian.AppendUint32(out, p.Memory)
	out = append(out, p.Threads)
	out = append(out, salt...)
	aad := append([]byte(nil), out[:headerLen]...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, aad), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: GCM: %w", err)
	}
	return gcm, nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(blob []byte, password string) (*ec.PrivateKey, error) {
	if len(blob) < headerLen+SaltLen+NonceLen || !bytes.Equal(blob[:4], magic) {
		return nil, ErrInvalidFormat
	}
	if blob[4] != version {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidFormat, blob[4])
	}
	p := Params{
		Time:    binary.BigEndian.Uint32(blob[5:9]),
		Memory:  binary.BigEndian.Uint32(blob[9:13]),
		Threads: blob[13],
	}
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return nil, fmt.Errorf("%w: zero argon2 parameter", ErrInvalidFormat)
	}
	salt := blob[headerLen : headerLen+SaltLen]
	nonce := blob[headerLen+SaltLen : headerLen+SaltLen+NonceLen]
	ciphertext := blob[headerLen+SaltLen+NonceLen:]

	gcm, err := newGCM(deriveKey(password, salt, p))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, blob[:headerLen])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(plaintext) != keyLen+ChecksumLen {
		return nil, ErrDecryptionFailed
	}
	secret, sum := plaintext[:keyLen], plaintext[keyLen:]
	if subtle.ConstantTimeCompare(sum, checksum(secret)) != 1 {
		return nil, ErrChecksumMismatch
	}
	priv, _ := ec.PrivateKeyFromBytes(secret)
	return priv, nil
}

// Save encrypts priv and writes it to path with 0600 permissions, creating
// the parent directory with 0700.
func Save(path string, priv *ec.PrivateKey, password string) error {
	return SaveWithParams(path, priv, password, DefaultParams)
}

// SaveWithParams is Save with explicit Argon2id costs.
func SaveWithParams(path string, priv *ec.PrivateKey, password string, p Params) error {
	blob, err := EncryptWithParams(priv, password, p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("keystore: create directory: %w", err)
	}
	if err := os.WriteFile(path, blob, 0600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", path, err)
	}
	return nil
}

// Load reads and decrypts the key file at path.
func Load(path, password string) (*ec.PrivateKey, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}
	priv, err := Decrypt(blob, password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return priv, nil
}
