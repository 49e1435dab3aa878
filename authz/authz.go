// Package authz checks that an execution request was signed by the record's
// authority. The engine itself performs no identity checks; callers run
// Authorize before delegating to it.
package authz

import (
	"bytes"
	"encoding/binary"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"

	"github.com/bitfsorg/libsbe-go/engine"
	"github.com/bitfsorg/libsbe-go/store"
)

// domainTag separates execution digests from any other signed message.
var domainTag = []byte("sbe-execute")

// Request is a signed request to run one cycle against a record.
type Request struct {
	Key       store.Key
	Now       int64  // the time the caller vouches for
	Caller    []byte // compressed public key, 33 bytes
	Signature []byte // DER-encoded ECDSA signature over Digest(Key, Now)
}

// Digest returns SHA256d("sbe-execute" || key || now_be64).
func Digest(key store.Key, now int64) []byte {
	msg := make([]byte, 0, len(domainTag)+store.KeySize+8)
	msg = append(msg, domainTag...)
	msg = append(msg, key[:]...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(now))
	return bsvhash.Sha256d(msg)
}

// Sign builds a Request signed with priv.
func Sign(priv *ec.PrivateKey, key store.Key, now int64) (*Request, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: private key", ErrNilParam)
	}
	sig, err := priv.Sign(Digest(key, now))
	if err != nil {
		return nil, fmt.Errorf("authz: sign: %w", err)
	}
	return &Request{
		Key:       key,
		Now:       now,
		Caller:    priv.PubKey().Compressed(),
		Signature: sig.Serialize(),
	}, nil
}

// Authorize returns nil when req was signed by state.Authority. Every
// identity failure is reported as engine.ErrUnauthorized; malformed keys and
// signatures are named in the error detail.
func Authorize(state *engine.State, req *Request) error {
	if state == nil || req == nil {
		return fmt.Errorf("%w: state or request", ErrNilParam)
	}
	if len(req.Caller) != engine.AuthorityLen || !bytes.Equal(req.Caller, state.Authority[:]) {
		return engine.Errorf(engine.Unauthorized, "caller is not the authority")
	}

	pub, err := ec.PublicKeyFromBytes(req.Caller)
	if err != nil {
		return engine.Errorf(engine.Unauthorized, "%v: %v", ErrInvalidPubKey, err)
	}
	sig, err := ec.ParseDERSignature(req.Signature)
	if err != nil {
		return engine.Errorf(engine.Unauthorized, "%v: %v", ErrInvalidSignature, err)
	}
	if !sig.Verify(Digest(req.Key, req.Now), pub) {
		return engine.Errorf(engine.Unauthorized, "signature does not verify")
	}
	return nil
}

// AuthorityFromPubKey converts a public key into the record's authority field.
func AuthorityFromPubKey(pub *ec.PublicKey) ([engine.AuthorityLen]byte, error) {
	var a [engine.AuthorityLen]byte
	if pub == nil {
		return a, fmt.Errorf("%w: public key", ErrNilParam)
	}
	copy(a[:], pub.Compressed())
	return a, nil
}

// TreasuryFromPubKey returns HASH160 of the compressed key, the treasury field
// of a record funded by that key.
func TreasuryFromPubKey(pub *ec.PublicKey) ([engine.TreasuryLen]byte, error) {
	var t [engine.TreasuryLen]byte
	if pub == nil {
		return t, fmt.Errorf("%w: public key", ErrNilParam)
	}
	copy(t[:], bsvhash.Hash160(pub.Compressed()))
	return t, nil
}
