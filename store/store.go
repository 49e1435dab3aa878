// Package store persists treasury State records and the disbursement
// journal. Every cursor update is a compare-and-set on LastExecutionTS,
// committed in the same transaction as the pending journal entry.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bitfsorg/libsbe-go/engine"
)

// KeySize is the length of a record key.
const KeySize = 32

// Key addresses one State record.
type Key [KeySize]byte

// DeriveKey computes the record key: SHA256("sbe" || authority || treasury || bump).
func DeriveKey(authority [engine.AuthorityLen]byte, treasury [engine.TreasuryLen]byte, bump uint8) Key {
	h := sha256.New()
	h.Write([]byte("sbe"))
	h.Write(authority[:])
	h.Write(treasury[:])
	h.Write([]byte{bump})
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

// KeyOf derives the key for an existing record.
func KeyOf(s *engine.State) Key {
	return DeriveKey(s.Authority, s.Treasury, s.Bump)
}

// ParseKey decodes a hex key.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// String returns the hex form of the key.
func (k Key) String() string { return hex.EncodeToString(k[:]) }

// DisbursementStatus is the lifecycle of a journal entry.
type DisbursementStatus uint8

const (
	// StatusPending means the cursor was committed but no transaction was accepted yet.
	StatusPending DisbursementStatus = iota
	// StatusBroadcast means the network accepted the disbursement transaction.
	StatusBroadcast
	// StatusFailed means broadcasting was abandoned; the operator must reconcile.
	StatusFailed
)

func (s DisbursementStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusBroadcast:
		return "broadcast"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Disbursement is one journal entry: the allocation produced by a successful
// Execute and what became of it.
type Disbursement struct {
	ID         uuid.UUID
	Key        Key
	ExecutedAt int64  // the committed LastExecutionTS
	Balance    uint64 // amount that was split
	Allocation engine.Allocation
	Status     DisbursementStatus
	TxID       string
	RawTx      string // signed transaction hex, set before the first broadcast
	Reason     string
}

// NewDisbursement returns a pending entry with a fresh ID.
func NewDisbursement(key Key, executedAt int64, balance uint64, alloc engine.Allocation) *Disbursement {
	return &Disbursement{
		ID:         uuid.New(),
		Key:        key,
		ExecutedAt: executedAt,
		Balance:    balance,
		Allocation: alloc,
		Status:     StatusPending,
	}
}

// StateStore persists State records.
type StateStore interface {
	// Create stores a new record. Returns ErrStateExists if the key is taken.
	Create(key Key, s *engine.State) error

	// Get returns a copy of the record.
	Get(key Key) (*engine.State, error)

	// List returns all record keys in ascending order.
	List() ([]Key, error)

	// Commit sets LastExecutionTS to newTS if and only if the stored value
	// still equals expectedTS, and appends d to the journal in the same
	// transaction. A mismatch returns engine.ErrExecutionAlreadyPerformed
	// and writes nothing.
	Commit(key Key, expectedTS, newTS int64, d *Disbursement) error
}

// JournalStore persists disbursement journal entries.
type JournalStore interface {
	// GetDisbursement retrieves an entry by ID.
	GetDisbursement(id uuid.UUID) (*Disbursement, error)

	// ListPending returns entries still in StatusPending, oldest first.
	ListPending() ([]*Disbursement, error)

	// AttachTx records the signed transaction of a pending entry so a
	// restart can rebroadcast the same bytes instead of building anew.
	AttachTx(id uuid.UUID, txid, rawHex string) error

	// MarkBroadcast records the accepted transaction ID.
	MarkBroadcast(id uuid.UUID, txid string) error

	// MarkFailed records why the disbursement was abandoned.
	MarkFailed(id uuid.UUID, reason string) error
}

// Store is the full storage collaborator.
type Store interface {
	StateStore
	JournalStore
}

// transition applies a status change to d, rejecting changes out of a
// terminal status.
func transition(d *Disbursement, to DisbursementStatus, txid, reason string) error {
	if d.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	d.Status = to
	if txid != "" {
		d.TxID = txid
	}
	d.Reason = reason
	return nil
}

func attach(d *Disbursement, txid, rawHex string) error {
	if d.Status != StatusPending {
		return fmt.Errorf("%w: attach to %s entry", ErrInvalidTransition, d.Status)
	}
	d.TxID = txid
	d.RawTx = rawHex
	return nil
}

// checkCursor compares the stored cursor with the caller's expectation.
func checkCursor(stored *engine.State, expectedTS int64) error {
	if stored.LastExecutionTS != expectedTS {
		return engine.Errorf(engine.ExecutionAlreadyPerformed,
			"cursor is %d, expected %d", stored.LastExecutionTS, expectedTS)
	}
	return nil
}

// MemStore is an in-memory implementation of Store for testing.
type MemStore struct {
	mu      sync.RWMutex
	states  map[Key]*engine.State
	journal map[uuid.UUID]*Disbursement
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		states:  make(map[Key]*engine.State),
		journal: make(map[uuid.UUID]*Disbursement),
	}
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// Create stores a new record.
func (m *MemStore) Create(key Key, s *engine.State) error {
	if s == nil {
		return fmt.Errorf("%w: state", ErrNilParam)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[key]; ok {
		return ErrStateExists
	}
	m.states[key] = s.Clone()
	return nil
}

// Get returns a copy of the record.
func (m *MemStore) Get(key Key) (*engine.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[key]
	if !ok {
		return nil, ErrStateNotFound
	}
	return s.Clone(), nil
}

// List returns all record keys in ascending order.
func (m *MemStore) List() ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]Key, 0, len(m.states))
	for k := range m.states {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i][:]) < string(keys[j][:]) })
	return keys, nil
}

// Commit advances the cursor with a compare-and-set.
func (m *MemStore) Commit(key Key, expectedTS, newTS int64, d *Disbursement) error {
	if d == nil {
		return fmt.Errorf("%w: disbursement", ErrNilParam)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[key]
	if !ok {
		return ErrStateNotFound
	}
	if err := checkCursor(s, expectedTS); err != nil {
		return err
	}
	s.LastExecutionTS = newTS
	cp := *d
	m.journal[d.ID] = &cp
	return nil
}

// GetDisbursement retrieves an entry by ID.
func (m *MemStore) GetDisbursement(id uuid.UUID) (*Disbursement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.journal[id]
	if !ok {
		return nil, ErrDisbursementNotFound
	}
	cp := *d
	return &cp, nil
}

// ListPending returns pending entries, oldest first.
func (m *MemStore) ListPending() ([]*Disbursement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Disbursement
	for _, d := range m.journal {
		if d.Status == StatusPending {
			cp := *d
			out = append(out, &cp)
		}
	}
	sortByExecution(out)
	return out, nil
}

// AttachTx records the signed transaction of a pending entry.
func (m *MemStore) AttachTx(id uuid.UUID, txid, rawHex string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.journal[id]
	if !ok {
		return ErrDisbursementNotFound
	}
	return attach(d, txid, rawHex)
}

// MarkBroadcast records the accepted transaction ID.
func (m *MemStore) MarkBroadcast(id uuid.UUID, txid string) error {
	return m.mark(id, StatusBroadcast, txid, "")
}

// MarkFailed records why the disbursement was abandoned.
func (m *MemStore) MarkFailed(id uuid.UUID, reason string) error {
	return m.mark(id, StatusFailed, "", reason)
}

func (m *MemStore) mark(id uuid.UUID, to DisbursementStatus, txid, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.journal[id]
	if !ok {
		return ErrDisbursementNotFound
	}
	return transition(d, to, txid, reason)
}

func sortByExecution(ds []*Disbursement) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].ExecutedAt != ds[j].ExecutedAt {
			return ds[i].ExecutedAt < ds[j].ExecutedAt
		}
		return ds[i].ID.String() < ds[j].ID.String()
	})
}
