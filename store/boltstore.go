package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/bitfsorg/libsbe-go/engine"
)

var (
	bucketStates        = []byte("states")
	bucketDisbursements = []byte("disbursements")
)

// BoltStore persists State records and the journal in a bbolt database.
// State records use the fixed-field engine layout; journal entries are gob.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketStates, bucketDisbursements} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Create stores a new record. Returns ErrStateExists if the key is taken.
func (s *BoltStore) Create(key Key, st *engine.State) error {
	if st == nil {
		return fmt.Errorf("%w: state", ErrNilParam)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketStates)
		if b.Get(key[:]) != nil {
			return ErrStateExists
		}
		if err := b.Put(key[:], engine.SerializeState(st)); err != nil {
			return fmt.Errorf("boltstore: put state: %w", err)
		}
		return nil
	})
}

// Get retrieves a record by key.
func (s *BoltStore) Get(key Key) (*engine.State, error) {
	var st *engine.State
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStates).Get(key[:])
		if data == nil {
			return ErrStateNotFound
		}
		var err error
		st, err = engine.DeserializeState(data)
		if err != nil {
			return fmt.Errorf("boltstore: decode state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// List returns all record keys in ascending byte order.
func (s *BoltStore) List() ([]Key, error) {
	var keys []Key
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStates).ForEach(func(k, _ []byte) error {
			if len(k) != KeySize {
				return fmt.Errorf("%w: stored key of %d bytes", ErrInvalidKey, len(k))
			}
			var key Key
			copy(key[:], k)
			keys = append(keys, key)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list states: %w", err)
	}
	return keys, nil
}

// Commit advances the cursor and appends the journal entry in one bbolt
// read-write transaction. bbolt serializes writers, so the compare and the
// set cannot interleave with another Commit.
func (s *BoltStore) Commit(key Key, expectedTS, newTS int64, d *Disbursement) error {
	if d == nil {
		return fmt.Errorf("%w: disbursement", ErrNilParam)
	}
	entry, err := encodeGob(d)
	if err != nil {
		return fmt.Errorf("encode disbursement: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		sb := tx.Bucket(bucketStates)
		data := sb.Get(key[:])
		if data == nil {
			return ErrStateNotFound
		}
		st, err := engine.DeserializeState(data)
		if err != nil {
			return fmt.Errorf("boltstore: decode state: %w", err)
		}
		if err := checkCursor(st, expectedTS); err != nil {
			return err
		}
		st.LastExecutionTS = newTS
		if err := sb.Put(key[:], engine.SerializeState(st)); err != nil {
			return fmt.Errorf("boltstore: put state: %w", err)
		}
		if err := tx.Bucket(bucketDisbursements).Put(d.ID[:], entry); err != nil {
			return fmt.Errorf("boltstore: put disbursement: %w", err)
		}
		return nil
	})
}

// GetDisbursement retrieves a journal entry by ID.
func (s *BoltStore) GetDisbursement(id uuid.UUID) (*Disbursement, error) {
	var d Disbursement
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDisbursements).Get(id[:])
		if data == nil {
			return ErrDisbursementNotFound
		}
		if err := decodeGob(data, &d); err != nil {
			return fmt.Errorf("boltstore: decode disbursement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListPending returns entries still pending, oldest first.
func (s *BoltStore) ListPending() ([]*Disbursement, error) {
	var out []*Disbursement
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDisbursements).ForEach(func(_, v []byte) error {
			var d Disbursement
			if err := decodeGob(v, &d); err != nil {
				return fmt.Errorf("boltstore: decode disbursement in list: %w", err)
			}
			if d.Status == StatusPending {
				out = append(out, &d)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list pending: %w", err)
	}
	sortByExecution(out)
	return out, nil
}

// AttachTx records the signed transaction of a pending entry.
func (s *BoltStore) AttachTx(id uuid.UUID, txid, rawHex string) error {
	return s.update(id, func(d *Disbursement) error { return attach(d, txid, rawHex) })
}

// MarkBroadcast records the accepted transaction ID.
func (s *BoltStore) MarkBroadcast(id uuid.UUID, txid string) error {
	return s.update(id, func(d *Disbursement) error { return transition(d, StatusBroadcast, txid, "") })
}

// MarkFailed records why the disbursement was abandoned.
func (s *BoltStore) MarkFailed(id uuid.UUID, reason string) error {
	return s.update(id, func(d *Disbursement) error { return transition(d, StatusFailed, "", reason) })
}

func (s *BoltStore) update(id uuid.UUID, fn func(d *Disbursement) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDisbursements)
		data := b.Get(id[:])
		if data == nil {
			return ErrDisbursementNotFound
		}
		var d Disbursement
		if err := decodeGob(data, &d); err != nil {
			return fmt.Errorf("boltstore: decode disbursement: %w", err)
		}
		if err := fn(&d); err != nil {
			return err
		}
		updated, err := encodeGob(&d)
		if err != nil {
			return fmt.Errorf("encode disbursement: %w", err)
		}
		if err := b.Put(id[:], updated); err != nil {
			return fmt.Errorf("boltstore: update disbursement: %w", err)
		}
		return nil
	})
}
