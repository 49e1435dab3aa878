package recorder

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/bitfsorg/libsbe-go/engine"
)

// SQLiteRecorder persists cycle history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

var _ Recorder = (*SQLiteRecorder)(nil)

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("recorder: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("recorder: open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: migrate: %w", err)
	}
	return r, nil
}

// Amounts are stored as exact decimal text: satoshi values can exceed int64.
func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			treasury         TEXT NOT NULL,
			record_key       TEXT NOT NULL,
			outcome          TEXT NOT NULL,
			balance_sat      TEXT NOT NULL,
			balance_bsv      TEXT NOT NULL,
			buyback_sat      TEXT NOT NULL,
			lp_sat           TEXT NOT NULL,
			distribution_sat TEXT NOT NULL,
			fee_sat          TEXT NOT NULL,
			txid             TEXT,
			reason           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_ts ON cycles(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_treasury ON cycles(treasury, timestamp)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func sat(v uint64) string { return strconv.FormatUint(v, 10) }

// RecordCycle appends c to the history.
func (r *SQLiteRecorder) RecordCycle(c *Cycle) error {
	if c == nil {
		return fmt.Errorf("recorder: nil cycle")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO cycles
		(timestamp, treasury, record_key, outcome,
		 balance_sat, balance_bsv, buyback_sat, lp_sat, distribution_sat, fee_sat,
		 txid, reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.Timestamp, c.Treasury, c.Key, c.Outcome,
		sat(c.Balance), SatoshisToBSV(c.Balance),
		sat(c.Allocation.Buyback), sat(c.Allocation.LP), sat(c.Allocation.Distribution),
		sat(c.Fee), c.TxID, c.Reason,
	)
	if err != nil {
		return fmt.Errorf("recorder: insert cycle: %w", err)
	}
	return nil
}

// Recent returns up to limit cycles of treasury, newest first. An empty
// treasury lists all of them.
func (r *SQLiteRecorder) Recent(treasury string, limit int) ([]*Cycle, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT timestamp, treasury, record_key, outcome, balance_sat,
		buyback_sat, lp_sat, distribution_sat, fee_sat, COALESCE(txid, ''), COALESCE(reason, '')
		FROM cycles`
	args := []interface{}{}
	if treasury != "" {
		q += ` WHERE treasury = ?`
		args = append(args, treasury)
	}
	q += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("recorder: query cycles: %w", err)
	}
	defer rows.Close()

	var out []*Cycle
	for rows.Next() {
		var (
			c                          Cycle
			balance, bb, lp, dist, fee string
		)
		if err := rows.Scan(&c.Timestamp, &c.Treasury, &c.Key, &c.Outcome, &balance,
			&bb, &lp, &dist, &fee, &c.TxID, &c.Reason); err != nil {
			return nil, fmt.Errorf("recorder: scan cycle: %w", err)
		}
		var alloc engine.Allocation
		for _, f := range []struct {
			dst *uint64
			src string
		}{{&c.Balance, balance}, {&alloc.Buyback, bb}, {&alloc.LP, lp}, {&alloc.Distribution, dist}, {&c.Fee, fee}} {
			v, err := strconv.ParseUint(f.src, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("recorder: parse amount %q: %w", f.src, err)
			}
			*f.dst = v
		}
		c.Allocation = alloc
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
