// Package recorder keeps an audit history of cycles for operators. The
// authoritative state lives in the store; losing the history loses nothing
// the engine depends on.
package recorder

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libsbe-go/engine"
)

// Cycle outcomes.
const (
	OutcomeSkipped  = "skipped"
	OutcomeExecuted = "executed"
	OutcomeFailed   = "failed"
	OutcomeResumed  = "resumed"
)

// Cycle is one runner invocation.
type Cycle struct {
	Timestamp  int64 // the engine time the cycle ran at
	Treasury   string
	Key        string
	Outcome    string
	Balance    uint64
	Allocation engine.Allocation
	Fee        uint64
	TxID       string
	Reason     string
}

// Recorder persists cycle history.
type Recorder interface {
	RecordCycle(c *Cycle) error
	Close() error
}

// SatoshisToBSV renders sats as an exact BSV amount with eight decimals.
func SatoshisToBSV(sats uint64) string {
	return satoshis(sats).Shift(-8).StringFixed(8)
}

func satoshis(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
