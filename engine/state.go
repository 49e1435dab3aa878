// Package engine implements the scheduled buyback engine: the eligibility
// gate, the basis-point router and the orchestrator that advances a
// treasury's execution cursor.
//
// The package is pure. It never reads clocks, balances or storage; callers
// pass those in and persist the mutated State themselves.
package engine

import "fmt"

const (
	// BPSDenominator is the basis-point scale: 10000 bps = 100%.
	BPSDenominator = 10000

	// AuthorityLen is the length of a compressed secp256k1 public key.
	AuthorityLen = 33

	// TreasuryLen is the length of a P2PKH public key hash.
	TreasuryLen = 20
)

// State is the persisted configuration and execution cursor of one treasury.
type State struct {
	Authority          [AuthorityLen]byte // compressed pubkey allowed to trigger execution
	Treasury           [TreasuryLen]byte  // P2PKH hash of the funding account
	LastExecutionTS    int64              // unix seconds of the last successful disbursement
	MinIntervalSeconds int64
	MinAccumulated     uint64 // satoshis
	BuybackBPS         uint16
	LPBPS              uint16
	DistributionBPS    uint16
	Bump               uint8 // addressing nonce, storage layer only
}

// NewState returns a record whose cursor starts at the epoch.
func NewState(authority [AuthorityLen]byte, treasury [TreasuryLen]byte, minInterval int64,
	minAccumulated uint64, buybackBPS, lpBPS, distributionBPS uint16, bump uint8) *State {
	return &State{
		Authority:          authority,
		Treasury:           treasury,
		MinIntervalSeconds: minInterval,
		MinAccumulated:     minAccumulated,
		BuybackBPS:         buybackBPS,
		LPBPS:              lpBPS,
		DistributionBPS:    distributionBPS,
		Bump:               bump,
	}
}

// TotalBPS returns the sum of the three weights without overflow.
func (s *State) TotalBPS() uint32 {
	return uint32(s.BuybackBPS) + uint32(s.LPBPS) + uint32(s.DistributionBPS)
}

// Validate checks the routing invariant buyback+lp+distribution <= 10000.
func (s *State) Validate() error {
	if s == nil {
		return Errorf(InvalidRoutingConfig, "nil state")
	}
	if total := s.TotalBPS(); total > BPSDenominator {
		return Errorf(InvalidRoutingConfig, "weights sum to %d bps, max %d", total, BPSDenominator)
	}
	if s.MinIntervalSeconds < 0 {
		return Errorf(InvalidRoutingConfig, "negative min interval %d", s.MinIntervalSeconds)
	}
	return nil
}

// Clone returns an independent copy of the record.
func (s *State) Clone() *State {
	c := *s
	return &c
}

func (s *State) String() string {
	return fmt.Sprintf("State{last=%d interval=%d min=%d bps=%d/%d/%d}",
		s.LastExecutionTS, s.MinIntervalSeconds, s.MinAccumulated,
		s.BuybackBPS, s.LPBPS, s.DistributionBPS)
}
