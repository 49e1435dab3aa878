package service

import (
	"context"
	"fmt"
	"math"

	"github.com/bitfsorg/libsbe-go/chain"
	"github.com/bitfsorg/libsbe-go/engine"
	"github.com/bitfsorg/libsbe-go/store"
)

// StatusReport is a read-only view of a record at the current time.
type StatusReport struct {
	Treasury   string
	Key        store.Key
	State      *engine.State
	Address    string
	TipHeight  uint64
	Now        int64
	Balance    uint64
	Phase      engine.Phase
	NextWindow int64 // earliest time the interval alone makes the record eligible
	Simulated  engine.Allocation
	Pending    int
}

// Eligible reports whether a cycle run now would execute.
func (s *StatusReport) Eligible() bool { return s.Phase == engine.Eligible }

// Require returns the error Execute would report for this snapshot: the
// record's configuration first, then eligibility.
func (s *StatusReport) Require() error {
	if err := s.State.Validate(); err != nil {
		return err
	}
	return engine.Require(s.State, s.Now, s.Balance)
}

// Status evaluates the named record without writing anything.
func (r *Runner) Status(ctx context.Context, name string) (*StatusReport, error) {
	t, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	st, err := r.store.Get(t.Key)
	if err != nil {
		return nil, fmt.Errorf("service: load %s: %w", name, err)
	}
	addr, err := chain.AddressFromPKH(st.Treasury[:], r.network)
	if err != nil {
		return nil, err
	}
	balance, _, err := r.oracle.Balance(ctx, addr)
	if err != nil {
		return nil, err
	}
	tip, err := r.chain.GetBestBlockHeight(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := r.store.ListPending()
	if err != nil {
		return nil, err
	}
	n := 0
	for _, d := range pending {
		if d.Key == t.Key {
			n++
		}
	}

	now := r.clock.Now()
	return &StatusReport{
		Treasury:   name,
		Key:        t.Key,
		State:      st,
		Address:    addr,
		TipHeight:  tip,
		Now:        now,
		Balance:    balance,
		Phase:      engine.PhaseOf(st, now, balance),
		NextWindow: nextWindow(st),
		Simulated:  engine.Allocate(balance, st.BuybackBPS, st.LPBPS, st.DistributionBPS),
		Pending:    n,
	}, nil
}

func nextWindow(st *engine.State) int64 {
	if st.MinIntervalSeconds > 0 && st.LastExecutionTS > math.MaxInt64-st.MinIntervalSeconds {
		return math.MaxInt64
	}
	return st.LastExecutionTS + st.MinIntervalSeconds
}
