package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bitfsorg/libsbe-go/chain"
	"github.com/bitfsorg/libsbe-go/engine"
	"github.com/bitfsorg/libsbe-go/recorder"
	"github.com/bitfsorg/libsbe-go/store"
)

// Resume settles journal entries left pending by an interrupted cycle.
//
// An entry with a journaled transaction is looked up on chain first and only
// rebroadcast when the node does not know it, so the same allocation is never
// paid twice. An entry without one is built from the treasury's current
// outputs. Entries of unbound treasuries are skipped.
func (r *Runner) Resume(ctx context.Context) ([]*Report, error) {
	pending, err := r.store.ListPending()
	if err != nil {
		return nil, err
	}

	var (
		reports []*Report
		errs    []error
	)
	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		t, ok := r.lookupKey(d.Key)
		if !ok {
			r.log.Warn("pending disbursement for unbound record",
				zap.String("key", d.Key.String()), zap.String("disbursement", d.ID.String()))
			continue
		}
		rep, err := r.resumeOne(ctx, t, d)
		reports = append(reports, rep)
		now := r.clock.Now()
		if err != nil {
			r.log.Error("resume failed", zap.String("treasury", t.Name),
				zap.String("disbursement", d.ID.String()), zap.Error(err))
			r.record(t, now, recorder.OutcomeFailed, rep, err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, err))
			continue
		}
		r.log.Info("disbursement resumed", zap.String("treasury", t.Name),
			zap.String("disbursement", d.ID.String()), zap.String("txid", rep.TxID))
		r.record(t, now, recorder.OutcomeResumed, rep, "")
	}
	return reports, errors.Join(errs...)
}

func (r *Runner) resumeOne(ctx context.Context, t *Treasury, d *store.Disbursement) (*Report, error) {
	rep := &Report{
		Treasury:       t.Name,
		Key:            t.Key,
		Now:            d.ExecutedAt,
		Status:         engine.Executed,
		Balance:        d.Balance,
		Allocation:     d.Allocation,
		DisbursementID: d.ID,
	}

	if d.RawTx != "" {
		_, err := r.chain.GetTxStatus(ctx, d.TxID)
		switch {
		case err == nil:
			rep.TxID = d.TxID
			return rep, r.store.MarkBroadcast(d.ID, d.TxID)
		case errors.Is(err, chain.ErrTxNotFound):
			return rep, r.broadcast(ctx, d.ID, d.TxID, d.RawTx, rep)
		default:
			rep.Pending = true
			return rep, fmt.Errorf("%w: status of %s: %w", ErrDisbursementPending, d.TxID, err)
		}
	}

	st, err := r.store.Get(d.Key)
	if err != nil {
		return rep, err
	}
	addr, err := chain.AddressFromPKH(st.Treasury[:], r.network)
	if err != nil {
		return rep, err
	}
	_, utxos, err := r.oracle.Balance(ctx, addr)
	if err != nil {
		rep.Pending = true
		return rep, fmt.Errorf("%w: %w", ErrDisbursementPending, err)
	}
	return rep, r.settle(ctx, t, st.Treasury[:], d, utxos, rep)
}
