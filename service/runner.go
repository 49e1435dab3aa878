// Package service runs disbursement cycles: it authorizes the caller, reads
// the treasury balance, delegates the decision to the engine, commits the
// cursor with a compare-and-set and settles the allocation on chain.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bitfsorg/libsbe-go/authz"
	"github.com/bitfsorg/libsbe-go/chain"
	"github.com/bitfsorg/libsbe-go/disburse"
	"github.com/bitfsorg/libsbe-go/engine"
	"github.com/bitfsorg/libsbe-go/recipient"
	"github.com/bitfsorg/libsbe-go/recorder"
	"github.com/bitfsorg/libsbe-go/store"
)

// DefaultMaxSkew is how far a request's signed time may drift from the
// runner's clock, in seconds.
const DefaultMaxSkew = 300

// Options configures a Runner. Store, Chain and Resolver are required.
type Options struct {
	Store     store.Store
	Chain     chain.BlockchainService
	Resolver  recipient.Resolver
	Disburser *disburse.Disburser // defaults to DefaultRetryConfig over Chain, retries logged
	Clock     chain.Clock         // defaults to SystemClock
	Recorder  recorder.Recorder   // defaults to NoopRecorder
	Logger    *zap.Logger         // defaults to a no-op logger
	Network   string
	FeeRate   uint64
	MaxSkew   int64
}

// Treasury binds a record to the material needed to pay it out.
type Treasury struct {
	Name         string
	Key          store.Key
	Destinations [3]string // buyback, lp, distribution
	Keys         disburse.Keys
}

// Report describes one cycle.
type Report struct {
	Treasury       string
	Key            store.Key
	Now            int64
	Phase          engine.Phase
	Status         engine.Status
	Balance        uint64
	Allocation     engine.Allocation
	DisbursementID uuid.UUID
	TxID           string
	Payouts        []disburse.Payout
	Fee            uint64
	Retained       uint64
	Attempts       int
	Pending        bool // cursor committed, transaction not yet accepted
}

// Runner executes cycles for the treasuries bound to it. Its methods are
// safe for concurrent use; the store's compare-and-set decides between
// racing cycles on the same record.
type Runner struct {
	store     store.Store
	chain     chain.BlockchainService
	oracle    *chain.BalanceOracle
	resolver  recipient.Resolver
	disburser *disburse.Disburser
	clock     chain.Clock
	recorder  recorder.Recorder
	log       *zap.Logger
	network   string
	feeRate   uint64
	maxSkew   int64

	mu         sync.RWMutex
	treasuries map[string]*Treasury
	byKey      map[store.Key]*Treasury
}

// NewRunner validates opts and fills in defaults.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Store == nil || opts.Chain == nil || opts.Resolver == nil {
		return nil, fmt.Errorf("%w: store, chain and resolver are required", ErrNilParam)
	}
	r := &Runner{
		store:      opts.Store,
		chain:      opts.Chain,
		oracle:     chain.NewBalanceOracle(opts.Chain),
		resolver:   opts.Resolver,
		disburser:  opts.Disburser,
		clock:      opts.Clock,
		recorder:   opts.Recorder,
		log:        opts.Logger,
		network:    opts.Network,
		feeRate:    opts.FeeRate,
		maxSkew:    opts.MaxSkew,
		treasuries: make(map[string]*Treasury),
		byKey:      make(map[store.Key]*Treasury),
	}
	if r.clock == nil {
		r.clock = chain.SystemClock{}
	}
	if r.recorder == nil {
		r.recorder = recorder.NewNoopRecorder()
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.disburser == nil {
		retry := disburse.DefaultRetryConfig()
		log := r.log
		retry.OnRetry = func(err error, next time.Duration) {
			log.Warn("broadcast failed, retrying", zap.Error(err), zap.Duration("backoff", next))
		}
		r.disburser = disburse.NewDisburser(opts.Chain, retry)
	}
	if r.maxSkew <= 0 {
		r.maxSkew = DefaultMaxSkew
	}
	return r, nil
}

// Add binds t. The record must exist and the treasury key must own it.
func (r *Runner) Add(t *Treasury) error {
	if t == nil || t.Keys.Treasury == nil || t.Keys.Fee == nil {
		return fmt.Errorf("%w: treasury or keys", ErrNilParam)
	}
	st, err := r.store.Get(t.Key)
	if err != nil {
		return fmt.Errorf("service: bind %s: %w", t.Name, err)
	}
	treasuryPKH := disburse.PKH(t.Keys.Treasury)
	if string(treasuryPKH) != string(st.Treasury[:]) {
		return fmt.Errorf("%w: %s treasury key", ErrKeyMismatch, t.Name)
	}
	if string(disburse.PKH(t.Keys.Fee)) == string(treasuryPKH) {
		return fmt.Errorf("%w: %s fee key must differ from the treasury key", ErrKeyMismatch, t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.treasuries[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTreasury, t.Name)
	}
	if _, ok := r.byKey[t.Key]; ok {
		return fmt.Errorf("%w: key %s", ErrDuplicateTreasury, t.Key)
	}
	r.treasuries[t.Name] = t
	r.byKey[t.Key] = t
	return nil
}

// Names returns the bound treasury names.
func (r *Runner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.treasuries))
	for n := range r.treasuries {
		names = append(names, n)
	}
	return names
}

func (r *Runner) lookup(name string) (*Treasury, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.treasuries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTreasury, name)
	}
	return t, nil
}

func (r *Runner) lookupKey(key store.Key) (*Treasury, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byKey[key]
	return t, ok
}

// authorize checks the request against the record and the runner's clock.
func (r *Runner) authorize(t *Treasury, st *engine.State, req *authz.Request, now int64) error {
	if req == nil {
		return engine.Errorf(engine.Unauthorized, "missing request")
	}
	if req.Key != t.Key {
		return engine.Errorf(engine.Unauthorized, "request signed for record %s", req.Key)
	}
	if req.Now < now-r.maxSkew || req.Now > now+r.maxSkew {
		return engine.Errorf(engine.Unauthorized, "request time %d outside %ds of %d", req.Now, r.maxSkew, now)
	}
	return authz.Authorize(st, req)
}

// Run executes one cycle for the named treasury.
//
// A Skipped cycle returns a report and a nil error. An executed cycle whose
// transaction could not be settled returns the report together with an
// error wrapping ErrDisbursementPending or ErrDisbursementFailed; the cursor
// stays committed either way.
func (r *Runner) Run(ctx context.Context, name string, req *authz.Request) (*Report, error) {
	t, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	log := r.log.With(zap.String("treasury", name), zap.String("key", t.Key.String()))

	st, err := r.store.Get(t.Key)
	if err != nil {
		return nil, fmt.Errorf("service: load %s: %w", name, err)
	}
	now := r.clock.Now()
	if err := r.authorize(t, st, req, now); err != nil {
		log.Warn("request rejected", zap.Error(err))
		r.record(t, now, recorder.OutcomeFailed, nil, err.Error())
		return nil, err
	}

	addr, err := chain.AddressFromPKH(st.Treasury[:], r.network)
	if err != nil {
		return nil, err
	}
	balance, utxos, err := r.oracle.Balance(ctx, addr)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Treasury: name,
		Key:      t.Key,
		Now:      now,
		Phase:    engine.PhaseOf(st, now, balance),
		Balance:  balance,
	}

	expected := st.LastExecutionTS
	work := st.Clone()
	out, err := engine.Execute(work, now, balance)
	if err != nil {
		log.Error("execute failed", zap.Error(err))
		r.record(t, now, recorder.OutcomeFailed, rep, err.Error())
		return nil, err
	}
	rep.Status = out.Status
	if !out.Executed() {
		log.Debug("cycle skipped", zap.Uint64("balance", balance), zap.Int64("last", st.LastExecutionTS))
		r.record(t, now, recorder.OutcomeSkipped, rep, "")
		return rep, nil
	}
	rep.Allocation = out.Allocation

	d := store.NewDisbursement(t.Key, work.LastExecutionTS, balance, out.Allocation)
	if err := r.store.Commit(t.Key, expected, work.LastExecutionTS, d); err != nil {
		log.Info("commit lost", zap.Error(err))
		r.record(t, now, recorder.OutcomeFailed, rep, err.Error())
		return nil, err
	}
	rep.DisbursementID = d.ID
	log.Info("cycle executed",
		zap.Uint64("balance", balance),
		zap.Uint64("buyback", out.Allocation.Buyback),
		zap.Uint64("lp", out.Allocation.LP),
		zap.Uint64("distribution", out.Allocation.Distribution),
		zap.String("disbursement", d.ID.String()),
	)

	err = r.settle(ctx, t, st.Treasury[:], d, utxos, rep)
	if err != nil {
		log.Error("disbursement not settled", zap.Error(err), zap.Bool("pending", rep.Pending))
		r.record(t, now, recorder.OutcomeFailed, rep, err.Error())
		return rep, err
	}
	log.Info("disbursement broadcast", zap.String("txid", rep.TxID), zap.Uint64("fee", rep.Fee), zap.Int("attempts", rep.Attempts))
	r.record(t, now, recorder.OutcomeExecuted, rep, "")
	return rep, nil
}

// plan gathers everything Build needs for one journal entry.
func (r *Runner) plan(ctx context.Context, t *Treasury, treasuryPKH []byte, alloc engine.Allocation, utxos []*chain.UTXO) (*disburse.Plan, error) {
	dests, err := recipient.ResolveAll(ctx, r.resolver, t.Destinations[:])
	if err != nil {
		return nil, err
	}
	feePKH := disburse.PKH(t.Keys.Fee)
	feeAddr, err := chain.AddressFromPKH(feePKH, r.network)
	if err != nil {
		return nil, err
	}
	_, feeUTXOs, err := r.oracle.Balance(ctx, feeAddr)
	if err != nil {
		return nil, err
	}

	p := &disburse.Plan{
		Allocation:    alloc,
		TreasuryUTXOs: utxos,
		FeeUTXOs:      feeUTXOs,
		TreasuryPKH:   treasuryPKH,
		FeePKH:        feePKH,
		FeeRate:       r.feeRate,
		Network:       r.network,
	}
	for i, d := range dests {
		p.Destinations[i] = d.PKH
	}
	return p, nil
}

// settle builds, journals and broadcasts the transaction for d. Failures
// before a node rejection leave d pending.
func (r *Runner) settle(ctx context.Context, t *Treasury, treasuryPKH []byte, d *store.Disbursement, utxos []*chain.UTXO, rep *Report) error {
	plan, err := r.plan(ctx, t, treasuryPKH, d.Allocation, utxos)
	if err != nil {
		rep.Pending = true
		return fmt.Errorf("%w: plan: %w", ErrDisbursementPending, err)
	}
	res, err := r.disburser.Prepare(plan, t.Keys)
	if errors.Is(err, disburse.ErrNothingToDisburse) {
		// every bucket is dust: the cycle settles without a transaction
		rep.Retained = d.Allocation.Total()
		return r.store.MarkBroadcast(d.ID, "")
	}
	if err != nil {
		rep.Pending = true
		return fmt.Errorf("%w: build: %w", ErrDisbursementPending, err)
	}
	rep.Payouts = res.Payouts
	rep.Fee = res.Fee
	rep.Retained = res.Retained

	raw, txid := res.Hex(), res.TxID()
	if err := r.store.AttachTx(d.ID, txid, raw); err != nil {
		rep.Pending = true
		return fmt.Errorf("%w: journal tx: %w", ErrDisbursementPending, err)
	}
	return r.broadcast(ctx, d.ID, txid, raw, rep)
}

func (r *Runner) broadcast(ctx context.Context, id uuid.UUID, txid, raw string, rep *Report) error {
	got, attempts, err := r.disburser.Broadcast(ctx, txid, raw)
	rep.Attempts = attempts
	if err != nil {
		if errors.Is(err, chain.ErrBroadcastRejected) {
			if merr := r.store.MarkFailed(id, err.Error()); merr != nil {
				return errors.Join(err, merr)
			}
			return fmt.Errorf("%w: %w", ErrDisbursementFailed, err)
		}
		rep.Pending = true
		return fmt.Errorf("%w: %w", ErrDisbursementPending, err)
	}
	rep.TxID = got
	rep.Pending = false
	return r.store.MarkBroadcast(id, got)
}

func (r *Runner) record(t *Treasury, now int64, outcome string, rep *Report, reason string) {
	c := &recorder.Cycle{
		Timestamp: now,
		Treasury:  t.Name,
		Key:       t.Key.String(),
		Outcome:   outcome,
		Reason:    reason,
	}
	if rep != nil {
		c.Balance = rep.Balance
		c.Allocation = rep.Allocation
		c.Fee = rep.Fee
		c.TxID = rep.TxID
	}
	if err := r.recorder.RecordCycle(c); err != nil {
		r.log.Warn("record cycle", zap.String("treasury", t.Name), zap.Error(err))
	}
}
