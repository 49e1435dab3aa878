package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libsbe-go/authz"
	"github.com/bitfsorg/libsbe-go/chain"
	"github.com/bitfsorg/libsbe-go/config"
	"github.com/bitfsorg/libsbe-go/disburse"
	"github.com/bitfsorg/libsbe-go/engine"
	"github.com/bitfsorg/libsbe-go/recipient"
	"github.com/bitfsorg/libsbe-go/recorder"
	"github.com/bitfsorg/libsbe-go/store"
)

const startTime = 10_000

func txid(b byte) string { return strings.Repeat(string("0123456789abcdef"[b%16]), 64) }

// fakeChain is an in-memory node: UTXOs per address, a mempool of
// broadcast transactions and a programmable broadcast error.
type fakeChain struct {
	mu           sync.Mutex
	utxos        map[string][]*chain.UTXO
	broadcasts   []string
	known        map[string]bool
	broadcastErr error
}

func (f *fakeChain) service() *chain.MockBlockchainService {
	return &chain.MockBlockchainService{
		ListUnspentFn: func(_ context.Context, address string) ([]*chain.UTXO, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.utxos[address], nil
		},
		BroadcastTxFn: func(_ context.Context, raw string) (string, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.broadcastErr != nil {
				return "", f.broadcastErr
			}
			f.broadcasts = append(f.broadcasts, raw)
			return "", nil
		},
		GetBestBlockHeightFn: func(context.Context) (uint64, error) { return 800_000, nil },
		GetTxStatusFn: func(_ context.Context, id string) (*chain.TxStatus, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.known[id] {
				return &chain.TxStatus{}, nil
			}
			return nil, chain.ErrTxNotFound
		},
	}
}

func (f *fakeChain) setBroadcastErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastErr = err
}

func (f *fakeChain) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.broadcasts)
}

type memRecorder struct {
	mu     sync.Mutex
	cycles []*recorder.Cycle
}

func (m *memRecorder) RecordCycle(c *recorder.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, c)
	return nil
}

func (m *memRecorder) Close() error { return nil }

func (m *memRecorder) last() *recorder.Cycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles[len(m.cycles)-1]
}

type env struct {
	runner    *Runner
	store     store.Store
	chain     *fakeChain
	clock     *chain.FixedClock
	rec       *memRecorder
	authority *ec.PrivateKey
	key       store.Key
	treasury  string
	fee       string
}

func newKey(t *testing.T) *ec.PrivateKey {
	t.Helper()
	k, err := ec.NewPrivateKey()
	require.NoError(t, err)
	return k
}

func addressOf(t *testing.T, k *ec.PrivateKey) string {
	t.Helper()
	addr, err := chain.AddressFromPKH(disburse.PKH(k), "mainnet")
	require.NoError(t, err)
	return addr
}

// newEnv binds one treasury holding treasurySats with a 10_000 sat fee
// output. The record waits 3600s or 5 BSV.
func newEnv(t *testing.T, s store.Store, treasurySats uint64) *env {
	t.Helper()
	authority := newKey(t)
	tk, fk := newKey(t), newKey(t)

	auth, err := authz.AuthorityFromPubKey(authority.PubKey())
	require.NoError(t, err)
	pkh, err := authz.TreasuryFromPubKey(tk.PubKey())
	require.NoError(t, err)
	st := engine.NewState(auth, pkh, 3600, 500_000_000, 5000, 3000, 2000, 0)
	key := store.KeyOf(st)
	require.NoError(t, s.Create(key, st))

	e := &env{
		store:     s,
		chain:     &fakeChain{utxos: map[string][]*chain.UTXO{}, known: map[string]bool{}},
		clock:     chain.NewFixedClock(startTime),
		rec:       &memRecorder{},
		authority: authority,
		key:       key,
		treasury:  addressOf(t, tk),
		fee:       addressOf(t, fk),
	}
	e.chain.utxos[e.treasury] = []*chain.UTXO{{TxID: txid(1), Amount: treasurySats}}
	e.chain.utxos[e.fee] = []*chain.UTXO{{TxID: txid(2), Vout: 1, Amount: 10_000}}

	svc := e.chain.service()
	e.runner, err = NewRunner(Options{
		Store:     s,
		Chain:     svc,
		Resolver:  recipient.StaticResolver{"dns:lp.example.com": addressOf(t, newKey(t))},
		Disburser: disburse.NewDisburser(svc, disburse.RetryConfig{MaxAttempts: 2}),
		Clock:     e.clock,
		Recorder:  e.rec,
	})
	require.NoError(t, err)
	require.NoError(t, e.runner.Add(&Treasury{
		Name:         "main",
		Key:          key,
		Destinations: [3]string{addressOf(t, newKey(t)), "dns:lp.example.com", addressOf(t, newKey(t))},
		Keys:         disburse.Keys{Treasury: tk, Fee: fk},
	}))
	return e
}

func (e *env) request(t *testing.T) *authz.Request {
	t.Helper()
	req, err := authz.Sign(e.authority, e.key, e.clock.Now())
	require.NoError(t, err)
	return req
}

func (e *env) run(t *testing.T) (*Report, error) {
	return e.runner.Run(context.Background(), "main", e.request(t))
}

func TestRun_Executes(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)

	rep, err := e.run(t)
	require.NoError(t, err)
	assert.Equal(t, engine.Executed, rep.Status)
	assert.Equal(t, engine.Eligible, rep.Phase)
	assert.Equal(t, engine.Allocation{Buyback: 500_000, LP: 300_000, Distribution: 200_000}, rep.Allocation)
	assert.Len(t, rep.Payouts, 3)
	assert.NotEmpty(t, rep.TxID)
	assert.False(t, rep.Pending)
	assert.Equal(t, 1, rep.Attempts)
	assert.Equal(t, 1, e.chain.broadcastCount())

	st, err := e.store.Get(e.key)
	require.NoError(t, err)
	assert.Equal(t, int64(startTime), st.LastExecutionTS)

	d, err := e.store.GetDisbursement(rep.DisbursementID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusBroadcast, d.Status)
	assert.Equal(t, rep.TxID, d.TxID)
	assert.NotEmpty(t, d.RawTx)

	c := e.rec.last()
	assert.Equal(t, recorder.OutcomeExecuted, c.Outcome)
	assert.Equal(t, rep.TxID, c.TxID)
}

func TestRun_SkipsDuringCooldown(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)
	_, err := e.run(t)
	require.NoError(t, err)

	e.clock.Advance(60)
	rep, err := e.run(t)
	require.NoError(t, err)
	assert.Equal(t, engine.Skipped, rep.Status)
	assert.Equal(t, engine.CoolingDown, rep.Phase)
	assert.Zero(t, rep.Allocation)
	assert.Equal(t, 1, e.chain.broadcastCount())

	st, err := e.store.Get(e.key)
	require.NoError(t, err)
	assert.Equal(t, int64(startTime), st.LastExecutionTS, "a skipped cycle does not move the cursor")
	assert.Equal(t, recorder.OutcomeSkipped, e.rec.last().Outcome)
}

func TestRun_BalanceThresholdBypassesInterval(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)
	_, err := e.run(t)
	require.NoError(t, err)

	e.chain.utxos[e.treasury] = []*chain.UTXO{{TxID: txid(3), Amount: 600_000_000}}
	e.clock.Advance(1)
	rep, err := e.run(t)
	require.NoError(t, err)
	assert.Equal(t, engine.Executed, rep.Status)
	assert.Equal(t, uint64(300_000_000), rep.Allocation.Buyback)
}

func TestRun_Unauthorized(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)

	stranger, err := authz.Sign(newKey(t), e.key, e.clock.Now())
	require.NoError(t, err)
	otherRecord, err := authz.Sign(e.authority, store.Key{1}, e.clock.Now())
	require.NoError(t, err)
	stale, err := authz.Sign(e.authority, e.key, e.clock.Now()-DefaultMaxSkew-1)
	require.NoError(t, err)

	for name, req := range map[string]*authz.Request{
		"stranger":     stranger,
		"other record": otherRecord,
		"stale":        stale,
		"missing":      nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.runner.Run(context.Background(), "main", req)
			assert.ErrorIs(t, err, engine.ErrUnauthorized)
		})
	}

	st, err := e.store.Get(e.key)
	require.NoError(t, err)
	assert.Zero(t, st.LastExecutionTS)
	assert.Zero(t, e.chain.broadcastCount())
}

func TestRun_UnknownTreasury(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)
	_, err := e.runner.Run(context.Background(), "nope", e.request(t))
	assert.ErrorIs(t, err, ErrUnknownTreasury)
}

func TestRun_InvalidRoutingConfig(t *testing.T) {
	s := store.NewMemStore()
	e := newEnv(t, s, 1_000_000)

	// a record written with overweight buckets bypassing Validate
	bad, err := s.Get(e.key)
	require.NoError(t, err)
	bad.BuybackBPS = 9000
	bad.Bump = 7
	badKey := store.KeyOf(bad)
	require.NoError(t, s.Create(badKey, bad))
	require.NoError(t, e.runner.Add(&Treasury{
		Name: "bad", Key: badKey,
		Destinations: e.runner.treasuries["main"].Destinations,
		Keys:         e.runner.treasuries["main"].Keys,
	}))

	req, err := authz.Sign(e.authority, badKey, e.clock.Now())
	require.NoError(t, err)
	_, err = e.runner.Run(context.Background(), "bad", req)
	assert.ErrorIs(t, err, engine.ErrInvalidRoutingConfig)
	assert.Equal(t, recorder.OutcomeFailed, e.rec.last().Outcome)
}

// racingStore lets another cycle commit between Execute and Commit.
type racingStore struct {
	*store.MemStore
	once sync.Once
}

func (s *racingStore) Commit(key store.Key, expectedTS, newTS int64, d *store.Disbursement) error {
	s.once.Do(func() {
		other := store.NewDisbursement(key, newTS, d.Balance, d.Allocation)
		if err := s.MemStore.Commit(key, expectedTS, newTS, other); err != nil {
			panic(err)
		}
	})
	return s.MemStore.Commit(key, expectedTS, newTS, d)
}

func TestRun_LosesCommitRace(t *testing.T) {
	s := &racingStore{MemStore: store.NewMemStore()}
	e := newEnv(t, s, 1_000_000)

	rep, err := e.run(t)
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, engine.ErrExecutionAlreadyPerformed)
	assert.Zero(t, e.chain.broadcastCount(), "the losing cycle must not pay out")

	pending, err := s.ListPending()
	require.NoError(t, err)
	assert.Len(t, pending, 1, "only the winner is journaled")
}

func TestRun_ConcurrentCyclesPayOnce(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)

	const workers = 6
	var wg sync.WaitGroup
	var mu sync.Mutex
	executed, lost := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := authz.Sign(e.authority, e.key, e.clock.Now())
			if err != nil {
				return
			}
			rep, err := e.runner.Run(context.Background(), "main", req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && rep.Status == engine.Executed:
				executed++
			case err == nil && rep.Status == engine.Skipped:
				lost++ // read the record after the winner committed
			case errors.Is(err, engine.ErrExecutionAlreadyPerformed):
				lost++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, executed)
	assert.Equal(t, workers-1, lost, "racers either lose the commit or see the cooldown")
	assert.Equal(t, 1, e.chain.broadcastCount())
}

func TestRun_RejectedMarksFailed(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)
	e.chain.setBroadcastErr(fmt.Errorf("%w: bad-txns-inputs-missingorspent", chain.ErrBroadcastRejected))

	rep, err := e.run(t)
	require.NotNil(t, rep)
	assert.ErrorIs(t, err, ErrDisbursementFailed)
	assert.False(t, rep.Pending)

	d, err := e.store.GetDisbursement(rep.DisbursementID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, d.Status)
	assert.Contains(t, d.Reason, "missingorspent")

	st, err := e.store.Get(e.key)
	require.NoError(t, err)
	assert.Equal(t, int64(startTime), st.LastExecutionTS, "the cursor stays committed")
}

func TestRun_TransportFailureThenResume(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)
	e.chain.setBroadcastErr(fmt.Errorf("%w: connection refused", chain.ErrConnectionFailed))

	rep, err := e.run(t)
	require.NotNil(t, rep)
	assert.ErrorIs(t, err, ErrDisbursementPending)
	assert.True(t, rep.Pending)
	assert.Equal(t, 2, rep.Attempts)

	d, err := e.store.GetDisbursement(rep.DisbursementID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, d.Status)
	require.NotEmpty(t, d.RawTx)

	e.chain.setBroadcastErr(nil)
	reports, err := e.runner.Resume(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, d.TxID, reports[0].TxID)
	require.Len(t, e.chain.broadcasts, 1)
	assert.Equal(t, d.RawTx, e.chain.broadcasts[0], "resume rebroadcasts the journaled bytes")

	d, err = e.store.GetDisbursement(rep.DisbursementID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusBroadcast, d.Status)
	assert.Equal(t, recorder.OutcomeResumed, e.rec.last().Outcome)
}

func TestResume_KnownTransactionIsNotRebroadcast(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)
	e.chain.setBroadcastErr(fmt.Errorf("%w: timeout", chain.ErrConnectionFailed))
	rep, err := e.run(t)
	require.ErrorIs(t, err, ErrDisbursementPending)

	d, err := e.store.GetDisbursement(rep.DisbursementID)
	require.NoError(t, err)
	e.chain.known[d.TxID] = true // the node accepted it before the connection dropped
	e.chain.setBroadcastErr(nil)

	reports, err := e.runner.Resume(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Zero(t, e.chain.broadcastCount())

	d, err = e.store.GetDisbursement(rep.DisbursementID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusBroadcast, d.Status)
}

func TestRun_NoFeeFundsStaysPendingUntilResume(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)
	fee := e.chain.utxos[e.fee]
	delete(e.chain.utxos, e.fee)

	rep, err := e.run(t)
	require.NotNil(t, rep)
	assert.ErrorIs(t, err, ErrDisbursementPending)
	assert.ErrorIs(t, err, disburse.ErrInsufficientFunds)

	d, err := e.store.GetDisbursement(rep.DisbursementID)
	require.NoError(t, err)
	assert.Empty(t, d.RawTx)

	e.chain.utxos[e.fee] = fee
	reports, err := e.runner.Resume(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.NotEmpty(t, reports[0].TxID)
	assert.Len(t, reports[0].Payouts, 3)
	assert.Equal(t, 1, e.chain.broadcastCount())
}

func TestRun_DustAllocationSettlesWithoutTx(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000)

	rep, err := e.run(t)
	require.NoError(t, err)
	assert.Equal(t, engine.Executed, rep.Status)
	assert.Empty(t, rep.TxID)
	assert.Equal(t, uint64(1_000), rep.Retained)
	assert.Zero(t, e.chain.broadcastCount())

	pending, err := e.store.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStatus(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)

	sr, err := e.runner.Status(context.Background(), "main")
	require.NoError(t, err)
	assert.True(t, sr.Eligible())
	assert.Equal(t, e.treasury, sr.Address)
	assert.Equal(t, uint64(800_000), sr.TipHeight)
	assert.Equal(t, uint64(1_000_000), sr.Balance)
	assert.Equal(t, uint64(500_000), sr.Simulated.Buyback)
	assert.Equal(t, int64(3600), sr.NextWindow)
	assert.Zero(t, sr.Pending)

	_, err = e.run(t)
	require.NoError(t, err)
	sr, err = e.runner.Status(context.Background(), "main")
	require.NoError(t, err)
	assert.False(t, sr.Eligible())
	assert.Equal(t, int64(startTime+3600), sr.NextWindow)
	assert.Equal(t, int64(startTime), sr.State.LastExecutionTS)

	_, err = e.runner.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTreasury)
}

func TestStatusReport_Require(t *testing.T) {
	ok := &engine.State{LastExecutionTS: 1000, MinIntervalSeconds: 3600, MinAccumulated: 500, BuybackBPS: 10_000}

	sr := &StatusReport{State: ok, Now: 1000 + 3600, Balance: 0}
	assert.NoError(t, sr.Require())

	sr = &StatusReport{State: ok, Now: 2000, Balance: 100}
	assert.ErrorIs(t, sr.Require(), engine.ErrScheduleNotSatisfied)

	// overweight and cooling down: the routing error comes first
	bad := ok.Clone()
	bad.LPBPS = 1
	sr = &StatusReport{State: bad, Now: 2000, Balance: 100}
	err := sr.Require()
	assert.ErrorIs(t, err, engine.ErrInvalidRoutingConfig)
	assert.NotErrorIs(t, err, engine.ErrScheduleNotSatisfied)
}

func TestNextWindowSaturates(t *testing.T) {
	st := &engine.State{LastExecutionTS: 1 << 62, MinIntervalSeconds: 1 << 62}
	assert.Equal(t, int64(1<<63-1), nextWindow(st))
}

func TestAdd_Validation(t *testing.T) {
	e := newEnv(t, store.NewMemStore(), 1_000_000)
	main := e.runner.treasuries["main"]

	err := e.runner.Add(&Treasury{Name: "main", Key: main.Key, Keys: main.Keys})
	assert.ErrorIs(t, err, ErrDuplicateTreasury)

	err = e.runner.Add(&Treasury{Name: "alias", Key: main.Key, Keys: main.Keys})
	assert.ErrorIs(t, err, ErrDuplicateTreasury)

	err = e.runner.Add(&Treasury{Name: "x", Key: main.Key, Keys: disburse.Keys{Treasury: newKey(t), Fee: newKey(t)}})
	assert.ErrorIs(t, err, ErrKeyMismatch)

	err = e.runner.Add(&Treasury{Name: "x", Key: main.Key, Keys: disburse.Keys{Treasury: main.Keys.Treasury, Fee: main.Keys.Treasury}})
	assert.ErrorIs(t, err, ErrKeyMismatch)

	err = e.runner.Add(&Treasury{Name: "x", Key: store.Key{9}, Keys: main.Keys})
	assert.ErrorIs(t, err, store.ErrStateNotFound)

	assert.ErrorIs(t, e.runner.Add(nil), ErrNilParam)
	assert.Equal(t, []string{"main"}, e.runner.Names())
}

func TestNewRunner_RequiresCollaborators(t *testing.T) {
	_, err := NewRunner(Options{})
	assert.ErrorIs(t, err, ErrNilParam)
}

func TestProvision(t *testing.T) {
	authority := newKey(t)
	tk := newKey(t)
	def := &config.Treasury{
		Name:            "main",
		Authority:       fmt.Sprintf("%x", authority.PubKey().Compressed()),
		TreasuryAddress: addressOf(t, tk),
		Bump:            3,
		Schedule: config.Schedule{
			MinIntervalSeconds: 86400,
			MinAccumulated:     1_000_000,
			BuybackBPS:         4000,
			LPBPS:              4000,
			DistributionBPS:    2000,
		},
	}

	s := store.NewMemStore()
	key, err := Provision(s, def)
	require.NoError(t, err)

	st, err := s.Get(key)
	require.NoError(t, err)
	assert.Zero(t, st.LastExecutionTS)
	assert.Equal(t, disburse.PKH(tk), st.Treasury[:])
	assert.Equal(t, authority.PubKey().Compressed(), st.Authority[:])
	assert.Equal(t, uint8(3), st.Bump)
	assert.Equal(t, int64(86400), st.MinIntervalSeconds)

	again, err := Provision(s, def)
	assert.ErrorIs(t, err, store.ErrStateExists)
	assert.Equal(t, key, again)

	def.Schedule.LPBPS = 9000
	_, err = RecordFor(def)
	assert.ErrorIs(t, err, engine.ErrInvalidRoutingConfig)

	def.TreasuryAddress = "not-an-address"
	_, err = RecordFor(def)
	assert.ErrorIs(t, err, recipient.ErrInvalidDestination)
}
