package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libsbe-go/authz"
	"github.com/bitfsorg/libsbe-go/chain"
	"github.com/bitfsorg/libsbe-go/engine"
	"github.com/bitfsorg/libsbe-go/service"
	"github.com/bitfsorg/libsbe-go/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	reqs  []*authz.Request
	calls atomic.Int32
	block chan struct{}
	err   error
}

func (f *fakeRunner) Run(_ context.Context, name string, req *authz.Request) (*service.Report, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &service.Report{Treasury: name, Status: engine.Skipped}, nil
}

func newJob(t *testing.T, spec string) (Job, *engine.State) {
	t.Helper()
	priv, err := ec.NewPrivateKey()
	require.NoError(t, err)
	auth, err := authz.AuthorityFromPubKey(priv.PubKey())
	require.NoError(t, err)
	st := engine.NewState(auth, [engine.TreasuryLen]byte{1}, 60, 1, 5000, 3000, 2000, 0)
	return Job{Name: "main", Spec: spec, Key: store.KeyOf(st), Authority: priv}, st
}

func TestAdd(t *testing.T) {
	s := New(&fakeRunner{}, nil, nil)
	job, _ := newJob(t, "0 */10 * * * *")
	require.NoError(t, s.Add(job))
	assert.Error(t, s.Add(job), "duplicate name")

	bad := job
	bad.Name, bad.Spec = "bad", "every tuesday"
	assert.Error(t, s.Add(bad))

	nokey := job
	nokey.Name, nokey.Authority = "nokey", nil
	assert.Error(t, s.Add(nokey))

	next := s.Entries()
	require.Len(t, next, 1)
	assert.Contains(t, next, "main")
}

func TestRunNow_SignsForTheRecord(t *testing.T) {
	r := &fakeRunner{}
	clock := chain.NewFixedClock(1_700_000_000)
	s := New(r, clock, nil)
	job, st := newJob(t, "@hourly")
	require.NoError(t, s.Add(job))

	rep, err := s.RunNow(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, "main", rep.Treasury)

	require.Len(t, r.reqs, 1)
	req := r.reqs[0]
	assert.Equal(t, job.Key, req.Key)
	assert.Equal(t, int64(1_700_000_000), req.Now)
	assert.NoError(t, authz.Authorize(st, req))

	_, err = s.RunNow(context.Background(), "other")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunNow_ReturnsRunnerError(t *testing.T) {
	r := &fakeRunner{err: engine.Errorf(engine.ExecutionAlreadyPerformed, "lost")}
	s := New(r, chain.NewFixedClock(1), nil)
	job, _ := newJob(t, "@hourly")
	require.NoError(t, s.Add(job))

	_, err := s.RunNow(context.Background(), "main")
	assert.True(t, errors.Is(err, engine.ErrExecutionAlreadyPerformed))
}

func TestTick_DropsOverlap(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	s := New(r, chain.NewFixedClock(1), nil)
	job, _ := newJob(t, "@hourly")
	require.NoError(t, s.Add(job))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunNow(context.Background(), "main")
	}()
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)

	s.tick(s.jobs["main"]) // returns at once while the first cycle holds the lock
	assert.Equal(t, int32(1), r.calls.Load())

	close(r.block)
	<-done
}

func TestStartStop(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, nil, nil)
	job, _ := newJob(t, "@every 1s")
	require.NoError(t, s.Add(job))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	<-s.Stop().Done()
}
