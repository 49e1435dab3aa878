// Package scheduler triggers disbursement cycles on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bitfsorg/libsbe-go/authz"
	"github.com/bitfsorg/libsbe-go/chain"
	"github.com/bitfsorg/libsbe-go/engine"
	"github.com/bitfsorg/libsbe-go/service"
	"github.com/bitfsorg/libsbe-go/store"
)

// ErrUnknownJob indicates no job is registered under the given name.
var ErrUnknownJob = errors.New("scheduler: unknown job")

// ErrBusy indicates a cycle for the same treasury is still running.
var ErrBusy = errors.New("scheduler: cycle already running")

// CycleRunner executes one signed cycle.
type CycleRunner interface {
	Run(ctx context.Context, name string, req *authz.Request) (*service.Report, error)
}

// Job is one scheduled treasury.
type Job struct {
	Name      string
	Spec      string
	Key       store.Key
	Authority *ec.PrivateKey
}

type entry struct {
	job  Job
	id   cron.EntryID
	busy sync.Mutex
}

// Scheduler runs each job on its cron spec. Cycles of the same treasury
// never overlap inside one process.
type Scheduler struct {
	cron   *cron.Cron
	runner CycleRunner
	clock  chain.Clock
	log    *zap.Logger

	mu   sync.Mutex
	jobs map[string]*entry
	ctx  context.Context
}

// New returns a stopped scheduler.
func New(runner CycleRunner, clock chain.Clock, log *zap.Logger) *Scheduler {
	if clock == nil {
		clock = chain.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		runner: runner,
		clock:  clock,
		log:    log,
		jobs:   make(map[string]*entry),
		ctx:    context.Background(),
	}
}

// Add registers job.
func (s *Scheduler) Add(job Job) error {
	if job.Authority == nil {
		return fmt.Errorf("scheduler: %s: nil authority key", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("scheduler: duplicate job %q", job.Name)
	}
	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Spec, func() { s.tick(e) })
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", job.Name, err)
	}
	e.id = id
	s.jobs[job.Name] = e
	return nil
}

// Start begins firing jobs. Cycles run under ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.jobs)
	s.mu.Unlock()
	s.cron.Start()
	s.log.Info("scheduler started", zap.Int("jobs", n))
}

// Stop stops firing jobs and returns a context that is done once running
// cycles have finished.
func (s *Scheduler) Stop() context.Context {
	done := s.cron.Stop()
	s.log.Info("scheduler stopped")
	return done
}

// RunNow runs the named job immediately, waiting for a cycle already in
// progress to finish first.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*service.Report, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	e.busy.Lock()
	defer e.busy.Unlock()
	return s.run(ctx, e)
}

// tick is the cron callback. An overlapping tick is dropped.
func (s *Scheduler) tick(e *entry) {
	if !e.busy.TryLock() {
		s.log.Warn("previous cycle still running", zap.String("treasury", e.job.Name), zap.Error(ErrBusy))
		return
	}
	defer e.busy.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	_, _ = s.run(ctx, e)
}

func (s *Scheduler) run(ctx context.Context, e *entry) (*service.Report, error) {
	log := s.log.With(zap.String("treasury", e.job.Name))
	req, err := authz.Sign(e.job.Authority, e.job.Key, s.clock.Now())
	if err != nil {
		log.Error("sign request", zap.Error(err))
		return nil, err
	}
	rep, err := s.runner.Run(ctx, e.job.Name, req)
	switch {
	case errors.Is(err, engine.ErrExecutionAlreadyPerformed):
		log.Info("another cycle executed this window")
	case err != nil:
		log.Error("cycle failed", zap.Error(err))
	case rep.Status == engine.Executed:
		log.Info("cycle executed", zap.String("txid", rep.TxID))
	default:
		log.Debug("cycle skipped", zap.Stringer("phase", rep.Phase))
	}
	return rep, err
}

// Entries returns the job names with their next fire time in unix seconds.
func (s *Scheduler) Entries() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.jobs))
	for name, e := range s.jobs {
		out[name] = s.cron.Entry(e.id).Next.Unix()
	}
	return out
}
