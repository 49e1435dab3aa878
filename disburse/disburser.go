package disburse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bitfsorg/libsbe-go/chain"
)

// RetryConfig bounds broadcast retries.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnRetry, if set, is called after a failed attempt with the delay
	// before the next one.
	OnRetry func(err error, next time.Duration)
}

// DefaultRetryConfig makes five attempts starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// policy returns the backoff schedule for one broadcast bound to ctx.
func (c RetryConfig) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.BaseDelay
	exp.MaxInterval = c.MaxDelay
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.MaxAttempts-1)), ctx)
}

// Disburser builds, signs and broadcasts disbursement transactions.
type Disburser struct {
	svc   chain.BlockchainService
	retry RetryConfig
}

// NewDisburser returns a Disburser broadcasting through svc.
func NewDisburser(svc chain.BlockchainService, retry RetryConfig) *Disburser {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.BaseDelay < 0 {
		retry.BaseDelay = 0
	}
	return &Disburser{svc: svc, retry: retry}
}

// Prepare builds and signs the plan without broadcasting it.
func (d *Disburser) Prepare(plan *Plan, keys Keys) (*Result, error) {
	res, err := Build(plan)
	if err != nil {
		return nil, err
	}
	if err := Sign(res, keys); err != nil {
		return nil, err
	}
	return res, nil
}

// alreadyKnown reports whether a rejection means the node already has the tx.
func alreadyKnown(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "txn-already-known") ||
		strings.Contains(msg, "already in the mempool") ||
		strings.Contains(msg, "transaction already in block chain")
}

// Broadcast submits rawHex, retrying transport failures with jittered
// exponential backoff. Node rejections are final, except those that say the
// node already holds the transaction, which count as success.
// It returns the txid and the number of attempts made.
func (d *Disburser) Broadcast(ctx context.Context, txid, rawHex string) (string, int, error) {
	if d.svc == nil {
		return "", 0, fmt.Errorf("%w: blockchain service", ErrNilParam)
	}
	var (
		attempts int
		got      string
	)
	op := func() error {
		attempts++
		id, err := d.svc.BroadcastTx(ctx, rawHex)
		switch {
		case err == nil:
			got = id
			return nil
		case errors.Is(err, chain.ErrBroadcastRejected) && alreadyKnown(err):
			got = ""
			return nil
		case errors.Is(err, chain.ErrBroadcastRejected):
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.RetryNotify(op, d.retry.policy(ctx), d.retry.OnRetry)
	if err != nil {
		if errors.Is(err, chain.ErrBroadcastRejected) {
			return "", attempts, err
		}
		return "", attempts, fmt.Errorf("disburse: broadcast failed after %d attempts: %w", attempts, err)
	}
	if got == "" {
		got = txid
	}
	return got, attempts, nil
}
