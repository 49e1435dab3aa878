package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the node circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32        // probes allowed while half-open
	Interval            time.Duration // closed-state counter reset period
	Timeout             time.Duration // open-state duration before probing
	ConsecutiveFailures uint32        // trips after this many failures in a row
}

// DefaultBreakerConfig trips after five consecutive node failures and probes
// again after thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker guards a BlockchainService with a circuit breaker. Rejected
// broadcasts and missing transactions are answers from a healthy node and do
// not count as failures.
type Breaker struct {
	svc BlockchainService
	cb  *gobreaker.CircuitBreaker
}

var _ BlockchainService = (*Breaker)(nil)

// NewBreaker wraps svc. logger may be nil.
func NewBreaker(svc BlockchainService, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "chain",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrBroadcastRejected) ||
				errors.Is(err, ErrTxNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Breaker{svc: svc, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns the breaker state name: closed, half-open or open.
func (b *Breaker) State() string { return b.cb.State().String() }

func execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}
		// Failed calls still return the typed result; keep it when present.
		if v, ok := res.(T); ok {
			return v, err
		}
		return zero, err
	}
	return res.(T), nil
}

func (b *Breaker) ListUnspent(ctx context.Context, address string) ([]*UTXO, error) {
	return execute(b, func() ([]*UTXO, error) { return b.svc.ListUnspent(ctx, address) })
}

func (b *Breaker) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	return execute(b, func() (string, error) { return b.svc.BroadcastTx(ctx, rawTxHex) })
}

func (b *Breaker) GetTxStatus(ctx context.Context, txid string) (*TxStatus, error) {
	return execute(b, func() (*TxStatus, error) { return b.svc.GetTxStatus(ctx, txid) })
}

func (b *Breaker) GetBestBlockHeight(ctx context.Context) (uint64, error) {
	return execute(b, func() (uint64, error) { return b.svc.GetBestBlockHeight(ctx) })
}
