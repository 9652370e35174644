// internal/keypool/executor.go

// Package keypool runs provider operations against ordered pools of API
// credentials, rotating and retrying on transient failure so callers see a
// single best-effort result or one terminal error.
package keypool

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// Executor bounds the retry behavior of ExecuteWithRetry. The zero value is
// not usable; construct with NewExecutor and override fields in tests.
type Executor struct {
	// Attempts is the per-credential attempt cap for overload retries.
	Attempts int
	// RateLimitDelay is the fixed pause before rotating off a rate-limited credential.
	RateLimitDelay time.Duration
	// BackoffBase scales the exponential overload backoff (base << attempt).
	BackoffBase time.Duration
	// JitterMax is the upper bound of the random jitter added to each backoff.
	JitterMax time.Duration
}

// NewExecutor returns an Executor with production retry parameters.
func NewExecutor() *Executor {
	return &Executor{
		Attempts:       4,
		RateLimitDelay: 500 * time.Millisecond,
		BackoffBase:    time.Second,
		JitterMax:      time.Second,
	}
}

// ExecuteWithRetry runs op against each credential in keys, in order.
//
// Per credential: up to ex.Attempts attempts. Overloaded (5xx) failures are
// retried on the same credential with exponential backoff plus jitter.
// Rate-limit (429) failures wait RateLimitDelay once and rotate to the next
// credential: quota errors do not self-resolve quickly on the same key.
// Bad-key (401/403) failures rotate immediately. Anything else is treated as
// credential-independent and propagates without touching the rest of the
// pool. When every credential is exhausted the last underlying error is
// wrapped in an aggregate.
func ExecuteWithRetry[T any](ctx context.Context, ex *Executor, keys []string, op func(ctx context.Context, key string) (T, error)) (T, error) {
	var zero T
	if len(keys) == 0 {
		return zero, fmt.Errorf("credential pool is empty")
	}

	var lastErr error
keyLoop:
	for i, key := range keys {
		for attempt := 0; attempt < ex.Attempts; attempt++ {
			res, err := op(ctx, key)
			if err == nil {
				return res, nil
			}
			lastErr = err

			switch Classify(err) {
			case ClassRateLimited:
				log.WithFields(log.Fields{"credential": i, "attempt": attempt}).
					Warnf("keypool: rate limited, rotating: %v", err)
				if !sleepCtx(ctx, ex.RateLimitDelay) {
					return zero, ctx.Err()
				}
				continue keyLoop
			case ClassBadKey:
				log.WithField("credential", i).Warnf("keypool: credential rejected, rotating: %v", err)
				continue keyLoop
			case ClassOverloaded:
				delay := ex.BackoffBase<<attempt + time.Duration(rand.Int63n(int64(ex.JitterMax)+1))
				log.WithFields(log.Fields{"credential": i, "attempt": attempt, "delay": delay}).
					Warnf("keypool: provider overloaded, backing off: %v", err)
				if !sleepCtx(ctx, delay) {
					return zero, ctx.Err()
				}
			default:
				return zero, err
			}
		}
		// Attempt cap hit on overload; move on to the next credential.
	}
	return zero, fmt.Errorf("all %d credentials exhausted: %w", len(keys), lastErr)
}

// sleepCtx sleeps for d unless ctx is cancelled first; reports whether the
// full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
