// Package resilience provides fault-tolerance patterns:
// retry with exponential backoff, circuit breaker, and bulkhead.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds resilience parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so RetryWithBackoff stops retrying and returns it as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithBackoff executes fn with exponential backoff + jitter.
// It respects context cancellation and returns the number of attempts made.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) (int, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		attempts++
		lastErr = fn()
		if lastErr == nil {
			return attempts, nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return attempts, perm.err
		}

		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return attempts, ctx.Err()
			case <-time.After(backoffFor(cfg.InitialBackoff, attempt)):
			}
		}
	}
	return attempts, lastErr
}

func backoffFor(initial time.Duration, attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * initial
	if half := int64(backoff / 2); half > 0 {
		return backoff + time.Duration(rand.Int63n(half))
	}
	return backoff
}

// NewCircuitBreaker creates a circuit breaker with sensible defaults.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    30 * time.Second, // closed: reset counters every 30s
		Timeout:     10 * time.Second, // open -> half-open after 10s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// A rejected withdrawal is a business answer, not an outage.
		IsSuccessful: func(err error) bool {
			var perm *permanentError
			return err == nil || errors.As(err, &perm)
		},
	})
}

// Bulkhead limits concurrent access to a resource.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead with the given max concurrency.
func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is available or context is cancelled.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (b *Bulkhead) Release() {
	<-b.sem
}
