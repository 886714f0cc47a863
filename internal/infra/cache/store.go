// Package cache holds query results for one session.
//
// Each logical resource has exactly one entry. Entries are immutable values
// replaced wholesale on every write or fetch. Concurrent reads of a stale key
// share one in-flight fetch. Fetch responses are applied in arrival order,
// except that a response is dropped when an explicit Write for the same key
// landed after the fetch started.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/observability"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/resilience"

	"go.uber.org/zap"
)

// Key names a cached resource.
type Key string

const (
	KeyAccount      Key = "account"
	KeyMemberships  Key = "memberships"
	KeyMyMembership Key = "my-membership"
)

// FetchFunc loads the current value of a resource from the ledger.
type FetchFunc func(ctx context.Context) (any, error)

// Policy configures one key.
type Policy struct {
	FreshFor       time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	Fetch          FetchFunc
}

// Entry is the cached state of one key. The zero Entry is an absent value.
type Entry struct {
	Key         Key
	Value       any
	HasValue    bool
	FetchedAt   time.Time
	FreshFor    time.Duration
	RetryCount  int
	Invalidated bool
	LastErr     error
}

// Fresh reports whether the entry can be served without a fetch.
func (e Entry) Fresh(now time.Time) bool {
	return e.HasValue && !e.Invalidated && now.Sub(e.FetchedAt) < e.FreshFor
}

// Age is the time since the value was fetched or written.
func (e Entry) Age(now time.Time) time.Duration {
	if !e.HasValue {
		return 0
	}
	return now.Sub(e.FetchedAt)
}

// Result is what a reader gets back.
// Stale is set when the value may be outdated; FetchErr then tells why.
type Result struct {
	Value      any
	FetchedAt  time.Time
	RetryCount int
	Stale      bool
	FetchErr   error
}

type call struct {
	done chan struct{}

	startWrites uint64
	startEpoch  uint64
	startLanded uint64

	entry Entry
	err   error
}

type slot struct {
	entry   Entry
	writes  uint64 // explicit Write calls
	epoch   uint64 // Invalidate calls
	landed  uint64 // fetch responses applied
	pending *call
}

// Store is the per-session cache. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	slots    map[Key]*slot
	policies map[Key]Policy
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store serving the keys in policies.
func NewStore(policies map[Key]Policy, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		slots:    make(map[Key]*slot, len(policies)),
		policies: policies,
		now:      time.Now,
		metrics:  metrics,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) slotLocked(key Key) *slot {
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{entry: Entry{Key: key}}
		s.slots[key] = sl
	}
	return sl
}

// Read returns the value for key. A fresh entry is returned without network
// access; otherwise the caller waits on the key's single in-flight fetch.
//
// When the fetch fails and a last-known value exists, that value is returned
// with Stale set and FetchErr carrying the *domain.ErrFetch. Without a value
// the error is returned.
//
// Cancelling ctx stops the wait but not the shared fetch.
func (s *Store) Read(ctx context.Context, key Key) (Result, error) {
	s.mu.Lock()
	policy, ok := s.policies[key]
	if !ok {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("cache: no policy for key %q", key)
	}

	sl := s.slotLocked(key)
	if sl.entry.Fresh(s.now()) {
		e := sl.entry
		s.mu.Unlock()
		s.metrics.IncrCacheHit(string(key))
		return resultOf(e), nil
	}

	c := sl.pending
	if c != nil {
		s.metrics.IncrCacheCoalesced(string(key))
	} else {
		s.metrics.IncrCacheMiss(string(key))
		c = &call{
			done:        make(chan struct{}),
			startWrites: sl.writes,
			startEpoch:  sl.epoch,
			startLanded: sl.landed,
		}
		sl.pending = c
		go s.fetch(context.WithoutCancel(ctx), key, sl, policy, c)
	}
	s.mu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if c.err == nil {
		return resultOf(c.entry), nil
	}
	if c.entry.HasValue {
		s.metrics.IncrCacheStaleServed(string(key))
		res := resultOf(c.entry)
		res.Stale = true
		res.FetchErr = c.err
		return res, nil
	}
	return Result{}, c.err
}

func (s *Store) fetch(ctx context.Context, key Key, sl *slot, policy Policy, c *call) {
	s.logger.Debug("cache: fetching", zap.String("key", string(key)))

	var value any
	attempts, err := resilience.RetryWithBackoff(ctx, resilience.Config{
		MaxRetries:     policy.MaxRetries,
		InitialBackoff: policy.InitialBackoff,
	}, func() error {
		v, err := policy.Fetch(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	retries := max(attempts-1, 0)

	s.mu.Lock()
	if sl.pending == c {
		sl.pending = nil
	}

	switch {
	case err != nil:
		c.err = &domain.ErrFetch{Resource: string(key), Attempts: attempts, Err: err}
		if sl.writes == c.startWrites && sl.landed == c.startLanded {
			e := sl.entry
			e.RetryCount = retries
			e.LastErr = c.err
			sl.entry = e
		}
		c.entry = sl.entry
		s.metrics.IncrCacheFetchFailed(string(key))
		s.logger.Warn("cache: fetch failed",
			zap.String("key", string(key)),
			zap.Int("attempts", attempts),
			zap.Bool("has_last_known", sl.entry.HasValue),
			zap.Error(err),
		)

	case sl.writes > c.startWrites:
		c.entry = sl.entry
		s.metrics.IncrCacheDiscarded(string(key))
		s.logger.Debug("cache: response discarded, newer write landed", zap.String("key", string(key)))

	default:
		sl.landed++
		sl.entry = Entry{
			Key:         key,
			Value:       value,
			HasValue:    true,
			FetchedAt:   s.now(),
			FreshFor:    policy.FreshFor,
			RetryCount:  retries,
			Invalidated: sl.epoch > c.startEpoch,
		}
		c.entry = sl.entry
	}
	s.mu.Unlock()

	close(c.done)
}

// Invalidate marks key stale without fetching. The next Read starts a new
// fetch; an in-flight fetch started before this call is detached so its
// response cannot be taken as fresh.
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	sl := s.slotLocked(key)
	e := sl.entry
	e.Invalidated = true
	sl.entry = e
	sl.epoch++
	sl.pending = nil
	s.mu.Unlock()

	s.metrics.IncrInvalidation(string(key))
	s.logger.Debug("cache: invalidated", zap.String("key", string(key)))
}

// Write replaces the entry for key and restarts its freshness window.
func (s *Store) Write(key Key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.slotLocked(key)
	sl.writes++
	sl.entry = Entry{
		Key:       key,
		Value:     value,
		HasValue:  true,
		FetchedAt: s.now(),
		FreshFor:  s.policies[key].FreshFor,
	}
}

// Peek returns the current entry without any network access.
func (s *Store) Peek(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[key]
	if !ok || !sl.entry.HasValue {
		return Entry{Key: key}, false
	}
	return sl.entry, true
}

// Clear drops every entry. Fetches still in flight land in the discarded slots.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots = make(map[Key]*slot, len(s.policies))
}

// Now is the store's clock.
func (s *Store) Now() time.Time {
	return s.now()
}

func resultOf(e Entry) Result {
	return Result{
		Value:      e.Value,
		FetchedAt:  e.FetchedAt,
		RetryCount: e.RetryCount,
		Stale:      e.Invalidated,
	}
}

// Get reads key and asserts its value type.
func Get[T any](ctx context.Context, s *Store, key Key) (T, Result, error) {
	var zero T
	res, err := s.Read(ctx, key)
	if err != nil {
		return zero, res, err
	}
	v, ok := res.Value.(T)
	if !ok {
		return zero, res, fmt.Errorf("cache: %s holds %T, not %T", key, res.Value, zero)
	}
	return v, res, nil
}

// PeekAs returns the cached value of key, if present and of type T.
func PeekAs[T any](s *Store, key Key) (T, Entry, bool) {
	var zero T
	e, ok := s.Peek(key)
	if !ok {
		return zero, e, false
	}
	v, ok := e.Value.(T)
	if !ok {
		return zero, e, false
	}
	return v, e, true
}
