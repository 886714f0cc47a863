package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/cache"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/observability"

	"go.uber.org/zap"
)

// --- Helpers ---

type fetchResult struct {
	value any
	err   error
}

// scriptedFetcher blocks every call until the test releases it by number.
type scriptedFetcher struct {
	mu      sync.Mutex
	calls   int
	gates   map[int]chan fetchResult
	started chan int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		gates:   make(map[int]chan fetchResult),
		started: make(chan int, 32),
	}
}

func (f *scriptedFetcher) gate(n int) chan fetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[n]
	if !ok {
		g = make(chan fetchResult, 1)
		f.gates[n] = g
	}
	return g
}

func (f *scriptedFetcher) fetch(_ context.Context) (any, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()

	f.started <- n
	r := <-f.gate(n)
	return r.value, r.err
}

func (f *scriptedFetcher) release(n int, v any, err error) {
	f.gate(n) <- fetchResult{value: v, err: err}
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFetcher) waitStarted(t *testing.T, want int) {
	t.Helper()
	select {
	case n := <-f.started:
		if n != want {
			t.Fatalf("expected fetch #%d to start, got #%d", want, n)
		}
	case <-time.After(time.Second):
		t.Fatalf("fetch #%d never started", want)
	}
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(fetch cache.FetchFunc, clock *manualClock, metrics *observability.Metrics) *cache.Store {
	return cache.NewStore(map[cache.Key]cache.Policy{
		cache.KeyAccount: {
			FreshFor:   5 * time.Minute,
			MaxRetries: 2,
			Fetch:      fetch,
		},
	}, metrics, zap.NewNop(), cache.WithClock(clock.Now))
}

type readOutcome struct {
	res cache.Result
	err error
}

func readAsync(ctx context.Context, s *cache.Store) <-chan readOutcome {
	out := make(chan readOutcome, 1)
	go func() {
		res, err := s.Read(ctx, cache.KeyAccount)
		out <- readOutcome{res: res, err: err}
	}()
	return out
}

func await(t *testing.T, ch <-chan readOutcome) readOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("read did not complete")
		return readOutcome{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

// --- Tests ---

func TestStore_FreshReadSkipsNetwork(t *testing.T) {
	f := newScriptedFetcher()
	clock := &manualClock{now: time.Now()}
	s := newStore(f.fetch, clock, observability.NewMetrics())

	f.release(1, "v1", nil)
	first, err := s.Read(context.Background(), cache.KeyAccount)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if first.Value != "v1" {
		t.Fatalf("expected v1, got %v", first.Value)
	}

	clock.Advance(4 * time.Minute)
	second, err := s.Read(context.Background(), cache.KeyAccount)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if second.Value != "v1" || second.Stale {
		t.Errorf("expected fresh v1, got %+v", second)
	}
	if f.callCount() != 1 {
		t.Errorf("expected 1 fetch, got %d", f.callCount())
	}
}

func TestStore_ExpiredEntryRefetches(t *testing.T) {
	f := newScriptedFetcher()
	clock := &manualClock{now: time.Now()}
	s := newStore(f.fetch, clock, observability.NewMetrics())

	f.release(1, "v1", nil)
	f.release(2, "v2", nil)
	if _, err := s.Read(context.Background(), cache.KeyAccount); err != nil {
		t.Fatal(err)
	}

	clock.Advance(5 * time.Minute)
	res, err := s.Read(context.Background(), cache.KeyAccount)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "v2" {
		t.Errorf("expected v2 after expiry, got %v", res.Value)
	}
}

func TestStore_CoalescesConcurrentReads(t *testing.T) {
	f := newScriptedFetcher()
	clock := &manualClock{now: time.Now()}
	metrics := observability.NewMetrics()
	s := newStore(f.fetch, clock, metrics)

	a := readAsync(context.Background(), s)
	f.waitStarted(t, 1)
	b := readAsync(context.Background(), s)

	waitFor(t, func() bool {
		return metrics.CacheSnapshot(string(cache.KeyAccount))[0].Coalesced == 1
	})
	f.release(1, "shared", nil)

	for _, ch := range []<-chan readOutcome{a, b} {
		o := await(t, ch)
		if o.err != nil {
			t.Fatalf("expected no error, got %v", o.err)
		}
		if o.res.Value != "shared" {
			t.Errorf("expected shared value, got %v", o.res.Value)
		}
	}
	if f.callCount() != 1 {
		t.Errorf("expected exactly 1 outbound fetch, got %d", f.callCount())
	}
}

func TestStore_FailedFetchServesLastKnown(t *testing.T) {
	f := newScriptedFetcher()
	clock := &manualClock{now: time.Now()}
	metrics := observability.NewMetrics()
	s := newStore(f.fetch, clock, metrics)

	f.release(1, "known", nil)
	if _, err := s.Read(context.Background(), cache.KeyAccount); err != nil {
		t.Fatal(err)
	}

	clock.Advance(6 * time.Minute)
	boom := errors.New("ledger down")
	for n := 2; n <= 4; n++ {
		f.release(n, nil, boom)
	}

	res, err := s.Read(context.Background(), cache.KeyAccount)
	if err != nil {
		t.Fatalf("expected last-known fallback, got %v", err)
	}
	if res.Value != "known" || !res.Stale {
		t.Errorf("expected stale 'known', got %+v", res)
	}

	var fetchErr *domain.ErrFetch
	if !errors.As(res.FetchErr, &fetchErr) {
		t.Fatalf("expected ErrFetch, got %v", res.FetchErr)
	}
	if fetchErr.Attempts != 3 {
		t.Errorf("expected 1 attempt + 2 retries, got %d", fetchErr.Attempts)
	}
	if !errors.Is(res.FetchErr, boom) {
		t.Error("expected root cause to be wrapped")
	}

	entry, ok := s.Peek(cache.KeyAccount)
	if !ok || entry.RetryCount != 2 {
		t.Errorf("expected retry count 2 on entry, got %+v", entry)
	}
	if got := metrics.CacheSnapshot(string(cache.KeyAccount))[0].StaleServed; got != 1 {
		t.Errorf("expected 1 stale serve, got %d", got)
	}
}

func TestStore_FailedFetchWithoutValueErrors(t *testing.T) {
	f := newScriptedFetcher()
	s := newStore(f.fetch, &manualClock{now: time.Now()}, observability.NewMetrics())

	for n := 1; n <= 3; n++ {
		f.release(n, nil, errors.New("unreachable"))
	}

	_, err := s.Read(context.Background(), cache.KeyAccount)
	var fetchErr *domain.ErrFetch
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if _, ok := s.Peek(cache.KeyAccount); ok {
		t.Error("expected no value to be cached")
	}
}

func TestStore_InvalidateForcesRefetchInsideWindow(t *testing.T) {
	f := newScriptedFetcher()
	clock := &manualClock{now: time.Now()}
	s := newStore(f.fetch, clock, observability.NewMetrics())

	f.release(1, "before", nil)
	if _, err := s.Read(context.Background(), cache.KeyAccount); err != nil {
		t.Fatal(err)
	}

	s.Invalidate(cache.KeyAccount)
	if f.callCount() != 1 {
		t.Fatal("invalidate must not fetch")
	}

	entry, ok := s.Peek(cache.KeyAccount)
	if !ok || !entry.Invalidated || entry.Value != "before" {
		t.Fatalf("expected invalidated last-known entry, got %+v", entry)
	}

	f.release(2, "after", nil)
	res, err := s.Read(context.Background(), cache.KeyAccount)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "after" {
		t.Errorf("expected refetched value, got %v", res.Value)
	}
}

func TestStore_DiscardsResponseOlderThanWrite(t *testing.T) {
	f := newScriptedFetcher()
	clock := &manualClock{now: time.Now()}
	metrics := observability.NewMetrics()
	s := newStore(f.fetch, clock, metrics)

	pending := readAsync(context.Background(), s)
	f.waitStarted(t, 1)

	s.Write(cache.KeyAccount, "written")
	f.release(1, "late", nil)

	o := await(t, pending)
	if o.err != nil {
		t.Fatal(o.err)
	}
	if o.res.Value != "written" {
		t.Errorf("expected reader to see the newer write, got %v", o.res.Value)
	}

	entry, _ := s.Peek(cache.KeyAccount)
	if entry.Value != "written" {
		t.Errorf("expected late response discarded, entry holds %v", entry.Value)
	}
}

func TestStore_DetachedFetchLandsInvalidated(t *testing.T) {
	f := newScriptedFetcher()
	clock := &manualClock{now: time.Now()}
	s := newStore(f.fetch, clock, observability.NewMetrics())

	old := readAsync(context.Background(), s)
	f.waitStarted(t, 1)

	s.Invalidate(cache.KeyAccount)

	fresh := readAsync(context.Background(), s)
	f.waitStarted(t, 2)

	f.release(2, "new", nil)
	if o := await(t, fresh); o.res.Value != "new" || o.res.Stale {
		t.Fatalf("expected fresh 'new', got %+v", o.res)
	}

	// Last response received overwrites, but it predates the invalidation.
	f.release(1, "old", nil)
	if o := await(t, old); !o.res.Stale {
		t.Errorf("expected the detached response to be tagged stale, got %+v", o.res)
	}

	entry, _ := s.Peek(cache.KeyAccount)
	if entry.Value != "old" || !entry.Invalidated {
		t.Fatalf("expected invalidated 'old' entry, got %+v", entry)
	}

	f.release(3, "newest", nil)
	res, err := s.Read(context.Background(), cache.KeyAccount)
	if err != nil {
		t.Fatal(err)
	}
	if res.Value != "newest" {
		t.Errorf("expected a refetch, got %v", res.Value)
	}
}

func TestStore_CancelledReaderDoesNotCancelFetch(t *testing.T) {
	f := newScriptedFetcher()
	s := newStore(f.fetch, &manualClock{now: time.Now()}, observability.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	pending := readAsync(ctx, s)
	f.waitStarted(t, 1)
	cancel()

	if o := await(t, pending); !errors.Is(o.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", o.err)
	}

	f.release(1, "landed", nil)
	waitFor(t, func() bool {
		_, ok := s.Peek(cache.KeyAccount)
		return ok
	})
}

func TestStore_ClearDropsEntries(t *testing.T) {
	f := newScriptedFetcher()
	s := newStore(f.fetch, &manualClock{now: time.Now()}, observability.NewMetrics())

	s.Write(cache.KeyAccount, "x")
	s.Clear()

	if _, ok := s.Peek(cache.KeyAccount); ok {
		t.Fatal("expected empty store after Clear")
	}
}

func TestGet_TypeMismatch(t *testing.T) {
	f := newScriptedFetcher()
	s := newStore(f.fetch, &manualClock{now: time.Now()}, observability.NewMetrics())
	s.Write(cache.KeyAccount, "a string")

	if _, _, err := cache.Get[int](context.Background(), s, cache.KeyAccount); err == nil {
		t.Fatal("expected type mismatch error")
	}
	v, _, err := cache.Get[string](context.Background(), s, cache.KeyAccount)
	if err != nil || v != "a string" {
		t.Fatalf("expected typed read, got %q (%v)", v, err)
	}
}

func TestRead_UnknownKey(t *testing.T) {
	s := newStore(newScriptedFetcher().fetch, &manualClock{now: time.Now()}, observability.NewMetrics())

	if _, err := s.Read(context.Background(), cache.KeyMemberships); err == nil {
		t.Fatal("expected error for key without policy")
	}
}
