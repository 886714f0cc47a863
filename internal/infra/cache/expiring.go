package cache

import (
	"sync"
	"time"
)

type expiringItem[T any] struct {
	value     T
	expiresAt time.Time
}

// Expiring is a thread-safe map whose items expire after a sliding TTL.
// Every successful Get pushes the deadline out again. Expired items are
// removed by Sweep, which the owner schedules.
type Expiring[T any] struct {
	mu      sync.Mutex
	items   map[string]expiringItem[T]
	ttl     time.Duration
	now     func() time.Time
	onEvict func(key string, value T)

	evictable func(value T) bool
}

// NewExpiring creates a map with the given idle TTL. onEvict, if set, runs
// outside the lock for every item removed by Sweep or Delete.
func NewExpiring[T any](ttl time.Duration, onEvict func(key string, value T)) *Expiring[T] {
	return &Expiring[T]{
		items:   make(map[string]expiringItem[T]),
		ttl:     ttl,
		now:     time.Now,
		onEvict: onEvict,
	}
}

// SetEvictable installs a check that runs under the lock before Sweep,
// Delete or GetOrCreate removes an item. Items it refuses stay in the map.
func (c *Expiring[T]) SetEvictable(fn func(value T) bool) {
	c.mu.Lock()
	c.evictable = fn
	c.mu.Unlock()
}

func (c *Expiring[T]) canEvict(value T) bool {
	return c.evictable == nil || c.evictable(value)
}

// Get retrieves a value and refreshes its deadline. Returns false if not found or expired.
func (c *Expiring[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	it, ok := c.items[key]
	if !ok || now.After(it.expiresAt) {
		var zero T
		return zero, false
	}
	it.expiresAt = now.Add(c.ttl)
	c.items[key] = it
	return it.value, true
}

// Set stores a value with a full TTL.
func (c *Expiring[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = expiringItem[T]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

// GetOrCreate returns the live value for key, creating it with create when absent or expired.
func (c *Expiring[T]) GetOrCreate(key string, create func() T) (T, bool) {
	c.mu.Lock()
	now := c.now()
	it, ok := c.items[key]
	if ok && (!now.After(it.expiresAt) || !c.canEvict(it.value)) {
		it.expiresAt = now.Add(c.ttl)
		c.items[key] = it
		c.mu.Unlock()
		return it.value, false
	}

	fresh := expiringItem[T]{value: create(), expiresAt: now.Add(c.ttl)}
	c.items[key] = fresh
	c.mu.Unlock()

	if ok && c.onEvict != nil {
		c.onEvict(key, it.value)
	}
	return fresh.value, true
}

// Delete removes a value. It returns false when key is absent or the
// evictable check refused it.
func (c *Expiring[T]) Delete(key string) bool {
	c.mu.Lock()
	it, ok := c.items[key]
	if ok && !c.canEvict(it.value) {
		c.mu.Unlock()
		return false
	}
	delete(c.items, key)
	c.mu.Unlock()

	if ok && c.onEvict != nil {
		c.onEvict(key, it.value)
	}
	return ok
}

// Sweep removes expired items and returns how many were removed.
func (c *Expiring[T]) Sweep() int {
	c.mu.Lock()
	now := c.now()
	evicted := make(map[string]T)
	for k, v := range c.items {
		if now.After(v.expiresAt) && c.canEvict(v.value) {
			evicted[k] = v.value
			delete(c.items, k)
		}
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		for k, v := range evicted {
			c.onEvict(k, v)
		}
	}
	return len(evicted)
}

// Values returns the stored values, expired or not.
func (c *Expiring[T]) Values() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.value)
	}
	return out
}

// Len returns the number of stored items, expired or not.
func (c *Expiring[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
