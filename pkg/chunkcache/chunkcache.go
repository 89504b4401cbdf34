// Package chunkcache is an in-memory, size-bounded LRU cache with a single
// fill path per key.
//
// The first [Cache.Get] for a key starts a fill and registers a ticket for
// it; concurrent requests for the same key attach to that ticket instead of
// starting another fill. When the fill resolves, every attached caller gets
// the same value or the same error. Successful values are cached; errors are
// not, so the next Get after a failure starts a fresh fill.
//
// Capacity is measured with a caller-supplied size function (for decoded
// chunks: the number of feature records), not in bytes. When an insert
// pushes the total over MaxSize, least recently used entries are evicted
// until the total is at or under MaxSize. A value larger than MaxSize on its
// own is handed to its waiters but never stored, and evicts nothing.
//
// # Concurrency
//
// All methods are safe for concurrent use. Inserts, evictions and ticket
// bookkeeping happen under a single mutex; fills run on their own goroutine
// outside it.
package chunkcache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// ErrInvalidOptions is returned by [New] when [Options] are unusable.
var ErrInvalidOptions = errors.New("chunkcache: invalid options")

// Options configures a [Cache].
type Options[K comparable, V any] struct {
	// Fill produces the value for a key on a miss. It runs on its own
	// goroutine with a context that is not cancelled when the requesting
	// caller gives up. Required.
	Fill func(ctx context.Context, key K) (V, error)

	// Size reports the weight of a value. Optional; defaults to 1 per entry.
	Size func(V) int

	// MaxSize is the capacity in Size units. Must be > 0.
	MaxSize int
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits       uint64 // Hits counts Gets served from a resolved entry.
	Misses     uint64 // Misses counts Gets that started a fill.
	Joins      uint64 // Joins counts Gets that attached to an in-flight fill.
	Fills      uint64 // Fills counts completed fills, successful or not.
	FillErrors uint64 // FillErrors counts fills that returned an error.
	Evictions  uint64 // Evictions counts entries removed to stay under MaxSize.
	InFlight   int    // InFlight is the number of fills currently running.
	Entries    int    // Entries is the number of resolved entries held.
	Size       int    // Size is the summed weight of resolved entries.
	MaxSize    int    // MaxSize is the configured capacity.
}

type entry[V any] struct {
	value V
	size  int
}

// ticket tracks one in-flight fill. done is closed once value/err are set.
type ticket[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Cache is the concrete cache. Create it with [New].
type Cache[K comparable, V any] struct {
	fill    func(ctx context.Context, key K) (V, error)
	sizeOf  func(V) int
	maxSize int

	mu      sync.Mutex
	lru     *simplelru.LRU[K, entry[V]] // unbounded by count; size is enforced here
	tickets map[K]*ticket[V]
	size    int
	stats   Stats
}

// New validates opts and returns an empty cache.
func New[K comparable, V any](opts Options[K, V]) (*Cache[K, V], error) {
	if opts.Fill == nil {
		return nil, fmt.Errorf("%w: Fill is required", ErrInvalidOptions)
	}

	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("%w: MaxSize must be > 0, got %d", ErrInvalidOptions, opts.MaxSize)
	}

	sizeOf := opts.Size
	if sizeOf == nil {
		sizeOf = func(V) int { return 1 }
	}

	c := &Cache[K, V]{
		fill:    opts.Fill,
		sizeOf:  sizeOf,
		maxSize: opts.MaxSize,
		tickets: make(map[K]*ticket[V]),
	}

	// Every removal (eviction, Remove, Purge) goes through the callback, so
	// c.size always equals the summed size of resident entries.
	lru, err := simplelru.NewLRU[K, entry[V]](math.MaxInt, func(_ K, e entry[V]) {
		c.size -= e.size
	})
	if err != nil {
		return nil, fmt.Errorf("chunkcache: create lru: %w", err)
	}

	c.lru = lru

	return c, nil
}

// Get returns the value for key, filling it on a miss.
//
// If ctx is done before the value is available, Get returns ctx.Err(). The
// fill itself keeps running and still populates the cache for later callers.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, error) {
	c.mu.Lock()

	if e, ok := c.lru.Get(key); ok {
		c.stats.Hits++
		c.mu.Unlock()

		return e.value, nil
	}

	t, pending := c.tickets[key]
	if pending {
		c.stats.Joins++
	} else {
		c.stats.Misses++
		t = &ticket[V]{done: make(chan struct{})}
		c.tickets[key] = t

		go c.runFill(context.WithoutCancel(ctx), key, t)
	}

	c.mu.Unlock()

	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero V

		return zero, ctx.Err()
	}
}

func (c *Cache[K, V]) runFill(ctx context.Context, key K, t *ticket[V]) {
	value, err := c.safeFill(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tickets, key)

	c.stats.Fills++

	if err != nil {
		c.stats.FillErrors++
	} else {
		c.insertLocked(key, value)
	}

	t.value = value
	t.err = err
	close(t.done)
}

// safeFill turns a panicking fill into an error so waiters are released.
func (c *Cache[K, V]) safeFill(ctx context.Context, key K) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V

			value = zero
			err = fmt.Errorf("chunkcache: fill panicked: %v", r)
		}
	}()

	return c.fill(ctx, key)
}

func (c *Cache[K, V]) insertLocked(key K, value V) {
	size := max(c.sizeOf(value), 0)

	if size > c.maxSize {
		return
	}

	if c.lru.Contains(key) {
		c.lru.Remove(key)
	}

	c.lru.Add(key, entry[V]{value: value, size: size})
	c.size += size

	c.evictLocked()
}

// evictLocked drops entries from the LRU tail until the cache fits.
//
// Keys with an in-flight fill are never resident: a ticket only exists while
// its key is absent, and the fill inserts after dropping the ticket. The
// oldest entry is therefore always safe to evict, and the entry just
// inserted is never reached because it fits on its own.
func (c *Cache[K, V]) evictLocked() {
	for c.size > c.maxSize {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			return
		}

		c.stats.Evictions++
	}
}

// Contains reports whether key has a resolved entry. It does not touch LRU
// order.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Contains(key)
}

// Remove drops the resolved entry for key. In-flight fills are unaffected.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Remove(key)
}

// Purge drops every resolved entry. In-flight fills are unaffected and will
// insert their results when they resolve.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
}

// Len returns the number of resolved entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.InFlight = len(c.tickets)
	s.Entries = c.lru.Len()
	s.Size = c.size
	s.MaxSize = c.maxSize

	return s
}
