package cache

import (
	"sort"
	"sync"
	"time"
)

const defaultEvictExtra = 100

type entry[V any] struct {
	value   V
	stamped time.Time
}

// Store is a TTL plus capacity bounded key/value cache. An entry is valid
// while now-stamp < ttl; expired entries are removed lazily on read or by
// CleanupExpired. When an insert pushes the store over maxSize, the
// oldest-stamp entries are evicted in one batch of roughly 1% of capacity
// plus a fixed extra, so eviction cost is paid in bursts rather than on
// every insert. A read hit re-stamps the entry.
type Store[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]entry[V]
	ttl        time.Duration
	maxSize    int
	evictExtra int
	now        func() time.Time
}

type Option[K comparable, V any] func(*Store[K, V])

// WithEvictExtra overrides the fixed component of the eviction batch size.
// Tests use it to force single-entry eviction on tiny stores.
func WithEvictExtra[K comparable, V any](n int) Option[K, V] {
	return func(s *Store[K, V]) { s.evictExtra = n }
}

// WithClock overrides the time source.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(s *Store[K, V]) { s.now = now }
}

func New[K comparable, V any](ttl time.Duration, maxSize int, opts ...Option[K, V]) *Store[K, V] {
	s := &Store[K, V]{
		entries:    make(map[K]entry[V]),
		ttl:        ttl,
		maxSize:    maxSize,
		evictExtra: defaultEvictExtra,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached value, removing it if expired. A hit refreshes the
// entry's stamp so frequently read keys survive eviction.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero V
	e, ok := s.entries[key]
	if !ok {
		return zero, false
	}
	now := s.now()
	if now.Sub(e.stamped) >= s.ttl {
		delete(s.entries, key)
		return zero, false
	}
	e.stamped = now
	s.entries[key] = e
	return e.value, true
}

// Put inserts or overwrites with a fresh stamp and restores the capacity
// bound if the insert violated it.
func (s *Store[K, V]) Put(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry[V]{value: value, stamped: s.now()}
	if len(s.entries) > s.maxSize {
		s.evictOldestLocked(len(s.entries) - s.maxSize + s.maxSize/100 + s.evictExtra)
	}
}

// CleanupExpired sweeps every expired entry. Called opportunistically by
// bulk loaders, not on a timer.
func (s *Store[K, V]) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if now.Sub(e.stamped) >= s.ttl {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store[K, V]) evictOldestLocked(n int) {
	if n <= 0 {
		return
	}
	if n >= len(s.entries) {
		s.entries = make(map[K]entry[V])
		return
	}
	type stamped struct {
		key   K
		stamp time.Time
	}
	all := make([]stamped, 0, len(s.entries))
	for k, e := range s.entries {
		all = append(all, stamped{key: k, stamp: e.stamped})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].stamp.Before(all[j].stamp) })
	for i := 0; i < n; i++ {
		delete(s.entries, all[i].key)
	}
}
