package cache

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestStore(ttl time.Duration, maxSize int) (*Store[string, int], *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := New[string, int](ttl, maxSize,
		WithClock[string, int](clock.Now),
		WithEvictExtra[string, int](0))
	return store, clock
}

func TestGetReturnsWithinTTL(t *testing.T) {
	store, clock := newTestStore(time.Second, 10)
	store.Put("a", 1)
	clock.Advance(900 * time.Millisecond)
	if v, ok := store.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit within ttl, got %v %v", v, ok)
	}
}

func TestGetExpiresAndRemoves(t *testing.T) {
	store, clock := newTestStore(time.Second, 10)
	store.Put("a", 1)
	clock.Advance(1100 * time.Millisecond)
	if _, ok := store.Get("a"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if store.Len() != 0 {
		t.Fatalf("expected expired entry removed, len=%d", store.Len())
	}
	if removed := store.CleanupExpired(); removed != 0 {
		t.Fatalf("expected nothing left to sweep, removed %d", removed)
	}
}

func TestHitRefreshesStamp(t *testing.T) {
	store, clock := newTestStore(time.Second, 10)
	store.Put("a", 1)
	clock.Advance(900 * time.Millisecond)
	if _, ok := store.Get("a"); !ok {
		t.Fatal("expected hit")
	}
	clock.Advance(900 * time.Millisecond)
	if _, ok := store.Get("a"); !ok {
		t.Fatal("expected hit after refresh, entry expired")
	}
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	store, clock := newTestStore(time.Hour, 2)
	store.Put("a", 1)
	clock.Advance(time.Millisecond)
	store.Put("b", 2)
	clock.Advance(time.Millisecond)
	store.Put("c", 3)
	if store.Len() != 2 {
		t.Fatalf("expected len 2, got %d", store.Len())
	}
	if _, ok := store.Get("a"); ok {
		t.Fatal("expected oldest entry evicted")
	}
	if _, ok := store.Get("b"); !ok {
		t.Fatal("expected b retained")
	}
	if _, ok := store.Get("c"); !ok {
		t.Fatal("expected c retained")
	}
}

func TestHitSurvivesEviction(t *testing.T) {
	store, clock := newTestStore(time.Hour, 2)
	store.Put("a", 1)
	clock.Advance(time.Millisecond)
	store.Put("b", 2)
	clock.Advance(time.Millisecond)
	// Reading a re-stamps it, so b is now the oldest.
	if _, ok := store.Get("a"); !ok {
		t.Fatal("expected hit")
	}
	clock.Advance(time.Millisecond)
	store.Put("c", 3)
	if _, ok := store.Get("a"); !ok {
		t.Fatal("expected refreshed entry to survive eviction")
	}
	if _, ok := store.Get("b"); ok {
		t.Fatal("expected b evicted as oldest")
	}
}

func TestCleanupExpiredSweeps(t *testing.T) {
	store, clock := newTestStore(time.Second, 100)
	for i := 0; i < 10; i++ {
		store.Put(fmt.Sprintf("old%d", i), i)
	}
	clock.Advance(2 * time.Second)
	for i := 0; i < 3; i++ {
		store.Put(fmt.Sprintf("new%d", i), i)
	}
	if removed := store.CleanupExpired(); removed != 10 {
		t.Fatalf("expected 10 swept, got %d", removed)
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 left, got %d", store.Len())
	}
}

func TestCapacityBoundHolds(t *testing.T) {
	store, clock := newTestStore(time.Hour, 50)
	for i := 0; i < 500; i++ {
		store.Put(fmt.Sprintf("k%d", i), i)
		clock.Advance(time.Millisecond)
		if store.Len() > 50 {
			t.Fatalf("capacity exceeded at insert %d: %d", i, store.Len())
		}
	}
}
