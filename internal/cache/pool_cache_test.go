package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"swaprouter/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(ttl time.Duration) (*PoolCache, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewPoolCache(ttl)
	c.now = clock.Now
	return c, clock
}

func TestPoolCacheExpiry(t *testing.T) {
	c, clock := newTestCache(10 * time.Second)
	c.Put(model.Pool{ID: "p1"})

	if _, ok := c.Get("p1"); !ok {
		t.Fatalf("expected fresh entry")
	}

	clock.Advance(10 * time.Second)
	if _, ok := c.Get("p1"); ok {
		t.Fatalf("expired entry served")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not dropped: %d", c.Len())
	}
}

func TestPoolCachePurge(t *testing.T) {
	c, clock := newTestCache(5 * time.Second)
	c.Put(model.Pool{ID: "old"})
	clock.Advance(3 * time.Second)
	c.Put(model.Pool{ID: "new"})
	clock.Advance(3 * time.Second)

	if removed := c.Purge(); removed != 1 {
		t.Fatalf("purge removed %d entries", removed)
	}
	if _, ok := c.Get("new"); !ok {
		t.Fatalf("fresh entry purged")
	}
}

func TestGetOrFetchRefetchesAfterExpiry(t *testing.T) {
	c, clock := newTestCache(time.Second)
	var calls int32
	fetch := func(ctx context.Context) (model.Pool, error) {
		atomic.AddInt32(&calls, 1)
		return model.Pool{ID: "p1"}, nil
	}

	for i := 0; i < 3; i++ {
		if _, err := c.GetOrFetch(context.Background(), "p1", fetch); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one fetch, got %d", calls)
	}

	clock.Advance(time.Second)
	if _, err := c.GetOrFetch(context.Background(), "p1", fetch); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected refetch after expiry, got %d", calls)
	}
}

func TestGetOrFetchSerializesPerKey(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	var calls int32
	fetch := func(ctx context.Context) (model.Pool, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		return model.Pool{ID: "shared"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetOrFetch(context.Background(), "shared", fetch); err != nil {
				t.Errorf("fetch: %v", err)
			}
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Fatalf("expected a single fetch, got %d", calls)
	}
}

func TestGetOrFetchDoesNotCacheErrors(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	boom := errors.New("boom")
	if _, err := c.GetOrFetch(context.Background(), "p1", func(context.Context) (model.Pool, error) {
		return model.Pool{}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("error cached")
	}
}
