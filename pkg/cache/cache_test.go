package cache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"
)

// newFallbackOnly returns a cache with no remote client, exercising the
// in-process store directly.
func newFallbackOnly() *ResilientCache {
	return &ResilientCache{fallback: make(map[string]entry)}
}

func TestFallbackSetGet(t *testing.T) {
	c := newFallbackOnly()
	ctx := context.Background()

	if ok := c.Set(ctx, "k", "v", time.Minute); ok {
		t.Error("expected Set to report fallback (false) with no remote store")
	}

	val, found, fellBack := c.Get(ctx, "k")
	if !found {
		t.Fatal("expected key to be found")
	}
	if val != "v" {
		t.Errorf("expected value v, got %q", val)
	}
	if !fellBack {
		t.Error("expected fallback read")
	}
}

func TestFallbackGetMissing(t *testing.T) {
	c := newFallbackOnly()
	_, found, _ := c.Get(context.Background(), "absent")
	if found {
		t.Error("expected absent key to report found=false")
	}
}

func TestFallbackTTLExpiry(t *testing.T) {
	c := newFallbackOnly()
	ctx := context.Background()

	c.Set(ctx, "k", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, found, _ := c.Get(ctx, "k"); found {
		t.Error("expected expired key to be absent")
	}
	// Lazy purge removed the entry on access.
	c.mu.Lock()
	_, still := c.fallback["k"]
	c.mu.Unlock()
	if still {
		t.Error("expected expired entry to be purged on access")
	}
}

func TestFallbackZeroTTLNeverExpires(t *testing.T) {
	c := newFallbackOnly()
	ctx := context.Background()

	c.Set(ctx, "k", "v", 0)
	time.Sleep(5 * time.Millisecond)
	if _, found, _ := c.Get(ctx, "k"); !found {
		t.Error("expected zero-TTL key to persist")
	}
}

func TestFallbackIncrByFloat(t *testing.T) {
	c := newFallbackOnly()
	ctx := context.Background()

	v, fellBack := c.IncrByFloat(ctx, "spend", 0.25, time.Hour)
	if !fellBack {
		t.Error("expected fallback increment")
	}
	if v != 0.25 {
		t.Errorf("expected 0.25, got %f", v)
	}

	v, _ = c.IncrByFloat(ctx, "spend", 0.75, time.Hour)
	if v != 1.0 {
		t.Errorf("expected accumulated 1.0, got %f", v)
	}
}

func TestFallbackIncrByFloatConcurrent(t *testing.T) {
	c := newFallbackOnly()
	ctx := context.Background()

	const workers = 50
	const perWorker = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.IncrByFloat(ctx, "spend", 0.01, time.Hour)
			}
		}()
	}
	wg.Wait()

	val, found, _ := c.Get(ctx, "spend")
	if !found {
		t.Fatal("expected counter to exist")
	}
	got, err := strconv.ParseFloat(val, 64)
	if err != nil {
		t.Fatalf("unparseable counter value %q: %v", val, err)
	}
	want := float64(workers*perWorker) * 0.01
	if got < want-0.001 || got > want+0.001 {
		t.Errorf("expected counter %.2f, got %.2f (lost increments)", want, got)
	}
}

func TestFallbackDel(t *testing.T) {
	c := newFallbackOnly()
	ctx := context.Background()

	c.Set(ctx, "a", "1", 0)
	c.Set(ctx, "b", "2", 0)

	n, fellBack := c.Del(ctx, "a", "b", "missing")
	if !fellBack {
		t.Error("expected fallback delete")
	}
	if n != 2 {
		t.Errorf("expected 2 removals, got %d", n)
	}
}

func TestFallbackCapacityPurge(t *testing.T) {
	c := newFallbackOnly()
	ctx := context.Background()

	// Fill to capacity with already-expired entries, then write one more.
	c.mu.Lock()
	past := time.Now().Add(-time.Minute)
	for i := 0; i < fallbackCapacity; i++ {
		c.fallback["old-"+strconv.Itoa(i)] = entry{value: "x", expiresAt: past}
	}
	c.mu.Unlock()

	c.Set(ctx, "fresh", "v", time.Minute)

	c.mu.Lock()
	size := len(c.fallback)
	_, haveFresh := c.fallback["fresh"]
	c.mu.Unlock()

	if !haveFresh {
		t.Error("expected new write to be accepted after purge")
	}
	if size > fallbackCapacity {
		t.Errorf("fallback exceeded capacity: %d entries", size)
	}
}

func TestFallbackEvictionPrefersSoonestExpiry(t *testing.T) {
	c := newFallbackOnly()
	ctx := context.Background()

	// Fill to capacity with unexpired entries: all but one have no
	// expiry, the remaining one expires in an hour. The expiring entry
	// must be the eviction victim regardless of map iteration order.
	c.mu.Lock()
	for i := 0; i < fallbackCapacity-1; i++ {
		c.fallback["keep-"+strconv.Itoa(i)] = entry{value: "x"}
	}
	c.fallback["doomed"] = entry{value: "x", expiresAt: time.Now().Add(time.Hour)}
	c.mu.Unlock()

	c.Set(ctx, "fresh", "v", time.Minute)

	c.mu.Lock()
	_, haveDoomed := c.fallback["doomed"]
	_, haveFresh := c.fallback["fresh"]
	size := len(c.fallback)
	c.mu.Unlock()

	if haveDoomed {
		t.Error("expected the expiring entry to be evicted")
	}
	if !haveFresh {
		t.Error("expected new write to be accepted after eviction")
	}
	if size > fallbackCapacity {
		t.Errorf("fallback exceeded capacity: %d entries", size)
	}
}

func TestFallbackRateLimit(t *testing.T) {
	c := newFallbackOnly()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, fellBack := c.RateLimitCheck(ctx, "client-a", 3, time.Minute)
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if !fellBack {
			t.Error("expected fallback rate limiting")
		}
	}
	if allowed, _ := c.RateLimitCheck(ctx, "client-a", 3, time.Minute); allowed {
		t.Error("fourth request should be rate limited")
	}

	// A different key has its own window.
	if allowed, _ := c.RateLimitCheck(ctx, "client-b", 3, time.Minute); !allowed {
		t.Error("other clients must not share the window")
	}
}

func TestFallbackRateLimitWindowReset(t *testing.T) {
	c := newFallbackOnly()
	ctx := context.Background()

	c.RateLimitCheck(ctx, "k", 1, 10*time.Millisecond)
	if allowed, _ := c.RateLimitCheck(ctx, "k", 1, 10*time.Millisecond); allowed {
		t.Error("second request in window should be limited")
	}
	time.Sleep(20 * time.Millisecond)
	if allowed, _ := c.RateLimitCheck(ctx, "k", 1, 10*time.Millisecond); !allowed {
		t.Error("expired window should reset the counter")
	}
}

func TestHealthFallbackOnly(t *testing.T) {
	c := newFallbackOnly()
	h := c.Health(context.Background())
	if h.Connected {
		t.Error("expected disconnected health in fallback-only mode")
	}
	if h.Error != "" {
		t.Errorf("fallback-only mode is not an error condition, got %q", h.Error)
	}
}
