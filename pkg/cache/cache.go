// Package cache provides the resilient counter/key-value layer shared by
// the Postgate governance pipeline. Every operation tries the remote Redis
// store first and transparently degrades to a bounded in-process store on
// any remote failure, so callers never see a cache outage as an error,
// only as a fallback flag on the result.
package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fallbackCapacity bounds the in-process store. Once reached, expired
// entries are purged before a new write is accepted; if the store is
// still full the oldest-expiring entry is evicted.
const fallbackCapacity = 10_000

// Health describes the remote store's reachability.
type Health struct {
	Connected bool   `json:"connected"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// entry is one record in the fallback store.
type entry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// ResilientCache wraps a Redis client with an in-process fallback store.
// A nil client (no connection string configured) runs in fallback-only
// mode. The fallback map is confined behind the cache's own methods and
// guarded by a mutex, so in-process increments are atomic; fallback-mode
// counters are still per-process, not fleet-wide.
type ResilientCache struct {
	client *redis.Client

	mu       sync.Mutex
	fallback map[string]entry
}

// New creates a ResilientCache connected to the given Redis address.
// An empty addr activates fallback-only mode without error.
func New(ctx context.Context, addr, password string) *ResilientCache {
	c := &ResilientCache{fallback: make(map[string]entry)}
	if addr == "" {
		log.Println("cache: no remote address configured, running fallback-only")
		return c
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// Keep the client: the remote store may come back, and every
		// operation retries it before falling back.
		log.Printf("cache: remote store unreachable at startup (%v), degrading to fallback", err)
	} else {
		log.Printf("cache: connected to Redis at %s", addr)
	}
	c.client = client
	return c
}

// Close shuts down the remote client, if any.
func (c *ResilientCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Get retrieves a value by key. found is false when the key is absent or
// expired. fellBack reports that the fallback store served the read.
func (c *ResilientCache) Get(ctx context.Context, key string) (value string, found bool, fellBack bool) {
	if c.client != nil {
		val, err := c.client.Get(ctx, key).Result()
		if err == nil {
			return val, true, false
		}
		if err == redis.Nil {
			return "", false, false
		}
		log.Printf("cache: get %q failed remotely (%v), using fallback", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.fallback[key]
	if !ok {
		return "", false, true
	}
	if e.expired(time.Now()) {
		delete(c.fallback, key)
		return "", false, true
	}
	return e.value, true, true
}

// Set stores a key-value pair with the given TTL. A zero TTL means no
// expiry. The boolean reports whether the remote store accepted the write;
// the fallback store is best-effort populated either way on remote failure.
func (c *ResilientCache) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if c.client != nil {
		if err := c.client.Set(ctx, key, value, ttl).Err(); err == nil {
			return true
		} else {
			log.Printf("cache: set %q failed remotely (%v), using fallback", key, err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(key, value, ttl)
	return false
}

// incrWithExpireLua atomically increments a key and sets TTL if the key
// has no expiry, in a single round-trip.
var incrWithExpireLua = redis.NewScript(`
	local newval = redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
	if redis.call('TTL', KEYS[1]) == -1 then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return newval
`)

// IncrByFloat increments the float counter at key by delta and returns the
// new value. The remote path is atomic across processes (INCRBYFLOAT); the
// fallback path is atomic only within this process. ttl applies when the
// key has no expiry yet.
func (c *ResilientCache) IncrByFloat(ctx context.Context, key string, delta float64, ttl time.Duration) (newValue float64, fellBack bool) {
	if c.client != nil {
		ttlSeconds := int(ttl / time.Second)
		result, err := incrWithExpireLua.Run(ctx, c.client, []string{key},
			strconv.FormatFloat(delta, 'f', 10, 64), ttlSeconds).Result()
		if err == nil {
			if v, perr := parseIncrResult(result); perr == nil {
				return v, false
			} else {
				log.Printf("cache: incr %q returned unparseable result (%v), using fallback", key, perr)
			}
		} else {
			log.Printf("cache: incr %q failed remotely (%v), using fallback", key, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var current float64
	if e, ok := c.fallback[key]; ok && !e.expired(time.Now()) {
		current, _ = strconv.ParseFloat(e.value, 64)
	}
	current += delta
	c.storeLocked(key, strconv.FormatFloat(current, 'f', 10, 64), ttl)
	return current, true
}

// Del removes the given keys and returns how many were present.
func (c *ResilientCache) Del(ctx context.Context, keys ...string) (removed int64, fellBack bool) {
	if c.client != nil {
		n, err := c.client.Del(ctx, keys...).Result()
		if err == nil {
			return n, false
		}
		log.Printf("cache: del failed remotely (%v), using fallback", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := c.fallback[k]; ok {
			delete(c.fallback, k)
			n++
		}
	}
	return n, true
}

// rateLimitLua atomically increments the window counter and sets TTL only
// on the first request, so later requests never extend the window.
var rateLimitLua = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// RateLimitCheck performs a fixed-window rate limit check for a key,
// returning true while the request count stays within maxRequests. The
// fallback window is per-process, which under-counts across a fleet but
// never blocks incorrectly for a single process.
func (c *ResilientCache) RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (allowed bool, fellBack bool) {
	rateLimitKey := "ratelimit:" + key
	if c.client != nil {
		count, err := rateLimitLua.Run(ctx, c.client, []string{rateLimitKey}, int(window/time.Second)).Int64()
		if err == nil {
			return count <= maxRequests, false
		}
		log.Printf("cache: rate limit check failed remotely (%v), using fallback", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var count int64
	if e, ok := c.fallback[rateLimitKey]; ok && !e.expired(now) {
		count, _ = strconv.ParseInt(e.value, 10, 64)
		count++
		// First request set the window; do not extend it.
		c.fallback[rateLimitKey] = entry{value: strconv.FormatInt(count, 10), expiresAt: e.expiresAt}
	} else {
		count = 1
		c.storeLocked(rateLimitKey, "1", window)
	}
	return count <= maxRequests, true
}

// Health pings the remote store and reports connectivity and latency.
// Fallback-only mode reports Connected=false without an error string.
func (c *ResilientCache) Health(ctx context.Context) Health {
	if c.client == nil {
		return Health{Connected: false}
	}
	start := time.Now()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return Health{Connected: false, LatencyMs: time.Since(start).Milliseconds(), Error: err.Error()}
	}
	return Health{Connected: true, LatencyMs: time.Since(start).Milliseconds()}
}

// storeLocked writes into the fallback map, purging expired entries when
// the capacity ceiling is hit. Caller must hold c.mu.
func (c *ResilientCache) storeLocked(key, value string, ttl time.Duration) {
	now := time.Now()
	if _, exists := c.fallback[key]; !exists && len(c.fallback) >= fallbackCapacity {
		for k, e := range c.fallback {
			if e.expired(now) {
				delete(c.fallback, k)
			}
		}
		// Still full after the purge: evict the entry closest to expiry
		// so the map never grows unbounded.
		if len(c.fallback) >= fallbackCapacity {
			var victim string
			var soonest time.Time
			for k, e := range c.fallback {
				if victim == "" || (!e.expiresAt.IsZero() && (soonest.IsZero() || e.expiresAt.Before(soonest))) {
					victim, soonest = k, e.expiresAt
				}
			}
			delete(c.fallback, victim)
		}
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	c.fallback[key] = entry{value: value, expiresAt: expiresAt}
}

func parseIncrResult(result interface{}) (float64, error) {
	switch v := result.(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected result type %T from Lua script", result)
	}
}
