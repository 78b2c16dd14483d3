package coord

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultIdleAge is how long a bucket may sit unused before Cleanup
	// evicts it.
	DefaultIdleAge = 5 * time.Minute

	// limiterShards controls how many independent shards the limiter uses.
	// Each shard has its own mutex, which reduces lock contention under
	// concurrent calls for distinct keys.
	limiterShards = 16
)

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// MemoryLimiter implements a sharded per-key token bucket. Keys are mapped
// to one of [limiterShards] shards via FNV hashing so that concurrent Allow
// calls on different keys rarely contend on the same mutex.
type MemoryLimiter struct {
	rate    float64
	burst   float64
	idleAge time.Duration
	shards  [limiterShards]limiterShard
}

type limiterShard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemoryLimiter allows burst events at once and refills at rate events
// per second.
func NewMemoryLimiter(rate, burst float64) *MemoryLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &MemoryLimiter{rate: rate, burst: burst, idleAge: DefaultIdleAge}
	for i := range rl.shards {
		rl.shards[i].buckets = make(map[string]*bucket)
	}
	return rl
}

// NewWindowLimiter returns a limiter that admits limit events per window
// on average with a burst of limit.
func NewWindowLimiter(limit int, window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return NewMemoryLimiter(float64(limit)/window.Seconds(), float64(limit))
}

func (rl *MemoryLimiter) shard(key string) *limiterShard {
	return &rl.shards[shardIndex(key)]
}

func shardIndex(key string) int {
	const (
		fnvOffset32 = uint32(2166136261)
		fnvPrime32  = uint32(16777619)
	)
	h := fnvOffset32
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= fnvPrime32
	}
	return int(h % uint32(limiterShards))
}

func (rl *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	return rl.allow(key), nil
}

func (rl *MemoryLimiter) allow(key string) bool {
	s := rl.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, lastCheck: now}
		s.buckets[key] = b
	}

	elapsed := now.Sub(b.lastCheck).Seconds()
	b.tokens += elapsed * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.lastCheck = now

	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// Cleanup evicts idle buckets across all shards. The janitor calls it
// periodically so that the hot Allow path never iterates the maps.
func (rl *MemoryLimiter) Cleanup() {
	now := time.Now()
	for i := range rl.shards {
		s := &rl.shards[i]
		s.mu.Lock()
		for k, v := range s.buckets {
			if now.Sub(v.lastCheck) > rl.idleAge {
				delete(s.buckets, k)
			}
		}
		s.mu.Unlock()
	}
}
