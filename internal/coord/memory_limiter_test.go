package coord

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

const (
	testRate  = 5.0
	testBurst = 10.0
)

func TestMemoryLimiterAllow(t *testing.T) {
	t.Parallel()

	rl := NewMemoryLimiter(testRate, testBurst)

	// First burst should succeed up to the burst limit.
	for i := range int(testBurst) {
		if !rl.allow("key-a") {
			t.Fatalf("expected allow on burst iteration %d", i)
		}
	}
	// Next call should be rate-limited.
	ok, err := rl.Allow(context.Background(), "key-a")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected rate limit after burst exhaustion")
	}
}

func TestMemoryLimiterIsolatesKeys(t *testing.T) {
	t.Parallel()

	rl := NewMemoryLimiter(testRate, testBurst)

	for range int(testBurst) {
		rl.allow("key-a")
	}
	if rl.allow("key-a") {
		t.Fatal("expected key-a to be rate-limited")
	}

	// key-b should still have its full burst available.
	if !rl.allow("key-b") {
		t.Fatal("expected key-b to be allowed independently")
	}
}

func TestMemoryLimiterRefillsOverTime(t *testing.T) {
	t.Parallel()

	rl := NewMemoryLimiter(testRate, testBurst)

	for range int(testBurst) {
		rl.allow("key-c")
	}
	if rl.allow("key-c") {
		t.Fatal("expected rate limit")
	}

	// Simulate passage of time by directly manipulating the bucket.
	s := rl.shard("key-c")
	s.mu.Lock()
	b := s.buckets["key-c"]
	b.lastCheck = b.lastCheck.Add(-1 * time.Second)
	s.mu.Unlock()

	// After 1 second at 5/s rate, at least 1 token should be available.
	if !rl.allow("key-c") {
		t.Fatal("expected allow after time passage")
	}
}

func TestWindowLimiterBudget(t *testing.T) {
	t.Parallel()

	rl := NewWindowLimiter(3, time.Minute)
	for i := range 3 {
		if !rl.allow("user") {
			t.Fatalf("expected allow on call %d", i)
		}
	}
	if rl.allow("user") {
		t.Fatal("expected fourth call within the window to be refused")
	}
}

func TestMemoryLimiterCleanup(t *testing.T) {
	t.Parallel()

	rl := NewMemoryLimiter(testRate, testBurst)
	rl.allow("stale-key")
	rl.allow("fresh-key")

	// Age the bucket beyond cleanup threshold.
	s := rl.shard("stale-key")
	s.mu.Lock()
	s.buckets["stale-key"].lastCheck = time.Now().Add(-(DefaultIdleAge + time.Minute))
	s.mu.Unlock()

	rl.Cleanup()

	s.mu.Lock()
	_, exists := s.buckets["stale-key"]
	s.mu.Unlock()
	if exists {
		t.Fatal("expected stale bucket to be cleaned up")
	}
	fresh := rl.shard("fresh-key")
	fresh.mu.Lock()
	_, exists = fresh.buckets["fresh-key"]
	fresh.mu.Unlock()
	if !exists {
		t.Fatal("expected fresh bucket to survive cleanup")
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	t.Parallel()

	rl := NewMemoryLimiter(testRate, testBurst)
	const goroutines = 32
	const keysPerGoroutine = 10

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func() {
			defer wg.Done()
			for k := range keysPerGoroutine {
				rl.allow(fmt.Sprintf("key-%d-%d", g, k))
			}
		}()
	}
	wg.Wait()
}

func TestNoopLockerAlwaysGrants(t *testing.T) {
	t.Parallel()

	var l Locker = NoopLocker{}
	for range 2 {
		ok, err := l.TryLock(context.Background(), "janitor", time.Minute)
		if err != nil || !ok {
			t.Fatalf("expected lock to be granted, ok=%v err=%v", ok, err)
		}
	}
	if err := l.Unlock(context.Background(), "janitor"); err != nil {
		t.Fatal(err)
	}
}

func BenchmarkMemoryLimiterAllowDistinctKeys(b *testing.B) {
	rl := NewMemoryLimiter(testRate, testBurst)
	keys := make([]string, 1000)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.allow(keys[i%len(keys)])
	}
}
