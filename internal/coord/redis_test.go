package coord

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestNewRedisClientAcceptsURL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatal(err)
	}
	_ = client.Close()
}

func TestNewRedisClientFailsWhenUnreachable(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisClient(context.Background(), "127.0.0.1:1"); err == nil {
		t.Fatal("expected ping failure")
	}
}

func TestRedisLimiterBlocksAfterBudget(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	rl := NewRedisLimiter(client, "tickets", 3, time.Minute)
	ctx := context.Background()

	for i := range 3 {
		ok, err := rl.Allow(ctx, "usr_1")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("expected call %d to be allowed", i)
		}
	}
	ok, err := rl.Allow(ctx, "usr_1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected fourth call to be refused")
	}

	// Other keys have their own window.
	if ok, _ := rl.Allow(ctx, "usr_2"); !ok {
		t.Fatal("expected a different key to be allowed")
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _ := rl.Allow(ctx, "usr_1"); !ok {
		t.Fatal("expected the window to reset")
	}
}

func TestRedisLimiterSetsExpiryOnce(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	rl := NewRedisLimiter(client, "tickets", 10, time.Minute)
	ctx := context.Background()

	if _, err := rl.Allow(ctx, "usr_1"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(30 * time.Second)
	if _, err := rl.Allow(ctx, "usr_1"); err != nil {
		t.Fatal(err)
	}
	ttl := mr.TTL("tunnelplane:ratelimit:tickets:usr_1")
	if ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("expected the original window expiry to be kept, got %v", ttl)
	}
}

func TestRedisLockerExclusive(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	a := NewRedisLocker(client, "replica-a")
	b := NewRedisLocker(client, "replica-b")
	ctx := context.Background()

	ok, err := a.TryLock(ctx, "janitor", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, ok=%v err=%v", ok, err)
	}
	if ok, _ := b.TryLock(ctx, "janitor", time.Minute); ok {
		t.Fatal("expected second replica to be refused")
	}

	// A non-owner unlock must not release the lock.
	if err := b.Unlock(ctx, "janitor"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("tunnelplane:lock:janitor") {
		t.Fatal("expected lock to survive foreign unlock")
	}

	if err := a.Unlock(ctx, "janitor"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.TryLock(ctx, "janitor", time.Minute); !ok {
		t.Fatal("expected lock to be free after owner unlock")
	}
}

func TestRedisLockerExpires(t *testing.T) {
	t.Parallel()

	mr, client := newTestRedis(t)
	a := NewRedisLocker(client, "replica-a")
	b := NewRedisLocker(client, "replica-b")
	ctx := context.Background()

	if ok, _ := a.TryLock(ctx, "janitor", 10*time.Second); !ok {
		t.Fatal("expected lock")
	}
	mr.FastForward(11 * time.Second)
	if ok, _ := b.TryLock(ctx, "janitor", 10*time.Second); !ok {
		t.Fatal("expected expired lock to be acquirable")
	}
}
