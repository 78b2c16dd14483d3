package coord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tunnelplane:"

// NewRedisClient connects to addr, which is either host:port or a
// redis:// URL, and verifies the connection with PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	var opts *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// fixedWindowScript increments the window counter and starts its expiry on
// the first hit, so the window never slides under sustained traffic.
var fixedWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`)

// RedisLimiter is a fixed-window counter shared by every replica using the
// same Redis.
type RedisLimiter struct {
	client redis.Scripter
	name   string
	limit  int64
	window time.Duration
}

// NewRedisLimiter admits limit events per window for each key. name
// namespaces the counters of one limiter.
func NewRedisLimiter(client redis.Scripter, name string, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{client: client, name: name, limit: int64(limit), window: window}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := keyPrefix + "ratelimit:" + r.name + ":" + key
	n, err := fixedWindowScript.Run(ctx, r.client, []string{redisKey}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return n <= r.limit, nil
}

// releaseScript deletes the lock only while it is still held by owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker grants locks with SET NX and an expiry, so a crashed holder
// releases the lock once ttl passes.
type RedisLocker struct {
	client redis.Cmdable
	owner  string
}

// NewRedisLocker returns a locker whose locks are tagged with owner, which
// should be unique per process.
func NewRedisLocker(client redis.Cmdable, owner string) *RedisLocker {
	return &RedisLocker{client: client, owner: owner}
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(name), l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, name string) error {
	err := releaseScript.Run(ctx, l.client, []string{lockKey(name)}, l.owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func lockKey(name string) string {
	return keyPrefix + "lock:" + name
}
