package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Window is a rolling limit of Limit events per Period.
type Window struct {
	Limit  int
	Period time.Duration
}

// Enabled reports whether w limits anything.
func (w Window) Enabled() bool {
	return w.Limit > 0 && w.Period > 0
}

// Decision is the outcome of an Allow call.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter evaluates rolling windows stored under prefix.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New creates a Limiter. A nil now uses time.Now.
func New(redisClient redis.UniversalClient, prefix string, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{redis: redisClient, prefix: prefix, now: now}
}

var allowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count >= limit then
	local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
	local retry = window
	if oldest[2] then
		retry = tonumber(oldest[2]) + window - now
	end
	return {0, count, retry}
end
redis.call("ZADD", KEYS[1], now, ARGV[4])
redis.call("PEXPIRE", KEYS[1], window)
return {1, count + 1, 0}
`)

// Allow admits one event for key if the window has room and records it.
// A disabled window always allows.
func (l *Limiter) Allow(ctx context.Context, key string, w Window) (Decision, error) {
	d, _, err := l.Reserve(ctx, key, w)
	return d, err
}

// Reserve is Allow that also returns the member recorded for the event.
// Passing it to Release gives the slot back, so callers can charge an
// attempt up front and refund it once the attempt turns out not to count.
// The member is empty when nothing was recorded.
func (l *Limiter) Reserve(ctx context.Context, key string, w Window) (Decision, string, error) {
	if !w.Enabled() {
		return Decision{Allowed: true}, "", nil
	}

	member := uuid.NewString()
	now := l.now().UnixMilli()
	res, err := allowScript.Run(ctx, l.redis, []string{l.key(key)},
		now, w.Period.Milliseconds(), w.Limit, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, "", fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}

	d := Decision{
		Allowed:    res[0] == 1,
		Count:      int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}
	if !d.Allowed {
		member = ""
	}
	return d, member, nil
}

// Release removes one reserved event from key. An empty member is a no-op.
func (l *Limiter) Release(ctx context.Context, key, member string) error {
	if member == "" {
		return nil
	}
	if err := l.redis.ZRem(ctx, l.key(key), member).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Reset clears the window for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(k string) string {
	return l.prefix + ":" + k
}
