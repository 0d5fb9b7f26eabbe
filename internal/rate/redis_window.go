package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Scores are request instants in unix milliseconds. ARGV[4] is the exclusive
// eviction bound, so entries strictly older than now-window go, matching
// Window.
const slidingAllowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[4])
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < limit then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[5])
  count = count + 1
  allowed = 1
end
if count > 0 then
  redis.call("PEXPIRE", KEYS[1], window)
end
local reset = now + window
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`

const slidingStatsScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[3])
local count = redis.call("ZCARD", KEYS[1])
local reset = now + window
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {count, reset}
`

var (
	slidingAllowLua = redis.NewScript(slidingAllowScript)
	slidingStatsLua = redis.NewScript(slidingStatsScript)
)

// RedisWindow is the sliding window shared by every replica through Redis.
// Each key is a sorted set of request instants; Lua keeps the
// evict-count-append sequence atomic.
type RedisWindow struct {
	redis  redis.UniversalClient
	prefix string
	size   time.Duration
	now    func() time.Time
}

func NewRedisWindow(redisClient redis.UniversalClient, prefix string, size time.Duration, now func() time.Time) *RedisWindow {
	if prefix == "" {
		prefix = "arl"
	}
	if size <= 0 {
		size = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &RedisWindow{redis: redisClient, prefix: prefix, size: size, now: now}
}

func (w *RedisWindow) key(k string) string {
	return w.prefix + ":" + k
}

func (w *RedisWindow) evictBound(nowMillis int64) string {
	return "(" + strconv.FormatInt(nowMillis-w.size.Milliseconds(), 10)
}

func (w *RedisWindow) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	if limit <= 0 {
		return unlimitedDecision(), nil
	}
	now := w.now().UnixMilli()
	res, err := slidingAllowLua.Run(ctx, w.redis, []string{w.key(key)},
		now, w.size.Milliseconds(), limit, w.evictBound(now), uuid.NewString()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}
	count := int(res[1])
	d := Decision{
		Allowed: res[0] == 1,
		Limit:   limit,
		Count:   count,
		ResetAt: time.UnixMilli(res[2]),
	}
	if d.Allowed {
		d.Remaining = max(0, limit-count)
	}
	return d, nil
}

func (w *RedisWindow) Stats(ctx context.Context, key string, limit int) (Decision, error) {
	now := w.now().UnixMilli()
	res, err := slidingStatsLua.Run(ctx, w.redis, []string{w.key(key)},
		now, w.size.Milliseconds(), w.evictBound(now)).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}
	count := int(res[0])
	if limit <= 0 {
		d := unlimitedDecision()
		d.Count = count
		return d, nil
	}
	return Decision{
		Allowed:   count < limit,
		Limit:     limit,
		Count:     count,
		Remaining: max(0, limit-count),
		ResetAt:   time.UnixMilli(res[1]),
	}, nil
}

func (w *RedisWindow) Reset(ctx context.Context, key string) error {
	if err := w.redis.Del(ctx, w.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Sweep is a no-op: Redis expires idle windows through PEXPIRE.
func (w *RedisWindow) Sweep(context.Context) (int, error) {
	return 0, nil
}
