package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript runs purge, count, record and oldest lookup for one
// key atomically. Scores are microseconds; all score arithmetic happens on
// the Go side so Lua number formatting never touches them.
//
// KEYS[1] key
// ARGV[1] now, ARGV[2] exclusive purge bound "(cutoff", ARGV[3] limit,
// ARGV[4] member, ARGV[5] ttl ms
//
// Returns {allowed, remaining, oldest_score}; oldest_score is "" when allowed.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, 0, oldest[2] or ''}
end

redis.call('ZADD', key, ARGV[1], ARGV[4])
redis.call('PEXPIRE', key, ARGV[5])
return {1, limit - count - 1, ''}
`)

// RedisStore is the shared sliding-window backend.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key, e.g. per deployment.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore wraps an existing client. The caller owns the client.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	nowUs := now.UnixMicro()
	windowUs := window.Microseconds()
	member := strconv.FormatInt(nowUs, 10) + "-" + uuid.NewString()
	ttlMs := window.Milliseconds()
	if ttlMs < 1 {
		ttlMs = 1
	}

	reply, err := slidingWindowScript.Run(ctx, s.rdb, []string{s.prefix + key},
		strconv.FormatInt(nowUs, 10),
		"("+strconv.FormatInt(nowUs-windowUs, 10),
		limit, member, ttlMs).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis sliding window %s: %w", key, err)
	}
	if len(reply) != 3 {
		return Result{}, fmt.Errorf("redis sliding window %s: unexpected reply %v", key, reply)
	}

	allowed, _ := reply[0].(int64)
	remaining, _ := reply[1].(int64)
	res := Result{Allowed: allowed == 1, Remaining: int(remaining), Backend: BackendRedis}
	if res.Allowed {
		return res, nil
	}

	res.RetryAfter = window
	if oldest, _ := reply[2].(string); oldest != "" {
		score, err := strconv.ParseFloat(oldest, 64)
		if err != nil {
			return Result{}, fmt.Errorf("redis sliding window %s: oldest score %q: %w", key, oldest, err)
		}
		retryUs := int64(score) + windowUs - nowUs
		if retryUs < 0 {
			retryUs = 0
		}
		res.RetryAfter = time.Duration(retryUs) * time.Microsecond
	}
	return res, nil
}

// Ping checks connectivity (doctor, startup).
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
