package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript is the same prune/count/append step as the memory store,
// run atomically server-side over a sorted set scored by ms timestamp.
// returns {success, count, oldestMs}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local record = ARGV[4] == "1"

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local success = 0
if count < limit then
  success = 1
  if record then
    redis.call("ZADD", key, now, ARGV[5])
    count = count + 1
  end
end

local oldest = now
local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if first[2] then
  oldest = tonumber(first[2])
end
if record then
  redis.call("PEXPIRE", key, window)
end
return {success, count, oldest}
`)

// RedisStore shares windows between instances. Keys expire one window after
// their last accepted call, so unlike MemoryStore idle identifiers do not accumulate.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store using client, namespacing keys under prefix
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Take(ctx context.Context, key string, p Policy, now time.Time) (Result, error) {
	return s.run(ctx, key, p, now, true)
}

func (s *RedisStore) Peek(ctx context.Context, key string, p Policy, now time.Time) (Result, error) {
	return s.run(ctx, key, p, now, false)
}

func (s *RedisStore) run(ctx context.Context, key string, p Policy, now time.Time, record bool) (Result, error) {
	nowMs := now.UnixMilli()
	flag := "0"
	if record {
		flag = "1"
	}
	// members must be unique within the set, two calls can land on the same ms
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	vals, err := slidingWindowScript.Run(ctx, s.client, []string{s.prefix + key},
		nowMs, p.windowMillis(), p.Limit, flag, member).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit redis script: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("ratelimit redis script: unexpected reply length %d", len(vals))
	}

	success, count, oldest := vals[0] == 1, int(vals[1]), vals[2]
	resetMs := oldest + p.windowMillis()
	res := Result{Success: success, ResetAt: time.UnixMilli(resetMs)}
	if success {
		res.Remaining = p.Limit - count
	} else {
		res.RetryAfterSeconds = ceilSeconds(resetMs - nowMs)
	}
	return res, nil
}

// Ping checks connectivity, used as a readiness probe
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
