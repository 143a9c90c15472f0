package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one limiter check. RetryAfter is zero when
// the request was allowed and negative when waiting will not help.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

func decisionFrom(res []int64) (Decision, error) {
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("unexpected limiter reply %v", res)
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  res[1],
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// RateLimiter admits or rejects one request.
type RateLimiter interface {
	Allow(ctx context.Context) (Decision, error)
}

// Bucket state is a hash of fractional tokens and the last refill in ms.
var tokenBucket = redis.NewScript(`
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
	tokens = burst
	ts = now
end
tokens = math.min(burst, tokens + math.max(0, now - ts) * rate / 1000)

local allowed = 0
local wait = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
elseif rate > 0 then
	wait = math.ceil((1 - tokens) * 1000 / rate)
else
	wait = -1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
local ttl = 60000
if rate > 0 then
	ttl = math.ceil(burst * 1000 / rate) + 1000
end
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(tokens), wait}
`)

// TokenBucketRateLimiter refills rate tokens per second up to burst.
type TokenBucketRateLimiter struct {
	client RedisClient
	key    string
	rate   int
	burst  int
}

func NewTokenBucketRateLimiter(client RedisClient, key string, rate, burst int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		client: client,
		key:    "rate_limit:" + key,
		rate:   rate,
		burst:  burst,
	}
}

func (l *TokenBucketRateLimiter) Allow(ctx context.Context) (Decision, error) {
	if l.client == nil {
		return Decision{}, ErrRedisNotAvailable
	}
	res, err := tokenBucket.Run(ctx, l.client, []string{l.key}, time.Now().UnixMilli(), l.rate, l.burst).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket %s: %w", l.key, err)
	}
	return decisionFrom(res)
}

// Members are request ids scored by arrival time in ms.
var slidingWindow = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count < limit then
	redis.call("ZADD", KEYS[1], now, ARGV[4])
	redis.call("PEXPIRE", KEYS[1], window)
	return {1, limit - count - 1, 0}
end

local wait = window
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
if oldest[2] then
	wait = tonumber(oldest[2]) + window - now
end
return {0, 0, wait}
`)

// SlidingWindowRateLimiter allows limit requests in any window of
// windowSize. Rejected requests do not count.
type SlidingWindowRateLimiter struct {
	client     RedisClient
	key        string
	windowSize time.Duration
	limit      int
}

func NewSlidingWindowRateLimiter(client RedisClient, key string, windowSize time.Duration, limit int) *SlidingWindowRateLimiter {
	return &SlidingWindowRateLimiter{
		client:     client,
		key:        "sliding_window:" + key,
		windowSize: windowSize,
		limit:      limit,
	}
}

func (l *SlidingWindowRateLimiter) Allow(ctx context.Context) (Decision, error) {
	if l.client == nil {
		return Decision{}, ErrRedisNotAvailable
	}
	args := []interface{}{time.Now().UnixMilli(), l.windowSize.Milliseconds(), l.limit, uuid.NewString()}
	res, err := slidingWindow.Run(ctx, l.client, []string{l.key}, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("sliding window %s: %w", l.key, err)
	}
	return decisionFrom(res)
}

// UserRateLimiter applies a bucket shared by everyone, then one per user.
type UserRateLimiter struct {
	client    RedisClient
	global    RateLimiter
	keyPrefix string
	rate      int
	burst     int
}

func NewUserRateLimiter(client RedisClient, keyPrefix string, globalRate, globalBurst, userRate, userBurst int) *UserRateLimiter {
	return &UserRateLimiter{
		client:    client,
		global:    NewTokenBucketRateLimiter(client, keyPrefix+":global", globalRate, globalBurst),
		keyPrefix: keyPrefix,
		rate:      userRate,
		burst:     userBurst,
	}
}

// AllowUser checks the global bucket, then userID's own. A request turned
// away globally does not spend a user token.
func (l *UserRateLimiter) AllowUser(ctx context.Context, userID string) (Decision, error) {
	d, err := l.global.Allow(ctx)
	if err != nil || !d.Allowed {
		return d, err
	}
	return NewTokenBucketRateLimiter(l.client, l.keyPrefix+":user:"+userID, l.rate, l.burst).Allow(ctx)
}
