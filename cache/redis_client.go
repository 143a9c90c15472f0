package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisClient is what the filters and limiters need from Redis. Scripts
// run through EVALSHA with an EVAL fallback.
type RedisClient interface {
	redis.Scripter
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Pipeline() redis.Pipeliner
}

var _ RedisClient = (*redis.Client)(nil)
