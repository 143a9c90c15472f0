package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"campus-election-backend/config"
)

var (
	redisClient *redis.Client
	initOnce    sync.Once
	initialized bool
	mockMode    bool
)

// InitRedis connects to Redis once. When Redis is disabled or unreachable
// the package switches to mock mode: GetClient fails and callers fall back
// to their in-process implementations.
func InitRedis(cfg config.RedisConfig) error {
	initOnce.Do(func() {
		if cfg.Mock {
			zap.L().Info("redis mock mode forced")
			mockMode = true
			initialized = true
			return
		}

		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		zap.L().Info("connecting to redis", zap.String("addr", addr))

		client := redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: 3 * time.Second,
			ReadTimeout: 3 * time.Second,
			PoolSize:    10,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			zap.L().Warn("redis unreachable, using mock mode", zap.Error(err))
			_ = client.Close()
			mockMode = true
			initialized = true
			return
		}

		redisClient = client
		mockMode = false
		initialized = true
		zap.L().Info("redis connected")
	})
	return nil
}

// GetClient returns the live client.
func GetClient() (*redis.Client, error) {
	if !initialized || mockMode || redisClient == nil {
		return nil, ErrRedisNotAvailable
	}
	return redisClient, nil
}

// MockMode reports whether Redis is being bypassed.
func MockMode() bool {
	return !initialized || mockMode
}

// CloseRedis closes the live client, if any.
func CloseRedis() {
	if redisClient == nil {
		return
	}
	if err := redisClient.Close(); err != nil {
		zap.L().Warn("closing redis failed", zap.Error(err))
		return
	}
	zap.L().Info("redis connection closed")
}
