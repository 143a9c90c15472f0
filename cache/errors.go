package cache

import "errors"

var (
	// ErrRedisNotAvailable is returned when no real Redis connection exists.
	ErrRedisNotAvailable = errors.New("redis not available")

	// ErrLockNotAcquired is returned when another holder owns the lock.
	ErrLockNotAcquired = errors.New("distributed lock not acquired")
)
