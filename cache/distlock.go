package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DistributedLockService hands out redsync mutexes.
type DistributedLockService struct {
	rs *redsync.Redsync
}

func NewLockService(client *redis.Client) *DistributedLockService {
	return &DistributedLockService{rs: redsync.New(goredis.NewPool(client))}
}

const defaultLockExpiry = 8 * time.Second

// AcquireLock takes lockName, trying up to tries times 50ms apart.
func (s *DistributedLockService) AcquireLock(ctx context.Context, lockName string, expiry time.Duration, tries int) (*redsync.Mutex, error) {
	if expiry <= 0 {
		expiry = defaultLockExpiry
	}
	mutex := s.rs.NewMutex("lock:"+lockName,
		redsync.WithExpiry(expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(50*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, lockName, err)
	}
	return mutex, nil
}

func (s *DistributedLockService) ReleaseLock(mutex *redsync.Mutex) (bool, error) {
	return mutex.Unlock()
}

// WithLock runs action while holding lockName, waiting up to five tries
// for it.
func (s *DistributedLockService) WithLock(ctx context.Context, lockName string, expiry time.Duration, action func() error) error {
	return s.run(ctx, lockName, expiry, 5, action)
}

// TryWithLock runs action only if lockName is free right now. It returns
// ErrLockNotAcquired otherwise.
func (s *DistributedLockService) TryWithLock(ctx context.Context, lockName string, expiry time.Duration, action func() error) error {
	return s.run(ctx, lockName, expiry, 1, action)
}

// run holds the lock for as long as action runs, extending it every
// expiry/2.
func (s *DistributedLockService) run(ctx context.Context, lockName string, expiry time.Duration, tries int, action func() error) error {
	if expiry <= 0 {
		expiry = defaultLockExpiry
	}
	mutex, err := s.AcquireLock(ctx, lockName, expiry, tries)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		ticker := time.NewTicker(expiry / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if ok, err := mutex.ExtendContext(ctx); !ok || err != nil {
					zap.L().Warn("lock extension failed", zap.String("lock", lockName), zap.Error(err))
					return
				}
			}
		}
	}()

	defer func() {
		close(stop)
		<-watched
		if _, err := mutex.Unlock(); err != nil {
			zap.L().Debug("lock release failed", zap.String("lock", lockName), zap.Error(err))
		}
	}()
	return action()
}
