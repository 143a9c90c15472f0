package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"campus-election-backend/models"
)

// StatusStore remembers the last status the sweep saw for each election,
// so a transition is announced once even across restarts and replicas.
type StatusStore interface {
	Load(ctx context.Context) (map[uint]models.ElectionStatus, error)
	Save(ctx context.Context, id uint, status models.ElectionStatus) error
	Forget(ctx context.Context, ids ...uint) error
}

// MemoryStatusStore keeps statuses in process.
type MemoryStatusStore struct {
	mu   sync.Mutex
	seen map[uint]models.ElectionStatus
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{seen: make(map[uint]models.ElectionStatus)}
}

func (m *MemoryStatusStore) Load(context.Context) (map[uint]models.ElectionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint]models.ElectionStatus, len(m.seen))
	for k, v := range m.seen {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStatusStore) Save(_ context.Context, id uint, status models.ElectionStatus) error {
	m.mu.Lock()
	m.seen[id] = status
	m.mu.Unlock()
	return nil
}

func (m *MemoryStatusStore) Forget(_ context.Context, ids ...uint) error {
	m.mu.Lock()
	for _, id := range ids {
		delete(m.seen, id)
	}
	m.mu.Unlock()
	return nil
}

const statusHashKey = "election:lifecycle_status"

// RedisStatusStore keeps statuses in a Redis hash shared by all replicas.
type RedisStatusStore struct {
	client *redis.Client
}

func NewRedisStatusStore(client *redis.Client) *RedisStatusStore {
	return &RedisStatusStore{client: client}
}

func (r *RedisStatusStore) Load(ctx context.Context) (map[uint]models.ElectionStatus, error) {
	raw, err := r.client.HGetAll(ctx, statusHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load lifecycle statuses: %w", err)
	}
	out := make(map[uint]models.ElectionStatus, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}
		out[uint(id)] = models.ElectionStatus(v)
	}
	return out, nil
}

func (r *RedisStatusStore) Save(ctx context.Context, id uint, status models.ElectionStatus) error {
	if err := r.client.HSet(ctx, statusHashKey, strconv.FormatUint(uint64(id), 10), string(status)).Err(); err != nil {
		return fmt.Errorf("save lifecycle status: %w", err)
	}
	return nil
}

func (r *RedisStatusStore) Forget(ctx context.Context, ids ...uint) error {
	if len(ids) == 0 {
		return nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.FormatUint(uint64(id), 10)
	}
	if err := r.client.HDel(ctx, statusHashKey, fields...).Err(); err != nil {
		return fmt.Errorf("forget lifecycle statuses: %w", err)
	}
	return nil
}
