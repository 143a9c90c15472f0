package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-election-backend/config"
	"campus-election-backend/models"
)

type memoryStore struct {
	mu            sync.Mutex
	notifications []models.Notification
	audits        []models.AuditLog
	failAudits    bool
}

func (s *memoryStore) Notify(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *memoryStore) Record(_ context.Context, entry models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAudits {
		return errors.New("audit store down")
	}
	s.audits = append(s.audits, entry)
	return nil
}

func (s *memoryStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications), len(s.audits)
}

func (s *memoryStore) setFailing(v bool) {
	s.mu.Lock()
	s.failAudits = v
	s.mu.Unlock()
}

func newRedisMQ(t *testing.T) *RedisMQ {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := NewRedisMQ(client, 1)
	r.retryDelay = 10 * time.Millisecond
	return r
}

func TestStoreSink(t *testing.T) {
	store := &memoryStore{}
	h := StoreSink(store, store)
	ctx := context.Background()

	e := NewEvent(EventNotification)
	e.Notification = &models.Notification{Title: "Election opened"}
	require.NoError(t, h(ctx, e))

	e = NewEvent(EventAudit)
	e.Audit = &models.AuditLog{Action: "vote.cast"}
	require.NoError(t, h(ctx, e))

	n, a := store.counts()
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, a)

	assert.ErrorIs(t, h(ctx, NewEvent(EventAudit)), errUnknownEvent)
	assert.ErrorIs(t, h(ctx, NewEvent("bogus")), errUnknownEvent)
}

func TestRedisMQDeliversEvents(t *testing.T) {
	r := newRedisMQ(t)
	store := &memoryStore{}
	bus, err := NewEventBusWith(r, StoreSink(store, store))
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	ctx := context.Background()
	require.NoError(t, bus.Notify(ctx, models.Notification{Title: "Results published"}))
	require.NoError(t, bus.Record(ctx, models.AuditLog{Action: "election.publish"}))

	assert.Eventually(t, func() bool {
		n, a := store.counts()
		return n == 1 && a == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		s := bus.Stats(ctx)
		return s["main_queue"] == 0 && s["processing_queue"] == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRedisMQDeadLetterAndRetry(t *testing.T) {
	r := newRedisMQ(t)
	store := &memoryStore{failAudits: true}
	bus, err := NewEventBusWith(r, StoreSink(store, store))
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	ctx := context.Background()
	require.NoError(t, bus.Record(ctx, models.AuditLog{Action: "vote.cast"}))

	assert.Eventually(t, func() bool {
		return bus.Stats(ctx)["dead_letter_queue"] == 1
	}, 5*time.Second, 20*time.Millisecond)

	store.setFailing(false)
	n, err := bus.RetryDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Eventually(t, func() bool {
		_, a := store.counts()
		return a == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(0), bus.Stats(ctx)["dead_letter_queue"])
}

func TestRedisMQSkipsDuplicates(t *testing.T) {
	r := newRedisMQ(t)
	store := &memoryStore{}
	require.NoError(t, r.Start(StoreSink(store, store)))
	t.Cleanup(r.Stop)

	ctx := context.Background()
	e := NewEvent(EventNotification)
	e.Notification = &models.Notification{Title: "Candidate approved"}
	require.NoError(t, r.Publish(ctx, e))
	require.NoError(t, r.Publish(ctx, e))

	assert.Eventually(t, func() bool {
		s := r.Stats(ctx)
		return s["main_queue"] == 0 && s["processing_queue"] == 0
	}, 5*time.Second, 20*time.Millisecond)
	n, _ := store.counts()
	assert.Equal(t, 1, n)
}

func TestMemoryMQ(t *testing.T) {
	m := NewMemoryMQ(8, 1, 1)
	store := &memoryStore{failAudits: true}
	bus, err := NewEventBusWith(m, StoreSink(store, store))
	require.NoError(t, err)
	t.Cleanup(bus.Close)

	ctx := context.Background()
	require.NoError(t, bus.Notify(ctx, models.Notification{Title: "Ballot cast"}))
	require.NoError(t, bus.Record(ctx, models.AuditLog{Action: "vote.cast"}))

	assert.Eventually(t, func() bool {
		return bus.Stats(ctx)["dead_letter_queue"] == 1
	}, 5*time.Second, 10*time.Millisecond)
	n, _ := store.counts()
	assert.Equal(t, 1, n)

	store.setFailing(false)
	requeued, err := bus.RetryDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Eventually(t, func() bool {
		_, a := store.counts()
		return a == 1
	}, 5*time.Second, 10*time.Millisecond)
}

type brokenTransport struct{}

func (brokenTransport) Name() string                                  { return "broken" }
func (brokenTransport) Publish(context.Context, Event) error          { return errors.New("broker down") }
func (brokenTransport) Start(Handler) error                           { return nil }
func (brokenTransport) Stop()                                         {}
func (brokenTransport) Stats(context.Context) map[string]int64        { return nil }
func (brokenTransport) RetryDeadLetters(context.Context) (int, error) { return 0, ErrUnsupported }

func TestEventBusFallsBackToDirectDelivery(t *testing.T) {
	store := &memoryStore{}
	bus, err := NewEventBusWith(brokenTransport{}, StoreSink(store, store))
	require.NoError(t, err)

	require.NoError(t, bus.Record(context.Background(), models.AuditLog{Action: "election.close"}))
	_, a := store.counts()
	assert.Equal(t, 1, a)

	_, err = bus.RetryDeadLetters(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNewEventBusSelectsTransport(t *testing.T) {
	store := &memoryStore{}
	h := StoreSink(store, store)

	bus, err := NewEventBus(config.MQConfig{Driver: "redis"}, config.RocketMQConfig{}, nil, h)
	require.NoError(t, err)
	assert.Equal(t, "memory", bus.TransportName())
	bus.Close()

	bus, err = NewEventBus(config.MQConfig{Driver: "rocketmq"}, config.RocketMQConfig{Mock: true}, nil, h)
	require.NoError(t, err)
	assert.Equal(t, "memory", bus.TransportName())
	bus.Close()

	_, err = NewEventBus(config.MQConfig{Driver: "kafka"}, config.RocketMQConfig{}, nil, h)
	assert.Error(t, err)
}
