package mq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MemoryMQ is an in-process queue for single-node and test deployments.
// Events that keep failing are kept as dead letters until retried.
type MemoryMQ struct {
	queue      chan Event
	workers    int
	maxRetries int
	logger     *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	dead    []Event
	retries map[string]int

	handled atomic.Int64
}

func NewMemoryMQ(size, workers, maxRetries int) *MemoryMQ {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 2
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &MemoryMQ{
		queue:      make(chan Event, size),
		workers:    workers,
		maxRetries: maxRetries,
		logger:     zap.L().Named("memory_mq"),
		stopChan:   make(chan struct{}),
		retries:    make(map[string]int),
	}
}

func (m *MemoryMQ) Name() string { return "memory" }

// Publish enqueues e, failing when the buffer is full.
func (m *MemoryMQ) Publish(ctx context.Context, e Event) error {
	select {
	case m.queue <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopChan:
		return errors.New("queue stopped")
	default:
		return errors.New("queue full")
	}
}

func (m *MemoryMQ) Start(h Handler) error {
	if h == nil {
		return errors.New("no handler registered")
	}
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.work(h)
	}
	return nil
}

func (m *MemoryMQ) work(h Handler) {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopChan:
			return
		case e := <-m.queue:
			m.handle(h, e)
		}
	}
}

func (m *MemoryMQ) handle(h Handler, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h(ctx, e); err != nil {
		m.mu.Lock()
		m.retries[e.MessageID]++
		attempts := m.retries[e.MessageID]
		if attempts > m.maxRetries {
			delete(m.retries, e.MessageID)
			m.dead = append(m.dead, e)
			m.mu.Unlock()
			m.logger.Warn("event moved to dead letters", zap.String("message_id", e.MessageID), zap.Error(err))
			return
		}
		m.mu.Unlock()
		if pubErr := m.Publish(context.Background(), e); pubErr != nil {
			m.mu.Lock()
			m.dead = append(m.dead, e)
			m.mu.Unlock()
		}
		return
	}

	m.mu.Lock()
	delete(m.retries, e.MessageID)
	m.mu.Unlock()
	m.handled.Add(1)
}

func (m *MemoryMQ) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
	})
}

func (m *MemoryMQ) Stats(context.Context) map[string]int64 {
	m.mu.Lock()
	dead := len(m.dead)
	m.mu.Unlock()
	return map[string]int64{
		"main_queue":        int64(len(m.queue)),
		"dead_letter_queue": int64(dead),
		"handled":           m.handled.Load(),
	}
}

func (m *MemoryMQ) RetryDeadLetters(ctx context.Context) (int, error) {
	m.mu.Lock()
	dead := m.dead
	m.dead = nil
	m.mu.Unlock()

	count := 0
	for i, e := range dead {
		if err := m.Publish(ctx, e); err != nil {
			m.mu.Lock()
			m.dead = append(m.dead, dead[i:]...)
			m.mu.Unlock()
			return count, err
		}
		count++
	}
	return count, nil
}
