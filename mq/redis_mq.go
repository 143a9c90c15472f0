package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	MainQueueName       = "election_events"
	ProcessingQueueName = "election_events_processing"
	DeadLetterQueueName = "election_events_dead_letter"
	RetriesHashName     = "election_events_retries"
	processedSetName    = "election_events_processed"
)

// RedisMQ is a reliable list queue: BRPOPLPUSH into a processing list,
// retries counted in a hash, and a dead letter list after maxRetries.
type RedisMQ struct {
	client            *redis.Client
	handler           Handler
	stopChan          chan struct{}
	wg                sync.WaitGroup
	mu                sync.Mutex
	isRunning         bool
	processingTimeout time.Duration
	retryDelay        time.Duration
	maxRetries        int
	logger            *zap.Logger
}

func NewRedisMQ(client *redis.Client, maxRetries int) *RedisMQ {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RedisMQ{
		client:            client,
		stopChan:          make(chan struct{}),
		processingTimeout: 5 * time.Minute,
		retryDelay:        30 * time.Second,
		maxRetries:        maxRetries,
		logger:            zap.L().Named("redis_mq"),
	}
}

func (r *RedisMQ) Name() string { return "redis" }

// Publish pushes e onto the main queue.
func (r *RedisMQ) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.LPush(ctx, MainQueueName, data).Err(); err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Start launches the consume and timeout loops.
func (r *RedisMQ) Start(h Handler) error {
	if h == nil {
		return errors.New("no handler registered")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return nil
	}
	r.handler = h
	r.isRunning = true

	r.wg.Add(2)
	go r.consumeLoop()
	go r.timeoutCheckLoop()
	r.logger.Info("redis event consumer started")
	return nil
}

func (r *RedisMQ) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRunning {
		return
	}
	close(r.stopChan)
	r.wg.Wait()
	r.isRunning = false
	r.logger.Info("redis event consumer stopped")
}

func (r *RedisMQ) consumeLoop() {
	defer r.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-r.stopChan:
			return
		default:
		}

		data, err := r.client.BRPopLPush(ctx, MainQueueName, ProcessingQueueName, time.Second).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				r.logger.Warn("pop event failed", zap.Error(err))
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.processMessage(ctx, data)
		}()
	}
}

func (r *RedisMQ) timeoutCheckLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.checkTimeouts(context.Background())
		}
	}
}

// checkTimeouts requeues events stuck in the processing list, for example
// after a crash mid-handler.
func (r *RedisMQ) checkTimeouts(ctx context.Context) {
	messages, err := r.client.LRange(ctx, ProcessingQueueName, 0, -1).Result()
	if err != nil {
		r.logger.Warn("read processing queue failed", zap.Error(err))
		return
	}

	now := time.Now().Unix()
	for _, data := range messages {
		var e Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			r.moveToDeadLetter(ctx, data)
			continue
		}
		if now-e.Timestamp > int64(r.processingTimeout.Seconds()) {
			r.retryOrBury(ctx, data, e)
		}
	}
}

func (r *RedisMQ) processMessage(ctx context.Context, data string) {
	var e Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		r.logger.Warn("malformed event", zap.Error(err))
		r.moveToDeadLetter(ctx, data)
		return
	}

	// SADD is atomic, so a redelivered event is handled once
	added, err := r.client.SAdd(ctx, processedSetName, e.MessageID).Result()
	if err == nil && added == 0 {
		r.logger.Debug("duplicate event skipped", zap.String("message_id", e.MessageID))
		r.client.LRem(ctx, ProcessingQueueName, 1, data)
		return
	}
	r.client.Expire(ctx, processedSetName, 48*time.Hour)

	if err := r.handler(ctx, e); err != nil {
		r.logger.Warn("event handler failed",
			zap.String("type", string(e.Type)), zap.String("message_id", e.MessageID), zap.Error(err))
		r.client.SRem(ctx, processedSetName, e.MessageID)
		r.retryOrBury(ctx, data, e)
		return
	}
	r.client.LRem(ctx, ProcessingQueueName, 1, data)
}

func (r *RedisMQ) retryOrBury(ctx context.Context, data string, e Event) {
	retries, _ := r.client.HGet(ctx, RetriesHashName, e.MessageID).Int()
	if retries >= r.maxRetries {
		r.logger.Warn("event moved to dead letter queue", zap.String("message_id", e.MessageID))
		r.moveToDeadLetter(ctx, data)
		return
	}

	r.client.HIncrBy(ctx, RetriesHashName, e.MessageID, 1)
	r.client.LRem(ctx, ProcessingQueueName, 1, data)

	e.Timestamp = time.Now().Unix()
	updated, _ := json.Marshal(e)
	time.AfterFunc(r.retryDelay, func() {
		r.client.LPush(context.Background(), MainQueueName, updated)
	})
}

func (r *RedisMQ) moveToDeadLetter(ctx context.Context, data string) {
	r.client.LPush(ctx, DeadLetterQueueName, data)
	r.client.LRem(ctx, ProcessingQueueName, 1, data)
}

// RetryDeadLetters moves every dead letter back to the main queue and
// resets its retry count.
func (r *RedisMQ) RetryDeadLetters(ctx context.Context) (int, error) {
	messages, err := r.client.LRange(ctx, DeadLetterQueueName, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read dead letter queue: %w", err)
	}

	count := 0
	for _, data := range messages {
		if err := r.client.LPush(ctx, MainQueueName, data).Err(); err != nil {
			r.logger.Warn("requeue dead letter failed", zap.Error(err))
			continue
		}
		r.client.LRem(ctx, DeadLetterQueueName, 1, data)

		var e Event
		if json.Unmarshal([]byte(data), &e) == nil {
			r.client.HDel(ctx, RetriesHashName, e.MessageID)
		}
		count++
	}
	if count > 0 {
		r.logger.Info("dead letters requeued", zap.Int("count", count))
	}
	return count, nil
}

func (r *RedisMQ) Stats(ctx context.Context) map[string]int64 {
	mainLen, _ := r.client.LLen(ctx, MainQueueName).Result()
	procLen, _ := r.client.LLen(ctx, ProcessingQueueName).Result()
	deadLen, _ := r.client.LLen(ctx, DeadLetterQueueName).Result()
	return map[string]int64{
		"main_queue":        mainLen,
		"processing_queue":  procLen,
		"dead_letter_queue": deadLen,
	}
}

// ClearAllQueues drops every queue key. Test helper.
func (r *RedisMQ) ClearAllQueues(ctx context.Context) error {
	err := r.client.Del(ctx, MainQueueName, ProcessingQueueName, DeadLetterQueueName, RetriesHashName, processedSetName).Err()
	if err != nil {
		return fmt.Errorf("clear queues: %w", err)
	}
	return nil
}
