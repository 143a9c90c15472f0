package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"go.uber.org/zap"

	"campus-election-backend/config"
)

// RocketMQ publishes events to a topic tagged by event type and consumes
// them with a clustering push consumer.
type RocketMQ struct {
	cfg      config.RocketMQConfig
	producer rocketmq.Producer
	consumer rocketmq.PushConsumer
	logger   *zap.Logger

	sent     atomic.Int64
	consumed atomic.Int64
	failed   atomic.Int64

	mu        sync.Mutex
	processed map[string]time.Time
}

// NewRocketMQ starts a producer against the configured name server.
func NewRocketMQ(cfg config.RocketMQConfig) (*RocketMQ, error) {
	if cfg.NamesrvAddr == "" {
		cfg.NamesrvAddr = "localhost:9876"
	}
	if cfg.Group == "" {
		cfg.Group = "election"
	}
	if cfg.Topic == "" {
		cfg.Topic = "election_events"
	}

	p, err := rocketmq.NewProducer(
		producer.WithNameServer([]string{cfg.NamesrvAddr}),
		producer.WithGroupName(cfg.Group+"_producer"),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(10*time.Second),
		producer.WithVIPChannel(false),
	)
	if err != nil {
		return nil, fmt.Errorf("create rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start rocketmq producer: %w", err)
	}

	logger := zap.L().Named("rocketmq")
	logger.Info("rocketmq producer started", zap.String("namesrv", cfg.NamesrvAddr))
	return &RocketMQ{
		cfg:       cfg,
		producer:  p,
		logger:    logger,
		processed: make(map[string]time.Time),
	}, nil
}

func (r *RocketMQ) Name() string { return "rocketmq" }

func (r *RocketMQ) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := primitive.NewMessage(r.cfg.Topic, body)
	msg.WithTag(string(e.Type))
	msg.WithKeys([]string{e.MessageID})

	res, err := r.producer.SendSync(ctx, msg)
	if err != nil {
		r.failed.Add(1)
		return fmt.Errorf("send event: %w", err)
	}
	if res.Status != primitive.SendOK {
		r.failed.Add(1)
		return fmt.Errorf("send event: status %d", res.Status)
	}
	r.sent.Add(1)
	return nil
}

// Start subscribes to every event tag.
func (r *RocketMQ) Start(h Handler) error {
	if h == nil {
		return errors.New("no handler registered")
	}
	c, err := rocketmq.NewPushConsumer(
		consumer.WithNameServer([]string{r.cfg.NamesrvAddr}),
		consumer.WithGroupName(r.cfg.Group+"_consumer"),
		consumer.WithConsumerModel(consumer.Clustering),
		consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset),
	)
	if err != nil {
		return fmt.Errorf("create rocketmq consumer: %w", err)
	}

	selector := consumer.MessageSelector{Type: consumer.TAG, Expression: "*"}
	err = c.Subscribe(r.cfg.Topic, selector, func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
		for _, msg := range msgs {
			var e Event
			if err := json.Unmarshal(msg.Body, &e); err != nil {
				r.logger.Warn("malformed event", zap.String("msg_id", msg.MsgId), zap.Error(err))
				continue
			}
			if r.seen(e.MessageID) {
				continue
			}
			if err := h(ctx, e); err != nil {
				r.forget(e.MessageID)
				r.logger.Warn("event handler failed", zap.String("message_id", e.MessageID), zap.Error(err))
				return consumer.ConsumeRetryLater, nil
			}
			r.consumed.Add(1)
		}
		return consumer.ConsumeSuccess, nil
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.cfg.Topic, err)
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("start rocketmq consumer: %w", err)
	}
	r.consumer = c
	r.logger.Info("rocketmq consumer started", zap.String("topic", r.cfg.Topic))
	return nil
}

// seen records id and reports whether it was already handled.
func (r *RocketMQ) seen(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processed[id]; ok {
		return true
	}
	now := time.Now()
	r.processed[id] = now
	if len(r.processed) > 100000 {
		for k, t := range r.processed {
			if now.Sub(t) > 48*time.Hour {
				delete(r.processed, k)
			}
		}
	}
	return false
}

func (r *RocketMQ) forget(id string) {
	r.mu.Lock()
	delete(r.processed, id)
	r.mu.Unlock()
}

func (r *RocketMQ) Stop() {
	if r.consumer != nil {
		if err := r.consumer.Shutdown(); err != nil {
			r.logger.Warn("rocketmq consumer shutdown failed", zap.Error(err))
		}
	}
	if err := r.producer.Shutdown(); err != nil {
		r.logger.Warn("rocketmq producer shutdown failed", zap.Error(err))
	}
}

func (r *RocketMQ) Stats(context.Context) map[string]int64 {
	return map[string]int64{
		"sent":     r.sent.Load(),
		"consumed": r.consumed.Load(),
		"failed":   r.failed.Load(),
	}
}

// RetryDeadLetters is handled by the broker's %DLQ% topic, not here.
func (r *RocketMQ) RetryDeadLetters(context.Context) (int, error) {
	return 0, ErrUnsupported
}
