package mq

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"campus-election-backend/config"
	"campus-election-backend/models"
)

// EventBus publishes notifications and audit entries on a Transport. When
// publishing fails the event is handed to the handler directly so it is
// not lost.
type EventBus struct {
	transport Transport
	handler   Handler
	logger    *zap.Logger
}

// NewEventBus selects a transport from cfg. The redis driver needs a live
// client and falls back to the in-process queue without one, as does a
// rocketmq driver whose producer cannot start.
func NewEventBus(cfg config.MQConfig, rocketCfg config.RocketMQConfig, client *redis.Client, h Handler) (*EventBus, error) {
	logger := zap.L().Named("event_bus")

	var t Transport
	switch cfg.Driver {
	case "rocketmq":
		if !rocketCfg.Mock {
			r, err := NewRocketMQ(rocketCfg)
			if err != nil {
				logger.Warn("rocketmq unavailable, using memory queue", zap.Error(err))
			} else {
				t = r
			}
		}
	case "redis", "":
		if client != nil {
			t = NewRedisMQ(client, cfg.MaxRetries)
		} else {
			logger.Warn("redis unavailable, using memory queue")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported mq driver %q", cfg.Driver)
	}
	if t == nil {
		t = NewMemoryMQ(0, 0, cfg.MaxRetries)
	}
	return NewEventBusWith(t, h)
}

// NewEventBusWith starts h on an already built transport.
func NewEventBusWith(t Transport, h Handler) (*EventBus, error) {
	if err := t.Start(h); err != nil {
		return nil, fmt.Errorf("start %s transport: %w", t.Name(), err)
	}
	logger := zap.L().Named("event_bus")
	logger.Info("event bus ready", zap.String("transport", t.Name()))
	return &EventBus{transport: t, handler: h, logger: logger}, nil
}

// Notify queues a notification for storage.
func (b *EventBus) Notify(ctx context.Context, n models.Notification) error {
	e := NewEvent(EventNotification)
	e.Notification = &n
	return b.publish(ctx, e)
}

// Record queues an audit entry for storage.
func (b *EventBus) Record(ctx context.Context, entry models.AuditLog) error {
	e := NewEvent(EventAudit)
	e.Audit = &entry
	return b.publish(ctx, e)
}

func (b *EventBus) publish(ctx context.Context, e Event) error {
	err := b.transport.Publish(ctx, e)
	if err == nil {
		return nil
	}
	b.logger.Warn("publish failed, delivering directly",
		zap.String("transport", b.transport.Name()), zap.String("type", string(e.Type)), zap.Error(err))
	return b.handler(ctx, e)
}

func (b *EventBus) TransportName() string { return b.transport.Name() }

func (b *EventBus) Stats(ctx context.Context) map[string]int64 {
	return b.transport.Stats(ctx)
}

func (b *EventBus) RetryDeadLetters(ctx context.Context) (int, error) {
	return b.transport.RetryDeadLetters(ctx)
}

func (b *EventBus) Close() {
	b.transport.Stop()
	b.logger.Info("event bus closed")
}
