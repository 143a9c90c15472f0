// Package mq carries notification and audit events from the services to
// the store, through Redis lists, RocketMQ or an in-process queue.
package mq

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"campus-election-backend/models"
)

// EventType tags the payload of an Event.
type EventType string

const (
	EventNotification EventType = "notification"
	EventAudit        EventType = "audit"
)

// Event is the message body on every transport.
type Event struct {
	Type         EventType            `json:"type"`
	MessageID    string               `json:"message_id"`
	Timestamp    int64                `json:"timestamp"`
	Notification *models.Notification `json:"notification,omitempty"`
	Audit        *models.AuditLog     `json:"audit,omitempty"`
}

// NewEvent stamps a payload with a fresh message id.
func NewEvent(t EventType) Event {
	return Event{Type: t, MessageID: uuid.NewString(), Timestamp: time.Now().Unix()}
}

// Handler consumes one event. A returned error asks for redelivery.
type Handler func(ctx context.Context, e Event) error

// Transport moves events to a consumer.
type Transport interface {
	Name() string
	Publish(ctx context.Context, e Event) error
	Start(h Handler) error
	Stop()
	Stats(ctx context.Context) map[string]int64
	RetryDeadLetters(ctx context.Context) (int, error)
}

// ErrUnsupported is returned by transports without a dead letter queue.
var ErrUnsupported = errors.New("operation not supported by this transport")

var errUnknownEvent = errors.New("unknown event type")
