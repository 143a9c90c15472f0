package mq

import (
	"context"
	"fmt"

	"campus-election-backend/models"
)

// NotificationStore persists notifications.
type NotificationStore interface {
	Notify(ctx context.Context, n models.Notification) error
}

// AuditStore persists audit entries.
type AuditStore interface {
	Record(ctx context.Context, entry models.AuditLog) error
}

// StoreSink returns the Handler that writes consumed events to the stores.
func StoreSink(notifications NotificationStore, audits AuditStore) Handler {
	return func(ctx context.Context, e Event) error {
		switch e.Type {
		case EventNotification:
			if e.Notification == nil {
				return fmt.Errorf("%w: empty notification %s", errUnknownEvent, e.MessageID)
			}
			return notifications.Notify(ctx, *e.Notification)
		case EventAudit:
			if e.Audit == nil {
				return fmt.Errorf("%w: empty audit entry %s", errUnknownEvent, e.MessageID)
			}
			return audits.Record(ctx, *e.Audit)
		default:
			return fmt.Errorf("%w: %q", errUnknownEvent, e.Type)
		}
	}
}
