package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"campus-election-backend/authz"
	"campus-election-backend/errs"
	"campus-election-backend/metrics"
	"campus-election-backend/models"
)

// Notifier delivers a notification to its audience.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// AuditLogger records the outcome of a command.
type AuditLogger interface {
	Record(ctx context.Context, entry models.AuditLog) error
}

// TallyBroadcaster pushes live tally updates to subscribers of an election.
type TallyBroadcaster interface {
	BroadcastTally(electionID uint, payload interface{})
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, models.Notification) error { return nil }

type noopAuditLogger struct{}

func (noopAuditLogger) Record(context.Context, models.AuditLog) error { return nil }

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastTally(uint, interface{}) {}

// Dispatcher runs side effects after a command has committed. Their
// failures are logged and counted but never reach the caller.
type Dispatcher struct {
	notifier    Notifier
	audit       AuditLogger
	broadcaster TallyBroadcaster
	logger      *zap.Logger
	timeout     time.Duration
}

// NewDispatcher wires the collaborators. Nil collaborators are replaced by
// no-ops.
func NewDispatcher(n Notifier, a AuditLogger, b TallyBroadcaster, logger *zap.Logger) *Dispatcher {
	if n == nil {
		n = noopNotifier{}
	}
	if a == nil {
		a = noopAuditLogger{}
	}
	if b == nil {
		b = noopBroadcaster{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		notifier:    n,
		audit:       a,
		broadcaster: b,
		logger:      logger,
		timeout:     5 * time.Second,
	}
}

// Notify sends n in the background.
func (d *Dispatcher) Notify(n models.Notification) {
	d.goSafe("notification", func(ctx context.Context) error {
		return d.notifier.Notify(ctx, n)
	})
}

// Audit records entry in the background.
func (d *Dispatcher) Audit(entry models.AuditLog) {
	d.goSafe("audit", func(ctx context.Context) error {
		return d.audit.Record(ctx, entry)
	})
}

// Broadcast pushes a tally update in the background.
func (d *Dispatcher) Broadcast(electionID uint, payload interface{}) {
	d.goSafe("broadcast", func(context.Context) error {
		d.broadcaster.BroadcastTally(electionID, payload)
		return nil
	})
}

func (d *Dispatcher) goSafe(kind string, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.SideEffectFailed(kind)
				d.logger.Error("side effect panicked", zap.String("kind", kind), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.SideEffectFailed(kind)
			d.logger.Warn("side effect failed", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

func auditSuccess(p authz.Principal, action, entity string, id uint, details string) models.AuditLog {
	return models.AuditLog{
		Actor:      p.UserID,
		Role:       string(p.Role),
		Action:     action,
		EntityType: entity,
		EntityID:   id,
		Details:    details,
		Outcome:    models.OutcomeSuccess,
	}
}

func auditFailure(p authz.Principal, action, entity string, id uint, err error) models.AuditLog {
	entry := auditSuccess(p, action, entity, id, "")
	entry.Outcome = models.OutcomeFailure
	entry.ErrorKind = string(errs.KindOf(err))
	entry.ErrorMessage = errs.MessageOf(err)
	return entry
}
