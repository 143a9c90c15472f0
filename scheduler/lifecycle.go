package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"campus-election-backend/cache"
	"campus-election-backend/clock"
	"campus-election-backend/metrics"
	"campus-election-backend/models"
	"campus-election-backend/mq"
	"campus-election-backend/service"
)

// ElectionLister returns every election with its derived status.
type ElectionLister interface {
	List(ctx context.Context, f service.ListFilter) ([]models.Election, error)
}

// Locker runs action only if the named lock is free.
type Locker interface {
	TryWithLock(ctx context.Context, name string, expiry time.Duration, action func() error) error
}

const lifecycleLock = "scheduler:lifecycle"

// LifecycleSweep announces elections that opened or ended since the last
// sweep. Status is derived from the clock, so nothing is written to the
// elections themselves.
type LifecycleSweep struct {
	elections  ElectionLister
	store      StatusStore
	dispatcher *service.Dispatcher
	clock      clock.Clock
	locker     Locker
	lockExpiry time.Duration
	logger     *zap.Logger
}

// NewLifecycleSweep builds the sweep. locker may be nil on a single node.
func NewLifecycleSweep(elections ElectionLister, store StatusStore, d *service.Dispatcher, clk clock.Clock, locker Locker, lockExpiry time.Duration, logger *zap.Logger) *LifecycleSweep {
	if store == nil {
		store = NewMemoryStatusStore()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if lockExpiry <= 0 {
		lockExpiry = 25 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleSweep{
		elections:  elections,
		store:      store,
		dispatcher: d,
		clock:      clk,
		locker:     locker,
		lockExpiry: lockExpiry,
		logger:     logger,
	}
}

// Run performs one sweep. Another replica holding the lock is not an error.
func (s *LifecycleSweep) Run(ctx context.Context) error {
	if s.locker == nil {
		return s.sweep(ctx)
	}
	err := s.locker.TryWithLock(ctx, lifecycleLock, s.lockExpiry, func() error {
		return s.sweep(ctx)
	})
	if errors.Is(err, cache.ErrLockNotAcquired) {
		s.logger.Debug("lifecycle sweep held by another replica")
		return nil
	}
	return err
}

func (s *LifecycleSweep) sweep(ctx context.Context) error {
	elections, err := s.elections.List(ctx, service.ListFilter{})
	if err != nil {
		return err
	}
	seen, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	live := make(map[uint]bool, len(elections))
	for i := range elections {
		e := &elections[i]
		live[e.ID] = true
		prev, known := seen[e.ID]
		if known && prev == e.Status {
			continue
		}
		if err := s.store.Save(ctx, e.ID, e.Status); err != nil {
			return err
		}
		// first sighting is recorded silently
		if known {
			s.announce(e, prev)
		}
	}

	var gone []uint
	for id := range seen {
		if !live[id] {
			gone = append(gone, id)
		}
	}
	return s.store.Forget(ctx, gone...)
}

func (s *LifecycleSweep) announce(e *models.Election, from models.ElectionStatus) {
	metrics.LifecycleTransition(string(e.Status))
	s.logger.Info("election status changed",
		zap.Uint("election_id", e.ID), zap.String("from", string(from)), zap.String("to", string(e.Status)))

	s.dispatcher.Broadcast(e.ID, models.StatusChange{
		ElectionID: e.ID,
		From:       from,
		To:         e.Status,
		At:         s.clock.Now(),
	})

	n := models.Notification{
		Type:           models.NotificationElection,
		TargetAudience: models.AudienceAll,
		CreatedBy:      "system",
		RelatedID:      e.ID,
	}
	switch e.Status {
	case models.StatusOngoing:
		n.Title = "Voting open: " + e.Title
		n.Message = "Voting is open until " + e.EndTime.Format(time.RFC1123) + "."
	case models.StatusCompleted:
		if e.ClosedEarly {
			// Close already told everyone
			return
		}
		n.Title = "Election ended: " + e.Title
		n.Message = "Voting has ended."
	default:
		// the window moved back into the future
		n.Title = "Election rescheduled: " + e.Title
		n.Message = "Voting now opens " + e.StartTime.Format(time.RFC1123) + "."
	}
	s.dispatcher.Notify(n)
}

// DeadLetterRetrier requeues failed events.
type DeadLetterRetrier interface {
	RetryDeadLetters(ctx context.Context) (int, error)
}

// RetryDeadLetters returns a job body that requeues dead letters.
// Transports without a dead letter queue are skipped.
func RetryDeadLetters(r DeadLetterRetrier, logger *zap.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		n, err := r.RetryDeadLetters(ctx)
		if err != nil {
			if errors.Is(err, mq.ErrUnsupported) {
				return nil
			}
			return err
		}
		if n > 0 {
			logger.Info("dead letters requeued", zap.Int("count", n))
		}
		return nil
	}
}
