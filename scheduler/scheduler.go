// Package scheduler runs the periodic background jobs: the election
// lifecycle sweep and the dead letter retry.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"campus-election-backend/metrics"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on cron schedules with seconds precision. A run that
// is still going when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules j. Names must be unique.
func (s *Scheduler) Add(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("invalid job %q", j.Name)
	}
	if j.Timeout <= 0 {
		j.Timeout = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[j.Name]; exists {
		return fmt.Errorf("job %s already scheduled", j.Name)
	}
	id, err := s.cron.AddFunc(j.Schedule, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", j.Name, err)
	}
	s.entries[j.Name] = id
	s.logger.Info("job scheduled", zap.String("job", j.Name), zap.String("schedule", j.Schedule))
	return nil
}

func (s *Scheduler) execute(j Job) {
	defer func() {
		if r := recover(); r != nil {
			metrics.JobRuns.WithLabelValues(j.Name, "panic").Inc()
			s.logger.Error("job panicked", zap.String("job", j.Name), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, j.Timeout)
	defer cancel()

	start := time.Now()
	if err := j.Run(ctx); err != nil {
		metrics.JobRuns.WithLabelValues(j.Name, "error").Inc()
		s.logger.Warn("job failed", zap.String("job", j.Name), zap.Duration("took", time.Since(start)), zap.Error(err))
		return
	}
	metrics.JobRuns.WithLabelValues(j.Name, "ok").Inc()
	s.logger.Debug("job done", zap.String("job", j.Name), zap.Duration("took", time.Since(start)))
}

// Next returns the next run time of a job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", n))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
