// Package service holds the election commands: the registry of elections,
// the candidacy gate, the ballot box and the results publisher, plus the
// notice board and audit trail read by users and admins.
package service

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"campus-election-backend/clock"
	"campus-election-backend/repository"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	DB            *gorm.DB
	Elections     *repository.ElectionRepository
	Candidates    *repository.CandidateRepository
	Votes         *repository.VoteRepository
	Notifications *repository.NotificationRepository
	Audits        *repository.AuditRepository
	Clock         clock.Clock
	Dispatcher    *Dispatcher
	Logger        *zap.Logger
}

// NewDeps builds the repositories over db. filter guards election lookups
// and may be nil.
func NewDeps(db *gorm.DB, filter repository.ExistenceFilter, clk clock.Clock, d *Dispatcher, logger *zap.Logger) Deps {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if d == nil {
		d = NewDispatcher(nil, nil, nil, logger)
	}
	return Deps{
		DB:            db,
		Elections:     repository.NewElectionRepository(db, filter),
		Candidates:    repository.NewCandidateRepository(db),
		Votes:         repository.NewVoteRepository(db),
		Notifications: repository.NewNotificationRepository(db),
		Audits:        repository.NewAuditRepository(db),
		Clock:         clk,
		Dispatcher:    d,
		Logger:        logger,
	}
}
