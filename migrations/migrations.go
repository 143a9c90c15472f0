package migrations

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"campus-election-backend/models"
)

// requiredIndex is a unique index the ballot rules depend on.
type requiredIndex struct {
	model interface{}
	name  string
}

var requiredIndexes = []requiredIndex{
	{&models.Vote{}, "idx_votes_voter_election"},
	{&models.Candidate{}, "idx_candidates_user_election"},
	{&models.Election{}, "idx_elections_title"},
	{&models.NotificationRead{}, "idx_notification_reads_user"},
}

// Run migrates every table and then verifies the unique indexes exist,
// creating any that an older schema is missing.
func Run(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Election{},
		&models.Candidate{},
		&models.Vote{},
		&models.AuditLog{},
		&models.Notification{},
		&models.NotificationRead{},
	)
	if err != nil {
		return fmt.Errorf("migrate models: %w", err)
	}

	for _, idx := range requiredIndexes {
		if db.Migrator().HasIndex(idx.model, idx.name) {
			continue
		}
		zap.L().Info("creating missing index", zap.String("index", idx.name))
		if err := db.Migrator().CreateIndex(idx.model, idx.name); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}

	return nil
}
