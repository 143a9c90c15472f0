package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"campus-election-backend/database"
	"campus-election-backend/migrations"
	"campus-election-backend/models"
)

// setupTestDB opens a private in-memory database with the full schema.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, migrations.Run(db))

	t.Cleanup(func() { database.Close(db) })
	return db
}

func seedElection(t *testing.T, db *gorm.DB, title string) *models.Election {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &models.Election{
		Title:     title,
		StartTime: start,
		EndTime:   start.Add(9 * 24 * time.Hour),
		Positions: []string{"President", "Secretary"},
	}
	require.NoError(t, db.Create(e).Error)
	return e
}

func seedCandidate(t *testing.T, db *gorm.DB, electionID uint, userID, position string, state models.ApprovalState) *models.Candidate {
	t.Helper()
	c := &models.Candidate{
		ElectionID:    electionID,
		UserID:        userID,
		Name:          "Candidate " + userID,
		Position:      position,
		ApprovalState: state,
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

// memoryFilter is an exact ExistenceFilter for tests.
type memoryFilter struct {
	mu    sync.Mutex
	items map[string]bool
}

func newMemoryFilter() *memoryFilter {
	return &memoryFilter{items: make(map[string]bool)}
}

func (f *memoryFilter) Add(_ context.Context, item string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item] = true
	return nil
}

func (f *memoryFilter) Contains(_ context.Context, item string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[item], nil
}

// flakyFilter fails every Add while addErr is set.
type flakyFilter struct {
	*memoryFilter
	addErr error
}

func (f *flakyFilter) Add(ctx context.Context, item string) error {
	if f.addErr != nil {
		return f.addErr
	}
	return f.memoryFilter.Add(ctx, item)
}
