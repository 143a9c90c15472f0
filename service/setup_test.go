package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"campus-election-backend/authz"
	"campus-election-backend/clock"
	"campus-election-backend/database"
	"campus-election-backend/migrations"
	"campus-election-backend/models"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan5  = time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	jan10 = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	admin = authz.Principal{UserID: "admin-1", Role: authz.RoleAdmin}
)

func student(id string) authz.Principal {
	return authz.Principal{UserID: id, Role: authz.RoleStudent}
}

// recorder captures side effects.
type recorder struct {
	mu            sync.Mutex
	notifications []models.Notification
	audits        []models.AuditLog
	broadcasts    []interface{}
}

func (r *recorder) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *recorder) Record(_ context.Context, entry models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, entry)
	return nil
}

func (r *recorder) BroadcastTally(_ uint, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, payload)
}

func (r *recorder) notificationTitles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notifications))
	for i, n := range r.notifications {
		out[i] = n.Title
	}
	return out
}

func (r *recorder) auditCount(action, outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.audits {
		if a.Action == action && a.Outcome == outcome {
			n++
		}
	}
	return n
}

func (r *recorder) broadcastCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.broadcasts)
}

type testEnv struct {
	db       *gorm.DB
	clock    *clock.Fixed
	rec      *recorder
	registry *ElectionRegistry
	gate     *CandidacyGate
	box      *BallotBox
	results  *ResultsPublisher
	notices  *NoticeBoard
	trail    *AuditTrail
}

func setupTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()

	db, err := database.OpenInMemory(uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, migrations.Run(db))
	t.Cleanup(func() { database.Close(db) })

	rec := &recorder{}
	clk := clock.NewFixed(now)
	logger := zap.NewNop()
	deps := NewDeps(db, nil, clk, NewDispatcher(rec, rec, rec, logger), logger)

	return &testEnv{
		db:       db,
		clock:    clk,
		rec:      rec,
		registry: NewElectionRegistry(deps),
		gate:     NewCandidacyGate(deps),
		box:      NewBallotBox(deps),
		results:  NewResultsPublisher(deps),
		notices:  NewNoticeBoard(deps),
		trail:    NewAuditTrail(deps),
	}
}

// createElection defines an election running jan1..jan10.
func (env *testEnv) createElection(t *testing.T, title string, positions ...string) *models.Election {
	t.Helper()
	if len(positions) == 0 {
		positions = []string{"President"}
	}
	e, err := env.registry.Create(context.Background(), admin, ElectionInput{
		Title:     title,
		StartTime: jan1,
		EndTime:   jan10,
		Positions: positions,
	})
	require.NoError(t, err)
	return e
}

// approvedCandidate submits and approves a candidacy for userID.
func (env *testEnv) approvedCandidate(t *testing.T, electionID uint, userID, position string) *models.Candidate {
	t.Helper()
	ctx := context.Background()
	c, err := env.gate.Submit(ctx, student(userID), SubmitInput{
		ElectionID:       electionID,
		Position:         position,
		CandidateDetails: models.CandidateDetails{Name: "Candidate " + userID},
	})
	require.NoError(t, err)
	c, err = env.gate.Approve(ctx, admin, c.ID)
	require.NoError(t, err)
	return c
}
