package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-election-backend/errs"
	"campus-election-backend/models"
)

func TestElectionRegistry_CreateDerivesStatus(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()

	e, err := env.registry.Create(ctx, admin, ElectionInput{
		Title:     "Student Council 2024",
		StartTime: jan1,
		EndTime:   jan10,
		Positions: []string{"President", " Treasurer ", "President"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOngoing, e.Status)
	assert.Equal(t, []string{"President", "Treasurer"}, e.Positions)
	assert.Equal(t, "admin-1", e.CreatedBy)

	future, err := env.registry.Create(ctx, admin, ElectionInput{
		Title:     "Sports Captain",
		StartTime: jan10,
		EndTime:   jan10.Add(24 * time.Hour),
		Positions: []string{"Captain"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUpcoming, future.Status)

	assert.Eventually(t, func() bool {
		return len(env.rec.notificationTitles()) == 2 && env.rec.auditCount("election.create", models.OutcomeSuccess) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestElectionRegistry_CreateValidation(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	env.createElection(t, "Taken")

	tests := []struct {
		name string
		in   ElectionInput
		kind errs.Kind
	}{
		{"missing title", ElectionInput{StartTime: jan1, EndTime: jan10, Positions: []string{"P"}}, errs.KindValidation},
		{"missing times", ElectionInput{Title: "A", Positions: []string{"P"}}, errs.KindValidation},
		{"end before start", ElectionInput{Title: "A", StartTime: jan10, EndTime: jan1, Positions: []string{"P"}}, errs.KindValidation},
		{"end equals start", ElectionInput{Title: "A", StartTime: jan1, EndTime: jan1, Positions: []string{"P"}}, errs.KindValidation},
		{"no positions", ElectionInput{Title: "A", StartTime: jan1, EndTime: jan10}, errs.KindValidation},
		{"blank position", ElectionInput{Title: "A", StartTime: jan1, EndTime: jan10, Positions: []string{"P", "  "}}, errs.KindValidation},
		{"duplicate title", ElectionInput{Title: "Taken", StartTime: jan1, EndTime: jan10, Positions: []string{"P"}}, errs.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.registry.Create(ctx, admin, tt.in)
			assert.Equal(t, tt.kind, errs.KindOf(err), "err: %v", err)
		})
	}

	_, err := env.registry.Create(ctx, student("s-1"), ElectionInput{Title: "B", StartTime: jan1, EndTime: jan10, Positions: []string{"P"}})
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestElectionRegistry_UpdateWindowLockedAfterVotes(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council")

	newEnd := jan10.Add(48 * time.Hour)
	updated, err := env.registry.Update(ctx, admin, e.ID, ElectionPatch{EndTime: &newEnd})
	require.NoError(t, err)
	assert.True(t, updated.EndTime.Equal(newEnd))

	c := env.approvedCandidate(t, e.ID, "c-1", "President")
	_, err = env.box.CastVote(ctx, student("v-1"), e.ID, c.ID)
	require.NoError(t, err)

	later := newEnd.Add(time.Hour)
	_, err = env.registry.Update(ctx, admin, e.ID, ElectionPatch{EndTime: &later})
	assert.Equal(t, errs.KindState, errs.KindOf(err))

	desc := "Annual council vote"
	updated, err = env.registry.Update(ctx, admin, e.ID, ElectionPatch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, "admin-1", updated.UpdatedBy)
}

func TestElectionRegistry_UpdateValidation(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council")
	env.createElection(t, "Other")

	badEnd := jan1.Add(-time.Hour)
	_, err := env.registry.Update(ctx, admin, e.ID, ElectionPatch{EndTime: &badEnd})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	other := "Other"
	_, err = env.registry.Update(ctx, admin, e.ID, ElectionPatch{Title: &other})
	assert.ErrorIs(t, err, errs.ErrTitleTaken)

	_, err = env.registry.Update(ctx, admin, 9999, ElectionPatch{})
	assert.ErrorIs(t, err, errs.ErrElectionNotFound)
}

func TestElectionRegistry_DeleteGuardedByVotes(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()

	empty := env.createElection(t, "Empty")
	env.approvedCandidate(t, empty.ID, "c-1", "President")
	require.NoError(t, env.registry.Delete(ctx, admin, empty.ID))
	_, err := env.registry.GetByID(ctx, empty.ID)
	assert.ErrorIs(t, err, errs.ErrElectionNotFound)

	voted := env.createElection(t, "Voted")
	c := env.approvedCandidate(t, voted.ID, "c-2", "President")
	_, err = env.box.CastVote(ctx, student("v-1"), voted.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, errs.KindState, errs.KindOf(env.registry.Delete(ctx, admin, voted.ID)))

	assert.ErrorIs(t, env.registry.Delete(ctx, admin, 9999), errs.ErrElectionNotFound)
}

func TestElectionRegistry_Positions(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council", "President")

	e, err := env.registry.AddPosition(ctx, admin, e.ID, "Secretary")
	require.NoError(t, err)
	assert.Equal(t, []string{"President", "Secretary"}, e.Positions)

	_, err = env.registry.AddPosition(ctx, admin, e.ID, "Secretary")
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	_, err = env.registry.AddPosition(ctx, admin, e.ID, " ")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	// absent name is a no-op
	e, err = env.registry.RemovePosition(ctx, admin, e.ID, "Treasurer")
	require.NoError(t, err)
	assert.Len(t, e.Positions, 2)

	env.approvedCandidate(t, e.ID, "c-1", "Secretary")
	_, err = env.registry.RemovePosition(ctx, admin, e.ID, "Secretary")
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))

	e, err = env.registry.RemovePosition(ctx, admin, e.ID, "President")
	require.NoError(t, err)
	assert.Equal(t, []string{"Secretary"}, e.Positions)

	_, err = env.registry.RemovePosition(ctx, admin, e.ID, "Secretary")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestElectionRegistry_CloseAndPublishAreIdempotent(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council")

	closed, err := env.registry.Close(ctx, admin, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, closed.Status)
	closed, err = env.registry.Close(ctx, admin, e.ID)
	require.NoError(t, err)
	assert.True(t, closed.ClosedEarly)

	published, err := env.registry.PublishResults(ctx, admin, e.ID)
	require.NoError(t, err)
	assert.True(t, published.ResultsPublished)
	_, err = env.registry.PublishResults(ctx, admin, e.ID)
	require.NoError(t, err)

	_, err = env.registry.Close(ctx, student("s-1"), e.ID)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	assert.Eventually(t, func() bool {
		// created, closed, published: repeats do not notify again
		return len(env.rec.notificationTitles()) == 3
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, env.rec.notificationTitles(), 3)
}

func TestElectionRegistry_ListByStatusAndQuery(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()

	env.createElection(t, "Ongoing Council")
	_, err := env.registry.Create(ctx, admin, ElectionInput{
		Title: "Upcoming Sports", StartTime: jan10, EndTime: jan10.Add(time.Hour), Positions: []string{"Captain"},
	})
	require.NoError(t, err)
	past, err := env.registry.Create(ctx, admin, ElectionInput{
		Title: "Past Council", StartTime: jan1, EndTime: jan1.Add(time.Hour), Positions: []string{"Chair"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, past.Status)

	ongoing, err := env.registry.List(ctx, ListFilter{Status: models.StatusOngoing})
	require.NoError(t, err)
	require.Len(t, ongoing, 1)
	assert.Equal(t, "Ongoing Council", ongoing[0].Title)

	councils, err := env.registry.List(ctx, ListFilter{Query: "council"})
	require.NoError(t, err)
	assert.Len(t, councils, 2)

	_, err = env.registry.List(ctx, ListFilter{Status: "active"})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	env.clock.Set(jan10.Add(2 * time.Hour))
	completed, err := env.registry.List(ctx, ListFilter{Status: models.StatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 3)
}
