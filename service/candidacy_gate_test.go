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

func TestCandidacyGate_Submit(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council", "President", "Secretary")

	c, err := env.gate.Submit(ctx, student("s-1"), SubmitInput{
		ElectionID:       e.ID,
		Position:         "President",
		CandidateDetails: models.CandidateDetails{Name: "Ada", Manifesto: "More labs"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, c.ApprovalState)
	assert.Equal(t, int64(0), c.VoteCount)
	assert.Equal(t, "s-1", c.UserID)

	tests := []struct {
		name string
		p    SubmitInput
		who  string
		kind errs.Kind
	}{
		{"second candidacy", SubmitInput{ElectionID: e.ID, Position: "Secretary", CandidateDetails: models.CandidateDetails{Name: "Ada"}}, "s-1", errs.KindConflict},
		{"unknown position", SubmitInput{ElectionID: e.ID, Position: "Mascot", CandidateDetails: models.CandidateDetails{Name: "Bob"}}, "s-2", errs.KindValidation},
		{"missing name", SubmitInput{ElectionID: e.ID, Position: "President"}, "s-2", errs.KindValidation},
		{"unknown election", SubmitInput{ElectionID: 9999, Position: "President", CandidateDetails: models.CandidateDetails{Name: "Bob"}}, "s-2", errs.KindNotFound},
		{"someone else", SubmitInput{ElectionID: e.ID, UserID: "s-3", Position: "President", CandidateDetails: models.CandidateDetails{Name: "Eve"}}, "s-2", errs.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.gate.Submit(ctx, student(tt.who), tt.p)
			assert.Equal(t, tt.kind, errs.KindOf(err), "err: %v", err)
		})
	}

	// admins may submit on a student's behalf
	onBehalf, err := env.gate.Submit(ctx, admin, SubmitInput{
		ElectionID: e.ID, UserID: "s-3", Position: "Secretary",
		CandidateDetails: models.CandidateDetails{Name: "Eve"},
	})
	require.NoError(t, err)
	assert.Equal(t, "s-3", onBehalf.UserID)
}

func TestCandidacyGate_SubmitAfterElectionEnded(t *testing.T) {
	env := setupTestEnv(t, jan5)
	e := env.createElection(t, "Council")
	env.clock.Set(jan10.Add(time.Minute))

	_, err := env.gate.Submit(context.Background(), student("s-1"), SubmitInput{
		ElectionID: e.ID, Position: "President", CandidateDetails: models.CandidateDetails{Name: "Late"},
	})
	assert.Equal(t, errs.KindState, errs.KindOf(err))
}

func TestCandidacyGate_ReviewIsAdminOnlyAndIdempotent(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council")
	c, err := env.gate.Submit(ctx, student("s-1"), SubmitInput{
		ElectionID: e.ID, Position: "President", CandidateDetails: models.CandidateDetails{Name: "Ada"},
	})
	require.NoError(t, err)

	_, err = env.gate.Approve(ctx, student("s-1"), c.ID)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	for i := 0; i < 2; i++ {
		approved, err := env.gate.Approve(ctx, admin, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalApproved, approved.ApprovalState)
	}
	disqualified, err := env.gate.Disqualify(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalDisqualified, disqualified.ApprovalState)
	reinstated, err := env.gate.Approve(ctx, admin, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, reinstated.ApprovalState)

	_, err = env.gate.Approve(ctx, admin, 9999)
	assert.ErrorIs(t, err, errs.ErrCandidateNotFound)

	assert.Eventually(t, func() bool {
		return env.rec.auditCount("candidate.approve", models.OutcomeSuccess) == 2 &&
			env.rec.auditCount("candidate.approve", models.OutcomeFailure) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestCandidacyGate_WithdrawRemovesFromListing(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council")
	env.approvedCandidate(t, e.ID, "s-1", "President")
	env.approvedCandidate(t, e.ID, "s-2", "President")

	listed, err := env.gate.ListByElection(ctx, student("s-9"), e.ID, false)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, env.gate.Withdraw(ctx, student("s-1"), "s-1", e.ID))

	listed, err = env.gate.ListByElection(ctx, student("s-9"), e.ID, false)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "s-2", listed[0].UserID)

	assert.ErrorIs(t, env.gate.Withdraw(ctx, student("s-1"), "s-1", e.ID), errs.ErrCandidateNotFound)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(env.gate.Withdraw(ctx, student("s-1"), "s-2", e.ID)))
}

func TestCandidacyGate_WithdrawRefusedAfterVotes(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council")
	c := env.approvedCandidate(t, e.ID, "s-1", "President")
	_, err := env.box.CastVote(ctx, student("v-1"), e.ID, c.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, env.gate.Withdraw(ctx, student("s-1"), "s-1", e.ID), errs.ErrCandidateHasVotes)
	assert.ErrorIs(t, env.gate.Delete(ctx, admin, c.ID), errs.ErrCandidateHasVotes)

	got, err := env.gate.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.VoteCount)
}

func TestCandidacyGate_ListingsHidePendingFromPublic(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council", "President", "Secretary")
	env.approvedCandidate(t, e.ID, "s-1", "President")
	_, err := env.gate.Submit(ctx, student("s-2"), SubmitInput{
		ElectionID: e.ID, Position: "President", CandidateDetails: models.CandidateDetails{Name: "Pending"},
	})
	require.NoError(t, err)

	public, err := env.gate.ListByElection(ctx, student("s-9"), e.ID, true)
	require.NoError(t, err)
	assert.Len(t, public, 1)

	all, err := env.gate.ListByElection(ctx, admin, e.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	presidents, err := env.gate.ListByElectionAndPosition(ctx, admin, e.ID, "President", false)
	require.NoError(t, err)
	assert.Len(t, presidents, 1)

	_, err = env.gate.ListByElectionAndPosition(ctx, admin, e.ID, "Mascot", false)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	_, err = env.gate.ListByElection(ctx, admin, 9999, false)
	assert.ErrorIs(t, err, errs.ErrElectionNotFound)

	mine, err := env.gate.ListByUser(ctx, student("s-2"), "s-2")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.ApprovalPending, mine[0].ApprovalState)

	_, err = env.gate.ListByUser(ctx, student("s-1"), "s-2")
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	found, err := env.gate.Search(ctx, "candidate", 1, 10)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestCandidacyGate_Update(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council", "President", "Secretary")
	c := env.approvedCandidate(t, e.ID, "s-1", "President")

	manifesto := "Longer library hours"
	president := "President"
	updated, err := env.gate.Update(ctx, student("s-1"), c.ID, CandidatePatch{Manifesto: &manifesto, Position: &president})
	require.NoError(t, err)
	assert.Equal(t, manifesto, updated.Manifesto)
	assert.Equal(t, "President", updated.Position)
	assert.Equal(t, models.ApprovalApproved, updated.ApprovalState)

	mascot := "Mascot"
	_, err = env.gate.Update(ctx, student("s-1"), c.ID, CandidatePatch{Position: &mascot})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = env.gate.Update(ctx, student("s-2"), c.ID, CandidatePatch{Manifesto: &manifesto})
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	blank := " "
	_, err = env.gate.Update(ctx, admin, c.ID, CandidatePatch{Name: &blank})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestCandidacyGate_UpdatePosition(t *testing.T) {
	secretary := "Secretary"

	tests := []struct {
		name      string
		now       time.Time
		vote      bool
		wantKind  errs.Kind
		wantPos   string
		wantState models.ApprovalState
	}{
		{"before voting opens", jan1.Add(-time.Hour), false, "", "Secretary", models.ApprovalPending},
		{"while voting without ballots", jan5, false, errs.KindState, "President", models.ApprovalApproved},
		{"while voting with ballots", jan5, true, errs.KindState, "President", models.ApprovalApproved},
		{"after voting closed", jan10.Add(time.Hour), false, errs.KindState, "President", models.ApprovalApproved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t, jan5)
			ctx := context.Background()
			e := env.createElection(t, "Council", "President", "Secretary")
			c := env.approvedCandidate(t, e.ID, "s-1", "President")
			if tt.vote {
				_, err := env.box.CastVote(ctx, student("v-1"), e.ID, c.ID)
				require.NoError(t, err)
			}
			env.clock.Set(tt.now)

			updated, err := env.gate.Update(ctx, student("s-1"), c.ID, CandidatePatch{Position: &secretary})
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, errs.KindOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantPos, updated.Position)
				assert.Equal(t, tt.wantState, updated.ApprovalState)
			}

			got, err := env.gate.GetByID(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPos, got.Position)
			assert.Equal(t, tt.wantState, got.ApprovalState)
			if tt.vote {
				assert.Equal(t, int64(1), got.VoteCount)
			}
		})
	}
}
