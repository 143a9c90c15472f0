package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-election-backend/errs"
	"campus-election-backend/models"
)

func castN(t *testing.T, env *testEnv, electionID, candidateID uint, prefix string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := env.box.CastVote(context.Background(), student(fmt.Sprintf("%s-%d", prefix, i)), electionID, candidateID)
		require.NoError(t, err)
	}
}

func TestResultsPublisher_RequiresPublication(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council")

	_, err := env.results.GetResults(ctx, e.ID)
	assert.ErrorIs(t, err, errs.ErrResultsNotPublished)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))

	_, err = env.results.GetResults(ctx, 9999)
	assert.ErrorIs(t, err, errs.ErrElectionNotFound)

	_, err = env.registry.PublishResults(ctx, admin, e.ID)
	require.NoError(t, err)
	res, err := env.results.GetResults(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, res.Published)
}

func TestResultsPublisher_GroupsAndOrders(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council", "Secretary", "President")

	early := env.approvedCandidate(t, e.ID, "c-1", "President")
	late := env.approvedCandidate(t, e.ID, "c-2", "President")
	leader := env.approvedCandidate(t, e.ID, "c-3", "President")
	banned := env.approvedCandidate(t, e.ID, "c-4", "President")
	secretary := env.approvedCandidate(t, e.ID, "c-5", "Secretary")
	_, err := env.gate.Submit(ctx, student("c-6"), SubmitInput{
		ElectionID: e.ID, Position: "Secretary", CandidateDetails: models.CandidateDetails{Name: "Pending"},
	})
	require.NoError(t, err)

	castN(t, env, e.ID, early.ID, "a", 2)
	castN(t, env, e.ID, late.ID, "b", 2)
	castN(t, env, e.ID, leader.ID, "c", 3)
	castN(t, env, e.ID, banned.ID, "d", 9)
	castN(t, env, e.ID, secretary.ID, "e", 1)
	_, err = env.gate.Disqualify(ctx, admin, banned.ID)
	require.NoError(t, err)
	_, err = env.registry.PublishResults(ctx, admin, e.ID)
	require.NoError(t, err)

	res, err := env.results.GetResults(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(17), res.TotalVotes)
	assert.Equal(t, models.StatusOngoing, res.Status)
	require.Len(t, res.Positions, 2)

	// declared order is kept
	assert.Equal(t, "Secretary", res.Positions[0].Position)
	require.Len(t, res.Positions[0].Candidates, 1)
	assert.True(t, res.Positions[0].Candidates[0].Winner)

	president := res.Positions[1]
	assert.Equal(t, int64(16), president.TotalVotes)
	ids := make([]uint, len(president.Candidates))
	for i, c := range president.Candidates {
		ids[i] = c.CandidateID
	}
	assert.Equal(t, []uint{banned.ID, leader.ID, early.ID, late.ID}, ids)

	assert.Equal(t, models.ApprovalDisqualified, president.Candidates[0].ApprovalState)
	assert.False(t, president.Candidates[0].Winner)
	assert.True(t, president.Candidates[1].Winner)
	assert.False(t, president.Candidates[2].Winner)
}

func TestResultsPublisher_TiesAllWin(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council")
	a := env.approvedCandidate(t, e.ID, "c-1", "President")
	b := env.approvedCandidate(t, e.ID, "c-2", "President")
	castN(t, env, e.ID, a.ID, "a", 2)
	castN(t, env, e.ID, b.ID, "b", 2)

	res, err := env.results.LiveTally(ctx, admin, e.ID)
	require.NoError(t, err)
	assert.False(t, res.Published)
	for _, c := range res.Positions[0].Candidates {
		assert.True(t, c.Winner)
	}

	_, err = env.results.LiveTally(ctx, student("s-1"), e.ID)
	assert.Equal(t, errs.KindForbidden, errs.KindOf(err))
}

func TestResultsPublisher_NoVotesNoWinner(t *testing.T) {
	env := setupTestEnv(t, jan5)
	ctx := context.Background()
	e := env.createElection(t, "Council")
	env.approvedCandidate(t, e.ID, "c-1", "President")

	res, err := env.results.LiveTally(ctx, admin, e.ID)
	require.NoError(t, err)
	require.Len(t, res.Positions[0].Candidates, 1)
	assert.False(t, res.Positions[0].Candidates[0].Winner)
	assert.Zero(t, res.TotalVotes)
}
