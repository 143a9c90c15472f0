package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"campus-election-backend/authz"
	"campus-election-backend/errs"
	"campus-election-backend/metrics"
	"campus-election-backend/models"
)

// BallotBox accepts ballots. Every accepted ballot and its tally increment
// commit together or not at all.
type BallotBox struct {
	Deps
}

func NewBallotBox(d Deps) *BallotBox {
	return &BallotBox{Deps: d}
}

// CastVote records p's single ballot in an election for candidateID.
func (b *BallotBox) CastVote(ctx context.Context, p authz.Principal, electionID, candidateID uint) (*models.Vote, error) {
	e, vote, tally, err := b.cast(ctx, p, electionID, candidateID)
	if err != nil {
		metrics.VoteRejected(string(errs.KindOf(err)))
		entry := auditFailure(p, "vote.cast", models.EntityVote, 0, err)
		entry.Details = fmt.Sprintf("election %d candidate %d", electionID, candidateID)
		b.Dispatcher.Audit(entry)
		if errs.KindOf(err) == errs.KindInternal {
			b.Logger.Error("vote failed", zap.Uint("election_id", electionID), zap.Error(err))
		}
		return nil, err
	}

	metrics.VoteAccepted(electionID)
	b.Dispatcher.Audit(auditSuccess(p, "vote.cast", models.EntityVote, vote.ID,
		fmt.Sprintf("election %d candidate %d", electionID, candidateID)))
	b.Dispatcher.Notify(models.Notification{
		Title:          "Ballot cast",
		Message:        "A ballot was cast in " + e.Title + ".",
		Type:           models.NotificationVote,
		TargetAudience: models.AudienceAdmins,
		CreatedBy:      p.UserID,
		RelatedID:      e.ID,
	})
	b.Dispatcher.Broadcast(electionID, models.TallyUpdate{
		ElectionID:  electionID,
		CandidateID: candidateID,
		VoteCount:   tally,
		CastAt:      vote.CastAt,
	})
	return vote, nil
}

func (b *BallotBox) cast(ctx context.Context, p authz.Principal, electionID, candidateID uint) (*models.Election, *models.Vote, int64, error) {
	if err := authz.Require(p, authz.VoteCast); err != nil {
		return nil, nil, 0, err
	}

	e, err := b.Elections.FindByID(ctx, electionID)
	if err != nil {
		return nil, nil, 0, err
	}
	now := b.Clock.Now()
	if DeriveStatus(e, now) != models.StatusOngoing {
		return nil, nil, 0, errs.ErrElectionNotOpen
	}

	c, err := b.Candidates.FindByID(ctx, candidateID)
	if err != nil {
		if errors.Is(err, errs.ErrCandidateNotFound) {
			return nil, nil, 0, errs.ErrCandidateNotEligible
		}
		return nil, nil, 0, err
	}
	if c.ElectionID != e.ID || c.ApprovalState != models.ApprovalApproved {
		return nil, nil, 0, errs.ErrCandidateNotEligible
	}

	if !e.Eligibility.Admits(p.Profile) {
		return nil, nil, 0, errs.ErrVoterNotEligible
	}

	vote := &models.Vote{
		VoterID:     p.UserID,
		ElectionID:  e.ID,
		CandidateID: c.ID,
		CastAt:      now,
	}
	var tally int64
	err = b.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := b.Votes.WithTx(tx).Insert(ctx, vote); err != nil {
			return err
		}
		candidates := b.Candidates.WithTx(tx)
		ok, err := candidates.IncrementVoteCount(ctx, c.ID)
		if err != nil {
			return err
		}
		if !ok {
			// disqualified or withdrawn since the check above
			return errs.ErrCandidateNotEligible
		}
		tally, err = candidates.VoteCount(ctx, c.ID)
		return err
	})
	if err != nil {
		return nil, nil, 0, err
	}
	return e, vote, tally, nil
}

// ListByVoter returns the caller's own ballots.
func (b *BallotBox) ListByVoter(ctx context.Context, p authz.Principal) ([]models.Vote, error) {
	if err := authz.Require(p, authz.VoteViewOwn); err != nil {
		return nil, err
	}
	return b.Votes.ListByVoter(ctx, p.UserID)
}

func (b *BallotBox) ListByElection(ctx context.Context, p authz.Principal, electionID uint) ([]models.Vote, error) {
	if err := authz.Require(p, authz.VoteAudit); err != nil {
		return nil, err
	}
	if _, err := b.Elections.FindByID(ctx, electionID); err != nil {
		return nil, err
	}
	return b.Votes.ListByElection(ctx, electionID)
}

func (b *BallotBox) ListByCandidate(ctx context.Context, p authz.Principal, candidateID uint) ([]models.Vote, error) {
	if err := authz.Require(p, authz.VoteAudit); err != nil {
		return nil, err
	}
	if _, err := b.Candidates.FindByID(ctx, candidateID); err != nil {
		return nil, err
	}
	return b.Votes.ListByCandidate(ctx, candidateID)
}

// ListAll pages through every ballot. page starts at 1.
func (b *BallotBox) ListAll(ctx context.Context, p authz.Principal, page, limit int) ([]models.Vote, error) {
	if err := authz.Require(p, authz.VoteAudit); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return b.Votes.ListAll(ctx, (page-1)*limit, limit)
}

// VerifyTally compares every candidate's stored tally with the ballots that
// reference it. An empty result means they agree.
func (b *BallotBox) VerifyTally(ctx context.Context, p authz.Principal, electionID uint) ([]models.TallyDiscrepancy, error) {
	if err := authz.Require(p, authz.VoteAudit); err != nil {
		return nil, err
	}
	if _, err := b.Elections.FindByID(ctx, electionID); err != nil {
		return nil, err
	}
	candidates, err := b.Candidates.ListByElection(ctx, electionID)
	if err != nil {
		return nil, err
	}
	counted, err := b.Votes.CountsByCandidate(ctx, electionID)
	if err != nil {
		return nil, err
	}

	out := []models.TallyDiscrepancy{}
	for _, c := range candidates {
		if n := counted[c.ID]; n != c.VoteCount {
			out = append(out, models.TallyDiscrepancy{CandidateID: c.ID, Recorded: c.VoteCount, Counted: n})
		}
		delete(counted, c.ID)
	}
	// ballots pointing at a candidate that no longer exists
	for id, n := range counted {
		out = append(out, models.TallyDiscrepancy{CandidateID: id, Counted: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CandidateID < out[j].CandidateID })
	if len(out) > 0 {
		b.Logger.Warn("tally mismatch", zap.Uint("election_id", electionID), zap.Int("candidates", len(out)))
	}
	return out, nil
}
