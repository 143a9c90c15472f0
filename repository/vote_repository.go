package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"campus-election-backend/database"
	"campus-election-backend/errs"
	"campus-election-backend/models"
)

// VoteRepository stores ballots. There is no update or delete path.
type VoteRepository struct {
	db *gorm.DB
}

func NewVoteRepository(db *gorm.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *VoteRepository) WithTx(tx *gorm.DB) *VoteRepository {
	return &VoteRepository{db: tx}
}

// Insert stores v. The (voter_id, election_id) unique index is the only
// double-vote check: a violation comes back as ErrAlreadyVoted.
func (r *VoteRepository) Insert(ctx context.Context, v *models.Vote) error {
	if err := r.db.WithContext(ctx).Create(v).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return errs.Wrap(errs.ErrAlreadyVoted, err)
		}
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

func (r *VoteRepository) ListByVoter(ctx context.Context, voterID string) ([]models.Vote, error) {
	return r.list(ctx, r.db.Where("voter_id = ?", voterID))
}

func (r *VoteRepository) ListByElection(ctx context.Context, electionID uint) ([]models.Vote, error) {
	return r.list(ctx, r.db.Where("election_id = ?", electionID))
}

func (r *VoteRepository) ListByCandidate(ctx context.Context, candidateID uint) ([]models.Vote, error) {
	return r.list(ctx, r.db.Where("candidate_id = ?", candidateID))
}

// ListAll pages through every ballot in cast order.
func (r *VoteRepository) ListAll(ctx context.Context, offset, limit int) ([]models.Vote, error) {
	return r.list(ctx, r.db.Offset(offset).Limit(limit))
}

func (r *VoteRepository) list(ctx context.Context, q *gorm.DB) ([]models.Vote, error) {
	var out []models.Vote
	if err := q.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	return out, nil
}

// CountByElection counts ballots cast in an election.
func (r *VoteRepository) CountByElection(ctx context.Context, electionID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Vote{}).Where("election_id = ?", electionID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count votes of election %d: %w", electionID, err)
	}
	return n, nil
}

// CountByCandidate counts ballots referencing a candidate.
func (r *VoteRepository) CountByCandidate(ctx context.Context, candidateID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Vote{}).Where("candidate_id = ?", candidateID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count votes of candidate %d: %w", candidateID, err)
	}
	return n, nil
}

type candidateCount struct {
	CandidateID uint
	Total       int64
}

// CountsByCandidate returns the live ballot count per candidate of an
// election.
func (r *VoteRepository) CountsByCandidate(ctx context.Context, electionID uint) (map[uint]int64, error) {
	var rows []candidateCount
	err := r.db.WithContext(ctx).Model(&models.Vote{}).
		Select("candidate_id, COUNT(*) AS total").
		Where("election_id = ?", electionID).
		Group("candidate_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate votes of election %d: %w", electionID, err)
	}
	out := make(map[uint]int64, len(rows))
	for _, row := range rows {
		out[row.CandidateID] = row.Total
	}
	return out, nil
}
