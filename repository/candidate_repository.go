package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"campus-election-backend/database"
	"campus-election-backend/errs"
	"campus-election-backend/models"
)

// CandidateRepository persists candidacies and their tally column.
type CandidateRepository struct {
	db *gorm.DB
}

func NewCandidateRepository(db *gorm.DB) *CandidateRepository {
	return &CandidateRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *CandidateRepository) WithTx(tx *gorm.DB) *CandidateRepository {
	return &CandidateRepository{db: tx}
}

// Create inserts c. A second candidacy of the same user in the same
// election is a conflict.
func (r *CandidateRepository) Create(ctx context.Context, c *models.Candidate) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return errs.Wrap(errs.ErrAlreadyCandidate, err)
		}
		return fmt.Errorf("create candidate: %w", err)
	}
	return nil
}

func (r *CandidateRepository) FindByID(ctx context.Context, id uint) (*models.Candidate, error) {
	var c models.Candidate
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errs.ErrCandidateNotFound
		}
		return nil, fmt.Errorf("find candidate %d: %w", id, err)
	}
	return &c, nil
}

// FindByUserAndElection looks a candidacy up by both of its owners.
func (r *CandidateRepository) FindByUserAndElection(ctx context.Context, userID string, electionID uint) (*models.Candidate, error) {
	var c models.Candidate
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND election_id = ?", userID, electionID).
		First(&c).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, errs.ErrCandidateNotFound
		}
		return nil, fmt.Errorf("find candidacy of %s in election %d: %w", userID, electionID, err)
	}
	return &c, nil
}

// ListByElection returns candidates in creation order, optionally limited
// to the given approval states.
func (r *CandidateRepository) ListByElection(ctx context.Context, electionID uint, states ...models.ApprovalState) ([]models.Candidate, error) {
	return r.list(ctx, r.db.Where("election_id = ?", electionID), states)
}

func (r *CandidateRepository) ListByElectionAndPosition(ctx context.Context, electionID uint, position string, states ...models.ApprovalState) ([]models.Candidate, error) {
	return r.list(ctx, r.db.Where("election_id = ? AND position = ?", electionID, position), states)
}

func (r *CandidateRepository) ListByUser(ctx context.Context, userID string) ([]models.Candidate, error) {
	return r.list(ctx, r.db.Where("user_id = ?", userID), nil)
}

func (r *CandidateRepository) list(ctx context.Context, q *gorm.DB, states []models.ApprovalState) ([]models.Candidate, error) {
	if len(states) > 0 {
		q = q.Where("approval_state IN ?", states)
	}
	var out []models.Candidate
	if err := q.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return out, nil
}

// Search pages through approved candidates whose name contains query.
func (r *CandidateRepository) Search(ctx context.Context, query string, offset, limit int) ([]models.Candidate, error) {
	q := r.db.WithContext(ctx).Where("approval_state = ?", models.ApprovalApproved)
	if s := strings.TrimSpace(query); s != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	var out []models.Candidate
	if err := q.Order("id ASC").Offset(offset).Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}
	return out, nil
}

// ListForResults returns approved and disqualified candidates ordered by
// tally, ties broken by creation order.
func (r *CandidateRepository) ListForResults(ctx context.Context, electionID uint) ([]models.Candidate, error) {
	var out []models.Candidate
	err := r.db.WithContext(ctx).
		Where("election_id = ? AND approval_state IN ?", electionID,
			[]models.ApprovalState{models.ApprovalApproved, models.ApprovalDisqualified}).
		Order("vote_count DESC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list results of election %d: %w", electionID, err)
	}
	return out, nil
}

// UpdateDetails writes the owner-editable columns. Position is left alone;
// moving a candidacy goes through Reposition.
func (r *CandidateRepository) UpdateDetails(ctx context.Context, c *models.Candidate) error {
	err := r.db.WithContext(ctx).Model(c).Select(
		"name", "party", "symbol", "photo", "description", "manifesto", "updated_at",
	).Updates(c).Error
	if err != nil {
		return fmt.Errorf("update candidate %d: %w", c.ID, err)
	}
	return nil
}

// Reposition moves a candidacy that has not received any ballot to another
// position and sends it back for review. Like Delete, the tally check and
// the write are one statement.
func (r *CandidateRepository) Reposition(ctx context.Context, id uint, position string) error {
	res := r.db.WithContext(ctx).Model(&models.Candidate{}).
		Where("id = ? AND vote_count = ?", id, 0).
		Updates(map[string]interface{}{
			"position":       position,
			"approval_state": models.ApprovalPending,
		})
	if res.Error != nil {
		return fmt.Errorf("reposition candidate %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return errs.ErrCandidateHasVotes
	}
	return nil
}

// SetApprovalState changes only the approval column; vote_count is left
// as it is.
func (r *CandidateRepository) SetApprovalState(ctx context.Context, id uint, state models.ApprovalState) error {
	res := r.db.WithContext(ctx).Model(&models.Candidate{}).Where("id = ?", id).Update("approval_state", state)
	if res.Error != nil {
		return fmt.Errorf("set approval state of candidate %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return errs.ErrCandidateNotFound
	}
	return nil
}

// IncrementVoteCount atomically adds one ballot to an approved candidate.
// It reports false when the candidate is missing or no longer approved.
func (r *CandidateRepository) IncrementVoteCount(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Candidate{}).
		Where("id = ? AND approval_state = ?", id, models.ApprovalApproved).
		UpdateColumn("vote_count", gorm.Expr("vote_count + ?", 1))
	if res.Error != nil {
		return false, fmt.Errorf("increment tally of candidate %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// VoteCount re-reads the cached tally.
func (r *CandidateRepository) VoteCount(ctx context.Context, id uint) (int64, error) {
	var c models.Candidate
	if err := r.db.WithContext(ctx).Select("vote_count").First(&c, id).Error; err != nil {
		return 0, fmt.Errorf("read tally of candidate %d: %w", id, err)
	}
	return c.VoteCount, nil
}

// CountByPosition counts candidacies holding position in an election.
func (r *CandidateRepository) CountByPosition(ctx context.Context, electionID uint, position string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Candidate{}).
		Where("election_id = ? AND position = ?", electionID, position).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count candidates for %q: %w", position, err)
	}
	return n, nil
}

// Delete removes a candidacy that has not received any ballot. The check
// and the delete are one statement: a ballot committed first blocks the
// delete, a ballot committed later finds no row to increment.
func (r *CandidateRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Where("vote_count = ?", 0).Delete(&models.Candidate{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete candidate %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return errs.ErrCandidateHasVotes
	}
	return nil
}
