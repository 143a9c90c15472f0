package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"campus-election-backend/authz"
	"campus-election-backend/errs"
	"campus-election-backend/models"
)

// SubmitInput is a candidacy request. An empty UserID means the caller.
type SubmitInput struct {
	ElectionID uint   `json:"election_id"`
	UserID     string `json:"user_id"`
	Position   string `json:"position"`
	models.CandidateDetails
}

// CandidatePatch edits the fields a candidate owns. Nil fields are left
// unchanged.
type CandidatePatch struct {
	Name        *string `json:"name"`
	Position    *string `json:"position"`
	Party       *string `json:"party"`
	Symbol      *string `json:"symbol"`
	Photo       *string `json:"photo"`
	Description *string `json:"description"`
	Manifesto   *string `json:"manifesto"`
}

// CandidacyGate controls who stands in which election and whether they may
// receive ballots.
type CandidacyGate struct {
	Deps
}

func NewCandidacyGate(d Deps) *CandidacyGate {
	return &CandidacyGate{Deps: d}
}

// Submit registers a pending candidacy.
func (s *CandidacyGate) Submit(ctx context.Context, p authz.Principal, in SubmitInput) (*models.Candidate, error) {
	c, err := s.submit(ctx, p, in)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "candidate.submit", models.EntityCandidate, 0, err))
		return nil, err
	}
	s.Dispatcher.Audit(auditSuccess(p, "candidate.submit", models.EntityCandidate, c.ID, fmt.Sprintf("%s for %s", c.Name, c.Position)))
	s.Dispatcher.Notify(models.Notification{
		Title:          "New candidacy to review",
		Message:        c.Name + " applied for " + c.Position + ".",
		Type:           models.NotificationCandidate,
		TargetAudience: models.AudienceAdmins,
		CreatedBy:      p.UserID,
		RelatedID:      c.ID,
	})
	return c, nil
}

func (s *CandidacyGate) submit(ctx context.Context, p authz.Principal, in SubmitInput) (*models.Candidate, error) {
	if err := authz.Require(p, authz.CandidateSubmit); err != nil {
		return nil, err
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = p.UserID
	}
	if userID != p.UserID && !p.IsAdmin() {
		return nil, errs.Forbidden("candidacies can only be submitted for yourself")
	}

	e, err := s.Elections.FindByID(ctx, in.ElectionID)
	if err != nil {
		return nil, err
	}
	position := strings.TrimSpace(in.Position)
	if !e.HasPosition(position) {
		return nil, errs.Validation("position %q is not part of this election", position)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errs.Validation("name is required")
	}
	if DeriveStatus(e, s.Clock.Now()) == models.StatusCompleted {
		return nil, errs.State("election has ended")
	}

	c := &models.Candidate{
		ElectionID:    e.ID,
		UserID:        userID,
		Name:          name,
		Position:      position,
		Party:         strings.TrimSpace(in.Party),
		Symbol:        in.Symbol,
		Photo:         in.Photo,
		Description:   in.Description,
		Manifesto:     in.Manifesto,
		ApprovalState: models.ApprovalPending,
	}
	if err := s.Candidates.Create(ctx, c); err != nil {
		return nil, err
	}
	s.Logger.Info("candidacy submitted",
		zap.Uint("candidate_id", c.ID), zap.Uint("election_id", e.ID), zap.String("user_id", userID))
	return c, nil
}

// Approve lets a candidate receive ballots.
func (s *CandidacyGate) Approve(ctx context.Context, p authz.Principal, id uint) (*models.Candidate, error) {
	c, changed, err := s.review(ctx, p, id, models.ApprovalApproved)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "candidate.approve", models.EntityCandidate, id, err))
		return nil, err
	}
	if changed {
		s.Dispatcher.Audit(auditSuccess(p, "candidate.approve", models.EntityCandidate, id, c.Name))
		s.Dispatcher.Notify(models.Notification{
			Title:          "Candidate approved",
			Message:        c.Name + " is standing for " + c.Position + ".",
			Type:           models.NotificationCandidate,
			TargetAudience: models.AudienceAll,
			CreatedBy:      p.UserID,
			RelatedID:      c.ID,
		})
	}
	return c, nil
}

// Disqualify stops a candidate from receiving further ballots. Ballots
// already cast and the tally are kept.
func (s *CandidacyGate) Disqualify(ctx context.Context, p authz.Principal, id uint) (*models.Candidate, error) {
	c, changed, err := s.review(ctx, p, id, models.ApprovalDisqualified)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "candidate.disqualify", models.EntityCandidate, id, err))
		return nil, err
	}
	if changed {
		s.Dispatcher.Audit(auditSuccess(p, "candidate.disqualify", models.EntityCandidate, id, c.Name))
	}
	return c, nil
}

func (s *CandidacyGate) review(ctx context.Context, p authz.Principal, id uint, target models.ApprovalState) (*models.Candidate, bool, error) {
	if err := authz.Require(p, authz.CandidateReview); err != nil {
		return nil, false, err
	}
	c, err := s.Candidates.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if c.ApprovalState == target {
		return c, false, nil
	}
	if err := s.Candidates.SetApprovalState(ctx, id, target); err != nil {
		return nil, false, err
	}
	c.ApprovalState = target
	return c, true, nil
}

// Withdraw removes userID's candidacy in an election. A candidacy that
// already received ballots stays.
func (s *CandidacyGate) Withdraw(ctx context.Context, p authz.Principal, userID string, electionID uint) error {
	c, err := s.withdraw(ctx, p, userID, electionID)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "candidate.withdraw", models.EntityCandidate, 0, err))
		return err
	}
	s.Dispatcher.Audit(auditSuccess(p, "candidate.withdraw", models.EntityCandidate, c.ID, fmt.Sprintf("election %d", electionID)))
	return nil
}

func (s *CandidacyGate) withdraw(ctx context.Context, p authz.Principal, userID string, electionID uint) (*models.Candidate, error) {
	if err := authz.RequireOwnerOr(p, userID, authz.CandidateReview); err != nil {
		return nil, err
	}
	c, err := s.Candidates.FindByUserAndElection(ctx, userID, electionID)
	if err != nil {
		return nil, err
	}
	if err := s.Candidates.Delete(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// Update edits the owner-controlled fields of a candidacy.
func (s *CandidacyGate) Update(ctx context.Context, p authz.Principal, id uint, patch CandidatePatch) (*models.Candidate, error) {
	c, err := s.update(ctx, p, id, patch)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "candidate.update", models.EntityCandidate, id, err))
		return nil, err
	}
	s.Dispatcher.Audit(auditSuccess(p, "candidate.update", models.EntityCandidate, id, c.Name))
	return c, nil
}

func (s *CandidacyGate) update(ctx context.Context, p authz.Principal, id uint, patch CandidatePatch) (*models.Candidate, error) {
	if !p.Authenticated() {
		return nil, errs.ErrUnauthenticated
	}
	c, err := s.Candidates.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireOwnerOr(p, c.UserID, authz.CandidateReview); err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, errs.Validation("name must not be blank")
		}
		c.Name = name
	}
	var moveTo string
	if patch.Position != nil {
		position := strings.TrimSpace(*patch.Position)
		if position != c.Position {
			e, err := s.Elections.FindByID(ctx, c.ElectionID)
			if err != nil {
				return nil, err
			}
			if !e.HasPosition(position) {
				return nil, errs.Validation("position %q is not part of this election", position)
			}
			if DeriveStatus(e, s.Clock.Now()) != models.StatusUpcoming {
				return nil, errs.State("position can only change before voting opens")
			}
			moveTo = position
		}
	}
	if patch.Party != nil {
		c.Party = strings.TrimSpace(*patch.Party)
	}
	if patch.Symbol != nil {
		c.Symbol = *patch.Symbol
	}
	if patch.Photo != nil {
		c.Photo = *patch.Photo
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.Manifesto != nil {
		c.Manifesto = *patch.Manifesto
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidates := s.Candidates.WithTx(tx)
		if moveTo != "" {
			// a changed position voids the earlier approval
			if err := candidates.Reposition(ctx, c.ID, moveTo); err != nil {
				return err
			}
		}
		return candidates.UpdateDetails(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	if moveTo != "" {
		c.Position = moveTo
		c.ApprovalState = models.ApprovalPending
	}
	return c, nil
}

// Delete removes a candidacy on an admin's behalf, under the same ballot
// guard as Withdraw.
func (s *CandidacyGate) Delete(ctx context.Context, p authz.Principal, id uint) error {
	err := authz.Require(p, authz.CandidateReview)
	if err == nil {
		err = s.Candidates.Delete(ctx, id)
	}
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "candidate.delete", models.EntityCandidate, id, err))
		return err
	}
	s.Dispatcher.Audit(auditSuccess(p, "candidate.delete", models.EntityCandidate, id, ""))
	return nil
}

func visibleStates(p authz.Principal, includeAll bool) []models.ApprovalState {
	if includeAll && authz.Can(p, authz.CandidateViewAll) {
		return nil
	}
	return []models.ApprovalState{models.ApprovalApproved}
}

// ListByElection returns an election's candidates in creation order. Only
// admins asking for includeAll see pending and disqualified ones.
func (s *CandidacyGate) ListByElection(ctx context.Context, p authz.Principal, electionID uint, includeAll bool) ([]models.Candidate, error) {
	if _, err := s.Elections.FindByID(ctx, electionID); err != nil {
		return nil, err
	}
	return s.Candidates.ListByElection(ctx, electionID, visibleStates(p, includeAll)...)
}

func (s *CandidacyGate) ListByElectionAndPosition(ctx context.Context, p authz.Principal, electionID uint, position string, includeAll bool) ([]models.Candidate, error) {
	e, err := s.Elections.FindByID(ctx, electionID)
	if err != nil {
		return nil, err
	}
	position = strings.TrimSpace(position)
	if !e.HasPosition(position) {
		return nil, errs.NotFound("position %q not found", position)
	}
	return s.Candidates.ListByElectionAndPosition(ctx, electionID, position, visibleStates(p, includeAll)...)
}

// ListByUser returns every candidacy of userID, in any state.
func (s *CandidacyGate) ListByUser(ctx context.Context, p authz.Principal, userID string) ([]models.Candidate, error) {
	if err := authz.RequireOwnerOr(p, userID, authz.CandidateViewAll); err != nil {
		return nil, err
	}
	return s.Candidates.ListByUser(ctx, userID)
}

// Search pages through approved candidates by name. page starts at 1.
func (s *CandidacyGate) Search(ctx context.Context, query string, page, limit int) ([]models.Candidate, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.Candidates.Search(ctx, query, (page-1)*limit, limit)
}

func (s *CandidacyGate) GetByID(ctx context.Context, id uint) (*models.Candidate, error) {
	return s.Candidates.FindByID(ctx, id)
}
