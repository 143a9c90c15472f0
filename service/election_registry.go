package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"campus-election-backend/authz"
	"campus-election-backend/errs"
	"campus-election-backend/models"
	"campus-election-backend/repository"
)

// ElectionInput is the payload of Create.
type ElectionInput struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	Positions   []string           `json:"positions"`
	Eligibility models.Eligibility `json:"eligibility"`
}

// ElectionPatch is a partial update. Nil fields are left unchanged.
type ElectionPatch struct {
	Title       *string             `json:"title"`
	Description *string             `json:"description"`
	StartTime   *time.Time          `json:"start_time"`
	EndTime     *time.Time          `json:"end_time"`
	Eligibility *models.Eligibility `json:"eligibility"`
}

// ListFilter narrows List. Zero fields match everything.
type ListFilter struct {
	Status models.ElectionStatus
	Query  string
}

// ElectionRegistry owns election definitions and their lifecycle flags.
type ElectionRegistry struct {
	Deps
}

func NewElectionRegistry(d Deps) *ElectionRegistry {
	return &ElectionRegistry{Deps: d}
}

func (s *ElectionRegistry) withStatus(e *models.Election) *models.Election {
	e.Status = DeriveStatus(e, s.Clock.Now())
	return e
}

// normalizePositions trims names and drops duplicates, keeping first
// occurrence order.
func normalizePositions(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, errs.Validation("at least one position is required")
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, errs.Validation("position names must not be blank")
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

func validateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return errs.Validation("start_time and end_time are required")
	}
	if !end.After(start) {
		return errs.Validation("end_time must be after start_time")
	}
	return nil
}

// Create defines a new election.
func (s *ElectionRegistry) Create(ctx context.Context, p authz.Principal, in ElectionInput) (*models.Election, error) {
	e, err := s.create(ctx, p, in)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "election.create", models.EntityElection, 0, err))
		return nil, err
	}
	s.Dispatcher.Audit(auditSuccess(p, "election.create", models.EntityElection, e.ID, e.Title))
	s.Dispatcher.Notify(models.Notification{
		Title:          "New election: " + e.Title,
		Message:        "Voting opens " + e.StartTime.Format(time.RFC1123) + ".",
		Type:           models.NotificationElection,
		TargetAudience: models.AudienceAll,
		CreatedBy:      p.UserID,
		RelatedID:      e.ID,
	})
	return e, nil
}

func (s *ElectionRegistry) create(ctx context.Context, p authz.Principal, in ElectionInput) (*models.Election, error) {
	if err := authz.Require(p, authz.ElectionManage); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errs.Validation("title is required")
	}
	if err := validateWindow(in.StartTime, in.EndTime); err != nil {
		return nil, err
	}
	positions, err := normalizePositions(in.Positions)
	if err != nil {
		return nil, err
	}

	taken, err := s.Elections.TitleTaken(ctx, title, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, errs.ErrTitleTaken
	}

	e := &models.Election{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Positions:   positions,
		Eligibility: in.Eligibility,
		CreatedBy:   p.UserID,
	}
	// the unique index still catches a concurrent create with the same title
	if err := s.Elections.Create(ctx, e); err != nil {
		return nil, err
	}
	s.Logger.Info("election created", zap.Uint("election_id", e.ID), zap.String("title", e.Title))
	return s.withStatus(e), nil
}

// GetByID returns an election with its derived status.
func (s *ElectionRegistry) GetByID(ctx context.Context, id uint) (*models.Election, error) {
	e, err := s.Elections.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withStatus(e), nil
}

// List returns elections matching f, newest window first.
func (s *ElectionRegistry) List(ctx context.Context, f ListFilter) ([]models.Election, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, errs.Validation("unknown status %q", f.Status)
	}
	all, err := s.Elections.List(ctx, repository.ElectionFilter{Query: f.Query})
	if err != nil {
		return nil, err
	}

	out := make([]models.Election, 0, len(all))
	for i := range all {
		e := s.withStatus(&all[i])
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// Update applies a partial update.
func (s *ElectionRegistry) Update(ctx context.Context, p authz.Principal, id uint, patch ElectionPatch) (*models.Election, error) {
	e, err := s.update(ctx, p, id, patch)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "election.update", models.EntityElection, id, err))
		return nil, err
	}
	s.Dispatcher.Audit(auditSuccess(p, "election.update", models.EntityElection, id, e.Title))
	return e, nil
}

func (s *ElectionRegistry) update(ctx context.Context, p authz.Principal, id uint, patch ElectionPatch) (*models.Election, error) {
	if err := authz.Require(p, authz.ElectionManage); err != nil {
		return nil, err
	}
	e, err := s.Elections.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, errs.Validation("title must not be blank")
		}
		if title != e.Title {
			taken, err := s.Elections.TitleTaken(ctx, title, e.ID)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, errs.ErrTitleTaken
			}
			e.Title = title
		}
	}
	if patch.Description != nil {
		e.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Eligibility != nil {
		e.Eligibility = *patch.Eligibility
	}

	start, end := e.StartTime, e.EndTime
	if patch.StartTime != nil {
		start = *patch.StartTime
	}
	if patch.EndTime != nil {
		end = *patch.EndTime
	}
	if !start.Equal(e.StartTime) || !end.Equal(e.EndTime) {
		if err := validateWindow(start, end); err != nil {
			return nil, err
		}
		votes, err := s.Votes.CountByElection(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if votes > 0 {
			return nil, errs.State("voting window cannot change after ballots were cast")
		}
		e.StartTime, e.EndTime = start, end
	}

	e.UpdatedBy = p.UserID
	if err := s.Elections.Save(ctx, e); err != nil {
		return nil, err
	}
	return s.withStatus(e), nil
}

// Delete removes an election that has no ballots, with its candidacies.
func (s *ElectionRegistry) Delete(ctx context.Context, p authz.Principal, id uint) error {
	err := s.delete(ctx, p, id)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "election.delete", models.EntityElection, id, err))
		return err
	}
	s.Dispatcher.Audit(auditSuccess(p, "election.delete", models.EntityElection, id, ""))
	return nil
}

func (s *ElectionRegistry) delete(ctx context.Context, p authz.Principal, id uint) error {
	if err := authz.Require(p, authz.ElectionManage); err != nil {
		return err
	}
	if _, err := s.Elections.FindByID(ctx, id); err != nil {
		return err
	}
	votes, err := s.Votes.CountByElection(ctx, id)
	if err != nil {
		return err
	}
	if votes > 0 {
		return errs.State("election with cast ballots cannot be deleted")
	}
	return s.Elections.Delete(ctx, id)
}

// AddPosition appends a position to the election.
func (s *ElectionRegistry) AddPosition(ctx context.Context, p authz.Principal, id uint, name string) (*models.Election, error) {
	e, err := s.addPosition(ctx, p, id, name)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "election.position.add", models.EntityElection, id, err))
		return nil, err
	}
	s.Dispatcher.Audit(auditSuccess(p, "election.position.add", models.EntityElection, id, strings.TrimSpace(name)))
	return e, nil
}

func (s *ElectionRegistry) addPosition(ctx context.Context, p authz.Principal, id uint, name string) (*models.Election, error) {
	if err := authz.Require(p, authz.ElectionManage); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.Validation("position name is required")
	}
	e, err := s.Elections.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.HasPosition(name) {
		return nil, errs.Conflict("position %q already exists", name)
	}

	e.Positions = append(e.Positions, name)
	e.UpdatedBy = p.UserID
	if err := s.Elections.Save(ctx, e); err != nil {
		return nil, err
	}
	return s.withStatus(e), nil
}

// RemovePosition drops a position nobody is running for. Removing a
// position that does not exist succeeds without a change.
func (s *ElectionRegistry) RemovePosition(ctx context.Context, p authz.Principal, id uint, name string) (*models.Election, error) {
	e, err := s.removePosition(ctx, p, id, name)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "election.position.remove", models.EntityElection, id, err))
		return nil, err
	}
	s.Dispatcher.Audit(auditSuccess(p, "election.position.remove", models.EntityElection, id, strings.TrimSpace(name)))
	return e, nil
}

func (s *ElectionRegistry) removePosition(ctx context.Context, p authz.Principal, id uint, name string) (*models.Election, error) {
	if err := authz.Require(p, authz.ElectionManage); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	e, err := s.Elections.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.HasPosition(name) {
		return s.withStatus(e), nil
	}
	if len(e.Positions) == 1 {
		return nil, errs.Validation("an election needs at least one position")
	}
	held, err := s.Candidates.CountByPosition(ctx, id, name)
	if err != nil {
		return nil, err
	}
	if held > 0 {
		return nil, errs.Conflict("position %q still has candidates", name)
	}

	kept := make([]string, 0, len(e.Positions)-1)
	for _, pos := range e.Positions {
		if pos != name {
			kept = append(kept, pos)
		}
	}
	e.Positions = kept
	e.UpdatedBy = p.UserID
	if err := s.Elections.Save(ctx, e); err != nil {
		return nil, err
	}
	return s.withStatus(e), nil
}

// Close ends voting immediately. Closing twice is not an error.
func (s *ElectionRegistry) Close(ctx context.Context, p authz.Principal, id uint) (*models.Election, error) {
	e, changed, err := s.setFlag(ctx, p, id, "closed_early")
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "election.close", models.EntityElection, id, err))
		return nil, err
	}
	if changed {
		s.Dispatcher.Audit(auditSuccess(p, "election.close", models.EntityElection, id, ""))
		s.Dispatcher.Notify(models.Notification{
			Title:          "Election closed: " + e.Title,
			Message:        "Voting has ended.",
			Type:           models.NotificationElection,
			TargetAudience: models.AudienceAll,
			CreatedBy:      p.UserID,
			RelatedID:      e.ID,
		})
	}
	return e, nil
}

// PublishResults makes results visible. Publishing twice is not an error.
func (s *ElectionRegistry) PublishResults(ctx context.Context, p authz.Principal, id uint) (*models.Election, error) {
	e, changed, err := s.setFlag(ctx, p, id, "results_published")
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "election.publish", models.EntityElection, id, err))
		return nil, err
	}
	if changed {
		s.Dispatcher.Audit(auditSuccess(p, "election.publish", models.EntityElection, id, ""))
		s.Dispatcher.Notify(models.Notification{
			Title:          "Results published: " + e.Title,
			Message:        "Final results are now available.",
			Type:           models.NotificationElection,
			TargetAudience: models.AudienceAll,
			CreatedBy:      p.UserID,
			RelatedID:      e.ID,
		})
	}
	return e, nil
}

func (s *ElectionRegistry) setFlag(ctx context.Context, p authz.Principal, id uint, column string) (*models.Election, bool, error) {
	if err := authz.Require(p, authz.ElectionManage); err != nil {
		return nil, false, err
	}
	e, err := s.Elections.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	already := e.ClosedEarly
	if column == "results_published" {
		already = e.ResultsPublished
	}
	if already {
		return s.withStatus(e), false, nil
	}

	if err := s.Elections.SetFlag(ctx, id, column, p.UserID); err != nil {
		return nil, false, err
	}
	if column == "closed_early" {
		e.ClosedEarly = true
	} else {
		e.ResultsPublished = true
	}
	e.UpdatedBy = p.UserID
	return s.withStatus(e), true, nil
}
