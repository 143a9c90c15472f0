package service

import (
	"context"

	"campus-election-backend/authz"
	"campus-election-backend/errs"
	"campus-election-backend/models"
)

// ResultsPublisher aggregates the stored tallies of an election.
type ResultsPublisher struct {
	Deps
}

func NewResultsPublisher(d Deps) *ResultsPublisher {
	return &ResultsPublisher{Deps: d}
}

// GetResults returns the outcome of an election once its results have been
// published.
func (s *ResultsPublisher) GetResults(ctx context.Context, electionID uint) (*models.ElectionResults, error) {
	e, err := s.Elections.FindByID(ctx, electionID)
	if err != nil {
		return nil, err
	}
	if !e.ResultsPublished {
		return nil, errs.ErrResultsNotPublished
	}
	return s.build(ctx, e)
}

// LiveTally returns the same aggregate at any time, for admins.
func (s *ResultsPublisher) LiveTally(ctx context.Context, p authz.Principal, electionID uint) (*models.ElectionResults, error) {
	if err := authz.Require(p, authz.ResultsLive); err != nil {
		return nil, err
	}
	e, err := s.Elections.FindByID(ctx, electionID)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, e)
}

func (s *ResultsPublisher) build(ctx context.Context, e *models.Election) (*models.ElectionResults, error) {
	// already sorted by vote_count DESC, id ASC
	candidates, err := s.Candidates.ListForResults(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	byPosition := make(map[string][]models.Candidate, len(e.Positions))
	order := append([]string(nil), e.Positions...)
	for _, c := range candidates {
		if _, ok := byPosition[c.Position]; !ok && !e.HasPosition(c.Position) {
			order = append(order, c.Position)
		}
		byPosition[c.Position] = append(byPosition[c.Position], c)
	}

	now := s.Clock.Now()
	res := &models.ElectionResults{
		ElectionID:  e.ID,
		Title:       e.Title,
		Status:      DeriveStatus(e, now),
		Published:   e.ResultsPublished,
		Positions:   make([]models.PositionResult, 0, len(order)),
		GeneratedAt: now,
	}
	for _, position := range order {
		pr := positionResult(position, byPosition[position])
		res.TotalVotes += pr.TotalVotes
		res.Positions = append(res.Positions, pr)
	}
	return res, nil
}

// positionResult flags every approved candidate sharing the highest
// non-zero count as a winner.
func positionResult(position string, candidates []models.Candidate) models.PositionResult {
	pr := models.PositionResult{
		Position:   position,
		Candidates: make([]models.CandidateResult, 0, len(candidates)),
	}

	var top int64
	for _, c := range candidates {
		pr.TotalVotes += c.VoteCount
		if c.ApprovalState == models.ApprovalApproved && c.VoteCount > top {
			top = c.VoteCount
		}
	}
	for _, c := range candidates {
		pr.Candidates = append(pr.Candidates, models.CandidateResult{
			CandidateID:   c.ID,
			Name:          c.Name,
			Party:         c.Party,
			ApprovalState: c.ApprovalState,
			VoteCount:     c.VoteCount,
			Winner:        top > 0 && c.ApprovalState == models.ApprovalApproved && c.VoteCount == top,
		})
	}
	return pr
}
