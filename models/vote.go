package models

import (
	"encoding/json"
	"time"
)

// Vote is an immutable ballot. The (voter_id, election_id) unique index is
// what makes a second ballot from the same voter impossible.
type Vote struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	VoterID     string    `gorm:"size:64;not null;uniqueIndex:idx_votes_voter_election,priority:1" json:"voter_id"`
	ElectionID  uint      `gorm:"not null;index;uniqueIndex:idx_votes_voter_election,priority:2" json:"election_id"`
	CandidateID uint      `gorm:"not null;index" json:"candidate_id"`
	CastAt      time.Time `gorm:"not null" json:"cast_at"`
}

// CandidateResult is one line of a position's tally.
type CandidateResult struct {
	CandidateID   uint          `json:"candidate_id"`
	Name          string        `json:"name"`
	Party         string        `json:"party,omitempty"`
	ApprovalState ApprovalState `json:"approval_state"`
	VoteCount     int64         `json:"vote_count"`
	Winner        bool          `json:"winner"`
}

// PositionResult groups the tally of one contested position.
type PositionResult struct {
	Position   string            `json:"position"`
	TotalVotes int64             `json:"total_votes"`
	Candidates []CandidateResult `json:"candidates"`
}

// ElectionResults is the aggregated outcome of an election.
type ElectionResults struct {
	ElectionID  uint             `json:"election_id"`
	Title       string           `json:"title"`
	Status      ElectionStatus   `json:"status"`
	Published   bool             `json:"published"`
	TotalVotes  int64            `json:"total_votes"`
	Positions   []PositionResult `json:"positions"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// TallyDiscrepancy reports a candidate whose cached count disagrees with
// the ballots that reference it.
type TallyDiscrepancy struct {
	CandidateID uint  `json:"candidate_id"`
	Recorded    int64 `json:"recorded"`
	Counted     int64 `json:"counted"`
}

// TallyUpdate is pushed to live subscribers after each accepted ballot.
type TallyUpdate struct {
	ElectionID  uint      `json:"election_id"`
	CandidateID uint      `json:"candidate_id"`
	VoteCount   int64     `json:"vote_count"`
	CastAt      time.Time `json:"cast_at"`
}

// WebSocketMessage is the envelope sent to live subscribers.
type WebSocketMessage struct {
	Type       string      `json:"type"`
	ElectionID uint        `json:"election_id"`
	Payload    interface{} `json:"payload"`
}

func (m *WebSocketMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
