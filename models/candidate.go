package models

import "time"

// ApprovalState is a candidate's place in the review workflow.
type ApprovalState string

const (
	ApprovalPending      ApprovalState = "pending"
	ApprovalApproved     ApprovalState = "approved"
	ApprovalDisqualified ApprovalState = "disqualified"
)

// Candidate is a user's participation for one position in one election.
// VoteCount is a projection of the votes referencing this candidate and is
// only ever changed by an atomic increment inside the vote transaction.
type Candidate struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	ElectionID    uint          `gorm:"not null;index;uniqueIndex:idx_candidates_user_election,priority:2" json:"election_id"`
	UserID        string        `gorm:"size:64;not null;uniqueIndex:idx_candidates_user_election,priority:1" json:"user_id"`
	Name          string        `gorm:"size:200;not null" json:"name"`
	Position      string        `gorm:"size:100;not null;index" json:"position"`
	Party         string        `gorm:"size:200" json:"party,omitempty"`
	Symbol        string        `gorm:"size:255" json:"symbol,omitempty"`
	Photo         string        `gorm:"size:255" json:"photo,omitempty"`
	Description   string        `gorm:"type:text" json:"description,omitempty"`
	Manifesto     string        `gorm:"type:text" json:"manifesto,omitempty"`
	ApprovalState ApprovalState `gorm:"size:16;not null;index" json:"approval_state"`
	VoteCount     int64         `gorm:"not null;default:0" json:"vote_count"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// CandidateDetails are the free-form fields a candidate owns.
type CandidateDetails struct {
	Name        string `json:"name"`
	Party       string `json:"party,omitempty"`
	Symbol      string `json:"symbol,omitempty"`
	Photo       string `json:"photo,omitempty"`
	Description string `json:"description,omitempty"`
	Manifesto   string `json:"manifesto,omitempty"`
}
