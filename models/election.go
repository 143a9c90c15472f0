package models

import (
	"strings"
	"time"
)

// ElectionStatus is the derived lifecycle phase of an election.
type ElectionStatus string

const (
	StatusUpcoming  ElectionStatus = "upcoming"
	StatusOngoing   ElectionStatus = "ongoing"
	StatusCompleted ElectionStatus = "completed"
)

// Valid reports whether s names a lifecycle phase.
func (s ElectionStatus) Valid() bool {
	switch s {
	case StatusUpcoming, StatusOngoing, StatusCompleted:
		return true
	}
	return false
}

// Election is a time-boxed voting event spanning one or more positions.
// Status is never persisted; it is filled in from the start/end window and
// the early-close flag whenever an election leaves the registry.
type Election struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Title            string         `gorm:"size:200;not null;uniqueIndex:idx_elections_title" json:"title"`
	Description      string         `gorm:"type:text" json:"description"`
	StartTime        time.Time      `gorm:"not null;index" json:"start_time"`
	EndTime          time.Time      `gorm:"not null;index" json:"end_time"`
	Positions        []string       `gorm:"serializer:json;type:text;not null" json:"positions"`
	Eligibility      Eligibility    `gorm:"serializer:json;type:text" json:"eligibility"`
	ClosedEarly      bool           `gorm:"not null;default:false" json:"closed_early"`
	ResultsPublished bool           `gorm:"not null;default:false" json:"results_published"`
	CreatedBy        string         `gorm:"size:64" json:"created_by"`
	UpdatedBy        string         `gorm:"size:64" json:"updated_by,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Status           ElectionStatus `gorm:"-" json:"status"`
}

// HasPosition reports whether name is one of the election's positions.
func (e *Election) HasPosition(name string) bool {
	for _, p := range e.Positions {
		if p == name {
			return true
		}
	}
	return false
}

// Eligibility restricts who may vote. A zero criterion admits everyone.
type Eligibility struct {
	Faculty     string  `json:"faculty,omitempty"`
	YearOfStudy int     `json:"year_of_study,omitempty"`
	Course      string  `json:"course,omitempty"`
	MinGPA      float64 `json:"min_gpa,omitempty"`
}

// IsOpen reports whether no criterion is set.
func (e Eligibility) IsOpen() bool {
	return e == Eligibility{}
}

// Admits checks a voter profile against every set criterion.
func (e Eligibility) Admits(p VoterProfile) bool {
	if e.Faculty != "" && !strings.EqualFold(e.Faculty, p.Faculty) {
		return false
	}
	if e.YearOfStudy != 0 && e.YearOfStudy != p.YearOfStudy {
		return false
	}
	if e.Course != "" && !strings.EqualFold(e.Course, p.Course) {
		return false
	}
	if e.MinGPA > 0 && p.GPA < e.MinGPA {
		return false
	}
	return true
}

// VoterProfile carries the academic attributes the identity provider knows
// about a user.
type VoterProfile struct {
	Faculty     string  `json:"faculty,omitempty"`
	YearOfStudy int     `json:"year_of_study,omitempty"`
	Course      string  `json:"course,omitempty"`
	GPA         float64 `json:"gpa,omitempty"`
}

// StatusChange is pushed to live subscribers when an election moves to a
// new lifecycle phase.
type StatusChange struct {
	ElectionID uint           `json:"election_id"`
	From       ElectionStatus `json:"from"`
	To         ElectionStatus `json:"to"`
	At         time.Time      `json:"at"`
}
