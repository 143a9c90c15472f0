package models

import "gorm.io/gorm"

// Outcome of an audited command.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Audited entity types.
const (
	EntityElection     = "election"
	EntityCandidate    = "candidate"
	EntityVote         = "vote"
	EntityNotification = "notification"
)

// AuditLog records one mutating command.
type AuditLog struct {
	gorm.Model
	Actor        string `gorm:"size:64;index" json:"actor"`
	Role         string `gorm:"size:16" json:"role"`
	Action       string `gorm:"size:64;not null;index" json:"action"`
	EntityType   string `gorm:"size:32;index" json:"entity_type"`
	EntityID     uint   `gorm:"index" json:"entity_id"`
	Details      string `gorm:"type:text" json:"details,omitempty"`
	Outcome      string `gorm:"size:16;not null" json:"outcome"`
	ErrorKind    string `gorm:"size:32" json:"error_kind,omitempty"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`
	IPAddress    string `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent    string `gorm:"size:255" json:"user_agent,omitempty"`
}

// Notification types.
const (
	NotificationElection  = "election"
	NotificationVote      = "vote"
	NotificationCandidate = "candidate"
	NotificationGeneral   = "general"
)

// Notification audiences.
const (
	AudienceAll      = "all"
	AudienceStudents = "students"
	AudienceAdmins   = "admins"
)

// Notification is a broadcast message to a class of users.
type Notification struct {
	gorm.Model
	Title          string `gorm:"size:200;not null" json:"title"`
	Message        string `gorm:"type:text;not null" json:"message"`
	Type           string `gorm:"size:16;not null;index" json:"type"`
	TargetAudience string `gorm:"size:16;not null;index" json:"target_audience"`
	CreatedBy      string `gorm:"size:64" json:"created_by"`
	RelatedID      uint   `gorm:"index" json:"related_id,omitempty"`
	Read           bool   `gorm:"-" json:"read"`
}

// NotificationRead marks a notification as read by one user.
type NotificationRead struct {
	ID             uint   `gorm:"primaryKey"`
	NotificationID uint   `gorm:"not null;uniqueIndex:idx_notification_reads_user,priority:1"`
	UserID         string `gorm:"size:64;not null;uniqueIndex:idx_notification_reads_user,priority:2"`
}
