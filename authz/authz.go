// Package authz is the single place where roles are compared. Every command
// asks Require (or RequireOwnerOr) before touching the store.
package authz

import (
	"campus-election-backend/errs"
	"campus-election-backend/models"
)

// Role of an authenticated user.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// Principal is the authenticated caller as supplied by the identity provider.
type Principal struct {
	UserID  string              `json:"user_id"`
	Role    Role                `json:"role"`
	Profile models.VoterProfile `json:"profile"`
}

// Authenticated reports whether p carries an identity.
func (p Principal) Authenticated() bool {
	return p.UserID != "" && p.Role.Valid()
}

// IsAdmin reports whether p holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Authenticated() && p.Role == RoleAdmin
}

// Action is a capability checked by Require.
type Action string

const (
	ElectionManage     Action = "election:manage"
	ElectionView       Action = "election:view"
	CandidateSubmit    Action = "candidate:submit"
	CandidateReview    Action = "candidate:review"
	CandidateViewAll   Action = "candidate:view-all"
	VoteCast           Action = "vote:cast"
	VoteViewOwn        Action = "vote:view-own"
	VoteAudit          Action = "vote:audit"
	ResultsView        Action = "results:view"
	ResultsLive        Action = "results:live"
	NotificationRead   Action = "notification:read"
	NotificationManage Action = "notification:manage"
	AuditView          Action = "audit:view"
)

var capabilities = map[Action][]Role{
	ElectionManage:     {RoleAdmin},
	ElectionView:       {RoleStudent, RoleAdmin},
	CandidateSubmit:    {RoleStudent, RoleAdmin},
	CandidateReview:    {RoleAdmin},
	CandidateViewAll:   {RoleAdmin},
	VoteCast:           {RoleStudent},
	VoteViewOwn:        {RoleStudent, RoleAdmin},
	VoteAudit:          {RoleAdmin},
	ResultsView:        {RoleStudent, RoleAdmin},
	ResultsLive:        {RoleAdmin},
	NotificationRead:   {RoleStudent, RoleAdmin},
	NotificationManage: {RoleAdmin},
	AuditView:          {RoleAdmin},
}

// public actions need no identity. Results stay hidden until published;
// ResultsPublisher enforces that.
var public = map[Action]bool{
	ElectionView: true,
	ResultsView:  true,
}

// Can reports whether p may perform a.
func Can(p Principal, a Action) bool {
	if public[a] {
		return true
	}
	if !p.Authenticated() {
		return false
	}
	for _, r := range capabilities[a] {
		if r == p.Role {
			return true
		}
	}
	return false
}

// Require returns a forbidden error unless p may perform a.
func Require(p Principal, a Action) error {
	if public[a] {
		return nil
	}
	if !p.Authenticated() {
		return errs.ErrUnauthenticated
	}
	if !Can(p, a) {
		return errs.Forbidden("role %s may not %s", p.Role, a)
	}
	return nil
}

// RequireOwnerOr passes when p owns the resource, otherwise falls back to
// the capability check for a.
func RequireOwnerOr(p Principal, ownerID string, a Action) error {
	if !p.Authenticated() {
		return errs.ErrUnauthenticated
	}
	if ownerID != "" && p.UserID == ownerID {
		return nil
	}
	return Require(p, a)
}
