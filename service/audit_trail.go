package service

import (
	"context"

	"campus-election-backend/authz"
	"campus-election-backend/models"
	"campus-election-backend/repository"
)

// AuditTrail exposes recorded commands to admins.
type AuditTrail struct {
	Deps
}

func NewAuditTrail(d Deps) *AuditTrail {
	return &AuditTrail{Deps: d}
}

// List returns matching entries, newest first. page starts at 1.
func (s *AuditTrail) List(ctx context.Context, p authz.Principal, f repository.AuditFilter, page int) ([]models.AuditLog, error) {
	if err := authz.Require(p, authz.AuditView); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if f.Limit < 1 || f.Limit > 500 {
		f.Limit = 100
	}
	f.Offset = (page - 1) * f.Limit
	return s.Audits.List(ctx, f)
}

func (s *AuditTrail) Get(ctx context.Context, p authz.Principal, id uint) (*models.AuditLog, error) {
	if err := authz.Require(p, authz.AuditView); err != nil {
		return nil, err
	}
	return s.Audits.FindByID(ctx, id)
}
