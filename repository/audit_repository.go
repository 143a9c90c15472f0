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

// AuditFilter narrows List. Zero fields match everything.
type AuditFilter struct {
	Action     string
	EntityType string
	Query      string
	Offset     int
	Limit      int
}

// AuditRepository persists audit records.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record stores one audit entry.
func (r *AuditRepository) Record(ctx context.Context, entry models.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, f AuditFilter) ([]models.AuditLog, error) {
	q := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if s := strings.TrimSpace(f.Query); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("(LOWER(details) LIKE ? OR LOWER(actor) LIKE ? OR LOWER(error_message) LIKE ?)", like, like, like)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	var out []models.AuditLog
	if err := q.Order("id DESC").Offset(f.Offset).Limit(f.Limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return out, nil
}

func (r *AuditRepository) FindByID(ctx context.Context, id uint) (*models.AuditLog, error) {
	var entry models.AuditLog
	if err := r.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errs.NotFound("audit entry not found")
		}
		return nil, fmt.Errorf("find audit entry %d: %w", id, err)
	}
	return &entry, nil
}
