package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"campus-election-backend/database"
	"campus-election-backend/errs"
	"campus-election-backend/models"
)

// NotificationRepository persists notifications and per-user read marks.
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Notify stores a notification.
func (r *NotificationRepository) Notify(ctx context.Context, n models.Notification) error {
	return r.Create(ctx, &n)
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.TargetAudience == "" {
		n.TargetAudience = models.AudienceAll
	}
	if n.Type == "" {
		n.Type = models.NotificationGeneral
	}
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// List returns notifications addressed to any of audiences (all when
// empty), newest first, with Read set for userID.
func (r *NotificationRepository) List(ctx context.Context, audiences []string, userID string) ([]models.Notification, error) {
	q := r.db.WithContext(ctx).Model(&models.Notification{})
	if len(audiences) > 0 {
		q = q.Where("target_audience IN ?", audiences)
	}

	var out []models.Notification
	if err := q.Order("id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if len(out) == 0 || userID == "" {
		return out, nil
	}

	ids := make([]uint, len(out))
	for i, n := range out {
		ids[i] = n.ID
	}
	var readIDs []uint
	err := r.db.WithContext(ctx).Model(&models.NotificationRead{}).
		Where("user_id = ? AND notification_id IN ?", userID, ids).
		Pluck("notification_id", &readIDs).Error
	if err != nil {
		return nil, fmt.Errorf("load read marks: %w", err)
	}
	read := make(map[uint]bool, len(readIDs))
	for _, id := range readIDs {
		read[id] = true
	}
	for i := range out {
		out[i].Read = read[out[i].ID]
	}
	return out, nil
}

func (r *NotificationRepository) FindByID(ctx context.Context, id uint) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.WithContext(ctx).First(&n, id).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, errs.NotFound("notification not found")
		}
		return nil, fmt.Errorf("find notification %d: %w", id, err)
	}
	return &n, nil
}

// MarkRead records that userID has read the notification. Repeating it is
// harmless.
func (r *NotificationRepository) MarkRead(ctx context.Context, id uint, userID string) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.NotificationRead{NotificationID: id, UserID: userID}).Error
	if err != nil {
		return fmt.Errorf("mark notification %d read: %w", id, err)
	}
	return nil
}

func (r *NotificationRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("notification_id = ?", id).Delete(&models.NotificationRead{}).Error; err != nil {
			return fmt.Errorf("delete read marks: %w", err)
		}
		res := tx.Delete(&models.Notification{}, id)
		if res.Error != nil {
			return fmt.Errorf("delete notification %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.NotFound("notification not found")
		}
		return nil
	})
}
