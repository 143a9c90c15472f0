package service

import (
	"context"
	"strings"

	"campus-election-backend/authz"
	"campus-election-backend/errs"
	"campus-election-backend/models"
)

// NotificationInput is the payload of Post.
type NotificationInput struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	Type           string `json:"type"`
	TargetAudience string `json:"target_audience"`
	RelatedID      uint   `json:"related_id"`
}

// NoticeBoard serves notifications to their audiences.
type NoticeBoard struct {
	Deps
}

func NewNoticeBoard(d Deps) *NoticeBoard {
	return &NoticeBoard{Deps: d}
}

// audiences lists what p may read; nil means everything.
func audiences(p authz.Principal) []string {
	if p.IsAdmin() {
		return nil
	}
	return []string{models.AudienceAll, models.AudienceStudents}
}

func visibleTo(p authz.Principal, n *models.Notification) bool {
	allowed := audiences(p)
	if allowed == nil {
		return true
	}
	for _, a := range allowed {
		if n.TargetAudience == a {
			return true
		}
	}
	return false
}

// List returns the notifications addressed to p, newest first, each with
// p's read flag.
func (s *NoticeBoard) List(ctx context.Context, p authz.Principal) ([]models.Notification, error) {
	if err := authz.Require(p, authz.NotificationRead); err != nil {
		return nil, err
	}
	return s.Notifications.List(ctx, audiences(p), p.UserID)
}

func (s *NoticeBoard) Get(ctx context.Context, p authz.Principal, id uint) (*models.Notification, error) {
	if err := authz.Require(p, authz.NotificationRead); err != nil {
		return nil, err
	}
	n, err := s.Notifications.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(p, n) {
		return nil, errs.NotFound("notification not found")
	}
	return n, nil
}

// Post publishes an admin-authored notification.
func (s *NoticeBoard) Post(ctx context.Context, p authz.Principal, in NotificationInput) (*models.Notification, error) {
	n, err := s.post(ctx, p, in)
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "notification.create", models.EntityNotification, 0, err))
		return nil, err
	}
	s.Dispatcher.Audit(auditSuccess(p, "notification.create", models.EntityNotification, n.ID, n.Title))
	return n, nil
}

func (s *NoticeBoard) post(ctx context.Context, p authz.Principal, in NotificationInput) (*models.Notification, error) {
	if err := authz.Require(p, authz.NotificationManage); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	message := strings.TrimSpace(in.Message)
	if title == "" || message == "" {
		return nil, errs.Validation("title and message are required")
	}
	switch in.TargetAudience {
	case "", models.AudienceAll, models.AudienceStudents, models.AudienceAdmins:
	default:
		return nil, errs.Validation("unknown audience %q", in.TargetAudience)
	}
	switch in.Type {
	case "", models.NotificationElection, models.NotificationVote, models.NotificationCandidate, models.NotificationGeneral:
	default:
		return nil, errs.Validation("unknown notification type %q", in.Type)
	}

	n := &models.Notification{
		Title:          title,
		Message:        message,
		Type:           in.Type,
		TargetAudience: in.TargetAudience,
		CreatedBy:      p.UserID,
		RelatedID:      in.RelatedID,
	}
	if err := s.Notifications.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// MarkRead records that p has read a notification. Repeating it is a no-op.
func (s *NoticeBoard) MarkRead(ctx context.Context, p authz.Principal, id uint) error {
	if _, err := s.Get(ctx, p, id); err != nil {
		return err
	}
	return s.Notifications.MarkRead(ctx, id, p.UserID)
}

func (s *NoticeBoard) Delete(ctx context.Context, p authz.Principal, id uint) error {
	err := authz.Require(p, authz.NotificationManage)
	if err == nil {
		err = s.Notifications.Delete(ctx, id)
	}
	if err != nil {
		s.Dispatcher.Audit(auditFailure(p, "notification.delete", models.EntityNotification, id, err))
		return err
	}
	s.Dispatcher.Audit(auditSuccess(p, "notification.delete", models.EntityNotification, id, ""))
	return nil
}
