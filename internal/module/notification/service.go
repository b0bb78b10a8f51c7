package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListInput is a page request.
type ListInput struct {
	UnreadOnly bool
	Before     *time.Time
	Limit      int
}

// Page is one page of notifications, newest first.
type Page struct {
	Notifications []*model.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

// BadgePayload is pushed whenever a user's unread count changes by a
// read operation.
type BadgePayload struct {
	Notifications int `json:"notifications"`
}

// Service reads notifications and marks them read. Only the recipient
// ever sees or mutates a notification.
type Service struct {
	store  store.Store
	pusher Pusher
	now    func() time.Time
}

// NewService creates a notification service. pusher may be nil.
func NewService(st store.Store, pusher Pusher) *Service {
	return &Service{store: st, pusher: pusher, now: time.Now}
}

// List returns the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, in ListInput) (*Page, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	items, err := s.store.Notifications().List(ctx, userID, store.NotificationFilter{
		UnreadOnly: in.UnreadOnly,
		Before:     in.Before,
		Limit:      limit,
	})
	if err != nil {
		return nil, apperrors.Internal("failed to list notifications", err)
	}
	unread, err := s.store.Notifications().CountUnread(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("failed to count notifications", err)
	}
	return &Page{Notifications: items, Unread: unread}, nil
}

// UnreadCount returns the number of unread notifications.
func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := s.store.Notifications().CountUnread(ctx, userID)
	if err != nil {
		return 0, apperrors.Internal("failed to count notifications", err)
	}
	return n, nil
}

// MarkRead marks ids read. Ids that belong to other users or are already
// read are ignored. It returns how many rows changed.
func (s *Service) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, apperrors.Invalid("ids must not be empty")
	}
	if len(ids) > maxPageSize {
		return 0, apperrors.Invalid("too many ids")
	}
	changed, err := s.store.Notifications().MarkRead(ctx, userID, ids, s.now())
	if err != nil {
		return 0, apperrors.Internal("failed to mark notifications read", err)
	}
	if changed > 0 {
		s.pushBadge(ctx, userID)
	}
	return changed, nil
}

// MarkAllRead marks every unread notification of the user read.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	changed, err := s.store.Notifications().MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, apperrors.Internal("failed to mark notifications read", err)
	}
	if changed > 0 {
		s.pushBadge(ctx, userID)
	}
	return changed, nil
}

// pushBadge tells the user's other sessions about the new unread count.
func (s *Service) pushBadge(ctx context.Context, userID uuid.UUID) {
	if s.pusher == nil {
		return
	}
	unread, err := s.store.Notifications().CountUnread(ctx, userID)
	if err != nil {
		return
	}
	s.pusher.PushUser(userID, MsgBadge, userID.String(), events.OpUpdated, BadgePayload{Notifications: unread})
}
