// Package user registers accounts on first login and manages profiles,
// system roles and friendships.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/module/auth"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/store"
	"go.uber.org/zap"
)

const maxDisplayNameLength = 100

// Service provides user management operations.
type Service struct {
	store       store.Store
	adminEmails map[string]bool
	logger      *zap.Logger
}

// NewService creates a new user service. Accounts registering with one of
// adminEmails start with the ADMIN role.
func NewService(st store.Store, adminEmails []string, logger *zap.Logger) *Service {
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		admins[model.NormalizeEmail(e)] = true
	}
	return &Service{store: st, adminEmails: admins, logger: logger}
}

// --- Registration ---

// EnsureUser returns the account for an authenticated identity, creating
// it on first sight. A new account picks up pending invitations that were
// sent to its email before it existed.
func (s *Service) EnsureUser(ctx context.Context, id auth.Identity) (*model.User, error) {
	email := model.NormalizeEmail(id.Email)

	user, err := s.store.Users().GetByID(ctx, id.UserID)
	if err == nil {
		if user.Email != email {
			return s.changeEmail(ctx, user, email)
		}
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get user: %w", err)
	}

	user = &model.User{
		ID:          id.UserID,
		Email:       email,
		DisplayName: defaultDisplayName(id.Name, email),
		Role:        model.UserRoleUser,
	}
	if s.adminEmails[email] {
		user.Role = model.UserRoleAdmin
	}

	attached := 0
	err = s.store.Transaction(ctx, func(tx store.Repos) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		attached, err = tx.Invitations().AttachReceiver(ctx, email, user.ID)
		return err
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a first-login race with another request for the same user.
		existing, getErr := s.store.Users().GetByID(ctx, id.UserID)
		if getErr == nil {
			return existing, nil
		}
		return nil, apperrors.ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.Int("invitations_attached", attached),
	)
	return user, nil
}

// changeEmail follows an email change at the identity provider. Pending
// invitations for the new address are attached as on registration.
func (s *Service) changeEmail(ctx context.Context, user *model.User, email string) (*model.User, error) {
	err := s.store.Transaction(ctx, func(tx store.Repos) error {
		user.Email = email
		if err := tx.Users().Update(ctx, user); err != nil {
			return err
		}
		_, err := tx.Invitations().AttachReceiver(ctx, email, user.ID)
		return err
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperrors.ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("update email: %w", err)
	}
	return user, nil
}

func defaultDisplayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(email, "@"); ok && local != "" {
		return local
	}
	return email
}

// --- Profile ---

// ProfileInput changes the caller's profile.
type ProfileInput struct {
	DisplayName *string
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("user")
		}
		return nil, apperrors.Internal("failed to get user", err)
	}
	return user, nil
}

// UpdateProfile changes the caller's display name.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, in ProfileInput) (*model.User, error) {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" || len([]rune(name)) > maxDisplayNameLength {
			return nil, apperrors.Invalid("display_name must be 1 to 100 characters")
		}
		user.DisplayName = name
	}
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, apperrors.Internal("failed to update user", err)
	}
	return user, nil
}

// --- Admin ---

// SetRole changes a user's system role. Only admins may call it.
func (s *Service) SetRole(ctx context.Context, actor *model.User, userID uuid.UUID, role model.UserRole) (*model.User, error) {
	if actor == nil || !actor.IsAdmin() {
		return nil, apperrors.Forbidden("admin role required")
	}
	if !role.IsValid() {
		return nil, apperrors.Invalid("role must be USER, MODERATOR or ADMIN")
	}
	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}
	user.Role = role
	if err := s.store.Users().Update(ctx, user); err != nil {
		return nil, apperrors.Internal("failed to update user", err)
	}
	s.logger.Info("user role changed",
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(role)),
		zap.String("by", actor.ID.String()),
	)
	return user, nil
}

// --- Friends ---

// Friend is a counterpart in a friendship edge.
type Friend struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Since       time.Time `json:"since"`
}

// ListFriends returns everyone the caller shares a friendship edge with.
func (s *Service) ListFriends(ctx context.Context, userID uuid.UUID) ([]*Friend, error) {
	edges, err := s.store.Friendships().ListFor(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("failed to list friends", err)
	}
	ids := make([]uuid.UUID, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.Other(userID))
	}
	users, err := s.store.Users().ListByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Internal("failed to list friends", err)
	}
	byID := make(map[uuid.UUID]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	out := make([]*Friend, 0, len(edges))
	for _, e := range edges {
		u, ok := byID[e.Other(userID)]
		if !ok {
			continue
		}
		out = append(out, &Friend{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, Since: e.CreatedAt})
	}
	return out, nil
}

// RemoveFriend deletes the edge in both directions. Shares are unaffected.
func (s *Service) RemoveFriend(ctx context.Context, userID, friendID uuid.UUID) error {
	if err := s.store.Friendships().Delete(ctx, model.NewFriendship(userID, friendID)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("friend")
		}
		return apperrors.Internal("failed to remove friend", err)
	}
	return nil
}
