package project

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/module/access"
	"github.com/taskhub/server/internal/module/notification"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/store"
)

// Member is a share with its holder's profile.
type Member struct {
	model.Share
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// GrantInput names the grantee by id or by email.
type GrantInput struct {
	UserID     *uuid.UUID
	Email      string
	Permission string
}

// ListShares returns the project's shares. Requires view.
func (s *Service) ListShares(ctx context.Context, actorID, projectID uuid.UUID) ([]*Member, error) {
	if _, _, err := s.resolver.Require(ctx, s.store, actorID, projectID, model.CapabilityView); err != nil {
		return nil, err
	}
	shares, err := s.store.Shares().ListByProject(ctx, projectID)
	if err != nil {
		return nil, apperrors.Internal("failed to list shares", err)
	}

	ids := make([]uuid.UUID, 0, len(shares))
	for _, sh := range shares {
		ids = append(ids, sh.UserID)
	}
	users, err := s.store.Users().ListByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Internal("failed to list users", err)
	}
	byID := make(map[uuid.UUID]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	out := make([]*Member, 0, len(shares))
	for _, sh := range shares {
		m := &Member{Share: *sh}
		if u, ok := byID[sh.UserID]; ok {
			m.Email = u.Email
			m.DisplayName = u.DisplayName
		}
		out = append(out, m)
	}
	return out, nil
}

// Grant shares the project directly with an existing user.
func (s *Service) Grant(ctx context.Context, actorID, projectID uuid.UUID, in GrantInput) (*model.Share, error) {
	permission, ok := model.ParseCapability(in.Permission)
	if !ok {
		return nil, apperrors.Invalid("permission must be view, edit or admin")
	}
	if in.UserID == nil && in.Email == "" {
		return nil, apperrors.Invalid("user_id or email is required")
	}

	var share *model.Share
	err := s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		capability, project, err := s.resolver.Require(ctx, tx, actorID, projectID, model.CapabilityView)
		if err != nil {
			return err
		}
		if !access.CanManageGrants(capability) {
			return apperrors.ErrForbidden
		}

		grantee, err := s.lookupUser(ctx, tx, in)
		if err != nil {
			return err
		}
		if project.IsOwner(grantee.ID) {
			return apperrors.ErrAlreadyMember
		}
		if err := tx.Projects().LockMembership(ctx, projectID, grantee.ID); err != nil {
			return err
		}

		share = &model.Share{
			ID:              uuid.New(),
			ProjectID:       projectID,
			UserID:          grantee.ID,
			GrantedByUserID: actorID,
			Permission:      permission,
		}
		if err := tx.Shares().Create(ctx, share); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperrors.ErrAlreadyMember
			}
			return err
		}
		if err := tx.Friendships().Upsert(ctx, model.NewFriendship(actorID, grantee.ID)); err != nil {
			return err
		}
		emit(events.NewAccessGranted(*share, events.SourceDirect, actorID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}

func (s *Service) lookupUser(ctx context.Context, tx store.Repos, in GrantInput) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	if in.UserID != nil {
		user, err = tx.Users().GetByID(ctx, *in.UserID)
	} else {
		user, err = tx.Users().GetByEmail(ctx, model.NormalizeEmail(in.Email))
	}
	if err != nil {
		return nil, notFound(err, "user")
	}
	return user, nil
}

// UpdatePermission changes a holder's permission. Requires admin.
func (s *Service) UpdatePermission(ctx context.Context, actorID, projectID, userID uuid.UUID, raw string) (*model.Share, error) {
	permission, ok := model.ParseCapability(raw)
	if !ok {
		return nil, apperrors.Invalid("permission must be view, edit or admin")
	}

	var share *model.Share
	err := s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		_, project, err := s.resolver.Require(ctx, tx, actorID, projectID, model.CapabilityAdmin)
		if err != nil {
			return err
		}
		if project.IsOwner(userID) {
			return apperrors.Invalid("the owner's access cannot be changed")
		}
		if err := tx.Projects().LockMembership(ctx, projectID, userID); err != nil {
			return err
		}

		share, err = tx.Shares().Get(ctx, projectID, userID)
		if err != nil {
			return notFound(err, "share")
		}
		if share.Permission == permission {
			return nil
		}
		if err := tx.Shares().UpdatePermission(ctx, projectID, userID, permission); err != nil {
			return notFound(err, "share")
		}
		share.Permission = permission

		granted := events.NewAccessGranted(*share, events.SourceDirect, actorID)
		granted.Changed = true
		emit(granted)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return share, nil
}

// Revoke removes a share. Admins may revoke anyone but the owner; any
// holder may remove their own share.
func (s *Service) Revoke(ctx context.Context, actorID, projectID, userID uuid.UUID) error {
	return s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		need := model.CapabilityAdmin
		if actorID == userID {
			need = model.CapabilityView
		}
		_, project, err := s.resolver.Require(ctx, tx, actorID, projectID, need)
		if err != nil {
			return err
		}
		if project.IsOwner(userID) {
			return apperrors.Invalid("the owner cannot be removed")
		}
		if err := tx.Projects().LockMembership(ctx, projectID, userID); err != nil {
			return err
		}
		if err := tx.Shares().Delete(ctx, projectID, userID); err != nil {
			return notFound(err, "share")
		}
		emit(events.NewAccessRevoked(projectID, userID, actorID))
		return nil
	})
}
