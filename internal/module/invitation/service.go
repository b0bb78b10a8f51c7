// Package invitation implements addressed, single-use offers of a Share.
package invitation

import (
	"context"
	"errors"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/module/access"
	"github.com/taskhub/server/internal/module/notification"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/shared/metrics"
	"github.com/taskhub/server/internal/store"
)

// Actor is the authenticated caller.
type Actor struct {
	ID    uuid.UUID
	Email string
}

// CreateInput is the request to invite an email address.
type CreateInput struct {
	Email      string
	Permission string
}

// Service manages invitations.
type Service struct {
	uow      *notification.UnitOfWork
	store    store.Store
	resolver *access.Resolver
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates a new invitation service.
func NewService(uow *notification.UnitOfWork, resolver *access.Resolver, m *metrics.Metrics) *Service {
	return &Service{
		uow:      uow,
		store:    uow.Store(),
		resolver: resolver,
		metrics:  m,
		now:      time.Now,
	}
}

// Create sends an invitation. The caller must manage grants on the project.
func (s *Service) Create(ctx context.Context, actor Actor, projectID uuid.UUID, in CreateInput) (*model.Invitation, error) {
	email, err := parseEmail(in.Email)
	if err != nil {
		return nil, err
	}
	permission, ok := model.ParseCapability(in.Permission)
	if !ok {
		return nil, apperrors.Invalid("permission must be view, edit or admin")
	}

	var created *model.Invitation
	err = s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		_, project, err := s.resolver.Require(ctx, tx, actor.ID, projectID, model.CapabilityAdmin)
		if err != nil {
			return err
		}

		inv := &model.Invitation{
			ID:         uuid.New(),
			ProjectID:  projectID,
			SenderID:   actor.ID,
			Email:      email,
			Permission: permission,
			Status:     model.InvitationStatusPending,
		}

		receiver, err := tx.Users().GetByEmail(ctx, email)
		switch {
		case err == nil:
			inv.ReceiverID = &receiver.ID
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if err := tx.Projects().LockMembership(ctx, projectID, lockKey(inv)); err != nil {
			return err
		}
		if receiver != nil {
			if err := ensureNotMember(ctx, tx, project, receiver.ID); err != nil {
				return err
			}
		}

		if _, err := tx.Invitations().GetPending(ctx, projectID, email); err == nil {
			return apperrors.ErrDuplicateInvitation
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		inv.CreatedAt = s.now()
		if err := tx.Invitations().Create(ctx, inv); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperrors.ErrDuplicateInvitation
			}
			return err
		}
		emit(events.NewInvitationReceived(*inv))
		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordInvitation("created")
	return created, nil
}

// Accept turns the invitation into a Share for the caller. The resolve,
// the Share and the friendship commit together or not at all.
func (s *Service) Accept(ctx context.Context, actor Actor, invitationID uuid.UUID) (*model.Share, error) {
	var share *model.Share
	err := s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		inv, err := s.addressed(ctx, tx, actor, invitationID)
		if err != nil {
			return err
		}
		if err := tx.Projects().LockMembership(ctx, inv.ProjectID, actor.ID); err != nil {
			return err
		}

		resolved, err := tx.Invitations().Resolve(ctx, inv.ID, model.InvitationStatusAccepted, s.now())
		if err != nil {
			if errors.Is(err, store.ErrConditionFailed) {
				return apperrors.ErrAlreadyResolved
			}
			return err
		}

		project, err := tx.Projects().GetByID(ctx, inv.ProjectID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.NotFound("invitation")
			}
			return err
		}
		if err := ensureNotMember(ctx, tx, project, actor.ID); err != nil {
			return err
		}

		share = &model.Share{
			ID:              uuid.New(),
			ProjectID:       project.ID,
			UserID:          actor.ID,
			GrantedByUserID: inv.SenderID,
			Permission:      inv.Permission,
		}
		if err := tx.Shares().Create(ctx, share); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperrors.ErrAlreadyMember
			}
			return err
		}
		if err := tx.Friendships().Upsert(ctx, model.NewFriendship(actor.ID, inv.SenderID)); err != nil {
			return err
		}

		granted := events.NewAccessGranted(*share, events.SourceInvitation, actor.ID)
		granted.InvitationID = &resolved.ID
		emit(granted)
		emit(events.NewInvitationResolved(*resolved, actor.ID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordInvitation("accepted")
	return share, nil
}

// Reject declines the invitation.
func (s *Service) Reject(ctx context.Context, actor Actor, invitationID uuid.UUID) (*model.Invitation, error) {
	var out *model.Invitation
	err := s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		inv, err := s.addressed(ctx, tx, actor, invitationID)
		if err != nil {
			return err
		}
		resolved, err := tx.Invitations().Resolve(ctx, inv.ID, model.InvitationStatusRejected, s.now())
		if err != nil {
			if errors.Is(err, store.ErrConditionFailed) {
				return apperrors.ErrAlreadyResolved
			}
			return err
		}
		emit(events.NewInvitationResolved(*resolved, actor.ID))
		out = resolved
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordInvitation("rejected")
	return out, nil
}

// Cancel withdraws a pending invitation. Resolved invitations are history
// and cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, actor Actor, invitationID uuid.UUID) error {
	err := s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		inv, err := tx.Invitations().GetByID(ctx, invitationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.NotFound("invitation")
			}
			return err
		}
		if _, _, err := s.resolver.Require(ctx, tx, actor.ID, inv.ProjectID, model.CapabilityAdmin); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.NotFound("invitation")
			}
			return err
		}
		if err := tx.Invitations().DeletePending(ctx, inv.ID); err != nil {
			if errors.Is(err, store.ErrConditionFailed) {
				return apperrors.ErrAlreadyResolved
			}
			return err
		}
		emit(events.NewInvitationCancelled(*inv, actor.ID))
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.RecordInvitation("cancelled")
	return nil
}

// ListMine returns pending invitations addressed to the caller.
func (s *Service) ListMine(ctx context.Context, actor Actor) ([]*model.Invitation, error) {
	list, err := s.store.Invitations().ListPendingFor(ctx, actor.ID, model.NormalizeEmail(actor.Email))
	if err != nil {
		return nil, apperrors.Internal("failed to list invitations", err)
	}
	return list, nil
}

// CountMine returns how many pending invitations are addressed to the caller.
func (s *Service) CountMine(ctx context.Context, actor Actor) (int, error) {
	n, err := s.store.Invitations().CountPendingFor(ctx, actor.ID, model.NormalizeEmail(actor.Email))
	if err != nil {
		return 0, apperrors.Internal("failed to count invitations", err)
	}
	return n, nil
}

// ListForProject returns the project's invitations, optionally filtered by
// status. The caller must manage grants.
func (s *Service) ListForProject(ctx context.Context, actor Actor, projectID uuid.UUID, status *model.InvitationStatus) ([]*model.Invitation, error) {
	if _, _, err := s.resolver.Require(ctx, s.store, actor.ID, projectID, model.CapabilityAdmin); err != nil {
		return nil, err
	}
	list, err := s.store.Invitations().ListByProject(ctx, projectID, status)
	if err != nil {
		return nil, apperrors.Internal("failed to list invitations", err)
	}
	return list, nil
}

// addressed loads an invitation the caller may act on. Invitations for
// someone else look exactly like missing ones.
func (s *Service) addressed(ctx context.Context, tx store.Repos, actor Actor, id uuid.UUID) (*model.Invitation, error) {
	inv, err := tx.Invitations().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.NotFound("invitation")
		}
		return nil, err
	}
	if !inv.IsAddressedTo(actor.ID, actor.Email) {
		return nil, apperrors.NotFound("invitation")
	}
	return inv, nil
}

// ensureNotMember fails with ErrAlreadyMember when userID owns the project
// or already holds a Share.
func ensureNotMember(ctx context.Context, tx store.Repos, project *model.Project, userID uuid.UUID) error {
	if project.IsOwner(userID) {
		return apperrors.ErrAlreadyMember
	}
	if _, err := tx.Shares().Get(ctx, project.ID, userID); err == nil {
		return apperrors.ErrAlreadyMember
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// lockKey is the receiver's id, or a stable id derived from the address
// when no account exists yet.
func lockKey(inv *model.Invitation) uuid.UUID {
	if inv.ReceiverID != nil {
		return *inv.ReceiverID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+inv.Email))
}

func parseEmail(raw string) (string, error) {
	email := model.NormalizeEmail(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.Invalid("a valid email address is required")
	}
	return email, nil
}
