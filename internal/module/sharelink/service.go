// Package sharelink implements token-addressed, multi-use offers of a Share.
package sharelink

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/module/access"
	"github.com/taskhub/server/internal/module/notification"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/shared/metrics"
	"github.com/taskhub/server/internal/store"
	"go.uber.org/zap"
)

// Redemption outcomes recorded in metrics.
const (
	outcomeGranted       = "granted"
	outcomeInactive      = "inactive"
	outcomeExpired       = "expired"
	outcomeExhausted     = "exhausted"
	outcomeAlreadyMember = "already_member"
)

// CreateInput is the request to create a link.
type CreateInput struct {
	Permission string
	ExpiresAt  *time.Time
	MaxUses    *int
}

// Preview is what an authenticated visitor sees before redeeming.
type Preview struct {
	ProjectID   uuid.UUID        `json:"project_id"`
	ProjectName string           `json:"project_name"`
	Permission  model.Capability `json:"permission"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
}

// Service manages share links.
type Service struct {
	uow      *notification.UnitOfWork
	store    store.Store
	resolver *access.Resolver
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new share link service.
func NewService(uow *notification.UnitOfWork, resolver *access.Resolver, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		uow:      uow,
		store:    uow.Store(),
		resolver: resolver,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// NewToken returns a random 32 character hex token.
func NewToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Create issues a new link. The caller must manage grants on the project.
func (s *Service) Create(ctx context.Context, actorID, projectID uuid.UUID, in CreateInput) (*model.ShareLink, error) {
	permission, ok := model.ParseCapability(in.Permission)
	if !ok {
		return nil, apperrors.Invalid("permission must be view, edit or admin")
	}
	now := s.now()
	if in.MaxUses != nil && *in.MaxUses < 1 {
		return nil, apperrors.Invalid("max_uses must be at least 1")
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, apperrors.Invalid("expires_at must be in the future")
	}

	link := &model.ShareLink{
		ID:              NewToken(),
		ProjectID:       projectID,
		CreatedByUserID: actorID,
		Permission:      permission,
		Active:          true,
		ExpiresAt:       in.ExpiresAt,
		MaxUses:         in.MaxUses,
		CreatedAt:       now,
	}
	err := s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		if _, _, err := s.resolver.Require(ctx, tx, actorID, projectID, model.CapabilityAdmin); err != nil {
			return err
		}
		if err := tx.ShareLinks().Create(ctx, link); err != nil {
			return err
		}
		emit(events.NewShareLinkChanged(events.OpCreated, *link, actorID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// Redeem grants the caller a Share with the link's permission. The use
// count, the Share and the friendship with the link creator commit together.
func (s *Service) Redeem(ctx context.Context, actorID uuid.UUID, token string) (*model.Share, error) {
	share, err := s.redeem(ctx, actorID, token)
	s.metrics.RecordLinkRedemption(outcome(err))
	return share, err
}

func (s *Service) redeem(ctx context.Context, actorID uuid.UUID, token string) (*model.Share, error) {
	link, err := s.store.ShareLinks().GetByID(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.ErrLinkInactive
		}
		return nil, err
	}
	if err := s.usable(ctx, link); err != nil {
		return nil, err
	}
	if err := s.ensureNotMember(ctx, s.store, link.ProjectID, actorID); err != nil {
		return nil, err
	}

	var share *model.Share
	err = s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		if err := tx.Projects().LockMembership(ctx, link.ProjectID, actorID); err != nil {
			return err
		}
		if err := s.ensureNotMember(ctx, tx, link.ProjectID, actorID); err != nil {
			return err
		}

		consumed, err := tx.ShareLinks().ConsumeUse(ctx, link.ID, s.now())
		if err != nil {
			if errors.Is(err, store.ErrConditionFailed) || errors.Is(err, store.ErrNotFound) {
				return s.classify(ctx, tx, link.ID)
			}
			return err
		}

		share = &model.Share{
			ID:              uuid.New(),
			ProjectID:       link.ProjectID,
			UserID:          actorID,
			GrantedByUserID: link.CreatedByUserID,
			Permission:      consumed.Permission,
		}
		if err := tx.Shares().Create(ctx, share); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperrors.ErrAlreadyMember
			}
			return err
		}
		if consumed.CreatedByUserID != actorID {
			if err := tx.Friendships().Upsert(ctx, model.NewFriendship(actorID, consumed.CreatedByUserID)); err != nil {
				return err
			}
		}

		granted := events.NewAccessGranted(*share, events.SourceLink, actorID)
		granted.LinkID = consumed.ID
		emit(granted)
		emit(events.NewShareLinkChanged(events.OpUpdated, *consumed, actorID))
		return nil
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrLinkExpired) || errors.Is(err, apperrors.ErrLinkExhausted) {
			s.deactivate(ctx, link.ID)
		}
		return nil, err
	}
	return share, nil
}

// usable rejects links that can no longer be redeemed. Expired and
// exhausted links are deactivated on the way out.
func (s *Service) usable(ctx context.Context, link *model.ShareLink) error {
	now := s.now()
	switch {
	case link.IsExpired(now):
		if link.Active {
			s.deactivate(ctx, link.ID)
		}
		return apperrors.ErrLinkExpired
	case link.IsExhausted():
		if link.Active {
			s.deactivate(ctx, link.ID)
		}
		return apperrors.ErrLinkExhausted
	case !link.Active:
		return apperrors.ErrLinkInactive
	}
	return nil
}

// classify re-reads a link whose conditional use failed.
func (s *Service) classify(ctx context.Context, tx store.Repos, id string) error {
	link, err := tx.ShareLinks().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.ErrLinkInactive
		}
		return err
	}
	now := s.now()
	switch {
	case link.IsExpired(now):
		return apperrors.ErrLinkExpired
	case link.IsExhausted():
		return apperrors.ErrLinkExhausted
	default:
		return apperrors.ErrLinkInactive
	}
}

func (s *Service) deactivate(ctx context.Context, id string) {
	if _, err := s.store.ShareLinks().Deactivate(context.WithoutCancel(ctx), id, s.now()); err != nil {
		s.logger.Warn("failed to deactivate share link", zap.Error(err))
	}
}

func (s *Service) ensureNotMember(ctx context.Context, r store.Repos, projectID, userID uuid.UUID) error {
	capability, err := s.resolver.Resolve(ctx, r, userID, projectID)
	if err != nil {
		return err
	}
	if capability != model.CapabilityNone {
		return apperrors.ErrAlreadyMember
	}
	return nil
}

// Revoke deactivates the link. Revoking an inactive link succeeds.
func (s *Service) Revoke(ctx context.Context, actorID uuid.UUID, token string) error {
	return s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		link, err := tx.ShareLinks().GetByID(ctx, token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperrors.NotFound("link")
			}
			return err
		}
		if _, _, err := s.resolver.Require(ctx, tx, actorID, link.ProjectID, model.CapabilityAdmin); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return apperrors.NotFound("link")
			}
			return err
		}
		changed, err := tx.ShareLinks().Deactivate(ctx, link.ID, s.now())
		if err != nil {
			return err
		}
		if changed {
			link.Active = false
			emit(events.NewShareLinkChanged(events.OpDeleted, *link, actorID))
		}
		return nil
	})
}

// List returns every link of the project. The caller must manage grants.
func (s *Service) List(ctx context.Context, actorID, projectID uuid.UUID) ([]*model.ShareLink, error) {
	if _, _, err := s.resolver.Require(ctx, s.store, actorID, projectID, model.CapabilityAdmin); err != nil {
		return nil, err
	}
	links, err := s.store.ShareLinks().ListByProject(ctx, projectID)
	if err != nil {
		return nil, apperrors.Internal("failed to list links", err)
	}
	return links, nil
}

// Preview describes a redeemable link. Every unusable link, including an
// unknown token, gets the same error.
func (s *Service) Preview(ctx context.Context, token string) (*Preview, error) {
	link, err := s.store.ShareLinks().GetByID(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.ErrLinkInactive
		}
		return nil, err
	}
	if !link.IsRedeemable(s.now()) {
		return nil, apperrors.ErrLinkInactive
	}
	project, err := s.store.Projects().GetByID(ctx, link.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.ErrLinkInactive
		}
		return nil, err
	}
	return &Preview{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		Permission:  link.Permission,
		ExpiresAt:   link.ExpiresAt,
	}, nil
}

// Sweep deactivates every expired active link.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := s.store.ShareLinks().DeactivateExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("deactivated expired share links", zap.Int("count", n))
	}
	return n, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeGranted
	case errors.Is(err, apperrors.ErrLinkExpired):
		return outcomeExpired
	case errors.Is(err, apperrors.ErrLinkExhausted):
		return outcomeExhausted
	case errors.Is(err, apperrors.ErrLinkInactive):
		return outcomeInactive
	case errors.Is(err, apperrors.ErrAlreadyMember):
		return outcomeAlreadyMember
	default:
		return "error"
	}
}
