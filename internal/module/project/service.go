// Package project implements projects, direct shares and todos.
package project

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/module/access"
	"github.com/taskhub/server/internal/module/notification"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/store"
)

const maxNameLength = 200

// Service manages projects, their shares and their todos.
type Service struct {
	uow      *notification.UnitOfWork
	store    store.Store
	resolver *access.Resolver
	now      func() time.Time
}

// NewService creates a new project service.
func NewService(uow *notification.UnitOfWork, resolver *access.Resolver) *Service {
	return &Service{
		uow:      uow,
		store:    uow.Store(),
		resolver: resolver,
		now:      time.Now,
	}
}

// CreateInput is the request to create a project.
type CreateInput struct {
	Name  string
	Color string
	Emoji string
}

// UpdateInput changes project metadata. Nil fields are left alone.
type UpdateInput struct {
	Name  *string
	Color *string
	Emoji *string
}

// Create creates a project owned by the caller.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, in CreateInput) (*model.ProjectWithCapability, error) {
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	project := &model.Project{
		ID:      uuid.New(),
		OwnerID: actorID,
		Name:    name,
		Color:   in.Color,
		Emoji:   in.Emoji,
	}
	if err := s.store.Projects().Create(ctx, project); err != nil {
		return nil, apperrors.Internal("failed to create project", err)
	}
	return &model.ProjectWithCapability{Project: *project, Capability: model.CapabilityAdmin}, nil
}

// Get returns a project the caller can view.
func (s *Service) Get(ctx context.Context, actorID, projectID uuid.UUID) (*model.ProjectWithCapability, error) {
	capability, project, err := s.resolver.Require(ctx, s.store, actorID, projectID, model.CapabilityView)
	if err != nil {
		return nil, err
	}
	return &model.ProjectWithCapability{Project: *project, Capability: capability}, nil
}

// List returns owned and shared projects with the caller's capability.
func (s *Service) List(ctx context.Context, actorID uuid.UUID) ([]*model.ProjectWithCapability, error) {
	owned, err := s.store.Projects().ListOwned(ctx, actorID)
	if err != nil {
		return nil, apperrors.Internal("failed to list projects", err)
	}
	shares, err := s.store.Shares().ListByUser(ctx, actorID)
	if err != nil {
		return nil, apperrors.Internal("failed to list shares", err)
	}

	out := make([]*model.ProjectWithCapability, 0, len(owned)+len(shares))
	for _, p := range owned {
		out = append(out, &model.ProjectWithCapability{Project: *p, Capability: model.CapabilityAdmin})
	}
	if len(shares) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(shares))
	permissions := make(map[uuid.UUID]model.Capability, len(shares))
	for _, sh := range shares {
		ids = append(ids, sh.ProjectID)
		permissions[sh.ProjectID] = sh.Permission
	}
	shared, err := s.store.Projects().ListByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Internal("failed to list projects", err)
	}
	for _, p := range shared {
		out = append(out, &model.ProjectWithCapability{Project: *p, Capability: permissions[p.ID]})
	}
	return out, nil
}

// Update changes project metadata. Requires admin.
func (s *Service) Update(ctx context.Context, actorID, projectID uuid.UUID, in UpdateInput) (*model.ProjectWithCapability, error) {
	var out *model.ProjectWithCapability
	err := s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		capability, project, err := s.resolver.Require(ctx, tx, actorID, projectID, model.CapabilityAdmin)
		if err != nil {
			return err
		}
		if in.Name != nil {
			name, err := validName(*in.Name)
			if err != nil {
				return err
			}
			project.Name = name
		}
		if in.Color != nil {
			project.Color = *in.Color
		}
		if in.Emoji != nil {
			project.Emoji = *in.Emoji
		}
		if err := tx.Projects().Update(ctx, project); err != nil {
			return err
		}
		emit(events.NewProjectUpdated(*project, actorID))
		out = &model.ProjectWithCapability{Project: *project, Capability: capability}
		return nil
	})
	return out, err
}

// Delete removes the project and everything granted on it. Only the
// owner may delete.
func (s *Service) Delete(ctx context.Context, actorID, projectID uuid.UUID) error {
	return s.uow.Run(ctx, func(tx store.Repos, emit notification.Emit) error {
		_, project, err := s.resolver.Require(ctx, tx, actorID, projectID, model.CapabilityView)
		if err != nil {
			return err
		}
		if !project.IsOwner(actorID) {
			return apperrors.Forbidden("only the owner can delete a project")
		}

		shares, err := tx.Shares().ListByProject(ctx, projectID)
		if err != nil {
			return err
		}
		members := make([]uuid.UUID, 0, len(shares)+1)
		members = append(members, project.OwnerID)
		for _, sh := range shares {
			members = append(members, sh.UserID)
		}

		if err := tx.Projects().Delete(ctx, projectID); err != nil {
			return err
		}
		emit(events.NewProjectDeleted(*project, members, actorID))
		return nil
	})
}

func validName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperrors.Invalid("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", apperrors.Invalid("name is too long")
	}
	return name, nil
}

// notFound converts a store miss into a named NotFound.
func notFound(err error, resource string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NotFound(resource)
	}
	return err
}
