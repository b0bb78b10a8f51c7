// Package access computes a user's effective capability on a project.
// Every endpoint that reads or mutates project data goes through here.
package access

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/model"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/store"
)

// Reader is the slice of the store the resolver needs. store.Store and
// the transaction handle both satisfy it.
type Reader interface {
	Projects() store.ProjectRepository
	Shares() store.ShareRepository
}

// Resolver resolves capabilities. It holds no state; it exists so that
// callers receive it by injection.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns admin for the owner, the Share permission for a share
// holder, and none otherwise. A missing project resolves to none.
// Pending invitations and unredeemed links are never consulted.
func (r *Resolver) Resolve(ctx context.Context, reader Reader, userID, projectID uuid.UUID) (model.Capability, error) {
	capability, _, err := r.resolve(ctx, reader, userID, projectID)
	return capability, err
}

func (r *Resolver) resolve(ctx context.Context, reader Reader, userID, projectID uuid.UUID) (model.Capability, *model.Project, error) {
	project, err := reader.Projects().GetByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.CapabilityNone, nil, nil
		}
		return model.CapabilityNone, nil, err
	}
	if project.IsOwner(userID) {
		return model.CapabilityAdmin, project, nil
	}

	share, err := reader.Shares().Get(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.CapabilityNone, project, nil
		}
		return model.CapabilityNone, nil, err
	}
	if !share.Permission.IsGrantable() {
		return model.CapabilityNone, project, nil
	}
	return share.Permission, project, nil
}

// Require resolves the capability and checks it against need. None maps
// to NotFound so non-members cannot learn whether a project exists;
// insufficient capability maps to Forbidden.
func (r *Resolver) Require(ctx context.Context, reader Reader, userID, projectID uuid.UUID, need model.Capability) (model.Capability, *model.Project, error) {
	capability, project, err := r.resolve(ctx, reader, userID, projectID)
	if err != nil {
		return model.CapabilityNone, nil, err
	}
	if capability == model.CapabilityNone {
		return model.CapabilityNone, nil, apperrors.NotFound("project")
	}
	if !capability.IsAtLeast(need) {
		return capability, project, apperrors.ErrForbidden
	}
	return capability, project, nil
}

// CanEdit reports whether an entity may be edited: edit or admin, or the
// entity creator with at least view.
func CanEdit(capability model.Capability, isCreator bool) bool {
	if capability.IsAtLeast(model.CapabilityEdit) {
		return true
	}
	return isCreator && capability != model.CapabilityNone
}

// CanDelete reports whether an entity may be deleted: admin, or edit on
// an entity the caller created.
func CanDelete(capability model.Capability, isCreator bool) bool {
	if capability == model.CapabilityAdmin {
		return true
	}
	return capability == model.CapabilityEdit && isCreator
}

// CanManageGrants reports whether shares, invitations and links may be managed.
func CanManageGrants(capability model.Capability) bool {
	return capability == model.CapabilityAdmin
}
