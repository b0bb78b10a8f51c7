package events

import (
	"github.com/google/uuid"
	"github.com/taskhub/server/internal/model"
)

// Event type names.
const (
	TodoCreatedType         = "TodoCreated"
	TodoUpdatedType         = "TodoUpdated"
	TodoDeletedType         = "TodoDeleted"
	AccessGrantedType       = "AccessGranted"
	AccessRevokedType       = "AccessRevoked"
	InvitationReceivedType  = "InvitationReceived"
	InvitationResolvedType  = "InvitationResolved"
	InvitationCancelledType = "InvitationCancelled"
	ProjectUpdatedType      = "ProjectUpdated"
	ProjectDeletedType      = "ProjectDeleted"
	ShareLinkChangedType    = "ShareLinkChanged"
)

// Op is the entity operation kind carried to realtime clients.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// GrantSource is where an AccessGranted came from.
type GrantSource string

const (
	SourceDirect     GrantSource = "direct"
	SourceInvitation GrantSource = "invitation"
	SourceLink       GrantSource = "link"
)

// ProjectScoped is implemented by events that belong to a project.
type ProjectScoped interface {
	Event
	Project() uuid.UUID
}

// TodoChanged is emitted for every todo mutation.
type TodoChanged struct {
	BaseEvent
	ProjectID uuid.UUID  `json:"project_id"`
	Op        Op         `json:"op"`
	Todo      model.Todo `json:"todo"`
}

// Project returns the owning project.
func (e *TodoChanged) Project() uuid.UUID { return e.ProjectID }

// NewTodoChanged creates a TodoChanged event for op.
func NewTodoChanged(op Op, todo model.Todo, actorID uuid.UUID) *TodoChanged {
	eventType := TodoUpdatedType
	switch op {
	case OpCreated:
		eventType = TodoCreatedType
	case OpDeleted:
		eventType = TodoDeletedType
	}
	return &TodoChanged{
		BaseEvent: NewBaseEvent(eventType, actorID),
		ProjectID: todo.ProjectID,
		Op:        op,
		Todo:      todo,
	}
}

// AccessGranted is emitted when a Share is created or its permission changes.
type AccessGranted struct {
	BaseEvent
	ProjectID    uuid.UUID        `json:"project_id"`
	UserID       uuid.UUID        `json:"user_id"`
	Permission   model.Capability `json:"permission"`
	Source       GrantSource      `json:"source"`
	Changed      bool             `json:"changed,omitempty"`
	LinkID       string           `json:"link_id,omitempty"`
	InvitationID *uuid.UUID       `json:"invitation_id,omitempty"`
}

// Project returns the granted project.
func (e *AccessGranted) Project() uuid.UUID { return e.ProjectID }

// NewAccessGranted creates an AccessGranted event for share.
func NewAccessGranted(share model.Share, source GrantSource, actorID uuid.UUID) *AccessGranted {
	return &AccessGranted{
		BaseEvent:  NewBaseEvent(AccessGrantedType, actorID),
		ProjectID:  share.ProjectID,
		UserID:     share.UserID,
		Permission: share.Permission,
		Source:     source,
	}
}

// AccessRevoked is emitted when a Share is removed, by revocation or by
// the member leaving.
type AccessRevoked struct {
	BaseEvent
	ProjectID uuid.UUID `json:"project_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// Project returns the project the user lost access to.
func (e *AccessRevoked) Project() uuid.UUID { return e.ProjectID }

// SelfRemoved reports whether the member left on their own.
func (e *AccessRevoked) SelfRemoved() bool { return e.ActorID == e.UserID }

// NewAccessRevoked creates an AccessRevoked event.
func NewAccessRevoked(projectID, userID, actorID uuid.UUID) *AccessRevoked {
	return &AccessRevoked{
		BaseEvent: NewBaseEvent(AccessRevokedType, actorID),
		ProjectID: projectID,
		UserID:    userID,
	}
}

// InvitationReceived is emitted when an invitation is created.
type InvitationReceived struct {
	BaseEvent
	Invitation model.Invitation `json:"invitation"`
}

// Project returns the project the invitation offers.
func (e *InvitationReceived) Project() uuid.UUID { return e.Invitation.ProjectID }

// NewInvitationReceived creates an InvitationReceived event.
func NewInvitationReceived(inv model.Invitation) *InvitationReceived {
	return &InvitationReceived{
		BaseEvent:  NewBaseEvent(InvitationReceivedType, inv.SenderID),
		Invitation: inv,
	}
}

// InvitationResolved is emitted when an invitation is accepted or rejected.
type InvitationResolved struct {
	BaseEvent
	Invitation model.Invitation `json:"invitation"`
}

// Project returns the project the invitation offered.
func (e *InvitationResolved) Project() uuid.UUID { return e.Invitation.ProjectID }

// Accepted reports whether the invitation was accepted.
func (e *InvitationResolved) Accepted() bool {
	return e.Invitation.Status == model.InvitationStatusAccepted
}

// NewInvitationResolved creates an InvitationResolved event.
func NewInvitationResolved(inv model.Invitation, actorID uuid.UUID) *InvitationResolved {
	return &InvitationResolved{
		BaseEvent:  NewBaseEvent(InvitationResolvedType, actorID),
		Invitation: inv,
	}
}

// InvitationCancelled is emitted when a grant manager withdraws a pending
// invitation.
type InvitationCancelled struct {
	BaseEvent
	Invitation model.Invitation `json:"invitation"`
}

// Project returns the project the invitation offered.
func (e *InvitationCancelled) Project() uuid.UUID { return e.Invitation.ProjectID }

// NewInvitationCancelled creates an InvitationCancelled event.
func NewInvitationCancelled(inv model.Invitation, actorID uuid.UUID) *InvitationCancelled {
	return &InvitationCancelled{
		BaseEvent:  NewBaseEvent(InvitationCancelledType, actorID),
		Invitation: inv,
	}
}

// ProjectUpdated is emitted when project metadata changes.
type ProjectUpdated struct {
	BaseEvent
	Snapshot model.Project `json:"project"`
}

// Project returns the updated project.
func (e *ProjectUpdated) Project() uuid.UUID { return e.Snapshot.ID }

// NewProjectUpdated creates a ProjectUpdated event.
func NewProjectUpdated(project model.Project, actorID uuid.UUID) *ProjectUpdated {
	return &ProjectUpdated{
		BaseEvent: NewBaseEvent(ProjectUpdatedType, actorID),
		Snapshot:  project,
	}
}

// ProjectDeleted is emitted when a project and its grants are removed.
// MemberIDs is the membership at deletion time, owner included.
type ProjectDeleted struct {
	BaseEvent
	Snapshot  model.Project `json:"project"`
	MemberIDs []uuid.UUID   `json:"member_ids"`
}

// Project returns the deleted project.
func (e *ProjectDeleted) Project() uuid.UUID { return e.Snapshot.ID }

// NewProjectDeleted creates a ProjectDeleted event.
func NewProjectDeleted(project model.Project, memberIDs []uuid.UUID, actorID uuid.UUID) *ProjectDeleted {
	return &ProjectDeleted{
		BaseEvent: NewBaseEvent(ProjectDeletedType, actorID),
		Snapshot:  project,
		MemberIDs: memberIDs,
	}
}

// ShareLinkChanged is emitted when a link is created, consumed or deactivated.
type ShareLinkChanged struct {
	BaseEvent
	ProjectID uuid.UUID       `json:"project_id"`
	Op        Op              `json:"op"`
	Link      model.ShareLink `json:"link"`
}

// Project returns the project the link belongs to.
func (e *ShareLinkChanged) Project() uuid.UUID { return e.ProjectID }

// NewShareLinkChanged creates a ShareLinkChanged event.
func NewShareLinkChanged(op Op, link model.ShareLink, actorID uuid.UUID) *ShareLinkChanged {
	return &ShareLinkChanged{
		BaseEvent: NewBaseEvent(ShareLinkChangedType, actorID),
		ProjectID: link.ProjectID,
		Op:        op,
		Link:      link,
	}
}
