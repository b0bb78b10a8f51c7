package realtime

import (
	"context"

	"github.com/google/uuid"

	"github.com/taskhub/server/internal/infra/events"
)

// Projector maps committed domain events onto room publishes.
type Projector struct {
	hub *Hub
}

// NewProjector creates a projector publishing through hub.
func NewProjector(hub *Hub) *Projector {
	return &Projector{hub: hub}
}

type sharePayload struct {
	ProjectID  uuid.UUID `json:"project_id"`
	UserID     uuid.UUID `json:"user_id"`
	Permission string    `json:"permission,omitempty"`
}

// Handles implements events.Handler.
func (p *Projector) Handles() []string {
	return []string{
		events.TodoCreatedType,
		events.TodoUpdatedType,
		events.TodoDeletedType,
		events.AccessGrantedType,
		events.AccessRevokedType,
		events.InvitationReceivedType,
		events.InvitationResolvedType,
		events.InvitationCancelledType,
		events.ProjectUpdatedType,
		events.ProjectDeletedType,
		events.ShareLinkChangedType,
	}
}

// Handle implements events.Handler.
func (p *Projector) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case *events.TodoChanged:
		p.hub.Publish(ProjectRoom(e.ProjectID), TypeTodo, e.Todo.ID.String(), e.Op, e.Todo)

	case *events.AccessGranted:
		op := events.OpCreated
		if e.Changed {
			op = events.OpUpdated
		}
		payload := sharePayload{ProjectID: e.ProjectID, UserID: e.UserID, Permission: string(e.Permission)}
		p.hub.Publish(ProjectRoom(e.ProjectID), TypeShare, e.UserID.String(), op, payload)
		p.hub.PushUser(e.UserID, TypeProject, e.ProjectID.String(), op, payload)

	case *events.AccessRevoked:
		payload := sharePayload{ProjectID: e.ProjectID, UserID: e.UserID}
		p.hub.EvictUser(e.ProjectID, e.UserID)
		p.hub.Publish(ProjectRoom(e.ProjectID), TypeShare, e.UserID.String(), events.OpDeleted, payload)
		p.hub.PushUser(e.UserID, TypeProject, e.ProjectID.String(), events.OpDeleted, payload)

	// Invitations carry the invitee's email, so they stay in user rooms.
	case *events.InvitationReceived:
		if e.Invitation.ReceiverID != nil {
			p.hub.PushUser(*e.Invitation.ReceiverID, TypeInvitation, e.Invitation.ID.String(), events.OpCreated, e.Invitation)
		}

	case *events.InvitationResolved:
		// Only the receiver resolves, so the actor's room is the receiver's.
		p.hub.PushUser(e.Actor(), TypeInvitation, e.Invitation.ID.String(), events.OpDeleted, e.Invitation)
		p.hub.PushUser(e.Invitation.SenderID, TypeInvitation, e.Invitation.ID.String(), events.OpUpdated, e.Invitation)

	case *events.InvitationCancelled:
		if e.Invitation.ReceiverID != nil {
			p.hub.PushUser(*e.Invitation.ReceiverID, TypeInvitation, e.Invitation.ID.String(), events.OpDeleted, e.Invitation)
		}

	case *events.ProjectUpdated:
		p.hub.Publish(ProjectRoom(e.Snapshot.ID), TypeProject, e.Snapshot.ID.String(), events.OpUpdated, e.Snapshot)

	case *events.ProjectDeleted:
		room := ProjectRoom(e.Snapshot.ID)
		p.hub.Publish(room, TypeProject, e.Snapshot.ID.String(), events.OpDeleted, e.Snapshot)
		for _, member := range e.MemberIDs {
			p.hub.PushUser(member, TypeProject, e.Snapshot.ID.String(), events.OpDeleted, e.Snapshot)
		}
		p.hub.CloseRoom(room)

	case *events.ShareLinkChanged:
		// Tokens are bearer credentials; only the actor's own sessions see them.
		p.hub.PushUser(e.Actor(), TypeLink, e.Link.ID, e.Op, e.Link)
	}
	return nil
}
