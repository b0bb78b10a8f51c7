// Package notification turns committed domain events into Notification
// rows, pushes them to connected clients and queues best-effort email.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/store"
)

// Result is what one event dispatch produced.
type Result struct {
	Notifications []*model.Notification
	Emails        []EmailJob
}

// IDs returns the ids of the created notifications.
func (r *Result) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.Notifications))
	for _, n := range r.Notifications {
		ids = append(ids, n.ID)
	}
	return ids
}

// Dispatcher computes recipients and writes notifications. It runs inside
// the transaction of the mutation that produced the event, so rows exist
// exactly when the mutation committed.
type Dispatcher struct {
	emailEnabled bool
}

// NewDispatcher creates a dispatcher. When emailEnabled is false no email
// jobs are produced.
func NewDispatcher(emailEnabled bool) *Dispatcher {
	return &Dispatcher{emailEnabled: emailEnabled}
}

// Dispatch writes one notification per recipient of event. Recipients are
// resolved from tx at call time. The event id is the dedupe key, so a
// replayed event creates nothing new.
func (d *Dispatcher) Dispatch(ctx context.Context, tx store.Repos, event events.Event) (*Result, error) {
	p, err := d.plan(ctx, tx, event)
	if err != nil || p == nil {
		return &Result{}, err
	}

	payload, err := json.Marshal(p.payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	result := &Result{}
	seen := make(map[uuid.UUID]bool, len(p.recipients))
	for _, recipient := range p.recipients {
		if recipient == uuid.Nil || recipient == event.Actor() || seen[recipient] {
			continue
		}
		seen[recipient] = true

		n := &model.Notification{
			ID:        uuid.New(),
			UserID:    recipient,
			Type:      p.kind,
			Title:     p.title,
			Message:   p.message,
			Payload:   payload,
			DedupeKey: event.EventID().String(),
			CreatedAt: event.OccurredAt(),
		}
		created, err := tx.Notifications().Create(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("create notification: %w", err)
		}
		if created {
			result.Notifications = append(result.Notifications, n)
		}
	}

	if d.emailEnabled {
		for _, to := range p.emailTo {
			result.Emails = append(result.Emails, EmailJob{
				To:        to,
				Subject:   p.title,
				Body:      p.message,
				Kind:      p.kind,
				DedupeKey: event.EventID().String(),
			})
		}
	}
	return result, nil
}

type plan struct {
	kind       model.NotificationType
	title      string
	message    string
	recipients []uuid.UUID
	emailTo    []string
	payload    model.NotificationPayload
}

func (d *Dispatcher) plan(ctx context.Context, tx store.Repos, event events.Event) (*plan, error) {
	switch e := event.(type) {
	case *events.TodoChanged:
		return d.planTodo(ctx, tx, e)
	case *events.AccessGranted:
		return d.planGranted(ctx, tx, e)
	case *events.AccessRevoked:
		return d.planRevoked(ctx, tx, e)
	case *events.InvitationReceived:
		return d.planInvitationReceived(ctx, tx, e)
	case *events.InvitationResolved:
		return d.planInvitationResolved(ctx, tx, e)
	case *events.ProjectDeleted:
		return d.planProjectDeleted(ctx, tx, e)
	default:
		return nil, nil
	}
}

func (d *Dispatcher) planTodo(ctx context.Context, tx store.Repos, e *events.TodoChanged) (*plan, error) {
	project, err := tx.Projects().GetByID(ctx, e.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	shares, err := tx.Shares().ListByProject(ctx, e.ProjectID)
	if err != nil {
		return nil, err
	}
	// The owner holds no Share row.
	recipients := []uuid.UUID{project.OwnerID}
	for _, s := range shares {
		recipients = append(recipients, s.UserID)
	}

	actorName := displayName(ctx, tx, e.Actor())
	kind, verb := model.NotificationTodoUpdated, "updated"
	switch e.Op {
	case events.OpCreated:
		kind, verb = model.NotificationTodoCreated, "added"
	case events.OpDeleted:
		kind, verb = model.NotificationTodoDeleted, "deleted"
	}

	return &plan{
		kind:       kind,
		title:      fmt.Sprintf("Task %s", verb),
		message:    fmt.Sprintf("%s %s %q in %s", actorName, verb, e.Todo.Title, project.Name),
		recipients: recipients,
		payload: model.NotificationPayload{
			ProjectID:   project.ID,
			ProjectName: project.Name,
			EntityID:    e.Todo.ID.String(),
			EntityType:  "todo",
			Op:          string(e.Op),
			ActorID:     e.Actor(),
			ActorName:   actorName,
		},
	}, nil
}

func (d *Dispatcher) planGranted(ctx context.Context, tx store.Repos, e *events.AccessGranted) (*plan, error) {
	if e.Source == events.SourceInvitation {
		// The sender hears about it through InvitationResolved.
		return nil, nil
	}
	project, err := tx.Projects().GetByID(ctx, e.ProjectID)
	if err != nil {
		return nil, err
	}
	actorName := displayName(ctx, tx, e.Actor())
	p := &plan{
		kind: model.NotificationAccessGranted,
		payload: model.NotificationPayload{
			ProjectID:   project.ID,
			ProjectName: project.Name,
			EntityID:    e.UserID.String(),
			EntityType:  "share",
			Op:          string(events.OpCreated),
			ActorID:     e.Actor(),
			ActorName:   actorName,
			Permission:  string(e.Permission),
		},
	}

	switch {
	case e.Source == events.SourceLink:
		p.title = "New collaborator"
		p.message = fmt.Sprintf("%s joined %s via a share link", actorName, project.Name)
		p.recipients = []uuid.UUID{project.OwnerID}
	case e.Changed:
		p.title = "Access changed"
		p.message = fmt.Sprintf("%s changed your access to %s to %s", actorName, project.Name, e.Permission)
		p.recipients = []uuid.UUID{e.UserID}
		p.payload.Op = string(events.OpUpdated)
	default:
		p.title = "Project shared with you"
		p.message = fmt.Sprintf("%s shared %s with you (%s)", actorName, project.Name, e.Permission)
		p.recipients = []uuid.UUID{e.UserID}
		if grantee, err := tx.Users().GetByID(ctx, e.UserID); err == nil {
			p.emailTo = []string{grantee.Email}
		}
	}
	return p, nil
}

func (d *Dispatcher) planRevoked(ctx context.Context, tx store.Repos, e *events.AccessRevoked) (*plan, error) {
	project, err := tx.Projects().GetByID(ctx, e.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	actorName := displayName(ctx, tx, e.Actor())
	p := &plan{
		kind: model.NotificationAccessRevoked,
		payload: model.NotificationPayload{
			ProjectID:   project.ID,
			ProjectName: project.Name,
			EntityID:    e.UserID.String(),
			EntityType:  "share",
			Op:          string(events.OpDeleted),
			ActorID:     e.Actor(),
			ActorName:   actorName,
		},
	}
	if e.SelfRemoved() {
		p.title = "Collaborator left"
		p.message = fmt.Sprintf("%s left %s", actorName, project.Name)
		p.recipients = []uuid.UUID{project.OwnerID}
	} else {
		p.title = "Access removed"
		p.message = fmt.Sprintf("%s removed your access to %s", actorName, project.Name)
		p.recipients = []uuid.UUID{e.UserID}
	}
	return p, nil
}

func (d *Dispatcher) planInvitationReceived(ctx context.Context, tx store.Repos, e *events.InvitationReceived) (*plan, error) {
	inv := e.Invitation
	project, err := tx.Projects().GetByID(ctx, inv.ProjectID)
	if err != nil {
		return nil, err
	}
	actorName := displayName(ctx, tx, inv.SenderID)
	p := &plan{
		kind:    model.NotificationInvitationReceived,
		title:   "Project invitation",
		message: fmt.Sprintf("%s invited you to %s as %s", actorName, project.Name, inv.Permission),
		emailTo: []string{inv.Email},
		payload: model.NotificationPayload{
			ProjectID:   project.ID,
			ProjectName: project.Name,
			EntityID:    inv.ID.String(),
			EntityType:  "invitation",
			Op:          string(events.OpCreated),
			ActorID:     inv.SenderID,
			ActorName:   actorName,
			Permission:  string(inv.Permission),
		},
	}
	if inv.ReceiverID != nil {
		p.recipients = []uuid.UUID{*inv.ReceiverID}
	}
	return p, nil
}

func (d *Dispatcher) planInvitationResolved(ctx context.Context, tx store.Repos, e *events.InvitationResolved) (*plan, error) {
	inv := e.Invitation
	project, err := tx.Projects().GetByID(ctx, inv.ProjectID)
	if err != nil {
		return nil, err
	}
	actorName := displayName(ctx, tx, e.Actor())
	verb := "declined"
	if e.Accepted() {
		verb = "accepted"
	}
	return &plan{
		kind:       model.NotificationInvitationResolved,
		title:      fmt.Sprintf("Invitation %s", verb),
		message:    fmt.Sprintf("%s %s your invitation to %s", actorName, verb, project.Name),
		recipients: []uuid.UUID{inv.SenderID},
		payload: model.NotificationPayload{
			ProjectID:   project.ID,
			ProjectName: project.Name,
			EntityID:    inv.ID.String(),
			EntityType:  "invitation",
			Op:          string(events.OpUpdated),
			ActorID:     e.Actor(),
			ActorName:   actorName,
			Permission:  string(inv.Permission),
		},
	}, nil
}

func (d *Dispatcher) planProjectDeleted(ctx context.Context, tx store.Repos, e *events.ProjectDeleted) (*plan, error) {
	actorName := displayName(ctx, tx, e.Actor())
	return &plan{
		kind:       model.NotificationProjectDeleted,
		title:      "Project deleted",
		message:    fmt.Sprintf("%s deleted %s", actorName, e.Snapshot.Name),
		recipients: e.MemberIDs,
		payload: model.NotificationPayload{
			ProjectID:   e.Snapshot.ID,
			ProjectName: e.Snapshot.Name,
			EntityID:    e.Snapshot.ID.String(),
			EntityType:  "project",
			Op:          string(events.OpDeleted),
			ActorID:     e.Actor(),
			ActorName:   actorName,
		},
	}, nil
}

// displayName returns the user's display name, or "Someone" when the
// account is missing.
func displayName(ctx context.Context, tx store.Repos, userID uuid.UUID) string {
	user, err := tx.Users().GetByID(ctx, userID)
	if err != nil || user.DisplayName == "" {
		return "Someone"
	}
	return user.DisplayName
}
