// Package store defines the transactional persistence contract used by every
// module. Implementations live in the postgres and memory subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/model"
)

// Store errors.
var (
	ErrNotFound        = errors.New("store: record not found")
	ErrDuplicate       = errors.New("store: duplicate record")
	ErrConflict        = errors.New("store: serialization conflict")
	ErrConditionFailed = errors.New("store: condition not met")
)

// UserRepository persists users.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.User, error)
	Update(ctx context.Context, user *model.User) error
}

// ProjectRepository persists projects.
type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error)
	ListOwned(ctx context.Context, ownerID uuid.UUID) ([]*model.Project, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*model.Project, error)
	Update(ctx context.Context, project *model.Project) error

	// Delete removes the project and every share, invitation, share link
	// and todo that belongs to it.
	Delete(ctx context.Context, id uuid.UUID) error

	// LockMembership serializes permission-affecting writes for one
	// (project, user) pair until the surrounding transaction ends.
	LockMembership(ctx context.Context, projectID, userID uuid.UUID) error
}

// ShareRepository persists direct grants.
type ShareRepository interface {
	// Create fails with ErrDuplicate when (project, user) already exists.
	Create(ctx context.Context, share *model.Share) error
	Get(ctx context.Context, projectID, userID uuid.UUID) (*model.Share, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*model.Share, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.Share, error)
	UpdatePermission(ctx context.Context, projectID, userID uuid.UUID, permission model.Capability) error
	Delete(ctx context.Context, projectID, userID uuid.UUID) error
}

// InvitationRepository persists invitations.
type InvitationRepository interface {
	// Create fails with ErrDuplicate when a pending invitation already
	// exists for (project, email).
	Create(ctx context.Context, invitation *model.Invitation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Invitation, error)
	GetPending(ctx context.Context, projectID uuid.UUID, email string) (*model.Invitation, error)
	ListByProject(ctx context.Context, projectID uuid.UUID, status *model.InvitationStatus) ([]*model.Invitation, error)
	ListPendingFor(ctx context.Context, userID uuid.UUID, email string) ([]*model.Invitation, error)
	CountPendingFor(ctx context.Context, userID uuid.UUID, email string) (int, error)

	// Resolve moves a pending invitation to a terminal status. It fails
	// with ErrConditionFailed when the invitation is no longer pending.
	Resolve(ctx context.Context, id uuid.UUID, status model.InvitationStatus, at time.Time) (*model.Invitation, error)

	// DeletePending removes a pending invitation. Terminal rows are kept.
	DeletePending(ctx context.Context, id uuid.UUID) error

	// AttachReceiver links pending invitations addressed to email to userID.
	AttachReceiver(ctx context.Context, email string, userID uuid.UUID) (int, error)
}

// ShareLinkRepository persists share links.
type ShareLinkRepository interface {
	Create(ctx context.Context, link *model.ShareLink) error
	GetByID(ctx context.Context, id string) (*model.ShareLink, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*model.ShareLink, error)

	// ConsumeUse increments used_count by one only while the link is
	// active, unexpired at now and below max_uses. When the new count
	// reaches max_uses the link is deactivated by the same statement.
	// It fails with ErrConditionFailed when any condition does not hold.
	ConsumeUse(ctx context.Context, id string, now time.Time) (*model.ShareLink, error)

	// Deactivate flips an active link to inactive. It reports whether
	// this call performed the transition.
	Deactivate(ctx context.Context, id string, at time.Time) (bool, error)

	// DeactivateExpired deactivates every active link expired at now.
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// NotificationFilter narrows a notification listing.
type NotificationFilter struct {
	UnreadOnly bool
	Before     *time.Time
	Limit      int
}

// NotificationRepository persists notifications. Read mutations are
// always scoped to the recipient.
type NotificationRepository interface {
	// Create reports false without error when the (user, dedupe key)
	// pair already exists.
	Create(ctx context.Context, notification *model.Notification) (bool, error)
	List(ctx context.Context, userID uuid.UUID, filter NotificationFilter) ([]*model.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) (int, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int, error)
}

// TodoRepository persists todos.
type TodoRepository interface {
	Create(ctx context.Context, todo *model.Todo) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Todo, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*model.Todo, error)
	Update(ctx context.Context, todo *model.Todo) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// FriendshipRepository persists undirected user edges.
type FriendshipRepository interface {
	Upsert(ctx context.Context, friendship model.Friendship) error
	ListFor(ctx context.Context, userID uuid.UUID) ([]model.Friendship, error)
	Delete(ctx context.Context, friendship model.Friendship) error
}

// SettingRepository persists process-wide flags.
type SettingRepository interface {
	Get(ctx context.Context, key string) (*model.Setting, error)
	Put(ctx context.Context, key, value string) error
}

// Repos groups every repository. It is implemented both by the store and
// by the transaction handle passed to Transaction callbacks.
type Repos interface {
	Users() UserRepository
	Projects() ProjectRepository
	Shares() ShareRepository
	Invitations() InvitationRepository
	ShareLinks() ShareLinkRepository
	Notifications() NotificationRepository
	Todos() TodoRepository
	Friendships() FriendshipRepository
	Settings() SettingRepository
}

// Store is the transactional persistence boundary.
type Store interface {
	Repos

	// Transaction runs fn atomically. Returning an error rolls back every
	// write performed through tx.
	Transaction(ctx context.Context, fn func(tx Repos) error) error

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	Close() error
}
