// Package memory is an in-process store.Store. It backs tests and the
// "memory" database driver.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/store"
)

type shareKey struct {
	projectID uuid.UUID
	userID    uuid.UUID
}

type friendKey struct {
	low  uuid.UUID
	high uuid.UUID
}

type dedupeKey struct {
	userID uuid.UUID
	key    string
}

// data is every table. Values are stored by value so that clone gives
// the transaction a private snapshot.
type data struct {
	users         map[uuid.UUID]model.User
	projects      map[uuid.UUID]model.Project
	shares        map[shareKey]model.Share
	invitations   map[uuid.UUID]model.Invitation
	links         map[string]model.ShareLink
	notifications map[uuid.UUID]model.Notification
	notifOrder    []uuid.UUID
	dedupe        map[dedupeKey]uuid.UUID
	todos         map[uuid.UUID]model.Todo
	friendships   map[friendKey]model.Friendship
	settings      map[string]model.Setting
}

func newData() *data {
	return &data{
		users:         make(map[uuid.UUID]model.User),
		projects:      make(map[uuid.UUID]model.Project),
		shares:        make(map[shareKey]model.Share),
		invitations:   make(map[uuid.UUID]model.Invitation),
		links:         make(map[string]model.ShareLink),
		notifications: make(map[uuid.UUID]model.Notification),
		dedupe:        make(map[dedupeKey]uuid.UUID),
		todos:         make(map[uuid.UUID]model.Todo),
		friendships:   make(map[friendKey]model.Friendship),
		settings:      make(map[string]model.Setting),
	}
}

func (d *data) clone() *data {
	return &data{
		users:         maps.Clone(d.users),
		projects:      maps.Clone(d.projects),
		shares:        maps.Clone(d.shares),
		invitations:   maps.Clone(d.invitations),
		links:         maps.Clone(d.links),
		notifications: maps.Clone(d.notifications),
		notifOrder:    slices.Clone(d.notifOrder),
		dedupe:        maps.Clone(d.dedupe),
		todos:         maps.Clone(d.todos),
		friendships:   maps.Clone(d.friendships),
		settings:      maps.Clone(d.settings),
	}
}

// Store is a mutex-guarded store.Store. Transactions hold the lock for
// their whole duration, so they are fully serialized.
type Store struct {
	mu  sync.Mutex
	d   *data
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty memory store.
func New() *Store {
	return &Store{d: newData(), now: time.Now}
}

// SetClock overrides the timestamp source used for created/updated fields.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Transaction runs fn against a snapshot and restores it if fn fails.
func (s *Store) Transaction(ctx context.Context, fn func(tx store.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	tx := &repos{s: s, locked: true}
	if err := fn(tx); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

// Migrate is a no-op.
func (s *Store) Migrate(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) Users() store.UserRepository                 { return (&repos{s: s}).Users() }
func (s *Store) Projects() store.ProjectRepository           { return (&repos{s: s}).Projects() }
func (s *Store) Shares() store.ShareRepository               { return (&repos{s: s}).Shares() }
func (s *Store) Invitations() store.InvitationRepository     { return (&repos{s: s}).Invitations() }
func (s *Store) ShareLinks() store.ShareLinkRepository       { return (&repos{s: s}).ShareLinks() }
func (s *Store) Notifications() store.NotificationRepository { return (&repos{s: s}).Notifications() }
func (s *Store) Todos() store.TodoRepository                 { return (&repos{s: s}).Todos() }
func (s *Store) Friendships() store.FriendshipRepository     { return (&repos{s: s}).Friendships() }
func (s *Store) Settings() store.SettingRepository           { return (&repos{s: s}).Settings() }

// repos is the handle every repository works through. Outside a
// transaction each call takes the store lock; inside one the lock is
// already held.
type repos struct {
	s      *Store
	locked bool
}

func (r *repos) do(ctx context.Context, fn func(d *data, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
	}
	return fn(r.s.d, r.s.now())
}

func (r *repos) Users() store.UserRepository                 { return userRepo{r} }
func (r *repos) Projects() store.ProjectRepository           { return projectRepo{r} }
func (r *repos) Shares() store.ShareRepository               { return shareRepo{r} }
func (r *repos) Invitations() store.InvitationRepository     { return invitationRepo{r} }
func (r *repos) ShareLinks() store.ShareLinkRepository       { return linkRepo{r} }
func (r *repos) Notifications() store.NotificationRepository { return notificationRepo{r} }
func (r *repos) Todos() store.TodoRepository                 { return todoRepo{r} }
func (r *repos) Friendships() store.FriendshipRepository     { return friendshipRepo{r} }
func (r *repos) Settings() store.SettingRepository           { return settingRepo{r} }

func stamp(created *time.Time, now time.Time) {
	if created.IsZero() {
		*created = now
	}
}
