// Package postgres implements store.Store on PostgreSQL through GORM.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/store"
	"gorm.io/gorm"
)

// PostgreSQL error codes mapped onto store errors.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Store is a GORM-backed store.Store.
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// New wraps an open GORM connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn inside a database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx store.Repos) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&repos{db: tx})
	})
	return mapError(err)
}

// Migrate creates or updates every table and the partial indexes GORM
// tags cannot express.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&model.User{},
		&model.Project{},
		&model.Share{},
		&model.Invitation{},
		&model.ShareLink{},
		&model.Notification{},
		&model.Todo{},
		&model.Friendship{},
		&model.Setting{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	statements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_pending
			ON invitations (project_id, email) WHERE status = 'pending'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_dedupe
			ON notifications (user_id, dedupe_key) WHERE dedupe_key <> ''`,
		`DO $$ BEGIN
			ALTER TABLE share_links ADD CONSTRAINT chk_share_links_uses
				CHECK (max_uses IS NULL OR used_count <= max_uses);
		EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Users() store.UserRepository                 { return (&repos{db: s.db}).Users() }
func (s *Store) Projects() store.ProjectRepository           { return (&repos{db: s.db}).Projects() }
func (s *Store) Shares() store.ShareRepository               { return (&repos{db: s.db}).Shares() }
func (s *Store) Invitations() store.InvitationRepository     { return (&repos{db: s.db}).Invitations() }
func (s *Store) ShareLinks() store.ShareLinkRepository       { return (&repos{db: s.db}).ShareLinks() }
func (s *Store) Notifications() store.NotificationRepository { return (&repos{db: s.db}).Notifications() }
func (s *Store) Todos() store.TodoRepository                 { return (&repos{db: s.db}).Todos() }
func (s *Store) Friendships() store.FriendshipRepository     { return (&repos{db: s.db}).Friendships() }
func (s *Store) Settings() store.SettingRepository           { return (&repos{db: s.db}).Settings() }

type repos struct {
	db *gorm.DB
}

func (r *repos) Users() store.UserRepository                 { return &userRepo{db: r.db} }
func (r *repos) Projects() store.ProjectRepository           { return &projectRepo{db: r.db} }
func (r *repos) Shares() store.ShareRepository               { return &shareRepo{db: r.db} }
func (r *repos) Invitations() store.InvitationRepository     { return &invitationRepo{db: r.db} }
func (r *repos) ShareLinks() store.ShareLinkRepository       { return &linkRepo{db: r.db} }
func (r *repos) Notifications() store.NotificationRepository { return &notificationRepo{db: r.db} }
func (r *repos) Todos() store.TodoRepository                 { return &todoRepo{db: r.db} }
func (r *repos) Friendships() store.FriendshipRepository     { return &friendshipRepo{db: r.db} }
func (r *repos) Settings() store.SettingRepository           { return &settingRepo{db: r.db} }

// mapError converts GORM and PostgreSQL errors into store errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		}
	}
	return err
}
