package model

import (
	"time"

	"github.com/google/uuid"
)

// Project is an owned resource that can be shared with other users.
type Project struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID `json:"owner_id" gorm:"type:uuid;not null;index"`
	Name      string    `json:"name" gorm:"not null"`
	Color     string    `json:"color,omitempty"`
	Emoji     string    `json:"emoji,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Project) TableName() string {
	return "projects"
}

// IsOwner returns true if the user owns the project.
func (p *Project) IsOwner(userID uuid.UUID) bool {
	return p.OwnerID == userID
}

// Share grants a non-owner user a capability on a project.
type Share struct {
	ID              uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID       uuid.UUID  `json:"project_id" gorm:"type:uuid;not null;uniqueIndex:idx_shares_project_user"`
	UserID          uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_shares_project_user;index"`
	GrantedByUserID uuid.UUID  `json:"granted_by_user_id" gorm:"type:uuid;not null"`
	Permission      Capability `json:"permission" gorm:"not null"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (Share) TableName() string {
	return "shares"
}

// ProjectWithCapability is a project annotated with the caller's capability.
type ProjectWithCapability struct {
	Project
	Capability Capability `json:"capability"`
}
