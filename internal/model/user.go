package model

import (
	"time"

	"github.com/google/uuid"
)

// UserRole is the system-wide role of a user.
type UserRole string

const (
	UserRoleUser      UserRole = "USER"
	UserRoleModerator UserRole = "MODERATOR"
	UserRoleAdmin     UserRole = "ADMIN"
)

// IsValid checks if the role is valid.
func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleUser, UserRoleModerator, UserRoleAdmin:
		return true
	default:
		return false
	}
}

// User represents a platform account.
type User struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Email       string    `json:"email" gorm:"uniqueIndex;not null"`
	DisplayName string    `json:"display_name" gorm:"not null"`
	Role        UserRole  `json:"role" gorm:"not null;default:USER"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (User) TableName() string {
	return "users"
}

// IsAdmin returns true if the user holds the ADMIN system role.
func (u *User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}
