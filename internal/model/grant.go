package model

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus represents the status of an invitation.
type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusRejected InvitationStatus = "rejected"
)

// Invitation is an addressed offer of a Share. It confers no capability
// until accepted.
type Invitation struct {
	ID         uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID  uuid.UUID        `json:"project_id" gorm:"type:uuid;not null;index"`
	SenderID   uuid.UUID        `json:"sender_id" gorm:"type:uuid;not null"`
	ReceiverID *uuid.UUID       `json:"receiver_id,omitempty" gorm:"type:uuid;index"`
	Email      string           `json:"email" gorm:"not null;index"`
	Permission Capability       `json:"permission" gorm:"not null"`
	Status     InvitationStatus `json:"status" gorm:"not null;default:pending"`
	CreatedAt  time.Time        `json:"created_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}

// TableName returns the database table name.
func (Invitation) TableName() string {
	return "invitations"
}

// IsPending returns true if the invitation has not been resolved.
func (i *Invitation) IsPending() bool {
	return i.Status == InvitationStatusPending
}

// IsAddressedTo reports whether the invitation belongs to the given user,
// by receiver id or, for invitations created before the account existed, by email.
func (i *Invitation) IsAddressedTo(userID uuid.UUID, email string) bool {
	if i.ReceiverID != nil {
		return *i.ReceiverID == userID
	}
	return i.Email == NormalizeEmail(email)
}

// ShareLink is a self-service, token-addressed offer of a Share.
type ShareLink struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	ProjectID       uuid.UUID  `json:"project_id" gorm:"type:uuid;not null;index"`
	CreatedByUserID uuid.UUID  `json:"created_by_user_id" gorm:"type:uuid;not null"`
	Permission      Capability `json:"permission" gorm:"not null"`
	Active          bool       `json:"active" gorm:"not null;default:true"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	MaxUses         *int       `json:"max_uses,omitempty"`
	UsedCount       int        `json:"used_count" gorm:"not null;default:0"`
	CreatedAt       time.Time  `json:"created_at"`
	DeactivatedAt   *time.Time `json:"deactivated_at,omitempty"`
}

// TableName returns the database table name.
func (ShareLink) TableName() string {
	return "share_links"
}

// IsExpired checks if the link expiry is at or before now.
func (l *ShareLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// IsExhausted checks if the link has no uses left.
func (l *ShareLink) IsExhausted() bool {
	return l.MaxUses != nil && l.UsedCount >= *l.MaxUses
}

// IsRedeemable checks if the link can still be redeemed at now.
func (l *ShareLink) IsRedeemable(now time.Time) bool {
	return l.Active && !l.IsExpired(now) && !l.IsExhausted()
}

// Friendship is an undirected edge between two users. The lower id is
// always stored in UserLowID.
type Friendship struct {
	UserLowID  uuid.UUID `json:"user_low_id" gorm:"type:uuid;primaryKey"`
	UserHighID uuid.UUID `json:"user_high_id" gorm:"type:uuid;primaryKey;index"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (Friendship) TableName() string {
	return "friendships"
}

// NewFriendship canonicalizes the pair so that (a, b) and (b, a) map to
// the same row.
func NewFriendship(a, b uuid.UUID) Friendship {
	if compareUUID(a, b) > 0 {
		a, b = b, a
	}
	return Friendship{UserLowID: a, UserHighID: b}
}

// Other returns the counterpart of userID in the edge.
func (f Friendship) Other(userID uuid.UUID) uuid.UUID {
	if f.UserLowID == userID {
		return f.UserHighID
	}
	return f.UserLowID
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
