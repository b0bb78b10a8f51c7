package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies what triggered a notification.
type NotificationType string

const (
	NotificationTodoCreated        NotificationType = "todo_created"
	NotificationTodoUpdated        NotificationType = "todo_updated"
	NotificationTodoDeleted        NotificationType = "todo_deleted"
	NotificationAccessGranted      NotificationType = "access_granted"
	NotificationAccessRevoked      NotificationType = "access_revoked"
	NotificationInvitationReceived NotificationType = "invitation_received"
	NotificationInvitationResolved NotificationType = "invitation_resolved"
	NotificationProjectDeleted     NotificationType = "project_deleted"
)

// Notification is a delivery record owned by its recipient.
type Notification struct {
	ID        uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID        `json:"user_id" gorm:"type:uuid;not null;index:idx_notifications_user_read"`
	Type      NotificationType `json:"type" gorm:"not null"`
	Title     string           `json:"title" gorm:"not null"`
	Message   string           `json:"message"`
	Payload   json.RawMessage  `json:"payload" gorm:"type:jsonb"`
	Read      bool             `json:"read" gorm:"not null;default:false;index:idx_notifications_user_read"`
	DedupeKey string           `json:"-" gorm:"not null;default:''"`
	CreatedAt time.Time        `json:"created_at" gorm:"index"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
}

// TableName returns the database table name.
func (Notification) TableName() string {
	return "notifications"
}

// NotificationPayload is the frozen snapshot carried by a notification.
type NotificationPayload struct {
	ProjectID   uuid.UUID `json:"project_id"`
	ProjectName string    `json:"project_name,omitempty"`
	EntityID    string    `json:"entity_id"`
	EntityType  string    `json:"entity_type"`
	Op          string    `json:"op"`
	ActorID     uuid.UUID `json:"actor_id"`
	ActorName   string    `json:"actor_name,omitempty"`
	Permission  string    `json:"permission,omitempty"`
}

// Setting is a key/value row for process-wide flags.
type Setting struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	Value     string    `json:"value" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Setting) TableName() string {
	return "settings"
}
