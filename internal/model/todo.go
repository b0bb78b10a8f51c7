package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Todo is a task inside a project.
type Todo struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	ProjectID uuid.UUID      `json:"project_id" gorm:"type:uuid;not null;index"`
	CreatorID uuid.UUID      `json:"creator_id" gorm:"type:uuid;not null"`
	Title     string         `json:"title" gorm:"not null"`
	Notes     string         `json:"notes,omitempty"`
	Done      bool           `json:"done" gorm:"not null;default:false"`
	DueAt     *time.Time     `json:"due_at,omitempty"`
	Tags      pq.StringArray `json:"tags" gorm:"type:text[]"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName returns the database table name.
func (Todo) TableName() string {
	return "todos"
}

// IsCreator returns true if the user created the todo.
func (t *Todo) IsCreator(userID uuid.UUID) bool {
	return t.CreatorID == userID
}
