// Package realtime fans committed changes out to websocket sessions
// grouped in user and project rooms.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/taskhub/server/internal/infra/events"
)

// Room kinds.
const (
	KindUser    = "user"
	KindProject = "project"
)

// Message types.
const (
	TypeTodo         = "todo"
	TypeShare        = "share"
	TypeProject      = "project"
	TypeInvitation   = "invitation"
	TypeLink         = "link"
	TypeRevoked      = "revoked"
	TypeNotification = "notification"
	TypeBadge        = "badge"
)

// Control types travel only between hubs over the relay and are never
// sent to sessions.
const (
	controlEvict     = "control.evict"
	controlCloseRoom = "control.close_room"
)

// Envelope is one realtime message. Seq increases by one per room on the
// instance named by Origin.
type Envelope struct {
	Room     string          `json:"room"`
	Type     string          `json:"type"`
	EntityID string          `json:"entity_id"`
	Op       events.Op       `json:"op"`
	Seq      uint64          `json:"seq"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	At       time.Time       `json:"at"`
	Origin   string          `json:"origin,omitempty"`
}

// UserRoom returns the private room of a user.
func UserRoom(userID uuid.UUID) string {
	return KindUser + ":" + userID.String()
}

// ProjectRoom returns the room of a project.
func ProjectRoom(projectID uuid.UUID) string {
	return KindProject + ":" + projectID.String()
}

// ParseRoom splits a room name into its kind and id.
func ParseRoom(room string) (string, uuid.UUID, error) {
	kind, raw, ok := strings.Cut(room, ":")
	if !ok || (kind != KindUser && kind != KindProject) {
		return "", uuid.Nil, fmt.Errorf("invalid room %q", room)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("invalid room %q: %w", room, err)
	}
	return kind, id, nil
}

func roomKind(room string) string {
	kind, _, _ := strings.Cut(room, ":")
	return kind
}
