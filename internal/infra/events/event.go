package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is a committed change. Consumers only see events whose producing
// transaction succeeded.
type Event interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	// Actor is the user whose request produced the event.
	Actor() uuid.UUID
}

// BaseEvent carries the fields every event shares. The id doubles as the
// dedupe key of notifications written for the event.
type BaseEvent struct {
	ID      uuid.UUID `json:"id"`
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	ActorID uuid.UUID `json:"actor_id"`
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.At }
func (e BaseEvent) Actor() uuid.UUID      { return e.ActorID }

// NewBaseEvent stamps a fresh event of eventType by actorID.
func NewBaseEvent(eventType string, actorID uuid.UUID) BaseEvent {
	return BaseEvent{ID: uuid.New(), Type: eventType, At: time.Now(), ActorID: actorID}
}
