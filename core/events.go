package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a domain fact published after a successful commit.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

func NewEvent(typ string, payload interface{}) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// EventPublisher publishes events to interested parties (message broker, tests...).
type EventPublisher interface {
	Publish(ctx context.Context, events ...Event) error
}
