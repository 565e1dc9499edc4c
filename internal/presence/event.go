package presence

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventStarted  EventType = "started"
	EventProgress EventType = "progress"
	EventStopped  EventType = "stopped"
)

// Event is the payload published on the presence channel after every
// successful mutation.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	ContentID string    `json:"content_id"`
	MediaType string    `json:"media_type,omitempty"`
	Position  float64   `json:"position"`
	Duration  float64   `json:"duration,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	At        time.Time `json:"at"`
}

// DecodeEvent parses a raw channel payload.
func DecodeEvent(b []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(b, &ev)
	return ev, err
}
