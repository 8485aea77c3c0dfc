package types

import (
	"time"
)

// Event type constants shared by every component that produces or
// consumes session events.
const (
	EventTypePlay     = "play"
	EventTypePause    = "pause"
	EventTypeReset    = "reset"
	EventTypeSpeed    = "speed"
	EventTypePosition = "position"
	EventTypeJoin     = "join"
	EventTypeLeave    = "leave"
	EventTypeState    = "state" // synthesized catch-up snapshot, never sent by an instructor
)

// Client roles accepted on a session connection.
const (
	RoleInstructor = "instructor"
	RoleStudent    = "student"
)

// PlaybackState is the last applied control state of a session.
// It is the value a late joiner receives as catch-up instead of a
// replay of historical control events.
type PlaybackState struct {
	Position float64 `json:"position"`
	Speed    float64 `json:"speed"`
	Paused   bool    `json:"paused"`
}

// DefaultPlaybackState returns the state every session starts in:
// at the beginning, normal speed, paused.
func DefaultPlaybackState() PlaybackState {
	return PlaybackState{Position: 0, Speed: 1.0, Paused: true}
}

// Payload converts the state into an event payload map, the shape a
// catch-up event carries over the wire.
func (p PlaybackState) Payload() map[string]any {
	return map[string]any{
		"position": p.Position,
		"speed":    p.Speed,
		"paused":   p.Paused,
	}
}

// Event is an immutable record delivered to session subscribers.
// Payload as map[string]any keeps control payloads flexible while
// staying JSON-compatible for WebSocket transport.
type Event struct {
	Type        string         `json:"type"`
	SessionCode string         `json:"session_code"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewEvent constructs an event stamped with the current time.
func NewEvent(eventType, sessionCode string, payload map[string]any) Event {
	return Event{
		Type:        eventType,
		SessionCode: sessionCode,
		Payload:     payload,
		Timestamp:   time.Now(),
	}
}
