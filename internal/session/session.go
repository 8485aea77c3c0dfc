package session

import (
	"math"
	"sync"
	"time"

	"livesync/pkg/types"
)

// Session is the authoritative state of one live teaching session.
// Instructor toggles, control broadcasts, and join/leave arrive
// concurrently from different connections, so every field is accessed
// through the session's own lock. Code and creation time are immutable
// after construction.
type Session struct {
	code      string
	createdAt time.Time

	mu           sync.RWMutex
	active       bool
	syncEnabled  bool
	studentCount int
	playback     types.PlaybackState
}

func newSession(code string) *Session {
	return &Session{
		code:        code,
		createdAt:   time.Now(),
		active:      true,
		syncEnabled: true,
		playback:    types.DefaultPlaybackState(),
	}
}

// Code returns the session's immutable identity.
func (s *Session) Code() string { return s.code }

// CreatedAt returns the session's creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// IsActive reports whether the session still accepts joins and broadcasts.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Deactivate marks the session ended. Idempotent; returns false if the
// session was already ended.
func (s *Session) Deactivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.active = false
	return true
}

// SyncEnabled reports whether control events are currently delivered.
func (s *Session) SyncEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncEnabled
}

// SetSyncEnabled flips the sync gate. Instructor-only by convention;
// authorization is the caller's concern.
func (s *Session) SetSyncEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncEnabled = enabled
}

// StudentCount returns the current presence count.
func (s *Session) StudentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.studentCount
}

// AdjustStudents applies a presence delta and returns the new count.
// The count is clamped at zero so a stray decrement cannot drive it
// negative.
func (s *Session) AdjustStudents(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.studentCount += delta
	if s.studentCount < 0 {
		s.studentCount = 0
	}
	return s.studentCount
}

// Snapshot returns a copy of the current playback state for catch-up.
func (s *Session) Snapshot() types.PlaybackState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playback
}

// ApplyControl folds a control event into the playback state as a
// single read-modify-write. Invalid payloads leave the state untouched.
func (s *Session) ApplyControl(controlType string, payload map[string]any) (types.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch controlType {
	case types.EventTypePlay:
		s.playback.Paused = false
	case types.EventTypePause:
		s.playback.Paused = true
	case types.EventTypeReset:
		// A reset session is indistinguishable from a fresh one.
		s.playback = types.DefaultPlaybackState()
	case types.EventTypeSpeed:
		speed, ok := floatField(payload, "speed")
		if !ok || speed <= 0 {
			return s.playback, types.ErrInvalidPayload
		}
		s.playback.Speed = speed
	case types.EventTypePosition:
		position, ok := floatField(payload, "position")
		if !ok || position < 0 {
			return s.playback, types.ErrInvalidPayload
		}
		s.playback.Position = position
	default:
		return s.playback, types.ErrInvalidControlType
	}

	return s.playback, nil
}

// floatField extracts a finite float from a JSON-decoded payload.
func floatField(payload map[string]any, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	v, ok := payload[key].(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
