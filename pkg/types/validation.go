package types

import (
	"regexp"
	"strings"
)

// Compiled once at package initialization; code validation sits on the
// join path and runs for every connection attempt.
var sessionCodeRegex = regexp.MustCompile(`^[A-Z]{3}-[0-9]{3}$`)

// IsValidSessionCode reports whether candidate matches the
// three-letter/hyphen/three-digit session code shape. Case-sensitive on
// the letter portion; callers normalize first.
func IsValidSessionCode(candidate string) bool {
	return sessionCodeRegex.MatchString(candidate)
}

// NormalizeSessionCode trims surrounding whitespace and uppercases a
// user-supplied code so that "abc-123 " validates as "ABC-123".
func NormalizeSessionCode(candidate string) string {
	return strings.ToUpper(strings.TrimSpace(candidate))
}

// IsControlType reports whether the event type is a playback control,
// which is subject to the sync-enabled gate. Presence events (join,
// leave) and the synthetic state snapshot are never gated.
func IsControlType(eventType string) bool {
	switch eventType {
	case EventTypePlay, EventTypePause, EventTypeReset, EventTypeSpeed, EventTypePosition:
		return true
	default:
		return false
	}
}

// IsValidEventType reports whether the event type is one of the types
// this core ever emits.
func IsValidEventType(eventType string) bool {
	if IsControlType(eventType) {
		return true
	}
	switch eventType {
	case EventTypeJoin, EventTypeLeave, EventTypeState:
		return true
	default:
		return false
	}
}

// IsValidRole reports whether role is a recognized connection role.
func IsValidRole(role string) bool {
	return role == RoleInstructor || role == RoleStudent
}
