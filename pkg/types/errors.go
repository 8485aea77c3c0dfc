package types

import "errors"

// Error taxonomy surfaced at the coordinator boundary. All of these are
// recovered there and returned as typed results; none propagate as an
// unhandled fault.
var (
	// ErrInvalidCodeFormat means the client supplied a malformed session
	// code. Recoverable: re-prompt the user.
	ErrInvalidCodeFormat = errors.New("session code must be three uppercase letters, a hyphen, and three digits")

	// ErrSessionNotFound means the code is well-formed but no session is
	// registered under it.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded means the session existed but has been ended by the
	// instructor and accepts no further joins or broadcasts.
	ErrSessionEnded = errors.New("session has ended")

	// ErrGenerationExhausted means the code generator could not find a
	// free code within its retry bound. Rare; surfaced as retry-later.
	ErrGenerationExhausted = errors.New("could not generate a unique session code")

	// ErrSyncDisabled is not a failure: the control was recognized but
	// dropped because the session's sync gate is off. Callers must not
	// treat it as fatal.
	ErrSyncDisabled = errors.New("session sync is disabled")

	// ErrInvalidControlType means the control type is not one of the
	// recognized playback controls.
	ErrInvalidControlType = errors.New("invalid control type")

	// ErrInvalidPayload means a control payload failed validation, such
	// as a non-positive speed or a negative position.
	ErrInvalidPayload = errors.New("invalid control payload")
)
