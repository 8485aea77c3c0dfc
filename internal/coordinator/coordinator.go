// Package coordinator exposes the public synchronization API: session
// creation and join, instructor control broadcast, the sync gate, and
// session teardown.
package coordinator

import (
	"log/slog"
	"time"

	"livesync/internal/bus"
	"livesync/internal/journal"
	"livesync/internal/session"
	"livesync/pkg/types"
)

// Coordinator orchestrates the registry and the broadcast bus. All
// error outcomes are typed values from pkg/types; nothing propagates as
// an unhandled fault. Authorization (who may control a session) is an
// external collaborator's concern.
type Coordinator struct {
	registry *session.Registry
	bus      *bus.Bus
	journal  journal.Recorder
	logger   *slog.Logger
}

// New creates a coordinator over an already-wired registry and bus.
func New(registry *session.Registry, b *bus.Bus, rec journal.Recorder, logger *slog.Logger) *Coordinator {
	if rec == nil {
		rec = journal.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry: registry,
		bus:      b,
		journal:  rec,
		logger:   logger,
	}
}

// CreateSession registers a new session and returns its code.
func (c *Coordinator) CreateSession() (string, error) {
	sess, err := c.registry.Create()
	if err != nil {
		return "", err
	}
	c.journal.SessionCreated(sess.Code(), sess.CreatedAt())
	return sess.Code(), nil
}

// JoinSession subscribes a client to the session's event stream. The
// code is normalized before validation; a valid but unknown code
// creates the session implicitly, so students can arrive before the
// instructor. The returned subscription's stream starts with a catch-up
// snapshot of the current playback state.
func (c *Coordinator) JoinSession(sessionCode, role string) (*bus.Subscription, error) {
	sessionCode = types.NormalizeSessionCode(sessionCode)
	if !types.IsValidSessionCode(sessionCode) {
		return nil, types.ErrInvalidCodeFormat
	}
	if !types.IsValidRole(role) {
		return nil, types.ErrInvalidPayload
	}

	sess, err := c.registry.GetOrCreate(sessionCode)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, types.ErrSessionEnded
	}

	sub, err := c.bus.Subscribe(sess, role)
	if err != nil {
		return nil, err
	}

	c.journal.Event(types.NewEvent(types.EventTypeJoin, sessionCode, map[string]any{"role": role}))
	return sub, nil
}

// EndSession retires the session: every subscription's stream
// terminates and further joins fail with ErrSessionEnded until the
// code is eventually released for reuse.
func (c *Coordinator) EndSession(sessionCode string) error {
	sessionCode = types.NormalizeSessionCode(sessionCode)
	if !types.IsValidSessionCode(sessionCode) {
		return types.ErrInvalidCodeFormat
	}

	if err := c.registry.End(sessionCode); err != nil {
		return err
	}
	c.journal.SessionEnded(sessionCode)
	return nil
}

// SetSyncEnabled flips the session's sync gate.
func (c *Coordinator) SetSyncEnabled(sessionCode string, enabled bool) error {
	sess, err := c.liveSession(sessionCode)
	if err != nil {
		return err
	}
	sess.SetSyncEnabled(enabled)
	c.logger.Info("sync gate changed", "session", sess.Code(), "enabled", enabled)
	return nil
}

// SendControl applies an instructor control to the session's playback
// state and fans it out to every subscriber. ErrSyncDisabled is a
// recognized no-op outcome, not a failure: the control was understood
// but suppressed by the gate and will not be delivered retroactively.
func (c *Coordinator) SendControl(sessionCode, controlType string, payload map[string]any) error {
	sess, err := c.liveSession(sessionCode)
	if err != nil {
		return err
	}
	if !types.IsControlType(controlType) {
		return types.ErrInvalidControlType
	}

	if !sess.SyncEnabled() {
		c.logger.Info("control dropped, sync disabled", "session", sess.Code(), "type", controlType)
		return types.ErrSyncDisabled
	}

	if _, err := sess.ApplyControl(controlType, payload); err != nil {
		return err
	}

	ev := types.NewEvent(controlType, sess.Code(), payload)
	c.bus.Publish(sess, ev)
	c.journal.Event(ev)
	return nil
}

// Info is a read-only view of a session for the REST surface.
type Info struct {
	Code         string              `json:"code"`
	Active       bool                `json:"active"`
	SyncEnabled  bool                `json:"sync_enabled"`
	StudentCount int                 `json:"student_count"`
	Playback     types.PlaybackState `json:"playback"`
	CreatedAt    time.Time           `json:"created_at"`
}

// SessionInfo returns the session's current state. Ended sessions
// inside their grace period still resolve, reported with Active false.
func (c *Coordinator) SessionInfo(sessionCode string) (*Info, error) {
	sessionCode = types.NormalizeSessionCode(sessionCode)
	if !types.IsValidSessionCode(sessionCode) {
		return nil, types.ErrInvalidCodeFormat
	}

	sess, err := c.registry.Get(sessionCode)
	if err != nil {
		return nil, err
	}

	return &Info{
		Code:         sess.Code(),
		Active:       sess.IsActive(),
		SyncEnabled:  sess.SyncEnabled(),
		StudentCount: sess.StudentCount(),
		Playback:     sess.Snapshot(),
		CreatedAt:    sess.CreatedAt(),
	}, nil
}

// liveSession resolves a code to an active session, mapping an ended
// session to ErrSessionEnded.
func (c *Coordinator) liveSession(sessionCode string) (*session.Session, error) {
	sessionCode = types.NormalizeSessionCode(sessionCode)
	if !types.IsValidSessionCode(sessionCode) {
		return nil, types.ErrInvalidCodeFormat
	}

	sess, err := c.registry.Get(sessionCode)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, types.ErrSessionEnded
	}
	return sess, nil
}
