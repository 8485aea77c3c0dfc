// Package session holds per-session state and the process-wide registry
// of live sessions.
package session

import (
	"log/slog"
	"sync"
	"time"

	"livesync/internal/code"
	"livesync/pkg/types"
)

// Registry is the code->Session table, the only process-wide mutable
// structure. All mutations are atomic with respect to concurrent
// Create/GetOrCreate/End calls on the same code: two simultaneous
// GetOrCreate calls for an unseen code yield exactly one Session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	grace  time.Duration
	onEnd  func(sessionCode string)
	logger *slog.Logger
}

// NewRegistry creates a registry. Ended sessions linger for the grace
// period before removal so in-flight catch-up reads can complete. The
// onEnd hook runs when a session is ended, before the grace timer
// starts; the broadcast layer uses it to close subscriptions.
func NewRegistry(grace time.Duration, onEnd func(sessionCode string), logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		grace:    grace,
		onEnd:    onEnd,
		logger:   logger,
	}
}

// Create generates a unique code and registers a new session under it.
// The generate-and-insert runs under the registry lock, so a candidate
// reported free cannot be claimed by a concurrent caller.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionCode, err := code.Generate(func(candidate string) bool {
		_, exists := r.sessions[candidate]
		return exists
	})
	if err != nil {
		return nil, err
	}

	sess := newSession(sessionCode)
	r.sessions[sessionCode] = sess

	r.logger.Info("session created", "code", sessionCode)
	return sess, nil
}

// GetOrCreate looks up a session, creating one with the given code if
// absent. This supports students joining a code the instructor has not
// explicitly created yet. The code must already be normalized.
func (r *Registry) GetOrCreate(sessionCode string) (*Session, error) {
	if !types.IsValidSessionCode(sessionCode) {
		return nil, types.ErrInvalidCodeFormat
	}

	r.mu.RLock()
	if sess, exists := r.sessions[sessionCode]; exists {
		r.mu.RUnlock()
		return sess, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock: a concurrent caller may have won
	// the race, and both must observe the same instance.
	if sess, exists := r.sessions[sessionCode]; exists {
		return sess, nil
	}

	sess := newSession(sessionCode)
	r.sessions[sessionCode] = sess

	r.logger.Info("session created on first join", "code", sessionCode)
	return sess, nil
}

// Get returns the session registered under the code, which may be an
// ended session still inside its grace period.
func (r *Registry) Get(sessionCode string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[sessionCode]
	if !exists {
		return nil, types.ErrSessionNotFound
	}
	return sess, nil
}

// End marks the session inactive, notifies the end hook so subscribers
// are disconnected, and schedules removal after the grace period. A
// session that is already ended returns ErrSessionEnded.
func (r *Registry) End(sessionCode string) error {
	r.mu.RLock()
	sess, exists := r.sessions[sessionCode]
	r.mu.RUnlock()

	if !exists {
		return types.ErrSessionNotFound
	}
	if !sess.Deactivate() {
		return types.ErrSessionEnded
	}

	if r.onEnd != nil {
		r.onEnd(sessionCode)
	}

	time.AfterFunc(r.grace, func() {
		r.remove(sessionCode, sess)
	})

	r.logger.Info("session ended", "code", sessionCode, "students", sess.StudentCount())
	return nil
}

// remove deletes the entry only if it still holds the ended instance;
// the code may have been reused by the time the timer fires.
func (r *Registry) remove(sessionCode string, ended *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.sessions[sessionCode]; exists && current == ended {
		delete(r.sessions, sessionCode)
		r.logger.Debug("session removed from registry", "code", sessionCode)
	}
}

// Count returns the number of sessions in the table, including ended
// sessions inside their grace period.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close ends every live session. Used at shutdown.
func (r *Registry) Close() {
	r.mu.RLock()
	codes := make([]string, 0, len(r.sessions))
	for sessionCode := range r.sessions {
		codes = append(codes, sessionCode)
	}
	r.mu.RUnlock()

	for _, sessionCode := range codes {
		if err := r.End(sessionCode); err != nil && err != types.ErrSessionEnded {
			r.logger.Warn("failed to end session during shutdown", "code", sessionCode, "error", err)
		}
	}
}
