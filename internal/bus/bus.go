// Package bus fans session events out to subscribed client connections.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"livesync/internal/session"
	"livesync/pkg/types"
)

const (
	// DefaultSendTimeout bounds how long a publish waits on any single
	// subscriber before dropping the event for that subscriber only.
	DefaultSendTimeout = 50 * time.Millisecond

	// DefaultSubscriberBuffer is the per-subscriber channel depth. Must
	// be at least 1 so the catch-up event always enqueues immediately.
	DefaultSubscriberBuffer = 64
)

// Bus delivers ordered events to every subscriber of a session.
// Delivery is best-effort per subscriber: a slow client loses events
// instead of stalling the instructor or the rest of the class, and
// repairs itself the next time it requests a catch-up state.
type Bus struct {
	mu     sync.RWMutex
	groups map[string]*group

	sendTimeout time.Duration
	buffer      int
	logger      *slog.Logger
}

// group holds one session's subscription set. The group lock serializes
// registration, delivery, and stream close, which is what gives each
// subscriber publish-order delivery and a tear-free catch-up snapshot.
type group struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// New creates a bus. Zero values select the defaults.
func New(sendTimeout time.Duration, buffer int, logger *slog.Logger) *Bus {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		groups:      make(map[string]*group),
		sendTimeout: sendTimeout,
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe registers a new subscription on the session and seeds its
// stream with a catch-up snapshot of the current playback state. For
// student subscriptions the presence count increments in the same
// critical section, so there is no window where a client is counted but
// un-synced or synced but uncounted. A join event is then fanned out to
// the whole session.
func (b *Bus) Subscribe(sess *session.Session, role string) (*Subscription, error) {
	g := b.groupFor(sess.Code())

	g.mu.Lock()
	if !sess.IsActive() {
		g.mu.Unlock()
		return nil, types.ErrSessionEnded
	}

	sub := newSubscription(b, sess, role, b.buffer)
	g.subs[sub.id] = sub

	// Snapshot and enqueue under the group lock: no publish can slip in
	// between registration and catch-up, and the buffered channel
	// guarantees the send cannot block.
	sub.events <- types.NewEvent(types.EventTypeState, sess.Code(), sess.Snapshot().Payload())

	count := sess.StudentCount()
	if role == types.RoleStudent {
		count = sess.AdjustStudents(1)
	}
	g.mu.Unlock()

	b.logger.Debug("subscriber joined", "session", sess.Code(), "subscription", sub.id, "role", role, "students", count)

	b.Publish(sess, types.NewEvent(types.EventTypeJoin, sess.Code(), map[string]any{
		"student_count": count,
	}))
	return sub, nil
}

// Unsubscribe removes the subscription, closes its stream, and adjusts
// the presence count. Idempotent: a handle that is no longer registered
// is ignored, so a double-unsubscribe cannot drive the count negative.
func (b *Bus) Unsubscribe(sub *Subscription) {
	g := b.lookup(sub.SessionCode())
	if g == nil {
		// Session already closed; the stream was closed with it.
		return
	}

	g.mu.Lock()
	if _, registered := g.subs[sub.id]; !registered {
		g.mu.Unlock()
		return
	}
	delete(g.subs, sub.id)
	sub.closeStream()

	count := sub.sess.StudentCount()
	if sub.role == types.RoleStudent {
		count = sub.sess.AdjustStudents(-1)
	}
	g.mu.Unlock()

	b.logger.Debug("subscriber left", "session", sub.SessionCode(), "subscription", sub.id, "students", count)

	b.Publish(sub.sess, types.NewEvent(types.EventTypeLeave, sub.SessionCode(), map[string]any{
		"student_count": count,
	}))
}

// Publish delivers the event to every current subscriber of the session
// in publish-call order. Control events are dropped entirely when the
// session is inactive or its sync gate is off; presence events always
// deliver.
func (b *Bus) Publish(sess *session.Session, ev types.Event) {
	if types.IsControlType(ev.Type) && (!sess.IsActive() || !sess.SyncEnabled()) {
		b.logger.Info("control event suppressed", "session", sess.Code(), "type", ev.Type,
			"active", sess.IsActive(), "sync_enabled", sess.SyncEnabled())
		return
	}

	g := b.lookup(sess.Code())
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sub := range g.subs {
		b.send(sub, ev)
	}
}

// send attempts a non-blocking delivery, then waits at most the send
// timeout before dropping the event for this subscriber only.
func (b *Bus) send(sub *Subscription, ev types.Event) {
	select {
	case sub.events <- ev:
		return
	default:
	}

	timer := time.NewTimer(b.sendTimeout)
	defer timer.Stop()
	select {
	case sub.events <- ev:
	case <-timer.C:
		b.logger.Warn("subscriber lagging, event dropped",
			"session", ev.SessionCode, "subscription", sub.id, "type", ev.Type)
	}
}

// CloseSession closes every subscription stream for an ended session
// and releases its fan-out group. Wired as the registry's end hook.
func (b *Bus) CloseSession(sessionCode string) {
	b.mu.Lock()
	g := b.groups[sessionCode]
	delete(b.groups, sessionCode)
	b.mu.Unlock()

	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sub := range g.subs {
		if sub.role == types.RoleStudent {
			sub.sess.AdjustStudents(-1)
		}
		sub.closeStream()
	}
	g.subs = make(map[string]*Subscription)

	b.logger.Info("session subscriptions closed", "session", sessionCode)
}

// SubscriberCount reports the number of live subscriptions for a
// session, all roles included.
func (b *Bus) SubscriberCount(sessionCode string) int {
	g := b.lookup(sessionCode)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

func (b *Bus) groupFor(sessionCode string) *group {
	b.mu.RLock()
	g := b.groups[sessionCode]
	b.mu.RUnlock()
	if g != nil {
		return g
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if g = b.groups[sessionCode]; g == nil {
		g = &group{subs: make(map[string]*Subscription)}
		b.groups[sessionCode] = g
	}
	return g
}

func (b *Bus) lookup(sessionCode string) *group {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.groups[sessionCode]
}
