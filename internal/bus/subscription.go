package bus

import (
	"sync"

	"github.com/google/uuid"

	"livesync/internal/session"
	"livesync/pkg/types"
)

// Subscription is the live binding between one client connection and
// one session's event stream. Lifetime is bounded by the connection;
// the bus owns the registration and the subscription owns the channel.
type Subscription struct {
	id   string
	role string
	sess *session.Session
	bus  *Bus

	events    chan types.Event
	closeOnce sync.Once
}

func newSubscription(bus *Bus, sess *session.Session, role string, buffer int) *Subscription {
	return &Subscription{
		id:     uuid.New().String(),
		role:   role,
		sess:   sess,
		bus:    bus,
		events: make(chan types.Event, buffer),
	}
}

// ID returns the subscription's handle identifier.
func (s *Subscription) ID() string { return s.id }

// Role returns the role the subscription was opened with.
func (s *Subscription) Role() string { return s.role }

// SessionCode returns the code of the subscribed session.
func (s *Subscription) SessionCode() string { return s.sess.Code() }

// Events returns the ordered event stream. The first element is the
// catch-up snapshot; the channel closes when the subscription is closed
// or the session ends.
func (s *Subscription) Events() <-chan types.Event { return s.events }

// Close unsubscribes from the session. Idempotent; safe to call after
// the session has ended.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

// closeStream closes the delivery channel exactly once. Callers must
// hold the owning group's lock so no publish can race the close.
func (s *Subscription) closeStream() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}
