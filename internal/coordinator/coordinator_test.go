package coordinator

import (
	"errors"
	"testing"
	"time"

	"livesync/internal/bus"
	"livesync/internal/session"
	"livesync/pkg/types"
)

func newTestCoordinator() *Coordinator {
	b := bus.New(0, 0, nil)
	reg := session.NewRegistry(30*time.Second, b.CloseSession, nil)
	return New(reg, b, nil, nil)
}

// nextOfType reads events until one of the wanted type arrives.
func nextOfType(t *testing.T, events <-chan types.Event, eventType string) types.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream closed while waiting for %s", eventType)
			}
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestCreateSession(t *testing.T) {
	c := newTestCoordinator()

	sessionCode, err := c.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if !types.IsValidSessionCode(sessionCode) {
		t.Errorf("created code %q does not validate", sessionCode)
	}

	info, err := c.SessionInfo(sessionCode)
	if err != nil {
		t.Fatalf("SessionInfo failed: %v", err)
	}
	if !info.Active || !info.SyncEnabled || info.StudentCount != 0 {
		t.Errorf("unexpected fresh session info: %+v", info)
	}
	if info.Playback != types.DefaultPlaybackState() {
		t.Errorf("fresh playback = %+v, want defaults", info.Playback)
	}
}

func TestJoinSession_CodeValidation(t *testing.T) {
	c := newTestCoordinator()

	for _, bad := range []string{"", "ABC123", "AB-123", "ABC-12"} {
		if _, err := c.JoinSession(bad, types.RoleStudent); !errors.Is(err, types.ErrInvalidCodeFormat) {
			t.Errorf("JoinSession(%q) error = %v, want ErrInvalidCodeFormat", bad, err)
		}
	}

	// Lowercase input normalizes before validation.
	sub, err := c.JoinSession("abc-123", types.RoleStudent)
	if err != nil {
		t.Fatalf("JoinSession with lowercase code failed: %v", err)
	}
	defer sub.Close()
	if sub.SessionCode() != "ABC-123" {
		t.Errorf("subscription code = %s, want ABC-123", sub.SessionCode())
	}
}

func TestJoinSession_ImplicitCreate(t *testing.T) {
	c := newTestCoordinator()

	// No instructor has created QRS-777; the student's join creates it.
	sub, err := c.JoinSession("QRS-777", types.RoleStudent)
	if err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	defer sub.Close()

	info, err := c.SessionInfo("QRS-777")
	if err != nil {
		t.Fatalf("SessionInfo failed: %v", err)
	}
	if !info.Active || info.StudentCount != 1 {
		t.Errorf("implicitly created session info = %+v", info)
	}
}

func TestSendControl_FoldsIntoCatchUp(t *testing.T) {
	c := newTestCoordinator()
	sessionCode, _ := c.CreateSession()

	for _, ctl := range []struct {
		typ     string
		payload map[string]any
	}{
		{types.EventTypePlay, nil},
		{types.EventTypeSpeed, map[string]any{"speed": 1.5}},
		{types.EventTypePosition, map[string]any{"position": 42.0}},
	} {
		if err := c.SendControl(sessionCode, ctl.typ, ctl.payload); err != nil {
			t.Fatalf("SendControl(%s) failed: %v", ctl.typ, err)
		}
	}

	// A late joiner gets one folded snapshot, not three raw events.
	sub, err := c.JoinSession(sessionCode, types.RoleStudent)
	if err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	defer sub.Close()

	ev := <-sub.Events()
	if ev.Type != types.EventTypeState {
		t.Fatalf("first event = %s, want state", ev.Type)
	}
	if ev.Payload["paused"] != false || ev.Payload["speed"] != 1.5 || ev.Payload["position"] != 42.0 {
		t.Errorf("catch-up payload = %v", ev.Payload)
	}
}

func TestSendControl_SyncDisabled(t *testing.T) {
	c := newTestCoordinator()
	sessionCode, _ := c.CreateSession()

	sub, err := c.JoinSession(sessionCode, types.RoleStudent)
	if err != nil {
		t.Fatalf("JoinSession failed: %v", err)
	}
	defer sub.Close()
	nextOfType(t, sub.Events(), types.EventTypeJoin)

	if err := c.SetSyncEnabled(sessionCode, false); err != nil {
		t.Fatalf("SetSyncEnabled failed: %v", err)
	}

	err = c.SendControl(sessionCode, types.EventTypePlay, nil)
	if !errors.Is(err, types.ErrSyncDisabled) {
		t.Fatalf("SendControl error = %v, want ErrSyncDisabled", err)
	}

	// The suppressed play must not arrive, even after re-enabling.
	if err := c.SetSyncEnabled(sessionCode, true); err != nil {
		t.Fatalf("SetSyncEnabled failed: %v", err)
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("suppressed control was delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	// The gated control did not touch playback state either.
	info, _ := c.SessionInfo(sessionCode)
	if !info.Playback.Paused {
		t.Error("gated play mutated playback state")
	}
}

func TestSendControl_ErrorTaxonomy(t *testing.T) {
	c := newTestCoordinator()
	sessionCode, _ := c.CreateSession()

	if err := c.SendControl(sessionCode, "fastforward", nil); !errors.Is(err, types.ErrInvalidControlType) {
		t.Errorf("unknown control error = %v, want ErrInvalidControlType", err)
	}
	if err := c.SendControl(sessionCode, types.EventTypeSpeed, map[string]any{"speed": -2.0}); !errors.Is(err, types.ErrInvalidPayload) {
		t.Errorf("bad speed error = %v, want ErrInvalidPayload", err)
	}
	if err := c.SendControl("ZZZ-999", types.EventTypePlay, nil); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("unknown session error = %v, want ErrSessionNotFound", err)
	}

	if err := c.EndSession(sessionCode); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if err := c.SendControl(sessionCode, types.EventTypePlay, nil); !errors.Is(err, types.ErrSessionEnded) {
		t.Errorf("ended session error = %v, want ErrSessionEnded", err)
	}
}

// TestInstructorScenario walks the full documented flow: create, three
// students join, pause broadcast, end, late join rejected.
func TestInstructorScenario(t *testing.T) {
	c := newTestCoordinator()

	sessionCode, err := c.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	students := make([]*bus.Subscription, 3)
	for i := range students {
		sub, err := c.JoinSession(sessionCode, types.RoleStudent)
		if err != nil {
			t.Fatalf("student %d join failed: %v", i, err)
		}
		students[i] = sub
	}

	info, err := c.SessionInfo(sessionCode)
	if err != nil {
		t.Fatalf("SessionInfo failed: %v", err)
	}
	if info.StudentCount != 3 {
		t.Fatalf("StudentCount = %d, want 3", info.StudentCount)
	}

	if err := c.SendControl(sessionCode, types.EventTypePause, nil); err != nil {
		t.Fatalf("SendControl(pause) failed: %v", err)
	}
	for i, sub := range students {
		ev := nextOfType(t, sub.Events(), types.EventTypePause)
		if len(ev.Payload) != 0 {
			t.Errorf("student %d pause payload = %v, want empty", i, ev.Payload)
		}
	}

	if err := c.EndSession(sessionCode); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	for i, sub := range students {
		deadline := time.After(time.Second)
		for closed := false; !closed; {
			select {
			case _, ok := <-sub.Events():
				if !ok {
					closed = true
				}
			case <-deadline:
				t.Fatalf("student %d stream did not terminate", i)
			}
		}
	}

	if _, err := c.JoinSession(sessionCode, types.RoleStudent); !errors.Is(err, types.ErrSessionEnded) {
		t.Errorf("join after end error = %v, want ErrSessionEnded", err)
	}
}

func TestEndSession_Twice(t *testing.T) {
	c := newTestCoordinator()
	sessionCode, _ := c.CreateSession()

	if err := c.EndSession(sessionCode); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if err := c.EndSession(sessionCode); !errors.Is(err, types.ErrSessionEnded) {
		t.Errorf("second EndSession error = %v, want ErrSessionEnded", err)
	}
}

func TestSetSyncEnabled_UnknownSession(t *testing.T) {
	c := newTestCoordinator()
	if err := c.SetSyncEnabled("ZZZ-999", false); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}
