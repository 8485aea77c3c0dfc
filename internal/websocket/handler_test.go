package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livesync/internal/bus"
	"livesync/internal/config"
	"livesync/internal/coordinator"
	"livesync/internal/session"
	"livesync/pkg/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *coordinator.Coordinator) {
	t.Helper()

	b := bus.New(0, 0, nil)
	reg := session.NewRegistry(30*time.Second, b.CloseSession, nil)
	coord := coordinator.New(reg, b, nil, nil)

	cfg := &config.WebSocketConfig{
		PingInterval: time.Second,
		WriteTimeout: time.Second,
		SendBuffer:   16,
	}
	handler := NewHandler(coord, cfg, nil)

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)
	return srv, coord
}

func dial(t *testing.T, srv *httptest.Server, sessionCode, role string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?code=" + sessionCode + "&role=" + role
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial as %s failed: %v", role, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntilType reads frames until one with the given type arrives.
func readUntilType(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed while waiting for %s: %v", frameType, err)
		}
		if msg["type"] == frameType {
			return msg
		}
	}
}

func TestHandler_StudentReceivesCatchUp(t *testing.T) {
	srv, coord := newTestServer(t)
	sessionCode, _ := coord.CreateSession()

	coord.SendControl(sessionCode, types.EventTypePlay, nil)
	coord.SendControl(sessionCode, types.EventTypeSpeed, map[string]any{"speed": 2.0})

	student := dial(t, srv, sessionCode, types.RoleStudent)

	msg := readUntilType(t, student, types.EventTypeState)
	payload := msg["payload"].(map[string]any)
	if payload["paused"] != false || payload["speed"] != 2.0 {
		t.Errorf("catch-up payload = %v", payload)
	}
}

func TestHandler_InstructorControlPropagates(t *testing.T) {
	srv, coord := newTestServer(t)
	sessionCode, _ := coord.CreateSession()

	student := dial(t, srv, sessionCode, types.RoleStudent)
	readUntilType(t, student, types.EventTypeState)

	instructor := dial(t, srv, sessionCode, types.RoleInstructor)

	if err := instructor.WriteJSON(map[string]any{
		"action":  "control",
		"type":    types.EventTypePosition,
		"payload": map[string]any{"position": 17.5},
	}); err != nil {
		t.Fatalf("instructor write failed: %v", err)
	}

	msg := readUntilType(t, student, types.EventTypePosition)
	payload := msg["payload"].(map[string]any)
	if payload["position"] != 17.5 {
		t.Errorf("position payload = %v, want 17.5", payload)
	}
}

func TestHandler_SyncDisabledNotice(t *testing.T) {
	srv, coord := newTestServer(t)
	sessionCode, _ := coord.CreateSession()

	if err := coord.SetSyncEnabled(sessionCode, false); err != nil {
		t.Fatalf("SetSyncEnabled failed: %v", err)
	}

	instructor := dial(t, srv, sessionCode, types.RoleInstructor)
	if err := instructor.WriteJSON(map[string]any{"action": "control", "type": types.EventTypePlay}); err != nil {
		t.Fatalf("instructor write failed: %v", err)
	}

	readUntilType(t, instructor, "sync_disabled")
}

func TestHandler_EndClosesStudents(t *testing.T) {
	srv, coord := newTestServer(t)
	sessionCode, _ := coord.CreateSession()

	student := dial(t, srv, sessionCode, types.RoleStudent)
	readUntilType(t, student, types.EventTypeState)

	instructor := dial(t, srv, sessionCode, types.RoleInstructor)
	if err := instructor.WriteJSON(map[string]any{"action": "end"}); err != nil {
		t.Fatalf("instructor write failed: %v", err)
	}

	readUntilType(t, student, "session_closed")

	// A late join against the ended session is refused at handshake.
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?code=" + sessionCode + "&role=student"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Error("expected dial to fail after session end")
	} else if resp == nil || resp.StatusCode != http.StatusGone {
		t.Errorf("expected 410 handshake response, got %+v", resp)
	}
}

func TestHandler_RejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing params", "", http.StatusBadRequest},
		{"bad role", "?code=ABC-123&role=observer", http.StatusBadRequest},
		{"bad code", "?code=nope&role=student", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + tt.query
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				t.Fatal("expected dial to fail")
			}
			if resp == nil || resp.StatusCode != tt.want {
				t.Errorf("status = %v, want %d", resp, tt.want)
			}
		})
	}
}

func TestHandler_DisconnectDecrementsPresence(t *testing.T) {
	srv, coord := newTestServer(t)
	sessionCode, _ := coord.CreateSession()

	student := dial(t, srv, sessionCode, types.RoleStudent)
	readUntilType(t, student, types.EventTypeState)

	info, _ := coord.SessionInfo(sessionCode)
	if info.StudentCount != 1 {
		t.Fatalf("count after join = %d, want 1", info.StudentCount)
	}

	student.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, _ := coord.SessionInfo(sessionCode); info.StudentCount == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("presence count did not converge after disconnect")
}
