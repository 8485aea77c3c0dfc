// Package journal records session lifecycle and control events to
// SQLite for post-hoc review. The journal is write-only: the in-memory
// registry stays authoritative and nothing here is ever read back to
// restore state.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"livesync/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    code        TEXT NOT NULL,
    created_at  TIMESTAMP NOT NULL,
    ended_at    TIMESTAMP
);
CREATE TABLE IF NOT EXISTS events (
    session_code TEXT NOT NULL,
    type         TEXT NOT NULL,
    payload      TEXT,
    created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_code);
`

// Recorder is the journal sink consumed by the coordinator.
type Recorder interface {
	SessionCreated(sessionCode string, createdAt time.Time)
	SessionEnded(sessionCode string)
	Event(ev types.Event)
	Close() error
}

// Journal writes records through a single goroutine, which keeps SQLite
// free of write contention. Enqueueing never blocks the caller: if the
// buffer is full the record is dropped and logged.
type Journal struct {
	db     *sql.DB
	writes chan func(*sql.DB) error
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
}

// Open creates or opens the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	j := &Journal{
		db:     db,
		writes: make(chan func(*sql.DB) error, 256),
		done:   make(chan struct{}),
		logger: logger,
	}

	j.wg.Add(1)
	go j.writeLoop()

	return j, nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case write := <-j.writes:
			if err := write(j.db); err != nil {
				j.logger.Warn("journal write failed", "error", err)
			}
		case <-j.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case write := <-j.writes:
					if err := write(j.db); err != nil {
						j.logger.Warn("journal write failed during drain", "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) enqueue(write func(*sql.DB) error) {
	select {
	case j.writes <- write:
	default:
		j.logger.Warn("journal buffer full, record dropped")
	}
}

// SessionCreated records a new session.
func (j *Journal) SessionCreated(sessionCode string, createdAt time.Time) {
	j.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO sessions (code, created_at) VALUES (?, ?)`, sessionCode, createdAt)
		return err
	})
}

// SessionEnded stamps the session's end time.
func (j *Journal) SessionEnded(sessionCode string) {
	endedAt := time.Now()
	j.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE sessions SET ended_at = ? WHERE code = ? AND ended_at IS NULL`, endedAt, sessionCode)
		return err
	})
}

// Event records a delivered control or presence event.
func (j *Journal) Event(ev types.Event) {
	var payload []byte
	if ev.Payload != nil {
		var err error
		if payload, err = json.Marshal(ev.Payload); err != nil {
			j.logger.Warn("journal payload not serializable", "type", ev.Type, "error", err)
			payload = nil
		}
	}
	j.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(`INSERT INTO events (session_code, type, payload, created_at) VALUES (?, ?, ?, ?)`,
			ev.SessionCode, ev.Type, string(payload), ev.Timestamp)
		return err
	})
}

// Close flushes queued writes and closes the database.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		err = j.db.Close()
	})
	return err
}

// Nop is a Recorder that discards everything. Used when no journal path
// is configured.
type Nop struct{}

func (Nop) SessionCreated(string, time.Time) {}
func (Nop) SessionEnded(string)              {}
func (Nop) Event(types.Event)                {}
func (Nop) Close() error                     { return nil }
