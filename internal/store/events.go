// Package store persists the dispatch audit trail: applied pin writes and
// webhook circuit-breaker trips. Recording is asynchronous and best effort;
// a full queue or a failed insert never reaches the dispatch path.
package store

import (
	"database/sql"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO)

	"github.com/dkrasnov/pinhub/internal/model"
)

// InitDatabase opens the database and creates the tables.
func InitDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pin_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dash_id INTEGER NOT NULL,
		device_id INTEGER NOT NULL,
		pin_type TEXT NOT NULL,
		pin INTEGER NOT NULL,
		value TEXT NOT NULL,
		written_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pin_events_dash ON pin_events(dash_id, written_at);

	CREATE TABLE IF NOT EXISTS webhook_trips (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user TEXT NOT NULL,
		tripped_at INTEGER NOT NULL
	);
	`

	_, err := db.Exec(schema)
	return err
}

type eventKind int

const (
	eventPinWrite eventKind = iota
	eventWebhookTrip
)

type event struct {
	kind     eventKind
	dashID   int
	deviceID int
	pinType  model.PinType
	pin      uint8
	value    string
	user     string
	ts       int64
}

// EventLog records dispatch events through a single background writer.
type EventLog struct {
	log    zerolog.Logger
	db     *sql.DB
	events chan event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewEventLog creates an event log and starts its writer goroutine.
func NewEventLog(log zerolog.Logger, db *sql.DB) *EventLog {
	l := &EventLog{
		log:    log.With().Str("component", "eventlog").Logger(),
		db:     db,
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// RecordPinWrite queues an applied pin write. Drops the event when the
// queue is full.
func (l *EventLog) RecordPinWrite(dashID, deviceID int, t model.PinType, pin uint8, value string, ts int64) {
	l.enqueue(event{
		kind:     eventPinWrite,
		dashID:   dashID,
		deviceID: deviceID,
		pinType:  t,
		pin:      pin,
		value:    value,
		ts:       ts,
	})
}

// RecordWebhookTrip queues a circuit-breaker trip.
func (l *EventLog) RecordWebhookTrip(user string, ts int64) {
	l.enqueue(event{kind: eventWebhookTrip, user: user, ts: ts})
}

// enqueue races Close: recording after shutdown is a silent drop, never a
// send on the closed channel.
func (l *EventLog) enqueue(e event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	select {
	case l.events <- e:
	default:
		l.log.Debug().Msg("event queue full, dropped")
	}
}

func (l *EventLog) run() {
	defer close(l.done)

	for e := range l.events {
		var err error
		switch e.kind {
		case eventPinWrite:
			_, err = l.db.Exec(
				`INSERT INTO pin_events (dash_id, device_id, pin_type, pin, value, written_at) VALUES (?, ?, ?, ?, ?, ?)`,
				e.dashID, e.deviceID, string(e.pinType), e.pin, e.value, e.ts,
			)
		case eventWebhookTrip:
			_, err = l.db.Exec(
				`INSERT INTO webhook_trips (user, tripped_at) VALUES (?, ?)`,
				e.user, e.ts,
			)
		}
		if err != nil {
			l.log.Error().Err(err).Msg("failed to persist event")
		}
	}
}

// Close stops the writer after draining queued events. Safe to call more
// than once.
func (l *EventLog) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.events)
	<-l.done
}
