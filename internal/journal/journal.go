// Package journal records tracking events and control samples to SQLite.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// EventKind names a journaled transition.
type EventKind string

const (
	TargetAcquired     EventKind = "target_acquired"
	TargetLost         EventKind = "target_lost"
	Locked             EventKind = "locked"
	Unlocked           EventKind = "unlocked"
	ClientConnected    EventKind = "client_connected"
	ClientDisconnected EventKind = "client_disconnected"
)

// Event is one journal row.
type Event struct {
	ID        int64     `json:"id"`
	Kind      EventKind `json:"kind"`
	Time      time.Time `json:"time"`
	Seq       uint64    `json:"frame_seq,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Sample is the control output for one frame with a target.
type Sample struct {
	Time    time.Time `json:"time"`
	Seq     uint64    `json:"frame_seq"`
	ErrX    float64   `json:"err_x"`
	ErrY    float64   `json:"err_y"`
	AreaPct float64   `json:"area_pct"`
	CmdX    int       `json:"cmd_x"`
	CmdY    int       `json:"cmd_y"`
	CmdZ    int       `json:"cmd_z"`
	Locked  bool      `json:"locked"`
	Label   string    `json:"label,omitempty"`
}

// Journal is a SQLite-backed event store.
type Journal struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path. Call MigrateUp
// before recording.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	// a single writer avoids SQLITE_BUSY between the recorder and readers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure journal: %w", err)
	}
	return &Journal{DB: db, path: path}, nil
}

// Path is the database file the journal was opened with.
func (j *Journal) Path() string { return j.path }

// Record inserts an event. A zero Time is stamped with the current time.
func (j *Journal) Record(e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := j.Exec(
		`INSERT INTO events (kind, ts_unix_nano, frame_seq, session_id, detail) VALUES (?, ?, ?, ?, ?)`,
		string(e.Kind), e.Time.UnixNano(), int64(e.Seq), e.SessionID, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", e.Kind, err)
	}
	return nil
}

// Events returns events at or after since, oldest first, at most limit rows
// (0 means no limit).
func (j *Journal) Events(since time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1
	}
	var sinceNs int64
	if !since.IsZero() {
		sinceNs = since.UnixNano()
	}
	rows, err := j.Query(
		`SELECT event_id, kind, ts_unix_nano, frame_seq, session_id, detail
		   FROM events
		  WHERE ts_unix_nano >= ?
		  ORDER BY ts_unix_nano, event_id
		  LIMIT ?`,
		sinceNs, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e    Event
			kind string
			ts   int64
			seq  int64
		)
		if err := rows.Scan(&e.ID, &kind, &ts, &seq, &e.SessionID, &e.Detail); err != nil {
			return nil, err
		}
		e.Kind = EventKind(kind)
		e.Time = time.Unix(0, ts)
		e.Seq = uint64(seq)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// RecordSample inserts one control sample.
func (j *Journal) RecordSample(s Sample) error {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	_, err := j.Exec(
		`INSERT INTO samples (ts_unix_nano, frame_seq, err_x, err_y, area_pct, cmd_x, cmd_y, cmd_z, locked, label)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Time.UnixNano(), int64(s.Seq), s.ErrX, s.ErrY, s.AreaPct, s.CmdX, s.CmdY, s.CmdZ, s.Locked, s.Label,
	)
	if err != nil {
		return fmt.Errorf("failed to record sample: %w", err)
	}
	return nil
}

// Samples returns the most recent limit samples, oldest first (0 means all).
func (j *Journal) Samples(limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.Query(
		`SELECT ts_unix_nano, frame_seq, err_x, err_y, area_pct, cmd_x, cmd_y, cmd_z, locked, label
		   FROM (SELECT * FROM samples ORDER BY ts_unix_nano DESC, sample_id DESC LIMIT ?)
		  ORDER BY ts_unix_nano, sample_id`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var (
			s   Sample
			ts  int64
			seq int64
		)
		if err := rows.Scan(&ts, &seq, &s.ErrX, &s.ErrY, &s.AreaPct, &s.CmdX, &s.CmdY, &s.CmdZ, &s.Locked, &s.Label); err != nil {
			return nil, err
		}
		s.Time = time.Unix(0, ts)
		s.Seq = uint64(seq)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// CountEvents returns the number of events of each kind.
func (j *Journal) CountEvents() (map[EventKind]int, error) {
	rows, err := j.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[EventKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[EventKind(kind)] = n
	}
	return counts, rows.Err()
}
