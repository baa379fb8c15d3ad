// Package journal records engine sessions to SQLite: each connection gets a
// session row, and status replies and node lifecycle events are appended to
// it. The journal implements engine.Recorder.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/soundfield/internal/engine"
	"github.com/banshee-data/soundfield/internal/timeutil"
)

type Journal struct {
	*sql.DB
	path      string
	sessionID string
	clock     timeutil.Clock
}

var _ engine.Recorder = (*Journal)(nil)

// Open opens (or creates) the journal at path, applies migrations and starts
// a new session for host:port.
func Open(path, host string, port int, clock timeutil.Clock) (*Journal, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	j := &Journal{DB: db, path: path, clock: clock}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	j.sessionID = uuid.NewString()
	if _, err := db.Exec(
		`INSERT INTO sessions (session_id, host, control_port, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		j.sessionID, host, port, clock.Now().UnixNano(),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	return j, nil
}

// SessionID identifies the rows written by this process.
func (j *Journal) SessionID() string {
	return j.sessionID
}

// RecordStatus appends a status reply.
func (j *Journal) RecordStatus(r engine.StatusReply) error {
	_, err := j.Exec(
		`INSERT INTO status_samples (
			session_id, unit_generators, synths, groups_count, loaded_synths,
			avg_cpu, peak_cpu, nominal_sample_rate, actual_sample_rate, recorded_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.sessionID, r.UnitGenerators, r.Synths, r.Groups, r.LoadedSynths,
		float64(r.AvgCPU), float64(r.PeakCPU), r.NominalSampleRate, r.ActualSampleRate,
		j.clock.Now().UnixNano(),
	)
	return err
}

// RecordNodeEvent appends a node lifecycle event.
func (j *Journal) RecordNodeEvent(kind string, nodeID int32) error {
	_, err := j.Exec(
		`INSERT INTO node_events (session_id, node_id, kind, recorded_unix_nanos) VALUES (?, ?, ?, ?)`,
		j.sessionID, nodeID, kind, j.clock.Now().UnixNano(),
	)
	return err
}

type StatusSample struct {
	engine.StatusReply
	RecordedAt time.Time `json:"recorded_at"`
}

// StatusSamples returns the most recent samples of this session, newest first.
func (j *Journal) StatusSamples(limit int) ([]StatusSample, error) {
	rows, err := j.Query(
		`SELECT unit_generators, synths, groups_count, loaded_synths, avg_cpu, peak_cpu,
			nominal_sample_rate, actual_sample_rate, recorded_unix_nanos
		FROM status_samples WHERE session_id = ?
		ORDER BY sample_id DESC LIMIT ?`,
		j.sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusSample
	for rows.Next() {
		var s StatusSample
		var avg, peak float64
		var nanos int64
		if err := rows.Scan(&s.UnitGenerators, &s.Synths, &s.Groups, &s.LoadedSynths,
			&avg, &peak, &s.NominalSampleRate, &s.ActualSampleRate, &nanos); err != nil {
			return nil, err
		}
		s.AvgCPU, s.PeakCPU = float32(avg), float32(peak)
		s.RecordedAt = time.Unix(0, nanos).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

type NodeEvent struct {
	NodeID     int32     `json:"node_id"`
	Kind       string    `json:"kind"`
	RecordedAt time.Time `json:"recorded_at"`
}

// NodeEvents returns the most recent node events of this session, newest first.
func (j *Journal) NodeEvents(limit int) ([]NodeEvent, error) {
	rows, err := j.Query(
		`SELECT node_id, kind, recorded_unix_nanos FROM node_events
		WHERE session_id = ? ORDER BY event_id DESC LIMIT ?`,
		j.sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NodeEvent
	for rows.Next() {
		var e NodeEvent
		var nanos int64
		if err := rows.Scan(&e.NodeID, &e.Kind, &nanos); err != nil {
			return nil, err
		}
		e.RecordedAt = time.Unix(0, nanos).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats summarises the journal.
type Stats struct {
	SessionID      string  `json:"session_id"`
	Sessions       int64   `json:"sessions"`
	StatusSamples  int64   `json:"status_samples"`
	NodeEvents     int64   `json:"node_events"`
	SessionSamples int64   `json:"session_status_samples"`
	SessionEnds    int64   `json:"session_node_ends"`
	PeakCPU        float64 `json:"session_peak_cpu"`
}

func (j *Journal) Stats() (Stats, error) {
	st := Stats{SessionID: j.sessionID}
	err := j.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM status_samples),
			(SELECT COUNT(*) FROM node_events),
			(SELECT COUNT(*) FROM status_samples WHERE session_id = ?1),
			(SELECT COUNT(*) FROM node_events WHERE session_id = ?1 AND kind = ?2),
			(SELECT COALESCE(MAX(peak_cpu), 0) FROM status_samples WHERE session_id = ?1)`,
		j.sessionID, engine.NodeEnded,
	).Scan(&st.Sessions, &st.StatusSamples, &st.NodeEvents, &st.SessionSamples, &st.SessionEnds, &st.PeakCPU)
	return st, err
}
