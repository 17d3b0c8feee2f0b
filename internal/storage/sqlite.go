package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"safezone/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:safezone.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			trigger_label TEXT NOT NULL,
			status TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			confirmed_at TEXT NOT NULL,
			resolved_at TEXT,
			audio_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_confirmed ON incidents(confirmed_at)`,
		`CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			kind TEXT NOT NULL,
			level TEXT NOT NULL,
			phase TEXT NOT NULL,
			seconds_remaining INTEGER NOT NULL,
			snapshot_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_ts ON transitions(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveIncident(ctx context.Context, inc model.Incident) error {
	if s.db == nil {
		return nil
	}
	lat, lng := locationArgs(inc)
	var resolved sql.NullString
	if inc.ResolvedAt != nil {
		resolved = sql.NullString{String: formatTime(*inc.ResolvedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, kind, trigger_label, status, latitude, longitude, confirmed_at, resolved_at, audio_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			latitude = COALESCE(excluded.latitude, incidents.latitude),
			longitude = COALESCE(excluded.longitude, incidents.longitude),
			resolved_at = COALESCE(excluded.resolved_at, incidents.resolved_at),
			audio_url = CASE WHEN excluded.audio_url = '' THEN incidents.audio_url ELSE excluded.audio_url END`,
		inc.ID,
		string(inc.Kind),
		inc.Trigger,
		string(inc.Status),
		lat,
		lng,
		formatTime(inc.ConfirmedAt),
		resolved,
		inc.AudioURL,
	)
	return err
}

func (s *sqliteStore) SaveTransition(ctx context.Context, change model.StateChange) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (ts, kind, level, phase, seconds_remaining, snapshot_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(change.Timestamp),
		string(change.Kind),
		change.Snapshot.Level.String(),
		string(change.Snapshot.Phase),
		change.Snapshot.SecondsRemaining,
		encodeJSON(change.Snapshot),
	)
	return err
}

func (s *sqliteStore) ListIncidents(ctx context.Context, limit int) ([]model.Incident, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, trigger_label, status, latitude, longitude, confirmed_at, resolved_at, audio_url
		FROM incidents ORDER BY confirmed_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Incident
	for rows.Next() {
		var r incidentRow
		var confirmed string
		var resolved sql.NullString
		if err := rows.Scan(&r.id, &r.kind, &r.trigger, &r.status, &r.lat, &r.lng, &confirmed, &resolved, &r.audioURL); err != nil {
			return nil, err
		}
		inc := r.incident()
		inc.ConfirmedAt = parseTime(confirmed)
		if resolved.Valid {
			t := parseTime(resolved.String)
			inc.ResolvedAt = &t
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
