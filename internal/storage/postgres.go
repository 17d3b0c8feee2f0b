package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"safezone/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/safezone?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			trigger_label TEXT NOT NULL,
			status TEXT NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			confirmed_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
			audio_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_confirmed ON incidents(confirmed_at)`,
		`CREATE TABLE IF NOT EXISTS transitions (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			kind TEXT NOT NULL,
			level TEXT NOT NULL,
			phase TEXT NOT NULL,
			seconds_remaining INTEGER NOT NULL,
			snapshot_json JSONB NOT NULL
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

func (s *postgresStore) SaveIncident(ctx context.Context, inc model.Incident) error {
	if s.db == nil {
		return nil
	}
	lat, lng := locationArgs(inc)
	var resolved sql.NullTime
	if inc.ResolvedAt != nil {
		resolved = sql.NullTime{Time: inc.ResolvedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, kind, trigger_label, status, latitude, longitude, confirmed_at, resolved_at, audio_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			latitude = COALESCE(EXCLUDED.latitude, incidents.latitude),
			longitude = COALESCE(EXCLUDED.longitude, incidents.longitude),
			resolved_at = COALESCE(EXCLUDED.resolved_at, incidents.resolved_at),
			audio_url = CASE WHEN EXCLUDED.audio_url = '' THEN incidents.audio_url ELSE EXCLUDED.audio_url END`,
		inc.ID,
		string(inc.Kind),
		inc.Trigger,
		string(inc.Status),
		lat,
		lng,
		inc.ConfirmedAt.UTC(),
		resolved,
		inc.AudioURL,
	)
	return err
}

func (s *postgresStore) SaveTransition(ctx context.Context, change model.StateChange) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (ts, kind, level, phase, seconds_remaining, snapshot_json)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		change.Timestamp.UTC(),
		string(change.Kind),
		change.Snapshot.Level.String(),
		string(change.Snapshot.Phase),
		change.Snapshot.SecondsRemaining,
		encodeJSON(change.Snapshot),
	)
	return err
}

func (s *postgresStore) ListIncidents(ctx context.Context, limit int) ([]model.Incident, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, trigger_label, status, latitude, longitude, confirmed_at, resolved_at, audio_url
		FROM incidents ORDER BY confirmed_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Incident
	for rows.Next() {
		var r incidentRow
		var confirmed time.Time
		var resolved sql.NullTime
		if err := rows.Scan(&r.id, &r.kind, &r.trigger, &r.status, &r.lat, &r.lng, &confirmed, &resolved, &r.audioURL); err != nil {
			return nil, err
		}
		inc := r.incident()
		inc.ConfirmedAt = confirmed.UTC()
		if resolved.Valid {
			t := resolved.Time.UTC()
			inc.ResolvedAt = &t
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
