// Package storage keeps a local journal of incidents and engine transitions.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"safezone/internal/config"
	"safezone/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveIncident(ctx context.Context, inc model.Incident) error
	SaveTransition(ctx context.Context, change model.StateChange) error
	ListIncidents(ctx context.Context, limit int) ([]model.Incident, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

type incidentRow struct {
	id, kind, trigger, status, audioURL string
	lat, lng                            sql.NullFloat64
}

func (r incidentRow) incident() model.Incident {
	inc := model.Incident{
		ID:       r.id,
		Kind:     model.IncidentKind(r.kind),
		Trigger:  r.trigger,
		Status:   model.IncidentStatus(r.status),
		AudioURL: r.audioURL,
	}
	if r.lat.Valid && r.lng.Valid {
		inc.Location = &model.Location{Latitude: r.lat.Float64, Longitude: r.lng.Float64}
	}
	return inc
}

func locationArgs(inc model.Incident) (sql.NullFloat64, sql.NullFloat64) {
	if inc.Location == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: inc.Location.Latitude, Valid: true},
		sql.NullFloat64{Float64: inc.Location.Longitude, Valid: true}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
