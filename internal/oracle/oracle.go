// Package oracle scores an area by the crimes recorded around it.
package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"safezone/internal/config"
	"safezone/internal/model"
)

// degPerKM approximates one kilometre of latitude in degrees.
const degPerKM = 0.009

const (
	maxScore  = 100
	maxPoints = 2000
)

type CrimeDB struct {
	db       *sql.DB
	postgres bool
	radiusKM float64
}

func Open(cfg config.OracleConfig) (*CrimeDB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	dsn := strings.TrimSpace(cfg.DSN)
	var c CrimeDB
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "file:crimes.db?_pragma=busy_timeout(5000)"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		c.db = db
	case "postgres", "postgresql":
		if dsn == "" {
			dsn = "postgres://localhost:5432/safezone?sslmode=disable"
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		c.db = db
		c.postgres = true
	default:
		return nil, errors.New("unsupported oracle driver")
	}
	c.radiusKM = cfg.RadiusKM
	if c.radiusKM <= 0 {
		c.radiusKM = 1
	}
	return &c, nil
}

func (c *CrimeDB) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// bind rewrites "?" placeholders to "$N" for postgres.
func (c *CrimeDB) bind(query string) string {
	if !c.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (c *CrimeDB) Init(ctx context.Context) error {
	idType := "INTEGER PRIMARY KEY AUTOINCREMENT"
	realType := "REAL"
	if c.postgres {
		idType = "BIGSERIAL PRIMARY KEY"
		realType = "DOUBLE PRECISION"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS crimes (
			id %s,
			latitude %s NOT NULL,
			longitude %s NOT NULL,
			type TEXT NOT NULL,
			severity INTEGER NOT NULL DEFAULT 1
		)`, idType, realType, realType),
		`CREATE INDEX IF NOT EXISTS idx_crimes_lat_lng ON crimes(latitude, longitude)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ImportCrimes inserts all crimes in one transaction. Severity below 1 is
// stored as 1.
func (c *CrimeDB) ImportCrimes(ctx context.Context, crimes []model.Crime) (int, error) {
	if len(crimes) == 0 {
		return 0, nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, c.bind(`INSERT INTO crimes (latitude, longitude, type, severity) VALUES (?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	for _, cr := range crimes {
		if err := validCoord(cr.Latitude, cr.Longitude); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		sev := cr.Severity
		if sev < 1 {
			sev = 1
		}
		kind := strings.TrimSpace(cr.Type)
		if kind == "" {
			kind = "unknown"
		}
		if _, err := stmt.ExecContext(ctx, cr.Latitude, cr.Longitude, kind, sev); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(crimes), nil
}

func (c *CrimeDB) box(lat, lng float64) (float64, float64, float64, float64) {
	d := degPerKM * c.radiusKM
	return lat - d, lat + d, lng - d, lng + d
}

// Score sums crime severity in the box around (lat, lng), capped at 100.
func (c *CrimeDB) Score(ctx context.Context, lat, lng float64) (float64, error) {
	if err := validCoord(lat, lng); err != nil {
		return 0, err
	}
	minLat, maxLat, minLng, maxLng := c.box(lat, lng)
	var total sql.NullInt64
	err := c.db.QueryRowContext(ctx, c.bind(
		`SELECT SUM(severity) FROM crimes
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`),
		minLat, maxLat, minLng, maxLng).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("oracle: score: %w", err)
	}
	return math.Min(float64(total.Int64), maxScore), nil
}

// Points lists crimes near (lat, lng) for map display.
func (c *CrimeDB) Points(ctx context.Context, lat, lng float64) ([]model.Crime, error) {
	if err := validCoord(lat, lng); err != nil {
		return nil, err
	}
	minLat, maxLat, minLng, maxLng := c.box(lat, lng)
	rows, err := c.db.QueryContext(ctx, c.bind(fmt.Sprintf(
		`SELECT id, latitude, longitude, type, severity FROM crimes
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?
		ORDER BY id LIMIT %d`, maxPoints)),
		minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Crime
	for rows.Next() {
		var cr model.Crime
		if err := rows.Scan(&cr.ID, &cr.Latitude, &cr.Longitude, &cr.Type, &cr.Severity); err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

func validCoord(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("oracle: invalid coordinate %v,%v", lat, lng)
	}
	return nil
}
