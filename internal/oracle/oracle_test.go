package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safezone/internal/config"
	"safezone/internal/model"
)

func openMemory(t *testing.T) *CrimeDB {
	t.Helper()
	db, err := Open(config.OracleConfig{Driver: "sqlite", DSN: "file::memory:", RadiusKM: 1})
	require.NoError(t, err)
	require.NoError(t, db.Init(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestScoreSumsSeverityNearby(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	n, err := db.ImportCrimes(ctx, []model.Crime{
		{Latitude: 12.9700, Longitude: 77.5900, Type: "theft", Severity: 3},
		{Latitude: 12.9750, Longitude: 77.5950, Type: "assault", Severity: 5},
		{Latitude: 12.9700, Longitude: 77.5900, Type: "", Severity: 0},
		{Latitude: 13.5000, Longitude: 77.5900, Type: "theft", Severity: 9},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	score, err := db.Score(ctx, 12.97, 77.59)
	require.NoError(t, err)
	assert.Equal(t, 9.0, score)

	score, err = db.Score(ctx, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestScoreCapsAtHundred(t *testing.T) {
	db := openMemory(t)
	crimes := make([]model.Crime, 0, 30)
	for i := 0; i < 30; i++ {
		crimes = append(crimes, model.Crime{Latitude: 40.71, Longitude: -74.0, Type: "robbery", Severity: 5})
	}
	_, err := db.ImportCrimes(context.Background(), crimes)
	require.NoError(t, err)

	score, err := db.Score(context.Background(), 40.71, -74.0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, score)
}

func TestPointsAndValidation(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	_, err := db.ImportCrimes(ctx, []model.Crime{{Latitude: 1, Longitude: 1, Type: "vandalism"}})
	require.NoError(t, err)

	pts, err := db.Points(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, "vandalism", pts[0].Type)
	assert.Equal(t, 1, pts[0].Severity)

	_, err = db.Score(ctx, 91, 0)
	assert.Error(t, err)
	_, err = db.ImportCrimes(ctx, []model.Crime{{Latitude: 0, Longitude: 200}})
	assert.Error(t, err)
}

func TestBindRewritesPlaceholders(t *testing.T) {
	c := &CrimeDB{postgres: true}
	assert.Equal(t, "a = $1 AND b = $2", c.bind("a = ? AND b = ?"))
	c.postgres = false
	assert.Equal(t, "a = ?", c.bind("a = ?"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.OracleConfig{Driver: "mysql"})
	assert.Error(t, err)
}
