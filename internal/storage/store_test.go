package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"safezone/internal/config"
	"safezone/internal/logging"
	"safezone/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newMemoryStore(t *testing.T) Store {
	t.Helper()
	st, err := NewSQLite("file::memory:")
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestNewStoreDisabled(t *testing.T) {
	st, err := NewStore(config.StorageConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = NewStore(config.StorageConfig{Enabled: true, Driver: "oracle"})
	assert.Error(t, err)
}

func TestSQLiteIncidentUpsert(t *testing.T) {
	st := newMemoryStore(t)
	ctx := context.Background()
	confirmed := time.Date(2026, 3, 10, 22, 15, 0, 0, time.UTC)

	inc := model.Incident{
		ID:          "inc-1",
		Kind:        model.IncidentSound,
		Trigger:     "Sound: Gunshot",
		Status:      model.IncidentActive,
		Location:    &model.Location{Latitude: 12.97, Longitude: 77.59},
		ConfirmedAt: confirmed,
	}
	require.NoError(t, st.SaveIncident(ctx, inc))

	resolved := confirmed.Add(2 * time.Minute)
	inc.Status = model.IncidentResolved
	inc.ResolvedAt = &resolved
	inc.Location = nil
	require.NoError(t, st.SaveIncident(ctx, inc))

	got, err := st.ListIncidents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.IncidentResolved, got[0].Status)
	assert.Equal(t, confirmed, got[0].ConfirmedAt)
	require.NotNil(t, got[0].ResolvedAt)
	assert.Equal(t, resolved, *got[0].ResolvedAt)
	require.NotNil(t, got[0].Location, "location survives an update without one")
	assert.InDelta(t, 12.97, got[0].Location.Latitude, 1e-9)
}

func TestSQLiteListNewestFirst(t *testing.T) {
	st := newMemoryStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.SaveIncident(ctx, model.Incident{
			ID:          id,
			Kind:        model.IncidentManual,
			Trigger:     "Manual SOS",
			Status:      model.IncidentActive,
			ConfirmedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	got, err := st.ListIncidents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Nil(t, got[0].Location)
}

func TestJournalWritesInBackground(t *testing.T) {
	st := newMemoryStore(t)
	j := NewJournal(st, 8, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Run(ctx)

	now := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	j.Record(model.StateChange{Kind: model.ChangeCountdown, Timestamp: now, Snapshot: model.Snapshot{
		Level: model.RiskDanger, Phase: model.PhaseCountdown, SecondsRemaining: 30,
	}})
	j.Record(model.StateChange{Kind: model.ChangeTick, Timestamp: now.Add(time.Second), Snapshot: model.Snapshot{
		Level: model.RiskDanger, Phase: model.PhaseCountdown, SecondsRemaining: 29,
	}})
	j.Dispatch(model.Incident{ID: "x", Kind: model.IncidentPanic, Trigger: "Shake Panic", Status: model.IncidentActive, ConfirmedAt: now})
	j.Close()

	assert.False(t, j.enqueue(journalEntry{}), "closed journal rejects entries")

	got, err := st.ListIncidents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)

	var n int
	db := st.(*sqliteStore).db
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM transitions WHERE phase = 'countdown'`).Scan(&n))
	assert.Equal(t, 1, n)
}
