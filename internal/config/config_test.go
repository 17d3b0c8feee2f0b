package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "safezone.yaml", `
user_id: victim-1
settings:
  safe_word: Pineapple
engine:
  debounce: 5s
  countdown_seconds: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "victim-1", cfg.UserID)
	assert.Equal(t, "Pineapple", cfg.Settings.SafeWord)
	assert.Equal(t, 5*time.Second, cfg.Engine.Debounce)
	assert.Equal(t, 10, cfg.Engine.CountdownSeconds)
	assert.Equal(t, 30*time.Second, cfg.Engine.SoundWindow)
	assert.Equal(t, []string{"Gunshot", "Explosion"}, cfg.Engine.DangerousLabels)
	assert.Equal(t, 1.78, cfg.Settings.ShakeSensitivity)
	assert.Equal(t, "/incidents/create", cfg.Sink.IncidentPath)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "safezone.json", `{"user_id":"u2","settings":{"armed":true}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "u2", cfg.UserID)
	assert.True(t, cfg.Settings.Armed)
}

func TestLoadRejectsEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.yaml", "   \n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sink.Enabled = true
	require.Error(t, Validate(cfg))

	cfg = DefaultConfig()
	cfg.Engine.NightStartHour = 24
	require.Error(t, Validate(cfg))

	cfg = DefaultConfig()
	cfg.Ingest.Kafka.Enabled = true
	require.Error(t, Validate(cfg))

	require.NoError(t, Validate(DefaultConfig()))
}

func TestManagerUpdatePersists(t *testing.T) {
	path := writeFile(t, "safezone.yaml", "user_id: u3\n")
	m, err := NewManager(path)
	require.NoError(t, err)

	next := m.Get().Clone()
	next.Settings.SafeWord = "mango"
	require.NoError(t, m.Update(next))
	assert.Equal(t, "mango", m.Get().Settings.SafeWord)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mango", reloaded.Settings.SafeWord)
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cp := cfg.Clone()
	cp.Panic.VoiceKeywords[0] = "changed"
	assert.Equal(t, "bachao", cfg.Panic.VoiceKeywords[0])
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SAFEZONE_SAFE_WORD", "kiwi")
	t.Setenv("SAFEZONE_API_ADDR", ":9999")
	t.Setenv("SAFEZONE_KAFKA_BROKERS", "a:9092,b:9092")
	cfg := DefaultConfig()
	ApplyEnv(cfg)
	assert.Equal(t, "kiwi", cfg.Settings.SafeWord)
	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Ingest.Kafka.Brokers)
}

func TestLoadEnvFileMissingIsIgnored(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
