package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"safezone/internal/config"
	"safezone/internal/engine"
	"safezone/internal/feed"
	"safezone/internal/logging"
	"safezone/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTarget struct {
	mu        sync.Mutex
	armed     []bool
	locations []model.Location
	sounds    []model.SoundEvent
	panics    []model.PanicEvent
	confirmed bool
}

func (f *fakeTarget) SetArmed(a bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = append(f.armed, a)
}

func (f *fakeTarget) HandleLocation(_ context.Context, loc model.Location) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations = append(f.locations, loc)
}

func (f *fakeTarget) HandleSound(_ context.Context, ev model.SoundEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sounds = append(f.sounds, ev)
}

func (f *fakeTarget) HandlePanic(ev model.PanicEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmed {
		return engine.ErrIncidentActive
	}
	f.confirmed = true
	f.panics = append(f.panics, ev)
	return nil
}

type feeds struct {
	loc   *feed.Feed[model.Location]
	sound *feed.Feed[model.SoundEvent]
	back  *feed.Feed[time.Time]
	vol   *feed.Feed[model.VolumeReading]
	accel *feed.Feed[model.AccelSample]
	voice *feed.Feed[model.Transcript]
}

func newFeeds() feeds {
	return feeds{
		loc:   feed.New[model.Location](),
		sound: feed.New[model.SoundEvent](),
		back:  feed.New[time.Time](),
		vol:   feed.New[model.VolumeReading](),
		accel: feed.New[model.AccelSample](),
		voice: feed.New[model.Transcript](),
	}
}

func (f feeds) sources() Sources {
	return Sources{
		Locations:   f.loc,
		Sounds:      f.sound,
		BackPresses: f.back,
		Volume:      f.vol,
		Accel:       f.accel,
		Transcripts: f.voice,
	}
}

func (f feeds) total() int {
	return f.loc.Count() + f.sound.Count() + f.back.Count() + f.vol.Count() + f.accel.Count() + f.voice.Count()
}

func setup(t *testing.T, mutate func(*config.Config)) (*Monitor, *fakeTarget, feeds) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Settings.Armed = true
	if mutate != nil {
		mutate(cfg)
	}
	target := &fakeTarget{}
	f := newFeeds()
	m := New(cfg, target, f.sources(), logging.Discard())
	t.Cleanup(m.Close)
	return m, target, f
}

func TestArmToggleIsIdempotent(t *testing.T) {
	m, target, f := setup(t, nil)
	assert.Equal(t, []string{subLocation, subSound, subBack, subVolume, subShake}, m.Active())
	assert.Equal(t, 5, f.total())

	m.SetArmed(true)
	assert.Equal(t, 5, f.total(), "arming twice must not double-subscribe")

	m.SetArmed(false)
	assert.Zero(t, f.total())
	assert.False(t, m.Armed())

	f.loc.Publish(model.Location{Latitude: 1})
	assert.Empty(t, target.locations)

	m.SetArmed(true)
	f.loc.Publish(model.Location{Latitude: 1})
	assert.Len(t, target.locations, 1)
	assert.Equal(t, []bool{true, true, false, true}, target.armed)
}

func TestVoiceToggleRequiresArmed(t *testing.T) {
	m, target, f := setup(t, func(c *config.Config) { c.Settings.Armed = false })
	m.SetVoiceEnabled(true)
	m.SetVoiceEnabled(true)
	assert.Zero(t, f.voice.Count())

	m.SetArmed(true)
	assert.Equal(t, 1, f.voice.Count())

	f.voice.Publish(model.Transcript{UtteranceID: "u1", Text: "please HELP me"})
	f.voice.Publish(model.Transcript{UtteranceID: "u1", Text: "please help me now"})
	require.Len(t, target.panics, 1)
	assert.Equal(t, model.PanicVoice, target.panics[0].Source)
	assert.Equal(t, "Voice Command: help", target.panics[0].TriggerLabel)

	m.SetVoiceEnabled(false)
	assert.Zero(t, f.voice.Count())
	assert.True(t, m.Armed())
}

func TestSoundBoundaryFilters(t *testing.T) {
	_, target, f := setup(t, nil)
	now := time.Now()
	f.sound.Publish(model.SoundEvent{Label: "Dog", Confidence: 0.9, CapturedAt: now})
	f.sound.Publish(model.SoundEvent{Label: "Gunshot", Confidence: 0.2, CapturedAt: now})
	f.sound.Publish(model.SoundEvent{Label: " gunshot ", Confidence: 0.8, CapturedAt: now})
	f.sound.Publish(model.SoundEvent{Label: "Explosion", Confidence: 0.35, CapturedAt: now})

	require.Len(t, target.sounds, 2)
	assert.Equal(t, " gunshot ", target.sounds[0].Label)
	assert.Equal(t, "Explosion", target.sounds[1].Label)
}

func TestBackButtonPattern(t *testing.T) {
	_, target, f := setup(t, nil)
	base := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		f.back.Publish(base.Add(time.Duration(i) * 500 * time.Millisecond))
	}
	require.Len(t, target.panics, 1)
	assert.Equal(t, model.PanicBackButton, target.panics[0].Source)
	assert.Equal(t, "Back Button Panic", target.panics[0].TriggerLabel)
}

func TestShakeDisabledDropsSubscription(t *testing.T) {
	m, target, f := setup(t, nil)
	assert.Equal(t, 1, f.accel.Count())

	cfg := config.DefaultConfig()
	cfg.Settings.Armed = true
	cfg.Settings.ShakeEnabled = false
	m.UpdateConfig(cfg)
	assert.Zero(t, f.accel.Count())

	f.accel.Publish(model.AccelSample{X: 3, Y: 3, Z: 3})
	assert.Empty(t, target.panics)

	cfg = cfg.Clone()
	cfg.Settings.ShakeEnabled = true
	m.UpdateConfig(cfg)
	f.accel.Publish(model.AccelSample{X: 3, Y: 3, Z: 3})
	require.Len(t, target.panics, 1)
	assert.Equal(t, model.PanicShake, target.panics[0].Source)
}

func TestVolumeDownPanicIgnoresActiveIncident(t *testing.T) {
	_, target, f := setup(t, nil)
	target.confirmed = true
	base := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	level := 1.0
	f.vol.Publish(model.VolumeReading{Level: level, At: base})
	for i := 1; i <= 5; i++ {
		level -= 0.1
		f.vol.Publish(model.VolumeReading{Level: level, At: base.Add(time.Duration(i) * 100 * time.Millisecond)})
	}
	assert.Empty(t, target.panics, "active incident swallows the second trigger")
}

func TestCloseUnsubscribesEverything(t *testing.T) {
	m, _, f := setup(t, func(c *config.Config) { c.Settings.VoiceEnabled = true })
	assert.Equal(t, 6, f.total())
	m.Close()
	assert.Zero(t, f.total())
	m.SetArmed(true)
	assert.Zero(t, f.total())
}

func TestHotReloadAppliesPanicPatterns(t *testing.T) {
	m, target, f := setup(t, nil)
	cfg := config.DefaultConfig()
	cfg.Settings.Armed = true
	cfg.Panic.BackPresses = 2
	cfg.Panic.BackWindow = time.Second
	m.UpdateConfig(cfg)

	base := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	f.back.Publish(base)
	f.back.Publish(base.Add(300 * time.Millisecond))
	require.Len(t, target.panics, 1)
	assert.Equal(t, model.PanicBackButton, target.panics[0].Source)
}

func TestRearmResetsVolumeBaseline(t *testing.T) {
	m, target, f := setup(t, func(c *config.Config) { c.Panic.VolumePresses = 1 })
	base := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	f.vol.Publish(model.VolumeReading{Level: 1.0, At: base})

	m.SetArmed(false)
	m.SetArmed(true)
	f.vol.Publish(model.VolumeReading{Level: 0.2, At: base.Add(time.Minute)})
	assert.Empty(t, target.panics, "first reading after re-arm only sets the baseline")

	f.vol.Publish(model.VolumeReading{Level: 0.1, At: base.Add(time.Minute + 100*time.Millisecond)})
	require.Len(t, target.panics, 1)
	assert.Equal(t, model.PanicVolumeButton, target.panics[0].Source)
}
