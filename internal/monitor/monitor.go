// Package monitor owns the armed and voice toggles and the sensor
// subscriptions they imply. It is the boundary where raw sensor input is
// filtered before it reaches the engine.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"safezone/internal/config"
	"safezone/internal/detect"
	"safezone/internal/engine"
	"safezone/internal/feed"
	"safezone/internal/metrics"
	"safezone/internal/model"
)

type Target interface {
	SetArmed(armed bool)
	HandleLocation(ctx context.Context, loc model.Location)
	HandleSound(ctx context.Context, ev model.SoundEvent)
	HandlePanic(ev model.PanicEvent) error
}

// Sources are the device streams. Any of them may be nil.
type Sources struct {
	Locations   feed.Source[model.Location]
	Sounds      feed.Source[model.SoundEvent]
	BackPresses feed.Source[time.Time]
	Volume      feed.Source[model.VolumeReading]
	Accel       feed.Source[model.AccelSample]
	Transcripts feed.Source[model.Transcript]
}

const (
	subLocation = "location"
	subSound    = "sound"
	subBack     = "back_button"
	subVolume   = "volume"
	subShake    = "shake"
	subVoice    = "voice"
)

type filter struct {
	allowed       map[string]struct{}
	minConfidence float64
}

type Monitor struct {
	target  Target
	sources Sources
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	cfg    atomic.Value
	filter atomic.Value

	back   *detect.PressPattern
	volume *detect.VolumeDown
	shake  *detect.Shake
	voice  *detect.Voice

	mu           sync.Mutex
	armed        bool
	voiceEnabled bool
	unsubs       map[string]func()
	closed       bool
}

func New(cfg *config.Config, target Target, sources Sources, logger *slog.Logger) *Monitor {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		target:  target,
		sources: sources,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		back:    detect.NewPressPattern(cfg.Panic.BackPresses, cfg.Panic.BackWindow),
		volume:  detect.NewVolumeDown(cfg.Panic.VolumePresses, cfg.Panic.VolumeWindow),
		shake:   detect.NewShake(cfg.Settings.ShakeSensitivity, cfg.Panic.ShakeWindow),
		voice:   detect.NewVoice(cfg.Panic.VoiceKeywords),
		unsubs:  make(map[string]func()),
	}
	m.storeConfig(cfg)
	m.mu.Lock()
	m.armed = cfg.Settings.Armed
	m.voiceEnabled = cfg.Settings.VoiceEnabled
	m.reconcileLocked()
	m.mu.Unlock()
	target.SetArmed(cfg.Settings.Armed)
	return m
}

func (m *Monitor) storeConfig(cfg *config.Config) {
	m.cfg.Store(cfg)
	m.filter.Store(filter{
		allowed:       buildLabelSet(cfg.Engine.DangerousLabels),
		minConfidence: cfg.Engine.MinConfidence,
	})
}

func (m *Monitor) config() *config.Config {
	return m.cfg.Load().(*config.Config)
}

func buildLabelSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		label := normalizeLabel(v)
		if label == "" {
			continue
		}
		set[label] = struct{}{}
	}
	return set
}

func normalizeLabel(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// UpdateConfig applies new thresholds and toggles. Armed and voice follow the
// settings in cfg.
func (m *Monitor) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	m.storeConfig(cfg)
	m.back.SetPattern(cfg.Panic.BackPresses, cfg.Panic.BackWindow)
	m.volume.SetPattern(cfg.Panic.VolumePresses, cfg.Panic.VolumeWindow)
	m.shake.SetThreshold(cfg.Settings.ShakeSensitivity)
	m.shake.SetWindow(cfg.Panic.ShakeWindow)
	m.voice.SetKeywords(cfg.Panic.VoiceKeywords)
	m.SetVoiceEnabled(cfg.Settings.VoiceEnabled)
	m.SetArmed(cfg.Settings.Armed)
	m.mu.Lock()
	m.reconcileLocked()
	m.mu.Unlock()
}

// SetArmed turns passive monitoring and panic gestures on or off. Disarming
// never cancels a countdown or incident already in progress.
func (m *Monitor) SetArmed(armed bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	changed := m.armed != armed
	m.armed = armed
	m.reconcileLocked()
	m.mu.Unlock()
	if changed {
		m.logger.Info("monitoring toggled", "armed", armed)
		m.back.Reset()
		m.volume.Reset()
	}
	m.target.SetArmed(armed)
}

func (m *Monitor) SetVoiceEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.voiceEnabled = enabled
	m.reconcileLocked()
}

func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

func (m *Monitor) VoiceEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.voiceEnabled
}

// Active lists the streams currently subscribed.
func (m *Monitor) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.unsubs))
	for _, name := range []string{subLocation, subSound, subBack, subVolume, subShake, subVoice} {
		if _, ok := m.unsubs[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func (m *Monitor) reconcileLocked() {
	cfg := m.config()
	want := map[string]bool{
		subLocation: m.armed,
		subSound:    m.armed,
		subBack:     m.armed,
		subVolume:   m.armed,
		subShake:    m.armed && cfg.Settings.ShakeEnabled,
		subVoice:    m.armed && m.voiceEnabled,
	}
	for name, on := range want {
		_, active := m.unsubs[name]
		switch {
		case on && !active:
			if unsub := m.subscribe(name); unsub != nil {
				m.unsubs[name] = unsub
			}
		case !on && active:
			m.unsubs[name]()
			delete(m.unsubs, name)
		}
	}
}

func (m *Monitor) subscribe(name string) func() {
	s := m.sources
	switch name {
	case subLocation:
		if s.Locations != nil {
			return s.Locations.Subscribe(m.onLocation)
		}
	case subSound:
		if s.Sounds != nil {
			return s.Sounds.Subscribe(m.onSound)
		}
	case subBack:
		if s.BackPresses != nil {
			return s.BackPresses.Subscribe(m.onBackPress)
		}
	case subVolume:
		if s.Volume != nil {
			return s.Volume.Subscribe(m.onVolume)
		}
	case subShake:
		if s.Accel != nil {
			return s.Accel.Subscribe(m.onAccel)
		}
	case subVoice:
		if s.Transcripts != nil {
			return s.Transcripts.Subscribe(m.onTranscript)
		}
	}
	return nil
}

func (m *Monitor) onLocation(loc model.Location) {
	m.target.HandleLocation(m.ctx, loc)
}

func (m *Monitor) onSound(ev model.SoundEvent) {
	f := m.filter.Load().(filter)
	if _, ok := f.allowed[normalizeLabel(ev.Label)]; !ok {
		metrics.SensorDropped.WithLabelValues("label").Inc()
		return
	}
	if ev.Confidence < f.minConfidence {
		metrics.SensorDropped.WithLabelValues("confidence").Inc()
		return
	}
	m.target.HandleSound(m.ctx, ev)
}

func (m *Monitor) onBackPress(at time.Time) {
	if m.back.Press(at) {
		m.trigger(model.PanicBackButton, detect.LabelBackButton, at)
	}
}

func (m *Monitor) onVolume(r model.VolumeReading) {
	if m.volume.Observe(r.Level, r.At) {
		m.trigger(model.PanicVolumeButton, detect.LabelVolumeButton, r.At)
	}
}

func (m *Monitor) onAccel(s model.AccelSample) {
	if m.shake.Observe(s) {
		m.trigger(model.PanicShake, detect.LabelShake, s.At)
	}
}

func (m *Monitor) onTranscript(tr model.Transcript) {
	if label, ok := m.voice.Match(tr); ok {
		m.trigger(model.PanicVoice, label, tr.At)
	}
}

func (m *Monitor) trigger(src model.PanicSource, label string, at time.Time) {
	m.logger.Warn("panic gesture detected", "source", src, "trigger", label)
	err := m.target.HandlePanic(model.PanicEvent{Source: src, TriggerLabel: label, At: at})
	if err != nil && !errors.Is(err, engine.ErrIncidentActive) {
		m.logger.Error("panic trigger failed", "source", src, "err", err)
	}
}

// Close drops every subscription. The monitor cannot be re-armed afterwards.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for name, unsub := range m.unsubs {
		unsub()
		delete(m.unsubs, name)
	}
	m.cancel()
}
