package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string         `json:"log_level" yaml:"log_level"`
	LogFormat string         `json:"log_format" yaml:"log_format"`
	UserID    string         `json:"user_id" yaml:"user_id"`
	Settings  SettingsConfig `json:"settings" yaml:"settings"`
	Engine    EngineConfig   `json:"engine" yaml:"engine"`
	Panic     PanicConfig    `json:"panic" yaml:"panic"`
	Response  ResponseConfig `json:"response" yaml:"response"`
	Sink      SinkConfig     `json:"sink" yaml:"sink"`
	Oracle    OracleConfig   `json:"oracle" yaml:"oracle"`
	Storage   StorageConfig  `json:"storage" yaml:"storage"`
	Ingest    IngestConfig   `json:"ingest" yaml:"ingest"`
	API       APIConfig      `json:"api" yaml:"api"`
	History   HistoryConfig  `json:"history" yaml:"history"`
}

// SettingsConfig holds the user-facing toggles editable from the app.
type SettingsConfig struct {
	SafeWord         string  `json:"safe_word" yaml:"safe_word"`
	ShakeSensitivity float64 `json:"shake_sensitivity" yaml:"shake_sensitivity"`
	DeviationRadius  float64 `json:"deviation_radius" yaml:"deviation_radius"`
	ShakeEnabled     bool    `json:"shake_enabled" yaml:"shake_enabled"`
	Armed            bool    `json:"armed" yaml:"armed"`
	VoiceEnabled     bool    `json:"voice_enabled" yaml:"voice_enabled"`
}

type EngineConfig struct {
	NightStartHour    int           `json:"night_start_hour" yaml:"night_start_hour"`
	NightEndHour      int           `json:"night_end_hour" yaml:"night_end_hour"`
	Timezone          string        `json:"timezone" yaml:"timezone"`
	AreaRiskThreshold float64       `json:"area_risk_threshold" yaml:"area_risk_threshold"`
	SoundWindow       time.Duration `json:"sound_window" yaml:"sound_window"`
	Debounce          time.Duration `json:"debounce" yaml:"debounce"`
	CountdownSeconds  int           `json:"countdown_seconds" yaml:"countdown_seconds"`
	Tick              time.Duration `json:"tick" yaml:"tick"`
	OracleTimeout     time.Duration `json:"oracle_timeout" yaml:"oracle_timeout"`
	DangerousLabels   []string      `json:"dangerous_labels" yaml:"dangerous_labels"`
	MinConfidence     float64       `json:"min_confidence" yaml:"min_confidence"`
}

type PanicConfig struct {
	BackPresses   int           `json:"back_presses" yaml:"back_presses"`
	BackWindow    time.Duration `json:"back_window" yaml:"back_window"`
	VolumePresses int           `json:"volume_presses" yaml:"volume_presses"`
	VolumeWindow  time.Duration `json:"volume_window" yaml:"volume_window"`
	ShakeWindow   int           `json:"shake_window" yaml:"shake_window"`
	VoiceKeywords []string      `json:"voice_keywords" yaml:"voice_keywords"`
}

type ResponseConfig struct {
	RecordingDuration time.Duration `json:"recording_duration" yaml:"recording_duration"`
	LocationTimeout   time.Duration `json:"location_timeout" yaml:"location_timeout"`
	ActionTimeout     time.Duration `json:"action_timeout" yaml:"action_timeout"`
	SirenCommand      []string      `json:"siren_command" yaml:"siren_command"`
	RecorderCommand   []string      `json:"recorder_command" yaml:"recorder_command"`
	EvidenceDir       string        `json:"evidence_dir" yaml:"evidence_dir"`
}

type SinkConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	APIURL       string        `json:"api_url" yaml:"api_url"`
	IncidentPath string        `json:"incident_path" yaml:"incident_path"`
	UploadURL    string        `json:"upload_url" yaml:"upload_url"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
}

type OracleConfig struct {
	Enabled  bool    `json:"enabled" yaml:"enabled"`
	Driver   string  `json:"driver" yaml:"driver"`
	DSN      string  `json:"dsn" yaml:"dsn"`
	RadiusKM float64 `json:"radius_km" yaml:"radius_km"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	Timezone      string          `json:"timezone" yaml:"timezone"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	UDP           UDPConfig       `json:"udp" yaml:"udp"`
	Replay        ReplayConfig    `json:"replay" yaml:"replay"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type UDPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// ReplayConfig follows recorded sensor logs, one message per line.
type ReplayConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Files      []string `json:"files" yaml:"files"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type APIConfig struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Addr         string   `json:"addr" yaml:"addr"`
	RateLimit    int      `json:"rate_limit" yaml:"rate_limit"`
	AllowOrigins []string `json:"allow_origins" yaml:"allow_origins"`
}

type HistoryConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		UserID:    "local",
		Settings: SettingsConfig{
			ShakeSensitivity: 1.78,
			DeviationRadius:  100,
			ShakeEnabled:     true,
			Armed:            false,
			VoiceEnabled:     false,
		},
		Engine: EngineConfig{
			NightStartHour:    22,
			NightEndHour:      5,
			Timezone:          "Local",
			AreaRiskThreshold: 50,
			SoundWindow:       30 * time.Second,
			Debounce:          3 * time.Second,
			CountdownSeconds:  30,
			Tick:              1 * time.Second,
			OracleTimeout:     2 * time.Second,
			DangerousLabels:   []string{"Gunshot", "Explosion"},
			MinConfidence:     0.35,
		},
		Panic: PanicConfig{
			BackPresses:   5,
			BackWindow:    3 * time.Second,
			VolumePresses: 5,
			VolumeWindow:  3 * time.Second,
			ShakeWindow:   5,
			VoiceKeywords: []string{"bachao", "help", "emergency"},
		},
		Response: ResponseConfig{
			RecordingDuration: 30 * time.Second,
			LocationTimeout:   5 * time.Second,
			ActionTimeout:     15 * time.Second,
			EvidenceDir:       "evidence",
		},
		Sink: SinkConfig{
			Enabled:      false,
			IncidentPath: "/incidents/create",
			Timeout:      10 * time.Second,
		},
		Oracle: OracleConfig{
			Enabled:  true,
			Driver:   "sqlite",
			DSN:      "file:crimes.db?_pragma=busy_timeout(5000)",
			RadiusKM: 1,
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:safezone.db?_pragma=busy_timeout(5000)"},
		Ingest: IngestConfig{
			ChannelBuffer: 1024,
			Timezone:      "UTC",
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			UDP:           UDPConfig{Enabled: false, Addr: ":9001"},
			Kafka:         KafkaConfig{Enabled: false},
		},
		API:     APIConfig{Enabled: true, Addr: ":8081", RateLimit: 20},
		History: HistoryConfig{StoreLimit: 500},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Settings.ShakeSensitivity <= 0 {
		cfg.Settings.ShakeSensitivity = def.Settings.ShakeSensitivity
	}
	if cfg.Settings.DeviationRadius <= 0 {
		cfg.Settings.DeviationRadius = def.Settings.DeviationRadius
	}
	if cfg.Engine.SoundWindow <= 0 {
		cfg.Engine.SoundWindow = def.Engine.SoundWindow
	}
	if cfg.Engine.Debounce < 0 {
		cfg.Engine.Debounce = 0
	}
	if cfg.Engine.CountdownSeconds <= 0 {
		cfg.Engine.CountdownSeconds = def.Engine.CountdownSeconds
	}
	if cfg.Engine.Tick <= 0 {
		cfg.Engine.Tick = def.Engine.Tick
	}
	if cfg.Engine.OracleTimeout <= 0 {
		cfg.Engine.OracleTimeout = def.Engine.OracleTimeout
	}
	if len(cfg.Engine.DangerousLabels) == 0 {
		cfg.Engine.DangerousLabels = def.Engine.DangerousLabels
	}
	if cfg.Engine.Timezone == "" {
		cfg.Engine.Timezone = def.Engine.Timezone
	}
	if cfg.Panic.BackPresses <= 0 {
		cfg.Panic.BackPresses = def.Panic.BackPresses
	}
	if cfg.Panic.BackWindow <= 0 {
		cfg.Panic.BackWindow = def.Panic.BackWindow
	}
	if cfg.Panic.VolumePresses <= 0 {
		cfg.Panic.VolumePresses = def.Panic.VolumePresses
	}
	if cfg.Panic.VolumeWindow <= 0 {
		cfg.Panic.VolumeWindow = def.Panic.VolumeWindow
	}
	if cfg.Panic.ShakeWindow <= 0 {
		cfg.Panic.ShakeWindow = def.Panic.ShakeWindow
	}
	if len(cfg.Panic.VoiceKeywords) == 0 {
		cfg.Panic.VoiceKeywords = def.Panic.VoiceKeywords
	}
	if cfg.Response.RecordingDuration <= 0 {
		cfg.Response.RecordingDuration = def.Response.RecordingDuration
	}
	if cfg.Response.LocationTimeout <= 0 {
		cfg.Response.LocationTimeout = def.Response.LocationTimeout
	}
	if cfg.Response.ActionTimeout <= 0 {
		cfg.Response.ActionTimeout = def.Response.ActionTimeout
	}
	if cfg.Sink.IncidentPath == "" {
		cfg.Sink.IncidentPath = def.Sink.IncidentPath
	}
	if cfg.Sink.Timeout <= 0 {
		cfg.Sink.Timeout = def.Sink.Timeout
	}
	if cfg.Oracle.RadiusKM <= 0 {
		cfg.Oracle.RadiusKM = def.Oracle.RadiusKM
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Ingest.Timezone == "" {
		cfg.Ingest.Timezone = def.Ingest.Timezone
	}
	if cfg.API.RateLimit <= 0 {
		cfg.API.RateLimit = def.API.RateLimit
	}
	if cfg.History.StoreLimit <= 0 {
		cfg.History.StoreLimit = def.History.StoreLimit
	}
	if cfg.UserID == "" {
		cfg.UserID = def.UserID
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.UDP.Enabled && cfg.Ingest.UDP.Addr == "" {
		return errors.New("ingest.udp.addr required when ingest.udp.enabled is true")
	}
	if cfg.Ingest.Replay.Enabled && len(cfg.Ingest.Replay.Files) == 0 {
		return errors.New("ingest.replay.files required when ingest.replay.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Sink.Enabled && cfg.Sink.APIURL == "" {
		return errors.New("sink.api_url required when sink.enabled is true")
	}
	if cfg.Oracle.Enabled && cfg.Oracle.DSN == "" {
		return errors.New("oracle.dsn required when oracle.enabled is true")
	}
	if cfg.Engine.NightStartHour < 0 || cfg.Engine.NightStartHour > 23 {
		return fmt.Errorf("engine.night_start_hour out of range: %d", cfg.Engine.NightStartHour)
	}
	if cfg.Engine.NightEndHour < 0 || cfg.Engine.NightEndHour > 23 {
		return fmt.Errorf("engine.night_end_hour out of range: %d", cfg.Engine.NightEndHour)
	}
	if cfg.Engine.AreaRiskThreshold < 0 || cfg.Engine.AreaRiskThreshold > 100 {
		return fmt.Errorf("engine.area_risk_threshold must be within 0..100, got %v", cfg.Engine.AreaRiskThreshold)
	}
	if cfg.Engine.MinConfidence < 0 || cfg.Engine.MinConfidence > 1 {
		return fmt.Errorf("engine.min_confidence must be within 0..1, got %v", cfg.Engine.MinConfidence)
	}
	if cfg.Settings.ShakeSensitivity < 0 {
		return fmt.Errorf("settings.shake_sensitivity must be positive, got %v", cfg.Settings.ShakeSensitivity)
	}
	if cfg.Settings.DeviationRadius < 0 {
		return fmt.Errorf("settings.deviation_radius must not be negative, got %v", cfg.Settings.DeviationRadius)
	}
	if _, err := time.LoadLocation(cfg.Engine.Timezone); err != nil {
		return fmt.Errorf("engine.timezone: %w", err)
	}
	return nil
}

// Clone returns a deep copy so callers can edit settings without racing readers.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Engine.DangerousLabels = append([]string(nil), c.Engine.DangerousLabels...)
	out.Panic.VoiceKeywords = append([]string(nil), c.Panic.VoiceKeywords...)
	out.Response.SirenCommand = append([]string(nil), c.Response.SirenCommand...)
	out.Response.RecorderCommand = append([]string(nil), c.Response.RecorderCommand...)
	out.Ingest.Kafka.Brokers = append([]string(nil), c.Ingest.Kafka.Brokers...)
	out.Ingest.Replay.Files = append([]string(nil), c.Ingest.Replay.Files...)
	out.API.AllowOrigins = append([]string(nil), c.API.AllowOrigins...)
	return &out
}

type Manager struct {
	path    string
	cfg     atomic.Value
	mu      sync.Mutex
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return newManager(path, cfg), nil
}

// NewStaticManager serves cfg without a backing file. Update only swaps memory.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return newManager("", cfg)
}

func newManager(path string, cfg *Config) *Manager {
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	m.touch()
	return nil
}

func (m *Manager) touch() {
	if m.path == "" {
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.mu.Lock()
		m.modTime = info.ModTime()
		m.mu.Unlock()
	}
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
