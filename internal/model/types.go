package model

import (
	"strings"
	"time"
)

type Location struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
}

func (l Location) IsZero() bool {
	return l.CapturedAt.IsZero() && l.Latitude == 0 && l.Longitude == 0
}

// SoundEvent is a classifier detection. Only allow-listed labels reach the engine.
type SoundEvent struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	CapturedAt time.Time `json:"captured_at"`
}

type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskCaution
	RiskHigh
	RiskDanger
)

func (l RiskLevel) String() string {
	switch l {
	case RiskCaution:
		return "YELLOW"
	case RiskHigh:
		return "ORANGE"
	case RiskDanger:
		return "RED"
	default:
		return "GREEN"
	}
}

func (l RiskLevel) Name() string {
	switch l {
	case RiskCaution:
		return "caution"
	case RiskHigh:
		return "high_risk"
	case RiskDanger:
		return "danger"
	default:
		return "safe"
	}
}

func (l RiskLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *RiskLevel) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "YELLOW", "CAUTION":
		*l = RiskCaution
	case "ORANGE", "HIGH_RISK":
		*l = RiskHigh
	case "RED", "DANGER":
		*l = RiskDanger
	default:
		*l = RiskSafe
	}
	return nil
}

type Assessment struct {
	Level  RiskLevel `json:"level"`
	Reason string    `json:"reason"`
}

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseCountdown Phase = "countdown"
	PhaseConfirmed Phase = "confirmed"
	PhaseCancelled Phase = "cancelled"
)

type Snapshot struct {
	Level            RiskLevel `json:"level"`
	Reason           string    `json:"reason"`
	Phase            Phase     `json:"phase"`
	SecondsRemaining int       `json:"seconds_remaining"`
	Trigger          string    `json:"trigger,omitempty"`
	IncidentID       string    `json:"incident_id,omitempty"`
	Armed            bool      `json:"armed"`
	AreaScore        float64   `json:"area_score"`
	Location         *Location `json:"location,omitempty"`
	FailedUnlocks    int       `json:"failed_unlocks"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ChangeKind string

const (
	ChangeRisk      ChangeKind = "risk"
	ChangeCountdown ChangeKind = "countdown"
	ChangeTick      ChangeKind = "tick"
	ChangeConfirmed ChangeKind = "confirmed"
	ChangeCancelled ChangeKind = "cancelled"
	ChangeResolved  ChangeKind = "resolved"
	ChangeArmed     ChangeKind = "armed"
)

// StateChange is emitted by the engine after every observable transition.
type StateChange struct {
	Kind      ChangeKind `json:"kind"`
	Snapshot  Snapshot   `json:"snapshot"`
	Timestamp time.Time  `json:"timestamp"`
}

type PanicSource string

const (
	PanicBackButton   PanicSource = "back_button"
	PanicVolumeButton PanicSource = "volume_button"
	PanicShake        PanicSource = "shake"
	PanicVoice        PanicSource = "voice"
)

type PanicEvent struct {
	Source       PanicSource `json:"source"`
	TriggerLabel string      `json:"trigger_label"`
	At           time.Time   `json:"at"`
}

type IncidentKind string

const (
	IncidentManual IncidentKind = "SOS_MANUAL"
	IncidentPanic  IncidentKind = "SOS_PANIC"
	IncidentVoice  IncidentKind = "SOS_VOICE"
	IncidentSound  IncidentKind = "SOS_SOUND"
	IncidentAudio  IncidentKind = "SOS_AUDIO"
)

// KindForPanic maps a gesture source to the incident type tag sent to the sink.
func KindForPanic(src PanicSource) IncidentKind {
	if src == PanicVoice {
		return IncidentVoice
	}
	return IncidentPanic
}

type IncidentStatus string

const (
	IncidentActive   IncidentStatus = "ACTIVE"
	IncidentResolved IncidentStatus = "RESOLVED"
)

type Incident struct {
	ID          string         `json:"id"`
	Kind        IncidentKind   `json:"kind"`
	Trigger     string         `json:"trigger"`
	Status      IncidentStatus `json:"status"`
	Location    *Location      `json:"location,omitempty"`
	ConfirmedAt time.Time      `json:"confirmed_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	AudioURL    string         `json:"audio_url,omitempty"`
}

// IncidentReport is the body posted to the incident sink.
type IncidentReport struct {
	VictimID    string          `json:"victimId"`
	Type        IncidentKind    `json:"type"`
	TriggerType string          `json:"triggerType,omitempty"`
	AudioURL    string          `json:"audioUrl,omitempty"`
	Location    *ReportLocation `json:"location,omitempty"`
}

type ReportLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Category  string    `json:"category,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type UnlockResult struct {
	Accepted       bool  `json:"accepted"`
	Phase          Phase `json:"phase"`
	FailedAttempts int   `json:"failed_attempts"`
}

type Crime struct {
	ID        int64   `json:"id,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Type      string  `json:"type"`
	Severity  int     `json:"severity"`
}

type VolumeReading struct {
	Level float64   `json:"level"`
	At    time.Time `json:"at"`
}

type AccelSample struct {
	X  float64   `json:"x"`
	Y  float64   `json:"y"`
	Z  float64   `json:"z"`
	At time.Time `json:"at"`
}

type Transcript struct {
	UtteranceID string    `json:"utterance_id"`
	Text        string    `json:"text"`
	Final       bool      `json:"final"`
	At          time.Time `json:"at"`
}
