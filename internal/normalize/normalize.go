// Package normalize converts loosely-shaped sensor messages into typed
// readings.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"safezone/internal/model"
)

type Kind string

const (
	KindLocation   Kind = "location"
	KindSound      Kind = "sound"
	KindBackPress  Kind = "back_press"
	KindVolume     Kind = "volume"
	KindAccel      Kind = "accel"
	KindTranscript Kind = "transcript"
)

// Fields holds a message's values keyed by lowercased field name.
type Fields struct {
	Values map[string]string
	Raw    string
}

func (f Fields) get(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(f.Values[k]); v != "" {
			return v
		}
	}
	return ""
}

// Reading is a normalized message. Exactly one payload pointer matching Kind
// is set, except for back presses which carry only At.
type Reading struct {
	Kind       Kind
	At         time.Time
	Location   *model.Location
	Sound      *model.SoundEvent
	Volume     *model.VolumeReading
	Accel      *model.AccelSample
	Transcript *model.Transcript
}

var kindAliases = map[string]Kind{
	"location":       KindLocation,
	"gps":            KindLocation,
	"position":       KindLocation,
	"sound":          KindSound,
	"audio":          KindSound,
	"classification": KindSound,
	"back_press":     KindBackPress,
	"back":           KindBackPress,
	"back_button":    KindBackPress,
	"volume":         KindVolume,
	"volume_change":  KindVolume,
	"accel":          KindAccel,
	"accelerometer":  KindAccel,
	"transcript":     KindTranscript,
	"speech":         KindTranscript,
	"voice":          KindTranscript,
}

func ParseKind(value string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return "", fmt.Errorf("unknown message type %q", value)
	}
	return k, nil
}

// Normalize builds a Reading. A missing timestamp becomes now.
func Normalize(fields Fields, loc *time.Location, now time.Time) (Reading, error) {
	kind, err := ParseKind(fields.get("type", "kind", "event"))
	if err != nil {
		return Reading{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	at := now.UTC()
	if raw := fields.get("timestamp", "time", "ts", "captured_at", "at"); raw != "" {
		parsed, err := ParseTimestamp(raw, loc)
		if err != nil {
			return Reading{}, fmt.Errorf("parse timestamp: %w", err)
		}
		at = parsed.UTC()
	}
	r := Reading{Kind: kind, At: at}

	switch kind {
	case KindLocation:
		lat, err := fields.float("latitude", "lat")
		if err != nil {
			return Reading{}, err
		}
		lng, err := fields.float("longitude", "lng", "lon")
		if err != nil {
			return Reading{}, err
		}
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return Reading{}, fmt.Errorf("coordinate out of range: %v,%v", lat, lng)
		}
		r.Location = &model.Location{Latitude: lat, Longitude: lng, CapturedAt: at}
	case KindSound:
		label := fields.get("label", "class", "sound", "name")
		if label == "" {
			return Reading{}, errors.New("sound label missing")
		}
		conf := 1.0
		if fields.get("confidence", "score", "probability") != "" {
			if conf, err = fields.float("confidence", "score", "probability"); err != nil {
				return Reading{}, err
			}
		}
		r.Sound = &model.SoundEvent{Label: label, Confidence: conf, CapturedAt: at}
	case KindBackPress:
	case KindVolume:
		level, err := fields.float("level", "volume", "value")
		if err != nil {
			return Reading{}, err
		}
		r.Volume = &model.VolumeReading{Level: level, At: at}
	case KindAccel:
		var xyz [3]float64
		for i, axis := range []string{"x", "y", "z"} {
			if xyz[i], err = fields.float(axis); err != nil {
				return Reading{}, err
			}
		}
		r.Accel = &model.AccelSample{X: xyz[0], Y: xyz[1], Z: xyz[2], At: at}
	case KindTranscript:
		text := fields.get("text", "transcript", "utterance")
		if text == "" {
			return Reading{}, errors.New("transcript text missing")
		}
		final, _ := strconv.ParseBool(fields.get("final", "is_final"))
		r.Transcript = &model.Transcript{
			UtteranceID: fields.get("utterance_id", "utterance_key", "id"),
			Text:        text,
			Final:       final,
			At:          at,
		}
	}
	return r, nil
}

func (f Fields) float(keys ...string) (float64, error) {
	raw := f.get(keys...)
	if raw == "" {
		return 0, fmt.Errorf("%s missing", keys[0])
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", keys[0], err)
	}
	return v, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
}

// ParseTimestamp accepts RFC 3339, common date-time layouts interpreted in
// loc, and unix seconds or milliseconds.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if len(value) >= 13 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
