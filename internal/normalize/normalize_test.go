package normalize

import (
	"testing"
	"time"
)

func fields(kv ...string) Fields {
	f := Fields{Values: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Values[kv[i]] = kv[i+1]
	}
	return f
}

var now = time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)

func TestNormalizeLocation(t *testing.T) {
	r, err := Normalize(fields("type", "gps", "lat", "12.97", "lng", "77.59", "ts", "1773180000"), time.UTC, now)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.Kind != KindLocation || r.Location == nil {
		t.Fatalf("expected location, got %+v", r)
	}
	if r.Location.Latitude != 12.97 || r.Location.Longitude != 77.59 {
		t.Fatalf("coordinates: %+v", r.Location)
	}
	if !r.At.Equal(time.Unix(1773180000, 0)) {
		t.Fatalf("timestamp: %v", r.At)
	}
}

func TestNormalizeSoundDefaultsConfidence(t *testing.T) {
	r, err := Normalize(fields("kind", "audio", "class", "Gunshot"), time.UTC, now)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.Sound == nil || r.Sound.Label != "Gunshot" || r.Sound.Confidence != 1 {
		t.Fatalf("unexpected sound: %+v", r.Sound)
	}
	if !r.At.Equal(now) || !r.Sound.CapturedAt.Equal(now) {
		t.Fatalf("missing timestamp should default to now, got %v", r.At)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := []Fields{
		fields("type", "weather"),
		fields("type", "location", "lat", "95", "lng", "0"),
		fields("type", "location", "lat", "abc", "lng", "0"),
		fields("type", "sound"),
		fields("type", "accel", "x", "1", "y", "1"),
		fields("type", "transcript", "text", "  "),
		fields("type", "volume", "level", "0.5", "ts", "yesterday"),
	}
	for i, f := range cases {
		if _, err := Normalize(f, time.UTC, now); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, f.Values)
		}
	}
}

func TestNormalizeTranscriptAndAccel(t *testing.T) {
	r, err := Normalize(fields("type", "speech", "text", "bachao", "utterance_id", "u-9", "final", "true"), time.UTC, now)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.Transcript == nil || r.Transcript.UtteranceID != "u-9" || !r.Transcript.Final {
		t.Fatalf("unexpected transcript: %+v", r.Transcript)
	}
	r, err = Normalize(fields("type", "accelerometer", "x", "0.1", "y", "-2", "z", "9.8"), time.UTC, now)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.Accel == nil || r.Accel.Y != -2 {
		t.Fatalf("unexpected accel: %+v", r.Accel)
	}
}

func TestParseTimestampFormats(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	cases := map[string]time.Time{
		"2026-03-10T22:00:00Z":      now,
		"2026-03-10 22:00:00":       time.Date(2026, 3, 10, 22, 0, 0, 0, ist),
		"1773180000000":             time.UnixMilli(1773180000000),
		"2026-03-10T22:00:00+05:30": time.Date(2026, 3, 10, 22, 0, 0, 0, ist),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in, ist)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}
	if _, err := ParseTimestamp("", time.UTC); err == nil {
		t.Fatalf("expected error for empty timestamp")
	}
}
