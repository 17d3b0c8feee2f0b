package detect

import (
	"testing"
	"time"

	"safezone/internal/model"
)

var t0 = time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

func TestPressPatternFiresOnFifthPress(t *testing.T) {
	p := NewPressPattern(5, 3*time.Second)
	for i := 0; i < 4; i++ {
		if p.Press(t0.Add(time.Duration(i) * 500 * time.Millisecond)) {
			t.Fatalf("fired early at press %d", i+1)
		}
	}
	if !p.Press(t0.Add(2 * time.Second)) {
		t.Fatalf("expected fire on fifth press")
	}
	if p.Pending() != 0 {
		t.Fatalf("window should reset after firing")
	}
}

func TestPressPatternSlidingWindow(t *testing.T) {
	p := NewPressPattern(5, 3*time.Second)
	// Presses spaced 800ms apart: the first drops out once the fifth lands at 3.2s.
	for i := 0; i < 5; i++ {
		if p.Press(t0.Add(time.Duration(i) * 800 * time.Millisecond)) {
			t.Fatalf("presses spanning 3.2s must not fire")
		}
	}
	if !p.Press(t0.Add(3300 * time.Millisecond)) {
		t.Fatalf("five presses within 3s should fire")
	}
}

func TestPressPatternWindowIsExclusive(t *testing.T) {
	p := NewPressPattern(2, 3*time.Second)
	p.Press(t0)
	if p.Press(t0.Add(3 * time.Second)) {
		t.Fatalf("press exactly one window later must not count the first")
	}
}

func TestVolumeDownCountsDecreasesOnly(t *testing.T) {
	v := NewVolumeDown(5, 3*time.Second)
	levels := []float64{1.0, 1.0, 0.9, 1.0, 0.9, 0.8, 0.7}
	for i, l := range levels {
		if v.Observe(l, t0.Add(time.Duration(i)*100*time.Millisecond)) {
			t.Fatalf("fired early at step %d", i)
		}
	}
	if !v.Observe(0.6, t0.Add(time.Second)) {
		t.Fatalf("fifth decrease should fire")
	}
}

func TestShakeThreshold(t *testing.T) {
	s := NewShake(1.78, 5)
	calm := model.AccelSample{X: 0, Y: 0, Z: 1}
	for i := 0; i < 10; i++ {
		if s.Observe(calm) {
			t.Fatalf("1g must not trigger")
		}
	}
	if !s.Observe(model.AccelSample{X: 1.5, Y: 1.5, Z: 1}) {
		t.Fatalf("2.35g should trigger")
	}
	if s.Observe(calm) {
		t.Fatalf("history should be cleared after firing")
	}
}

func TestShakeRollingMaxForgetsOldPeaks(t *testing.T) {
	s := NewShake(3, 3)
	s.Observe(model.AccelSample{Z: 2.9})
	for i := 0; i < 3; i++ {
		s.Observe(model.AccelSample{Z: 1})
	}
	s.SetThreshold(2.5)
	if s.Observe(model.AccelSample{Z: 1}) {
		t.Fatalf("old peak should have rolled out of the window")
	}
}

func TestVoiceKeywordOncePerUtterance(t *testing.T) {
	v := NewVoice([]string{"bachao", "Help", "emergency"})
	label, ok := v.Match(model.Transcript{UtteranceID: "u1", Text: "please HELP me", At: t0})
	if !ok || label != "Voice Command: help" {
		t.Fatalf("unexpected match %q %v", label, ok)
	}
	if _, ok := v.Match(model.Transcript{UtteranceID: "u1", Text: "please help me now", At: t0.Add(time.Second)}); ok {
		t.Fatalf("same utterance must not fire twice")
	}
	if _, ok := v.Match(model.Transcript{UtteranceID: "u2", Text: "bachao", At: t0.Add(2 * time.Second)}); !ok {
		t.Fatalf("new utterance should fire")
	}
	if _, ok := v.Match(model.Transcript{UtteranceID: "u3", Text: "all good", At: t0}); ok {
		t.Fatalf("no keyword, no match")
	}
}

func TestPressPatternSetPattern(t *testing.T) {
	p := NewPressPattern(5, 3*time.Second)
	p.SetPattern(2, time.Second)
	p.Press(t0)
	if !p.Press(t0.Add(500 * time.Millisecond)) {
		t.Fatalf("expected fire on second press after reconfiguring")
	}
	p.SetPattern(0, 0)
	p.Press(t0.Add(2 * time.Second))
	if p.Press(t0.Add(3500 * time.Millisecond)) {
		t.Fatalf("zero values must keep the 1s window")
	}
}

func TestVolumeDownResetForgetsBaseline(t *testing.T) {
	v := NewVolumeDown(1, 3*time.Second)
	v.Observe(1.0, t0)
	v.Reset()
	if v.Observe(0.5, t0.Add(100*time.Millisecond)) {
		t.Fatalf("first reading after reset only sets the baseline")
	}
	if !v.Observe(0.4, t0.Add(200*time.Millisecond)) {
		t.Fatalf("decrease after new baseline should fire")
	}
}

func TestShakeSetWindowTrimsHistory(t *testing.T) {
	s := NewShake(10, 5)
	for i := 0; i < 5; i++ {
		s.Observe(model.AccelSample{X: float64(i)})
	}
	s.SetWindow(2)
	s.mu.Lock()
	n := len(s.history)
	s.mu.Unlock()
	if n != 2 {
		t.Fatalf("expected history trimmed to 2, got %d", n)
	}
}
