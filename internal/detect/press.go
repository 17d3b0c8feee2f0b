// Package detect turns raw device input into panic edge triggers.
package detect

import (
	"sync"
	"time"
)

const (
	LabelBackButton   = "Back Button Panic"
	LabelVolumeButton = "Volume Button Panic"
	LabelShake        = "Shake Panic"
	voicePrefix       = "Voice Command: "
)

// PressPattern fires when Count presses land within a sliding Window. The
// window is cleared after firing.
type PressPattern struct {
	mu     sync.Mutex
	count  int
	window time.Duration
	recent timeWindow
}

func NewPressPattern(count int, window time.Duration) *PressPattern {
	if count <= 0 {
		count = 5
	}
	if window <= 0 {
		window = 3 * time.Second
	}
	return &PressPattern{count: count, window: window}
}

func (p *PressPattern) Press(at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent.Evict(at, p.window)
	p.recent.Add(at)
	if p.recent.Len() >= p.count {
		p.recent.Reset()
		return true
	}
	return false
}

// SetPattern changes the press count and window. Non-positive values keep
// the current setting.
func (p *PressPattern) SetPattern(count int, window time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if count > 0 {
		p.count = count
	}
	if window > 0 {
		p.window = window
	}
}

func (p *PressPattern) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recent.Len()
}

func (p *PressPattern) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent.Reset()
}

// VolumeDown counts only decreasing volume transitions as presses.
type VolumeDown struct {
	pattern *PressPattern
	mu      sync.Mutex
	last    float64
	seen    bool
}

func NewVolumeDown(count int, window time.Duration) *VolumeDown {
	return &VolumeDown{pattern: NewPressPattern(count, window)}
}

func (v *VolumeDown) Observe(level float64, at time.Time) bool {
	v.mu.Lock()
	prev, seen := v.last, v.seen
	v.last, v.seen = level, true
	v.mu.Unlock()
	if !seen || level >= prev {
		return false
	}
	return v.pattern.Press(at)
}

func (v *VolumeDown) SetPattern(count int, window time.Duration) {
	v.pattern.SetPattern(count, window)
}

// Reset forgets the baseline level and any pending presses. The next reading
// only establishes a new baseline.
func (v *VolumeDown) Reset() {
	v.mu.Lock()
	v.last, v.seen = 0, false
	v.mu.Unlock()
	v.pattern.Reset()
}
