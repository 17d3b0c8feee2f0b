package engine

import (
	"sync"
	"time"

	"safezone/internal/clock"
)

// countdownTimer owns the one pending tick. Scheduling replaces any previous
// tick and bumps the generation so a callback that already fired but has not
// yet acquired the engine lock can tell it is stale.
type countdownTimer struct {
	mu    sync.Mutex
	clock clock.Clock
	timer clock.Timer
	gen   uint64
}

func newCountdownTimer(c clock.Clock) *countdownTimer {
	return &countdownTimer{clock: c}
}

func (t *countdownTimer) schedule(d time.Duration, fn func(gen uint64)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = t.clock.AfterFunc(d, func() { fn(gen) })
	return gen
}

func (t *countdownTimer) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

func (t *countdownTimer) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil && t.gen == gen
}

func (t *countdownTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}
