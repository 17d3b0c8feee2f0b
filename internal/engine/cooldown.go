package engine

import (
	"sync"
	"time"

	"safezone/internal/clock"
)

const (
	keyEscalation  = "escalation"
	keyOracleError = "oracle_error"
)

// Cooldown gates repeated attempts per key. A passing check records the
// attempt time; rejected attempts do not extend the window.
type Cooldown struct {
	mu    sync.Mutex
	clock clock.Clock
	last  map[string]time.Time
}

func NewCooldown(c clock.Clock) *Cooldown {
	if c == nil {
		c = clock.Real{}
	}
	return &Cooldown{clock: c, last: make(map[string]time.Time)}
}

func (c *Cooldown) AllowKey(key string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[key] = now
	return true
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]time.Time)
}
