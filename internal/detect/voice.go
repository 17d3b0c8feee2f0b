package detect

import (
	"strings"
	"sync"
	"time"

	"safezone/internal/model"
)

// Voice spots emergency keywords in a speech-to-text stream. Partial results
// for the same utterance fire at most once.
type Voice struct {
	mu       sync.Mutex
	keywords []string
	fired    *utteranceCache
}

func NewVoice(keywords []string) *Voice {
	v := &Voice{fired: newUtteranceCache(time.Minute)}
	v.SetKeywords(keywords)
	return v
}

func (v *Voice) SetKeywords(keywords []string) {
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			normalized = append(normalized, k)
		}
	}
	v.mu.Lock()
	v.keywords = normalized
	v.mu.Unlock()
}

// Match returns the trigger label for the first keyword found.
func (v *Voice) Match(tr model.Transcript) (string, bool) {
	text := strings.ToLower(strings.TrimSpace(tr.Text))
	if text == "" {
		return "", false
	}
	v.mu.Lock()
	keywords := v.keywords
	v.mu.Unlock()
	for _, kw := range keywords {
		if !strings.Contains(text, kw) {
			continue
		}
		key := tr.UtteranceID
		if key == "" {
			key = text
		}
		at := tr.At
		if at.IsZero() {
			at = time.Now()
		}
		if v.fired.Seen(key, at) {
			return "", false
		}
		return voicePrefix + kw, true
	}
	return "", false
}

type utteranceCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]time.Time
}

func newUtteranceCache(ttl time.Duration) *utteranceCache {
	return &utteranceCache{ttl: ttl, items: make(map[string]time.Time)}
}

// Seen reports whether key was recorded within ttl, recording it otherwise.
func (c *utteranceCache) Seen(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.items[key]; ok && now.Sub(ts) <= c.ttl {
		return true
	}
	c.items[key] = now
	if len(c.items) > 1024 {
		for k, ts := range c.items {
			if now.Sub(ts) > c.ttl {
				delete(c.items, k)
			}
		}
	}
	return false
}
