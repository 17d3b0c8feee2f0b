package detect

import "time"

// timeWindow keeps the timestamps of recent qualifying events, oldest first.
type timeWindow struct {
	events []time.Time
	head   int
}

func (w *timeWindow) Add(at time.Time) {
	w.events = append(w.events, at)
}

// Evict drops events that are at least span older than now.
func (w *timeWindow) Evict(now time.Time, span time.Duration) {
	for w.head < len(w.events) {
		if now.Sub(w.events[w.head]) < span {
			break
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.events) {
		w.events = append([]time.Time{}, w.events[w.head:]...)
		w.head = 0
	}
}

func (w *timeWindow) Len() int {
	return len(w.events) - w.head
}

func (w *timeWindow) Reset() {
	w.events = w.events[:0]
	w.head = 0
}
