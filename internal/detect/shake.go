package detect

import (
	"math"
	"sync"

	"safezone/internal/model"
)

// Shake compares the rolling maximum of recent acceleration magnitudes (in g)
// against a threshold.
type Shake struct {
	mu        sync.Mutex
	threshold float64
	size      int
	history   []float64
}

func NewShake(threshold float64, size int) *Shake {
	if threshold <= 0 {
		threshold = 1.78
	}
	if size <= 0 {
		size = 5
	}
	return &Shake{threshold: threshold, size: size}
}

func Magnitude(s model.AccelSample) float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

func (s *Shake) Observe(sample model.AccelSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Magnitude(sample))
	if len(s.history) > s.size {
		s.history = s.history[len(s.history)-s.size:]
	}
	peak := 0.0
	for _, m := range s.history {
		if m > peak {
			peak = m
		}
	}
	if peak > s.threshold {
		s.history = s.history[:0]
		return true
	}
	return false
}

func (s *Shake) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}
	s.mu.Lock()
	s.threshold = threshold
	s.mu.Unlock()
}

func (s *Shake) SetWindow(size int) {
	if size <= 0 {
		return
	}
	s.mu.Lock()
	s.size = size
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.mu.Unlock()
}
