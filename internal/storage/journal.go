package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"safezone/internal/model"
)

type journalEntry struct {
	incident *model.Incident
	change   *model.StateChange
}

// Journal writes incidents and transitions to a Store on a background
// goroutine. Entries are dropped rather than blocking the caller when the
// queue is full.
type Journal struct {
	store  Store
	logger *slog.Logger
	queue  chan journalEntry

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewJournal(store Store, buffer int, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Journal{
		store:  store,
		logger: logger,
		queue:  make(chan journalEntry, buffer),
		done:   make(chan struct{}),
	}
}

// Run drains the queue until Close is called or ctx ends.
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	for {
		select {
		case <-ctx.Done():
			j.drain()
			return
		case e, ok := <-j.queue:
			if !ok {
				return
			}
			j.write(e)
		}
	}
}

func (j *Journal) drain() {
	for {
		select {
		case e, ok := <-j.queue:
			if !ok {
				return
			}
			j.write(e)
		default:
			return
		}
	}
}

func (j *Journal) write(e journalEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch {
	case e.incident != nil:
		if err := j.store.SaveIncident(ctx, *e.incident); err != nil {
			j.logger.Error("journal incident failed", "incident_id", e.incident.ID, "err", err)
		}
	case e.change != nil:
		if err := j.store.SaveTransition(ctx, *e.change); err != nil {
			j.logger.Error("journal transition failed", "kind", e.change.Kind, "err", err)
		}
	}
}

func (j *Journal) enqueue(e journalEntry) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return false
	}
	select {
	case j.queue <- e:
		return true
	default:
		j.logger.Warn("journal queue full, dropping entry")
		return false
	}
}

// Record is an engine change handler. Countdown ticks are not journaled.
func (j *Journal) Record(change model.StateChange) {
	if change.Kind == model.ChangeTick {
		return
	}
	j.enqueue(journalEntry{change: &change})
}

func (j *Journal) Dispatch(inc model.Incident) {
	j.enqueue(journalEntry{incident: &inc})
}

func (j *Journal) Resolve(inc model.Incident) {
	j.enqueue(journalEntry{incident: &inc})
}

// Close stops accepting entries and waits for Run to flush the queue. Run
// must have been started.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()
	<-j.done
}
