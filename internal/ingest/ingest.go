// Package ingest receives sensor messages from the configured transports and
// routes them, one at a time, onto typed feeds.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"safezone/internal/config"
	"safezone/internal/feed"
	"safezone/internal/metrics"
	"safezone/internal/model"
	"safezone/internal/monitor"
	"safezone/internal/normalize"
)

// Envelope is a normalized reading tagged with the transport it came from.
type Envelope struct {
	Transport string
	Reading   normalize.Reading
}

// Router fans readings out to one feed per sensor type. Route is called from
// a single goroutine so subscribers observe messages in arrival order.
type Router struct {
	Locations   *feed.Feed[model.Location]
	Sounds      *feed.Feed[model.SoundEvent]
	BackPresses *feed.Feed[time.Time]
	Volume      *feed.Feed[model.VolumeReading]
	Accel       *feed.Feed[model.AccelSample]
	Transcripts *feed.Feed[model.Transcript]
	logger      *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		Locations:   feed.New[model.Location](),
		Sounds:      feed.New[model.SoundEvent](),
		BackPresses: feed.New[time.Time](),
		Volume:      feed.New[model.VolumeReading](),
		Accel:       feed.New[model.AccelSample](),
		Transcripts: feed.New[model.Transcript](),
		logger:      logger,
	}
}

func (r *Router) Sources() monitor.Sources {
	return monitor.Sources{
		Locations:   r.Locations,
		Sounds:      r.Sounds,
		BackPresses: r.BackPresses,
		Volume:      r.Volume,
		Accel:       r.Accel,
		Transcripts: r.Transcripts,
	}
}

func (r *Router) Route(env Envelope) {
	rd := env.Reading
	metrics.SensorEvents.WithLabelValues(env.Transport, string(rd.Kind)).Inc()
	switch rd.Kind {
	case normalize.KindLocation:
		r.Locations.Publish(*rd.Location)
	case normalize.KindSound:
		r.Sounds.Publish(*rd.Sound)
	case normalize.KindBackPress:
		r.BackPresses.Publish(rd.At)
	case normalize.KindVolume:
		r.Volume.Publish(*rd.Volume)
	case normalize.KindAccel:
		r.Accel.Publish(*rd.Accel)
	case normalize.KindTranscript:
		r.Transcripts.Publish(*rd.Transcript)
	default:
		r.logger.Debug("unroutable reading", "kind", rd.Kind)
	}
}

// Run routes envelopes until ctx ends or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			r.Route(env)
		}
	}
}

func (r *Router) Close() {
	r.Locations.Close()
	r.Sounds.Close()
	r.BackPresses.Close()
	r.Volume.Close()
	r.Accel.Close()
	r.Transcripts.Close()
}

func SendNonBlocking(ctx context.Context, out chan<- Envelope, env Envelope, logger *slog.Logger) bool {
	select {
	case out <- env:
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.SensorDropped.WithLabelValues("queue_full").Inc()
		if logger != nil {
			logger.Warn("sensor channel full, dropping message", "transport", env.Transport, "kind", env.Reading.Kind)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func timezone(cfg *config.Config) *time.Location {
	if cfg.Ingest.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Timezone); err == nil {
			return l
		}
	}
	return time.UTC
}

// decode parses and normalizes one line. Blank lines yield ok=false with no
// error.
func decode(line, transport string, cfg *config.Config, logger *slog.Logger) (Envelope, bool) {
	fields, err := ParseLine(line)
	if err != nil || fields == nil {
		if err != nil {
			metrics.SensorDropped.WithLabelValues("invalid").Inc()
		}
		return Envelope{}, false
	}
	rd, err := normalize.Normalize(*fields, timezone(cfg), time.Now())
	if err != nil {
		metrics.SensorDropped.WithLabelValues("invalid").Inc()
		if logger != nil {
			logger.Warn(transport+" normalize error", "err", err)
		}
		return Envelope{}, false
	}
	return Envelope{Transport: transport, Reading: rd}, true
}
