// Package response performs the emergency actions for a confirmed incident.
// Each action runs on its own goroutine so one failing action never blocks
// or cancels another.
package response

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"safezone/internal/config"
	"safezone/internal/metrics"
	"safezone/internal/model"
	"safezone/internal/sink"
)

type Siren interface {
	Start() error
	Stop() error
}

type Recorder interface {
	Record(inc model.Incident) error
}

type IncidentSink interface {
	CreateIncident(ctx context.Context, report model.IncidentReport) error
}

type LocationProvider interface {
	CurrentLocation(ctx context.Context) (model.Location, error)
}

// LocationFunc adapts a plain function to LocationProvider.
type LocationFunc func(ctx context.Context) (model.Location, error)

func (f LocationFunc) CurrentLocation(ctx context.Context) (model.Location, error) {
	return f(ctx)
}

type Notifier interface {
	Notify(n model.Notification)
}

// Notifiers delivers to every member in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(n model.Notification) {
	for _, x := range ns {
		if x != nil {
			x.Notify(n)
		}
	}
}

type Dispatcher interface {
	Dispatch(inc model.Incident)
	Resolve(inc model.Incident)
}

// Dispatchers lets the engine hand one incident to several consumers.
type Dispatchers []Dispatcher

func (ds Dispatchers) Dispatch(inc model.Incident) {
	for _, d := range ds {
		if d != nil {
			d.Dispatch(inc)
		}
	}
}

func (ds Dispatchers) Resolve(inc model.Incident) {
	for _, d := range ds {
		if d != nil {
			d.Resolve(inc)
		}
	}
}

type Options struct {
	Siren     Siren
	Recorder  Recorder
	Sink      IncidentSink
	Locations LocationProvider
	Notifier  Notifier
	Now       func() time.Time
}

type FanOut struct {
	logger *slog.Logger
	opts   Options
	cfg    atomic.Value
	wg     sync.WaitGroup
}

func NewFanOut(cfg *config.Config, logger *slog.Logger, opts Options) *FanOut {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	f := &FanOut{logger: logger, opts: opts}
	f.UpdateConfig(cfg)
	return f
}

func (f *FanOut) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	f.cfg.Store(cfg)
}

func (f *FanOut) config() *config.Config {
	return f.cfg.Load().(*config.Config)
}

// Dispatch starts the siren, notifies the user, then resolves a location and
// hands the incident to the recorder and the sink. It never blocks.
func (f *FanOut) Dispatch(inc model.Incident) {
	cfg := f.config()
	f.logger.Warn("incident confirmed, dispatching response",
		"incident_id", inc.ID, "kind", inc.Kind, "trigger", inc.Trigger)

	if f.opts.Siren != nil {
		f.run("siren", func(context.Context) error { return f.opts.Siren.Start() })
	}
	f.notify("SOS ALERT SENT", fmt.Sprintf("Emergency! %s detected. Guardians notified.", inc.Trigger), "alert")

	f.run("locate", func(ctx context.Context) error {
		located := f.locate(ctx, inc, cfg.Response.LocationTimeout)
		if f.opts.Recorder != nil {
			f.run("record", func(context.Context) error { return f.opts.Recorder.Record(located) })
		}
		if f.opts.Sink != nil {
			report := sink.Report(cfg.UserID, located)
			f.run("sink", func(ctx context.Context) error {
				err := f.opts.Sink.CreateIncident(ctx, report)
				if errors.Is(err, sink.ErrDisabled) {
					return nil
				}
				return err
			})
		}
		return nil
	})
}

// Resolve silences the siren once the incident has been cancelled by the user.
func (f *FanOut) Resolve(inc model.Incident) {
	f.logger.Info("incident resolved", "incident_id", inc.ID)
	if f.opts.Siren != nil {
		f.run("siren_stop", func(context.Context) error { return f.opts.Siren.Stop() })
	}
	f.notify("Alert Cancelled", "You marked yourself safe.", "resolved")
}

// Wait blocks until every action started so far has returned.
func (f *FanOut) Wait() {
	f.wg.Wait()
}

func (f *FanOut) locate(ctx context.Context, inc model.Incident, timeout time.Duration) model.Incident {
	if inc.Location != nil || f.opts.Locations == nil {
		return inc
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	loc, err := f.opts.Locations.CurrentLocation(lctx)
	if err != nil {
		f.logger.Warn("no location for incident", "incident_id", inc.ID, "err", err)
		return inc
	}
	inc.Location = &loc
	return inc
}

func (f *FanOut) run(action string, fn func(ctx context.Context) error) {
	timeout := f.config().Response.ActionTimeout
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				f.logger.Error("response action panicked", "action", action, "panic", r)
				metrics.ResponseActions.WithLabelValues(action, "panic").Inc()
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			f.logger.Error("response action failed", "action", action, "err", err)
			metrics.ResponseActions.WithLabelValues(action, "error").Inc()
			return
		}
		metrics.ResponseActions.WithLabelValues(action, "ok").Inc()
	}()
}

func (f *FanOut) notify(title, body, category string) {
	if f.opts.Notifier == nil {
		return
	}
	f.opts.Notifier.Notify(model.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Category:  category,
		Timestamp: f.opts.Now().UTC(),
	})
}
