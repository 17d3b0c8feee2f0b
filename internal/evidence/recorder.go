// Package evidence records a fixed-length clip when an incident is confirmed
// and uploads it once recording ends.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"safezone/internal/clock"
	"safezone/internal/config"
	"safezone/internal/model"
	"safezone/internal/sink"
)

type Artifact struct {
	Path string
	Name string
}

type Session interface {
	Stop() (Artifact, error)
}

type Capture interface {
	Begin(inc model.Incident) (Session, error)
}

type Uploader interface {
	UploadEvidence(ctx context.Context, name string, r io.Reader) (string, error)
	CreateIncident(ctx context.Context, report model.IncidentReport) error
}

type Notifier interface {
	Notify(n model.Notification)
}

var ErrClosed = errors.New("evidence: recorder closed")

type Recorder struct {
	logger   *slog.Logger
	clock    clock.Clock
	capture  Capture
	uploader Uploader
	notifier Notifier
	cfg      atomic.Value

	mu       sync.Mutex
	timers   map[string]clock.Timer
	sessions map[string]Session
	closed   bool
	wg       sync.WaitGroup
}

func NewRecorder(cfg *config.Config, c clock.Clock, capture Capture, uploader Uploader, notifier Notifier, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = clock.Real{}
	}
	r := &Recorder{
		logger:   logger,
		clock:    c,
		capture:  capture,
		uploader: uploader,
		notifier: notifier,
		timers:   make(map[string]clock.Timer),
		sessions: make(map[string]Session),
	}
	r.UpdateConfig(cfg)
	return r
}

func (r *Recorder) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	r.cfg.Store(cfg)
}

func (r *Recorder) config() *config.Config {
	return r.cfg.Load().(*config.Config)
}

// Record starts capturing for inc. A second call for the same incident is a
// no-op.
func (r *Recorder) Record(inc model.Incident) error {
	if r.capture == nil {
		return errors.New("evidence: no capture device")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.sessions[inc.ID]; ok {
		return nil
	}
	sess, err := r.capture.Begin(inc)
	if err != nil {
		return fmt.Errorf("evidence: start recording: %w", err)
	}
	d := r.config().Response.RecordingDuration
	r.sessions[inc.ID] = sess
	r.timers[inc.ID] = r.clock.AfterFunc(d, func() { r.finish(inc) })
	r.logger.Info("evidence recording started", "incident_id", inc.ID, "duration", d)
	return nil
}

// Recording reports whether a clip for incidentID is in progress.
func (r *Recorder) Recording(incidentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[incidentID]
	return ok
}

func (r *Recorder) finish(inc model.Incident) {
	r.mu.Lock()
	sess, ok := r.sessions[inc.ID]
	delete(r.sessions, inc.ID)
	delete(r.timers, inc.ID)
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		art, err := sess.Stop()
		if err != nil {
			r.logger.Error("evidence recording failed", "incident_id", inc.ID, "err", err)
			r.notify("Upload Failed", "Evidence recording could not be saved.")
			return
		}
		r.upload(inc, art)
	}()
}

func (r *Recorder) upload(inc model.Incident, art Artifact) {
	cfg := r.config()
	if r.uploader == nil {
		r.logger.Info("evidence kept locally", "incident_id", inc.ID, "path", art.Path)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Response.ActionTimeout)
	defer cancel()

	f, err := os.Open(art.Path)
	if err != nil {
		r.logger.Error("evidence file missing", "incident_id", inc.ID, "path", art.Path, "err", err)
		r.notify("Upload Failed", "Evidence file could not be read.")
		return
	}
	defer f.Close()

	url, err := r.uploader.UploadEvidence(ctx, art.Name, f)
	if errors.Is(err, sink.ErrDisabled) {
		r.logger.Info("evidence kept locally, sink disabled", "incident_id", inc.ID, "path", art.Path)
		return
	}
	if err != nil {
		r.logger.Error("evidence upload failed", "incident_id", inc.ID, "err", err)
		r.notify("Upload Failed", "Could not upload evidence audio.")
		return
	}

	audio := inc
	audio.Kind = model.IncidentAudio
	audio.AudioURL = url
	if err := r.uploader.CreateIncident(ctx, sink.Report(cfg.UserID, audio)); err != nil {
		r.logger.Error("evidence incident failed", "incident_id", inc.ID, "err", err)
		r.notify("Upload Failed", "Audio uploaded but guardians could not be notified.")
		return
	}
	r.logger.Info("evidence uploaded", "incident_id", inc.ID, "url", url)
	r.notify("Evidence Secure", "Audio evidence uploaded and sent to guardians.")
}

func (r *Recorder) notify(title, body string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(model.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Category:  "evidence",
		Timestamp: r.clock.Now().UTC(),
	})
}

// Wait blocks until in-flight uploads finish.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Close cancels pending recordings and waits for uploads in flight.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	sessions := make([]Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		if _, err := s.Stop(); err != nil {
			r.logger.Warn("stop recording on close", "err", err)
		}
	}
	r.wg.Wait()
}
