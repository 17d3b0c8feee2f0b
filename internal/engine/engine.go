package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"safezone/internal/clock"
	"safezone/internal/config"
	"safezone/internal/feed"
	"safezone/internal/metrics"
	"safezone/internal/model"
)

var (
	ErrIncidentActive = errors.New("engine: incident already confirmed")
	ErrNoIncident     = errors.New("engine: no countdown or incident to reset")
	ErrUnlockDisabled = errors.New("engine: safe word not configured")
	ErrNoLocation     = errors.New("engine: no location fix")
)

const manualTrigger = "Manual SOS"

// Oracle returns the crime score (0..100) around a point.
type Oracle interface {
	Score(ctx context.Context, lat, lng float64) (float64, error)
}

// Dispatcher performs the emergency response for a confirmed incident.
// Dispatch must not block.
type Dispatcher interface {
	Dispatch(inc model.Incident)
	Resolve(inc model.Incident)
}

type Notifier interface {
	Notify(n model.Notification)
}

type Options struct {
	Clock      clock.Clock
	Oracle     Oracle
	Dispatcher Dispatcher
	Notifier   Notifier
}

type runtimeConfig struct {
	cfg    *config.Config
	params FusionParams
}

// Engine is the single owner of risk level, escalation phase, the countdown
// timer and the debounce timestamp. Inputs may arrive from any goroutine.
//
// Change handlers run after the state lock is released but in emission
// order; they must not call mutating Engine methods.
type Engine struct {
	logger     *slog.Logger
	clock      clock.Clock
	oracle     Oracle
	dispatcher Dispatcher
	notifier   Notifier
	cfg        atomic.Value
	changes    *feed.Feed[model.StateChange]
	cooldown   *Cooldown
	countdown  *countdownTimer

	emitMu sync.Mutex
	mu     sync.Mutex

	location  *model.Location
	locSeq    uint64
	areaScore float64
	sound     *model.SoundEvent

	level     model.RiskLevel
	reason    string
	phase     model.Phase
	remaining int
	trigger   string
	incident  *model.Incident
	armed     bool
	failed    int
	updatedAt time.Time
}

type effects struct {
	changes  []model.StateChange
	notes    []model.Notification
	dispatch *model.Incident
	resolve  *model.Incident
}

func NewEngine(cfg *config.Config, logger *slog.Logger, opts Options) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	e := &Engine{
		logger:     logger,
		clock:      c,
		oracle:     opts.Oracle,
		dispatcher: opts.Dispatcher,
		notifier:   opts.Notifier,
		changes:    feed.New[model.StateChange](),
		cooldown:   NewCooldown(c),
		countdown:  newCountdownTimer(c),
		phase:      model.PhaseIdle,
		armed:      cfg.Settings.Armed,
		updatedAt:  c.Now().UTC(),
	}
	e.UpdateConfig(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		loc = time.Local
	}
	e.cfg.Store(&runtimeConfig{
		cfg: cfg,
		params: FusionParams{
			NightStartHour:    cfg.Engine.NightStartHour,
			NightEndHour:      cfg.Engine.NightEndHour,
			Location:          loc,
			AreaRiskThreshold: cfg.Engine.AreaRiskThreshold,
			SoundWindow:       cfg.Engine.SoundWindow,
		},
	})
}

func (e *Engine) runtime() *runtimeConfig {
	if v := e.cfg.Load(); v != nil {
		return v.(*runtimeConfig)
	}
	return &runtimeConfig{cfg: config.DefaultConfig()}
}

func (e *Engine) Subscribe(handler func(model.StateChange)) func() {
	return e.changes.Subscribe(handler)
}

func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() model.Snapshot {
	s := model.Snapshot{
		Level:            e.level,
		Reason:           e.reason,
		Phase:            e.phase,
		SecondsRemaining: e.remaining,
		Trigger:          e.trigger,
		Armed:            e.armed,
		AreaScore:        e.areaScore,
		FailedUnlocks:    e.failed,
		UpdatedAt:        e.updatedAt,
	}
	if e.location != nil {
		loc := *e.location
		s.Location = &loc
	}
	if e.incident != nil {
		s.IncidentID = e.incident.ID
	}
	return s
}

// CurrentLocation returns the best known fix.
func (e *Engine) CurrentLocation(ctx context.Context) (model.Location, error) {
	if err := ctx.Err(); err != nil {
		return model.Location{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.location == nil {
		return model.Location{}, ErrNoLocation
	}
	return *e.location, nil
}

// HandleLocation replaces the current fix, refreshes the area score and
// re-evaluates risk. The oracle is queried without holding the state lock;
// a result for a fix that has since been superseded is discarded.
func (e *Engine) HandleLocation(ctx context.Context, loc model.Location) {
	now := e.clock.Now()
	if loc.CapturedAt.IsZero() {
		loc.CapturedAt = now
	}
	e.mu.Lock()
	e.locSeq++
	seq := e.locSeq
	cp := loc
	e.location = &cp
	e.mu.Unlock()

	score := e.scoreArea(ctx, loc)

	e.mu.Lock()
	if seq != e.locSeq {
		e.mu.Unlock()
		e.logger.Debug("discarding stale area score", "seq", seq)
		return
	}
	e.areaScore = score
	var eff effects
	e.evaluateLocked(e.clock.Now(), &eff)
	e.flush(&eff)
}

// HandleSound records an allow-listed classifier detection and re-evaluates
// against the cached area score.
func (e *Engine) HandleSound(_ context.Context, ev model.SoundEvent) {
	now := e.clock.Now()
	if ev.CapturedAt.IsZero() {
		ev.CapturedAt = now
	}
	e.mu.Lock()
	cp := ev
	e.sound = &cp
	if e.location == nil {
		e.mu.Unlock()
		e.logger.Debug("sound stored without location fix", "label", ev.Label)
		return
	}
	var eff effects
	e.evaluateLocked(now, &eff)
	e.flush(&eff)
}

// HandlePanic confirms immediately from IDLE or COUNTDOWN.
func (e *Engine) HandlePanic(ev model.PanicEvent) error {
	label := ev.TriggerLabel
	if label == "" {
		label = string(ev.Source)
	}
	metrics.PanicTriggers.WithLabelValues(string(ev.Source)).Inc()
	return e.confirmNow(model.KindForPanic(ev.Source), label)
}

func (e *Engine) TriggerManual(label string) error {
	if strings.TrimSpace(label) == "" {
		label = manualTrigger
	}
	return e.confirmNow(model.IncidentManual, label)
}

func (e *Engine) confirmNow(kind model.IncidentKind, label string) error {
	e.mu.Lock()
	if e.phase == model.PhaseConfirmed {
		e.mu.Unlock()
		e.logger.Info("trigger ignored, incident already active", "trigger", label)
		return ErrIncidentActive
	}
	e.countdown.stop()
	var eff effects
	e.confirmLocked(e.clock.Now(), kind, label, &eff)
	e.flush(&eff)
	return nil
}

// Unlock checks text against the configured safe word. A match cancels a
// countdown or resolves a confirmed incident; a miss only counts the attempt.
func (e *Engine) Unlock(text string) (model.UnlockResult, error) {
	safeWord := strings.TrimSpace(e.runtime().cfg.Settings.SafeWord)
	e.mu.Lock()
	if safeWord == "" {
		res := model.UnlockResult{Phase: e.phase, FailedAttempts: e.failed}
		e.mu.Unlock()
		return res, ErrUnlockDisabled
	}
	if e.phase == model.PhaseIdle {
		res := model.UnlockResult{Phase: e.phase, FailedAttempts: e.failed}
		e.mu.Unlock()
		return res, ErrNoIncident
	}
	if !strings.EqualFold(strings.TrimSpace(text), safeWord) {
		e.failed++
		res := model.UnlockResult{Phase: e.phase, FailedAttempts: e.failed}
		e.mu.Unlock()
		metrics.UnlockAttempts.WithLabelValues("rejected").Inc()
		e.logger.Warn("incorrect safe word", "failed_attempts", res.FailedAttempts)
		return res, nil
	}
	metrics.UnlockAttempts.WithLabelValues("accepted").Inc()
	var eff effects
	e.resetLocked(e.clock.Now(), &eff)
	res := model.UnlockResult{Accepted: true, Phase: e.phase}
	e.flush(&eff)
	return res, nil
}

// Acknowledge is the explicit app reset: it ends a countdown or incident
// without a safe word.
func (e *Engine) Acknowledge() error {
	e.mu.Lock()
	if e.phase == model.PhaseIdle {
		e.mu.Unlock()
		return ErrNoIncident
	}
	var eff effects
	e.resetLocked(e.clock.Now(), &eff)
	e.flush(&eff)
	return nil
}

// SetArmed records the monitoring toggle. It never touches an active
// countdown or incident.
func (e *Engine) SetArmed(armed bool) {
	e.mu.Lock()
	if e.armed == armed {
		e.mu.Unlock()
		return
	}
	e.armed = armed
	var eff effects
	e.changeLocked(e.clock.Now(), model.ChangeArmed, &eff)
	e.flush(&eff)
}

func (e *Engine) Close() {
	e.countdown.stop()
	e.changes.Close()
}

func (e *Engine) scoreArea(ctx context.Context, loc model.Location) float64 {
	if e.oracle == nil {
		return 0
	}
	rt := e.runtime()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, rt.cfg.Engine.OracleTimeout)
	defer cancel()
	start := time.Now()
	score, err := e.oracle.Score(ctx, loc.Latitude, loc.Longitude)
	metrics.OracleLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OracleErrors.Inc()
		if e.cooldown.AllowKey(keyOracleError, 30*time.Second) {
			e.logger.Warn("area risk lookup failed, assuming 0", "err", err)
		}
		return 0
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func (e *Engine) evaluateLocked(now time.Time, eff *effects) {
	if e.location == nil {
		return
	}
	rt := e.runtime()
	a := Assess(FusionInput{Now: now, AreaScore: e.areaScore, Sound: e.sound}, rt.params)
	if a.Level != e.level {
		e.level = a.Level
		e.reason = a.Reason
		metrics.RiskTransitions.WithLabelValues(a.Level.Name()).Inc()
		metrics.RiskLevel.Set(float64(a.Level))
		e.logger.Info("risk level changed", "risk_level", a.Level.String(), "reason", a.Reason)
		e.changeLocked(now, model.ChangeRisk, eff)
	}
	if a.Level == model.RiskDanger {
		e.startCountdownLocked(now, a.Reason, eff)
	}
}

// startCountdownLocked treats every DANGER evaluation as an escalation
// attempt: the debounce stamp advances even when a countdown or incident is
// already running.
func (e *Engine) startCountdownLocked(now time.Time, reason string, eff *effects) {
	rt := e.runtime()
	if !e.cooldown.AllowKey(keyEscalation, rt.cfg.Engine.Debounce) {
		e.logger.Debug("danger evaluation debounced")
		return
	}
	if e.phase != model.PhaseIdle {
		return
	}
	e.phase = model.PhaseCountdown
	e.remaining = rt.cfg.Engine.CountdownSeconds
	e.trigger = reason
	e.failed = 0
	e.countdown.schedule(rt.cfg.Engine.Tick, e.onTick)
	metrics.CountdownsStarted.Inc()
	e.logger.Warn("danger detected, countdown started", "reason", reason, "seconds", e.remaining)
	e.changeLocked(now, model.ChangeCountdown, eff)
	eff.notes = append(eff.notes, model.Notification{
		ID:        uuid.NewString(),
		Title:     "DANGER DETECTED (" + strconv.Itoa(e.remaining) + "s)",
		Body:      "Enter your safe word to cancel the alarm. Reason: " + reason,
		Category:  "countdown",
		Timestamp: now.UTC(),
	})
}

func (e *Engine) onTick(gen uint64) {
	e.mu.Lock()
	if e.phase != model.PhaseCountdown || !e.countdown.current(gen) {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	e.remaining--
	var eff effects
	if e.remaining <= 0 {
		e.countdown.stop()
		e.confirmLocked(now, model.IncidentSound, e.trigger, &eff)
	} else {
		e.countdown.schedule(e.runtime().cfg.Engine.Tick, e.onTick)
		e.changeLocked(now, model.ChangeTick, &eff)
	}
	e.flush(&eff)
}

func (e *Engine) confirmLocked(now time.Time, kind model.IncidentKind, label string, eff *effects) {
	inc := model.Incident{
		ID:          uuid.NewString(),
		Kind:        kind,
		Trigger:     label,
		Status:      model.IncidentActive,
		ConfirmedAt: now.UTC(),
	}
	if e.location != nil {
		loc := *e.location
		inc.Location = &loc
	}
	e.phase = model.PhaseConfirmed
	e.remaining = 0
	e.trigger = label
	e.incident = &inc
	metrics.IncidentsConfirmed.WithLabelValues(string(kind)).Inc()
	e.logger.Error("incident confirmed", "incident_id", inc.ID, "kind", kind, "trigger", label)
	e.changeLocked(now, model.ChangeConfirmed, eff)
	eff.dispatch = &inc
}

func (e *Engine) resetLocked(now time.Time, eff *effects) {
	e.failed = 0
	switch e.phase {
	case model.PhaseCountdown:
		e.countdown.stop()
		e.phase = model.PhaseCancelled
		metrics.CountdownsCancelled.Inc()
		e.logger.Info("countdown cancelled", "reason", e.trigger)
		e.changeLocked(now, model.ChangeCancelled, eff)
		e.phase = model.PhaseIdle
		e.remaining = 0
		e.trigger = ""
		// The sound that raised this alarm has been dismissed by the user.
		e.sound = nil
		e.evaluateLocked(now, eff)
	case model.PhaseConfirmed:
		inc := *e.incident
		resolvedAt := now.UTC()
		inc.Status = model.IncidentResolved
		inc.ResolvedAt = &resolvedAt
		e.phase = model.PhaseIdle
		e.remaining = 0
		e.trigger = ""
		e.incident = nil
		e.sound = nil
		e.logger.Info("incident resolved", "incident_id", inc.ID)
		e.changeLocked(now, model.ChangeResolved, eff)
		eff.resolve = &inc
		e.evaluateLocked(now, eff)
	}
}

func (e *Engine) changeLocked(now time.Time, kind model.ChangeKind, eff *effects) {
	e.updatedAt = now.UTC()
	eff.changes = append(eff.changes, model.StateChange{
		Kind:      kind,
		Snapshot:  e.snapshotLocked(),
		Timestamp: now.UTC(),
	})
}

// flush releases the state lock and delivers effects in order.
func (e *Engine) flush(eff *effects) {
	e.emitMu.Lock()
	e.mu.Unlock()
	defer e.emitMu.Unlock()
	for _, ch := range eff.changes {
		e.changes.Publish(ch)
	}
	if e.notifier != nil {
		for _, n := range eff.notes {
			e.notifier.Notify(n)
		}
	}
	if e.dispatcher != nil {
		if eff.resolve != nil {
			e.dispatcher.Resolve(*eff.resolve)
		}
		if eff.dispatch != nil {
			e.dispatcher.Dispatch(*eff.dispatch)
		}
	}
}
