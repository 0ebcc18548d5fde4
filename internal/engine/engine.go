// Package engine decides, once per cycle, which ventilation and humidifier
// outputs run. Lanes are checked in priority order: control lock, global
// gate, pause, CO emergency, alerts, then humidifiers, zones and air quality.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/config"
	"humidityintelligence/internal/derived"
	"humidityintelligence/internal/ha"
	"humidityintelligence/internal/output"
	"humidityintelligence/internal/state"
	"humidityintelligence/internal/suntime"
	"humidityintelligence/internal/telemetry"

	"go.uber.org/zap"
)

const (
	// StartupRecheckDelay gives slow sensors time to report after start.
	StartupRecheckDelay = 60 * time.Second
	// AlertFlashDebounce is the minimum gap between flashes of one alert.
	AlertFlashDebounce = 30 * time.Second
	// COClearHold is how long every CO reading must stay below the clear
	// threshold before a latched emergency ends.
	COClearHold = 2 * time.Minute

	PauseMinutesMin     = 1
	PauseMinutesMax     = 24 * 60
	PauseMinutesDefault = 60
)

// Flags is the boolean and runtime-text store the engine writes to.
type Flags interface {
	Bool(key string) bool
	SetBool(key string, value bool) error
	SetString(key, value string) error
	Subscribe(key string, handler state.StateChangeHandler) (state.Subscription, error)
}

// Timers holds the dashboard countdowns (pause and AQ run windows).
type Timers interface {
	StartTimer(key string, d time.Duration)
	CancelTimer(key string)
	TimerActive(key string) bool
	SubscribeExpiry(h state.ExpiryHandler)
}

// EventSource delivers host entity changes.
type EventSource interface {
	SubscribeStateChanges(entityID string, handler ha.StateChangeHandler) (ha.Subscription, error)
}

// WindowResolver turns time gate edges into times on a given day.
type WindowResolver interface {
	Resolve(expr string, day time.Time) (time.Time, error)
}

// Refresher recomputes dependent sensors. It runs after every cycle.
type Refresher interface {
	Refresh()
}

// DecisionRecorder observes every decision.
type DecisionRecorder interface {
	RecordDecision(d Decision)
}

// Deps are the engine's collaborators. Reader, Driver, Flags, Timers and
// Clock are required; the rest are optional.
type Deps struct {
	Reader    telemetry.Reader
	Driver    output.Driver
	Flags     Flags
	Timers    Timers
	Clock     clock.Clock
	Events    EventSource
	Flasher   output.Flasher
	Windows   WindowResolver
	Refresher Refresher
	Recorders []DecisionRecorder
}

// Engine is one controller instance. Evaluation is single-flight: every
// trigger funnels into Evaluate, which holds mu for the whole cycle.
type Engine struct {
	deps   Deps
	logger *zap.Logger

	mu        sync.Mutex
	cfg       *config.Config
	index     *telemetry.Index
	scheduler *Scheduler

	coActive     bool
	coBelowSince time.Time
	aqTriggered  map[config.Level]bool
	aqHeld       map[config.Level][]string
	lastFlash    map[int]time.Time

	lastMu    sync.RWMutex
	last      Decision
	evaluated bool

	trigger chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// halted mirrors stopped for callbacks that must not take lifeMu.
	halted atomic.Bool

	lifeMu   sync.Mutex
	started  bool
	stopped  bool
	subs     []ha.Subscription
	flagSubs []state.Subscription
	ticker   clock.Timer
	recheck  clock.Timer
}

// New creates an engine for cfg.
func New(deps Deps, cfg *config.Config, logger *zap.Logger) *Engine {
	logger = logger.Named("engine")
	if deps.Windows == nil {
		deps.Windows = suntime.NewCalculator(0, 0, logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		deps:        deps,
		logger:      logger,
		cfg:         cfg,
		index:       telemetry.NewIndex(cfg.Telemetry),
		scheduler:   NewScheduler(deps.Clock),
		aqTriggered: make(map[config.Level]bool),
		aqHeld:      make(map[config.Level][]string),
		lastFlash:   make(map[int]time.Time),
		trigger:     make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start subscribes to every entity the lanes depend on, starts the periodic
// tick and the startup recheck, and requests an immediate evaluation.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	e.started = true

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	if err := e.subscribeEntitiesLocked(cfg); err != nil {
		return err
	}
	for _, key := range state.ControlKeys() {
		sub, err := e.deps.Flags.Subscribe(key, func(key string, _, _ interface{}) {
			e.logger.Debug("Control flag changed", zap.String("key", key))
			e.RequestEvaluate()
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", key, err)
		}
		e.flagSubs = append(e.flagSubs, sub)
	}
	e.deps.Timers.SubscribeExpiry(func(key string) {
		if key == state.TimerPause {
			e.logger.Info("Pause window ended")
			e.RequestEvaluate()
		}
	})

	e.ticker = clock.Every(e.deps.Clock, cfg.EngineInterval(), e.RequestEvaluate)
	e.recheck = e.deps.Clock.AfterFunc(StartupRecheckDelay, e.RequestEvaluate)

	e.wg.Add(1)
	go e.run(ctx)

	e.logger.Info("Engine started",
		zap.Int("telemetry", len(cfg.Telemetry)),
		zap.Duration("interval", cfg.EngineInterval()))
	e.RequestEvaluate()
	return nil
}

// subscribeEntitiesLocked subscribes to telemetry, presence and alert
// trigger entities. Callers hold lifeMu.
func (e *Engine) subscribeEntitiesLocked(cfg *config.Config) error {
	if e.deps.Events == nil {
		return nil
	}
	for _, entityID := range evaluationSources(cfg) {
		sub, err := e.deps.Events.SubscribeStateChanges(entityID, func(entityID string, _, _ *ha.State) {
			e.RequestEvaluate()
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", entityID, err)
		}
		e.subs = append(e.subs, sub)
	}
	return nil
}

func (e *Engine) unsubscribeEntitiesLocked() {
	for _, sub := range e.subs {
		if err := sub.Unsubscribe(); err != nil {
			e.logger.Debug("Failed to unsubscribe", zap.Error(err))
		}
	}
	e.subs = nil
}

func evaluationSources(cfg *config.Config) []string {
	ids := cfg.TelemetryEntities()
	ids = append(ids, cfg.PresenceGate.Entities...)
	for _, a := range cfg.Alerts {
		if a.Kind == derived.AlertCustomBinary && a.CustomTrigger != "" {
			ids = append(ids, a.CustomTrigger)
		}
	}
	return config.Dedupe(ids)
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ctx.Done():
			return
		case <-e.trigger:
			e.Evaluate()
		}
	}
}

// RequestEvaluate asks for a cycle without blocking. Requests made while a
// cycle is queued coalesce into that cycle.
func (e *Engine) RequestEvaluate() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels AQ run windows, the startup recheck and the periodic tick,
// drops every listener and waits for in-flight work to finish.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	if e.stopped {
		e.lifeMu.Unlock()
		return
	}
	e.stopped = true
	e.halted.Store(true)
	if e.ticker != nil {
		e.ticker.Stop()
	}
	if e.recheck != nil {
		e.recheck.Stop()
	}
	e.unsubscribeEntitiesLocked()
	for _, sub := range e.flagSubs {
		sub.Unsubscribe()
	}
	e.flagSubs = nil
	e.lifeMu.Unlock()

	e.cancel()
	// An expiry that took mu before halted was set may have rescheduled.
	e.mu.Lock()
	e.scheduler.CancelAll()
	e.mu.Unlock()
	e.wg.Wait()
	e.logger.Info("Engine stopped")
}

func (e *Engine) isStopped() bool {
	return e.halted.Load()
}

// UpdateConfig swaps in a new configuration and re-evaluates. Lanes that
// disappear are torn down by the next cycle.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	oldInterval := e.cfg.EngineInterval()
	e.cfg = cfg
	e.index = telemetry.NewIndex(cfg.Telemetry)
	e.mu.Unlock()

	if e.started && !e.stopped {
		e.unsubscribeEntitiesLocked()
		if err := e.subscribeEntitiesLocked(cfg); err != nil {
			e.logger.Warn("Failed to resubscribe after config change", zap.Error(err))
		}
		if cfg.EngineInterval() != oldInterval {
			e.ticker.Stop()
			e.ticker = clock.Every(e.deps.Clock, cfg.EngineInterval(), e.RequestEvaluate)
		}
	}
	e.logger.Info("Configuration updated", zap.Int("warnings", len(cfg.Warnings)))
	e.RequestEvaluate()
}

// Config returns the active configuration.
func (e *Engine) Config() *config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Pause stands automation down for minutes (bounded to 1..1440, default 60
// when not numeric) and re-evaluates.
func (e *Engine) Pause(minutes any) time.Duration {
	d := time.Duration(derived.BoundedInt(minutes, PauseMinutesMin, PauseMinutesMax, PauseMinutesDefault)) * time.Minute
	e.deps.Timers.StartTimer(state.TimerPause, d)
	e.logger.Info("Automation paused", zap.Duration("duration", d))
	e.RequestEvaluate()
	return d
}

// Resume ends a pause early and re-evaluates.
func (e *Engine) Resume() {
	e.deps.Timers.CancelTimer(state.TimerPause)
	e.logger.Info("Automation resumed")
	e.RequestEvaluate()
}

// Decision returns the most recent decision; ok is false before the first
// cycle.
func (e *Engine) Decision() (Decision, bool) {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	return e.last, e.evaluated
}

// Evaluate runs one cycle synchronously and returns its decision. A panic
// inside the lanes is logged and the dependent sensors are still refreshed.
func (e *Engine) Evaluate() (d Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer e.refresh()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Unhandled error in evaluation cycle",
				zap.Any("panic", r),
				zap.Stack("stack"))
			d.Error = fmt.Sprint(r)
		}
	}()

	d = e.decide(e.deps.Clock.Now())
	d.Reason = FormatReason(d)
	e.publish(d)
	return d
}

func (e *Engine) refresh() {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Failed refreshing computed sensors", zap.Any("panic", r))
		}
	}()
	if e.deps.Refresher != nil {
		e.deps.Refresher.Refresh()
	}
}

func (e *Engine) publish(d Decision) {
	e.setString(state.KeyRuntimeMode, d.Mode)
	e.setString(state.KeyRuntimeModeDisplay, d.Display)
	e.setString(state.KeyRuntimeReason, d.Reason)

	e.lastMu.Lock()
	e.last = d
	e.evaluated = true
	e.lastMu.Unlock()

	for _, r := range e.deps.Recorders {
		r.RecordDecision(d)
	}

	e.logger.Debug("Cycle complete",
		zap.String("lane", string(d.Lane)),
		zap.String("mode", d.Mode),
		zap.String("reason", d.Reason))
}

func (e *Engine) setBool(key string, value bool) {
	if err := e.deps.Flags.SetBool(key, value); err != nil {
		e.logger.Warn("Failed to set flag", zap.String("key", key), zap.Bool("value", value), zap.Error(err))
	}
}

func (e *Engine) setString(key, value string) {
	if err := e.deps.Flags.SetString(key, value); err != nil {
		e.logger.Warn("Failed to set runtime text", zap.String("key", key), zap.Error(err))
	}
}

func (e *Engine) setLevel(outputs []string, level derived.FanLevel) {
	if len(outputs) == 0 {
		return
	}
	if err := output.ApplyLevel(e.deps.Driver, outputs, level); err != nil {
		e.logger.Warn("Failed to set fan outputs",
			zap.Strings("outputs", outputs),
			zap.String("level", string(level)),
			zap.Error(err))
	}
}

func (e *Engine) setAuto(outputs []string) {
	if len(outputs) == 0 {
		return
	}
	if err := output.ApplyAuto(e.deps.Driver, outputs); err != nil {
		e.logger.Warn("Failed to return fan outputs to auto", zap.Strings("outputs", outputs), zap.Error(err))
	}
}

func (e *Engine) setHumidifiers(outputs []string, on bool) {
	if len(outputs) == 0 {
		return
	}
	if err := output.ApplyHumidifiers(e.deps.Driver, outputs, on); err != nil {
		e.logger.Warn("Failed to switch humidifiers",
			zap.Strings("outputs", outputs),
			zap.Bool("on", on),
			zap.Error(err))
	}
}

func (e *Engine) outputs(ids []string) []Output {
	out := make([]Output, 0, len(ids))
	for _, id := range ids {
		out = append(out, Output{EntityID: id, Name: e.deps.Reader.FriendlyName(id)})
	}
	return out
}
