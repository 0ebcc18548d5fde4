package state

import (
	"sync"
	"time"

	"humidityintelligence/internal/clock"

	"go.uber.org/zap"
)

// ExpiryHandler is called after a timer runs out.
type ExpiryHandler func(key string)

// TimerStatus is a point-in-time view of one timer.
type TimerStatus struct {
	Active    bool          `json:"active"`
	Duration  time.Duration `json:"duration"`
	Remaining time.Duration `json:"remaining"`
	EndsAt    time.Time     `json:"ends_at,omitempty"`
}

type timerEntry struct {
	duration time.Duration
	deadline time.Time
	handle   clock.Timer
	gen      uint64
}

// Timers holds the countdowns shown on dashboards: the pause window and the
// AQ run windows. Restarting a key replaces its countdown.
type Timers struct {
	clock    clock.Clock
	logger   *zap.Logger
	mu       sync.Mutex
	timers   map[string]*timerEntry
	gen      uint64
	handlers []ExpiryHandler
}

// NewTimers creates an empty timer set.
func NewTimers(clk clock.Clock, logger *zap.Logger) *Timers {
	return &Timers{
		clock:  clk,
		logger: logger.Named("timers"),
		timers: make(map[string]*timerEntry),
	}
}

// StartTimer starts or restarts the countdown for key.
func (t *Timers) StartTimer(key string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.timers[key]; ok {
		old.handle.Stop()
	}
	t.gen++
	gen := t.gen
	entry := &timerEntry{
		duration: d,
		deadline: t.clock.Now().Add(d),
		gen:      gen,
	}
	entry.handle = t.clock.AfterFunc(d, func() { t.expire(key, gen) })
	t.timers[key] = entry

	t.logger.Debug("Timer started", zap.String("key", key), zap.Duration("duration", d))
}

func (t *Timers) expire(key string, gen uint64) {
	t.mu.Lock()
	entry, ok := t.timers[key]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.timers, key)
	handlers := append([]ExpiryHandler(nil), t.handlers...)
	t.mu.Unlock()

	t.logger.Debug("Timer finished", zap.String("key", key))
	for _, h := range handlers {
		h(key)
	}
}

// CancelTimer stops the countdown for key without firing expiry handlers.
func (t *Timers) CancelTimer(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.timers[key]; ok {
		entry.handle.Stop()
		delete(t.timers, key)
		t.logger.Debug("Timer cancelled", zap.String("key", key))
	}
}

// TimerActive reports whether key is counting down.
func (t *Timers) TimerActive(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[key]
	return ok
}

// Remaining returns the time left on key, or zero when idle.
func (t *Timers) Remaining(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.timers[key]
	if !ok {
		return 0
	}
	left := entry.deadline.Sub(t.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// SubscribeExpiry registers h for every expiry.
func (t *Timers) SubscribeExpiry(h ExpiryHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// Snapshot returns the status of the given keys.
func (t *Timers) Snapshot(keys ...string) map[string]TimerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	out := make(map[string]TimerStatus, len(keys))
	for _, key := range keys {
		entry, ok := t.timers[key]
		if !ok {
			out[key] = TimerStatus{}
			continue
		}
		left := entry.deadline.Sub(now)
		if left < 0 {
			left = 0
		}
		out[key] = TimerStatus{Active: true, Duration: entry.duration, Remaining: left, EndsAt: entry.deadline}
	}
	return out
}

// Stop cancels every countdown.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, entry := range t.timers {
		entry.handle.Stop()
		delete(t.timers, key)
	}
}
