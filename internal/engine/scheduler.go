package engine

import (
	"sync"
	"time"

	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/config"
)

// Scheduler owns the air-quality run windows: at most one live timer per
// level. Every Schedule bumps a generation counter so a callback from a
// replaced or cancelled timer is dropped even if it already started firing.
type Scheduler struct {
	clock clock.Clock
	mu    sync.Mutex
	gen   uint64
	slots map[config.Level]*slot
}

type slot struct {
	gen   uint64
	timer clock.Timer
}

// NewScheduler creates an empty scheduler.
func NewScheduler(clk clock.Clock) *Scheduler {
	return &Scheduler{
		clock: clk,
		slots: make(map[config.Level]*slot),
	}
}

// Schedule starts the run window for level, replacing any live one.
// onExpire runs on the clock's goroutine once d elapses.
func (s *Scheduler) Schedule(level config.Level, d time.Duration, onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.slots[level]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	sl := &slot{gen: gen}
	sl.timer = s.clock.AfterFunc(d, func() { s.fire(level, gen, onExpire) })
	s.slots[level] = sl
}

func (s *Scheduler) fire(level config.Level, gen uint64, onExpire func()) {
	s.mu.Lock()
	sl, ok := s.slots[level]
	if !ok || sl.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.slots, level)
	s.mu.Unlock()

	onExpire()
}

// Cancel stops level's run window. It reports whether one was live.
func (s *Scheduler) Cancel(level config.Level) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[level]
	if !ok {
		return false
	}
	sl.timer.Stop()
	delete(s.slots, level)
	return true
}

// CancelAll stops every run window.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for level, sl := range s.slots {
		sl.timer.Stop()
		delete(s.slots, level)
	}
}

// Running reports whether level has a live run window.
func (s *Scheduler) Running(level config.Level) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[level]
	return ok
}

// Live returns the number of live run windows.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
