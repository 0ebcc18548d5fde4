package sensors

import (
	"fmt"
	"sync"

	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/config"
	"humidityintelligence/internal/ha"

	"go.uber.org/zap"
)

// Sink receives every computed snapshot.
type Sink interface {
	PublishSnapshot(s Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(s Snapshot) error

// PublishSnapshot implements Sink.
func (f SinkFunc) PublishSnapshot(s Snapshot) error {
	return f(s)
}

// EventSource delivers host entity changes.
type EventSource interface {
	SubscribeStateChanges(entityID string, handler ha.StateChangeHandler) (ha.Subscription, error)
}

// Service keeps the latest snapshot, feeds the slope tracker and fans
// snapshots out to sinks. Refresh is called by the engine after every cycle.
type Service struct {
	computer *Computer
	tracker  *SlopeTracker
	clock    clock.Clock
	logger   *zap.Logger

	mu    sync.RWMutex
	sinks []Sink
	last  Snapshot
	ok    bool

	lifeMu  sync.Mutex
	events  EventSource
	subs    []ha.Subscription
	sampler clock.Timer
}

// NewService creates a service around computer. tracker may be nil when
// slopes are never calculated locally.
func NewService(computer *Computer, tracker *SlopeTracker, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		computer: computer,
		tracker:  tracker,
		clock:    clk,
		logger:   logger.Named("sensors"),
	}
}

// AddSink registers a sink.
func (s *Service) AddSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Refresh recomputes the snapshot and publishes it. Sink failures are logged.
func (s *Service) Refresh() {
	snap := s.computer.Compute()

	s.mu.Lock()
	s.last = snap
	s.ok = true
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.PublishSnapshot(snap); err != nil {
			s.logger.Warn("Failed to publish computed sensors", zap.Error(err))
		}
	}
	s.logger.Debug("Computed sensors refreshed",
		zap.String("mode", snap.Mode),
		zap.Bool("condensation_danger", snap.CondensationDanger),
		zap.Bool("mould_danger", snap.MouldDanger))
}

// Snapshot returns the latest snapshot; ok is false before the first refresh.
func (s *Service) Snapshot() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.ok
}

// StartSlopeSampling records every slope source on change and every
// SlopeSampleInterval. It is a no-op unless slopes are calculated locally.
func (s *Service) StartSlopeSampling(events EventSource) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.events = events
	return s.startSamplingLocked()
}

func (s *Service) startSamplingLocked() error {
	sources := s.computer.SlopeSources()
	if s.tracker == nil || len(sources) == 0 {
		return nil
	}
	s.tracker.Forget(sources)

	if s.events != nil {
		for _, entityID := range sources {
			sub, err := s.events.SubscribeStateChanges(entityID, func(entityID string, _, newState *ha.State) {
				if v, ok := newState.Float(); ok {
					s.tracker.Record(entityID, v, s.clock.Now())
				}
			})
			if err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", entityID, err)
			}
			s.subs = append(s.subs, sub)
		}
	}
	s.sample(sources)
	s.sampler = clock.Every(s.clock, SlopeSampleInterval, func() { s.sample(sources) })

	s.logger.Info("Slope sampling started", zap.Strings("sources", sources))
	return nil
}

func (s *Service) sample(sources []string) {
	now := s.clock.Now()
	for _, entityID := range sources {
		if v, ok := s.computer.reader.ReadFloat(entityID); ok {
			s.tracker.Record(entityID, v, now)
		}
	}
}

func (s *Service) stopSamplingLocked() {
	if s.sampler != nil {
		s.sampler.Stop()
		s.sampler = nil
	}
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("Failed to unsubscribe", zap.Error(err))
		}
	}
	s.subs = nil
}

// UpdateConfig swaps the configuration and restarts slope sampling.
func (s *Service) UpdateConfig(cfg *config.Config) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	s.computer.UpdateConfig(cfg)
	if s.sampler == nil && s.events == nil {
		return
	}
	s.stopSamplingLocked()
	if err := s.startSamplingLocked(); err != nil {
		s.logger.Warn("Failed to restart slope sampling", zap.Error(err))
	}
}

// Stop ends slope sampling.
func (s *Service) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.stopSamplingLocked()
}
