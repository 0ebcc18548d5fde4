package sensors

import (
	"sync"
	"time"

	"humidityintelligence/internal/derived"
)

const (
	// SlopeWindow is how far back samples count toward a slope.
	SlopeWindow = time.Hour
	// SlopeSampleInterval is the periodic sampling cadence. The first sample
	// of a series is seeded one interval earlier so slopes start at 0.
	SlopeSampleInterval = 5 * time.Minute
)

type point struct {
	ts    time.Time
	value float64
}

// SlopeTracker keeps a rolling window of temperature samples per entity and
// reports a least-squares slope in degC per hour.
type SlopeTracker struct {
	mu     sync.Mutex
	series map[string][]point
}

// NewSlopeTracker creates an empty tracker.
func NewSlopeTracker() *SlopeTracker {
	return &SlopeTracker{series: make(map[string][]point)}
}

// Record adds a sample and drops samples older than the window.
func (t *SlopeTracker) Record(entityID string, value float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	series := t.series[entityID]
	if len(series) == 0 {
		series = append(series, point{ts: ts.Add(-SlopeSampleInterval), value: value})
	}
	series = append(series, point{ts: ts, value: value})

	cutoff := ts.Add(-SlopeWindow)
	drop := 0
	for drop < len(series) && series[drop].ts.Before(cutoff) {
		drop++
	}
	t.series[entityID] = append([]point(nil), series[drop:]...)
}

// Slope returns the slope in degC/h rounded to 0.01. ok is false with fewer
// than two samples.
func (t *SlopeTracker) Slope(entityID string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	series := t.series[entityID]
	if len(series) < 2 {
		return 0, false
	}
	first := series[0].ts
	n := float64(len(series))
	var sumX, sumY, sumXY, sumX2 float64
	for _, p := range series {
		x := p.ts.Sub(first).Seconds()
		sumX += x
		sumY += p.value
		sumXY += x * p.value
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom <= 0 {
		return 0, true
	}
	perSecond := (n*sumXY - sumX*sumY) / denom
	return derived.Round2(perSecond * 3600), true
}

// SampleCount returns the number of samples held for entityID.
func (t *SlopeTracker) SampleCount(entityID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.series[entityID])
}

// Forget drops every series not in keep.
func (t *SlopeTracker) Forget(keep []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wanted := make(map[string]bool, len(keep))
	for _, id := range keep {
		wanted[id] = true
	}
	for id := range t.series {
		if !wanted[id] {
			delete(t.series, id)
		}
	}
}
