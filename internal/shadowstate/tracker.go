// Package shadowstate keeps an in-memory view of the engine's recent
// decisions and the inputs behind them for the status API.
package shadowstate

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/engine"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the decision history.
const DefaultCapacity = 50

// InputSource captures the current engine inputs.
type InputSource interface {
	CaptureInputs() map[string]interface{}
}

// DecisionTracker records every engine decision. It implements
// engine.DecisionRecorder.
type DecisionTracker struct {
	mu       sync.RWMutex
	inputs   InputSource
	clock    clock.Clock
	capacity int
	state    EngineShadowState
	lastSig  string
}

// NewDecisionTracker creates a tracker keeping at most capacity decisions.
// A non-positive capacity uses DefaultCapacity. inputs may be nil.
func NewDecisionTracker(inputs InputSource, clk clock.Clock, capacity int) *DecisionTracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &DecisionTracker{
		inputs:   inputs,
		clock:    clk,
		capacity: capacity,
		state: EngineShadowState{
			Inputs: DecisionInputs{
				Current:      make(map[string]interface{}),
				AtLastChange: InputSnapshot{Values: make(map[string]interface{})},
			},
			Outputs: DecisionOutputs{Recent: make([]DecisionRecord, 0, capacity)},
		},
	}
}

// UpdateCurrentInputs merges values into the current inputs.
func (t *DecisionTracker) UpdateCurrentInputs(inputs map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, value := range inputs {
		t.state.Inputs.Current[key] = value
	}
	t.state.Metadata.LastUpdated = t.clock.Now()
}

// RecordDecision stores d with the inputs captured now. When the driven
// outputs differ from the previous decision the inputs are also kept as the
// inputs at last change.
func (t *DecisionTracker) RecordDecision(d engine.Decision) {
	var captured map[string]interface{}
	if t.inputs != nil {
		captured = t.inputs.CaptureInputs()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if captured != nil {
		t.state.Inputs.Current = copyValues(captured)
	}

	sig := outputSignature(d)
	changed := t.state.Outputs.LastDecision == nil || sig != t.lastSig
	t.lastSig = sig

	record := DecisionRecord{
		ID:       uuid.NewString(),
		Decision: d,
		Inputs:   copyValues(t.state.Inputs.Current),
		Changed:  changed,
	}
	if changed {
		t.state.Inputs.AtLastChange = InputSnapshot{Timestamp: now, Values: copyValues(record.Inputs)}
		t.state.Outputs.LastChangeTime = now
	}

	t.state.Outputs.Recent = append(t.state.Outputs.Recent, record)
	if over := len(t.state.Outputs.Recent) - t.capacity; over > 0 {
		t.state.Outputs.Recent = append([]DecisionRecord(nil), t.state.Outputs.Recent[over:]...)
	}
	last := record
	t.state.Outputs.LastDecision = &last
	t.state.Metadata.LastUpdated = now
	t.state.Metadata.Decisions++
}

// Last returns the most recent decision.
func (t *DecisionTracker) Last() (DecisionRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state.Outputs.LastDecision == nil {
		return DecisionRecord{}, false
	}
	return *t.state.Outputs.LastDecision, true
}

// Recent returns up to n decisions, newest first. n <= 0 returns all.
func (t *DecisionTracker) Recent(n int) []DecisionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := t.state.Outputs.Recent
	if n <= 0 || n > len(all) {
		n = len(all)
	}
	out := make([]DecisionRecord, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, all[i])
	}
	return out
}

// GetState returns the current shadow state (thread-safe copy)
func (t *DecisionTracker) GetState() EngineShadowState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stateCopy := EngineShadowState{
		Inputs: DecisionInputs{
			Current: copyValues(t.state.Inputs.Current),
			AtLastChange: InputSnapshot{
				Timestamp: t.state.Inputs.AtLastChange.Timestamp,
				Values:    copyValues(t.state.Inputs.AtLastChange.Values),
			},
		},
		Outputs: DecisionOutputs{
			LastChangeTime: t.state.Outputs.LastChangeTime,
			Recent:         append([]DecisionRecord(nil), t.state.Outputs.Recent...),
		},
		Metadata: t.state.Metadata,
	}
	if t.state.Outputs.LastDecision != nil {
		last := *t.state.Outputs.LastDecision
		stateCopy.Outputs.LastDecision = &last
	}
	return stateCopy
}

// outputSignature summarises what a decision drives. Two decisions with the
// same signature leave the outputs unchanged.
func outputSignature(d engine.Decision) string {
	parts := []string{string(d.Lane), d.Mode}
	if d.Gate != nil {
		parts = append(parts, "gate="+d.Gate.Action)
	}
	parts = append(parts, fmt.Sprintf("co=%t", d.CO.Active))
	parts = append(parts, "alerts="+strings.Join(d.Alerts, ","))
	for _, z := range d.Zones {
		parts = append(parts, fmt.Sprintf("zone=%s@%s:%s", z.Key, z.Level, outputIDs(z.Outputs)))
	}
	for _, aq := range d.AQ {
		parts = append(parts, fmt.Sprintf("aq=%s@%s:%s", aq.Level, aq.OutputLevel, outputIDs(aq.Outputs)))
	}
	for _, h := range d.Humidifiers {
		parts = append(parts, fmt.Sprintf("humidifier=%s:%s", h.Level, outputIDs(h.Outputs)))
	}
	return strings.Join(parts, "|")
}

func outputIDs(outputs []engine.Output) string {
	ids := make([]string, 0, len(outputs))
	for _, o := range outputs {
		ids = append(ids, o.EntityID)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
