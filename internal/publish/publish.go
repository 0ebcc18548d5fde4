// Package publish mirrors the runtime mode and computed sensors to an MQTT
// broker as retained JSON messages.
package publish

import (
	"encoding/json"
	"sync"
	"time"

	"humidityintelligence/internal/engine"
	"humidityintelligence/internal/sensors"

	"go.uber.org/zap"
)

// Topic suffixes under the configured prefix.
const (
	TopicRuntime = "runtime"
	TopicSensors = "sensors"
	TopicStatus  = "status"
)

// Availability payloads on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Publisher publishes controller state to MQTT.
type Publisher interface {
	// PublishRuntime sends the runtime mode, display text and reason.
	PublishRuntime(mode, display, reason string) error

	// PublishSnapshot sends the computed sensors.
	PublishSnapshot(s sensors.Snapshot) error

	// Close disconnects from the broker.
	Close() error
}

// RuntimePayload is the runtime topic payload.
type RuntimePayload struct {
	Timestamp string `json:"timestamp"`
	Mode      string `json:"mode"`
	Display   string `json:"display"`
	Reason    string `json:"reason"`
}

// FormatRuntimePayload creates the JSON payload for the runtime topic.
func FormatRuntimePayload(ts time.Time, mode, display, reason string) ([]byte, error) {
	return json.Marshal(RuntimePayload{
		Timestamp: ts.UTC().Format(time.RFC3339),
		Mode:      mode,
		Display:   display,
		Reason:    reason,
	})
}

// FormatSnapshotPayload creates the JSON payload for the sensors topic.
func FormatSnapshotPayload(s sensors.Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Nop discards everything. It stands in when no broker is configured.
type Nop struct{}

// PublishRuntime implements Publisher.
func (Nop) PublishRuntime(mode, display, reason string) error { return nil }

// PublishSnapshot implements Publisher.
func (Nop) PublishSnapshot(s sensors.Snapshot) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// RuntimeRecorder forwards engine decisions to a publisher, skipping cycles
// whose runtime text is unchanged. It implements engine.DecisionRecorder.
type RuntimeRecorder struct {
	publisher Publisher
	logger    *zap.Logger

	mu   sync.Mutex
	last RuntimePayload
	sent bool
}

// NewRuntimeRecorder creates a recorder publishing to p.
func NewRuntimeRecorder(p Publisher, logger *zap.Logger) *RuntimeRecorder {
	return &RuntimeRecorder{publisher: p, logger: logger.Named("mqtt")}
}

// RecordDecision implements engine.DecisionRecorder.
func (r *RuntimeRecorder) RecordDecision(d engine.Decision) {
	next := RuntimePayload{Mode: d.Mode, Display: d.Display, Reason: d.Reason}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent && next == r.last {
		return
	}
	if err := r.publisher.PublishRuntime(d.Mode, d.Display, d.Reason); err != nil {
		r.logger.Warn("Failed to publish runtime mode", zap.Error(err))
		return
	}
	r.last = next
	r.sent = true
}
