// Package telemetry reads the host's last-known sensor values and groups
// them by room and level for the engine lanes and computed sensors.
package telemetry

import (
	"humidityintelligence/internal/ha"
)

// Reader looks up last-known entity values. Lookups never block on the
// network; absent values report ok=false.
type Reader interface {
	// ReadFloat returns the numeric state. unknown, unavailable, missing and
	// non-numeric states are absent.
	ReadFloat(entityID string) (float64, bool)
	// ReadState returns the raw state string; only missing entities are absent.
	ReadState(entityID string) (string, bool)
	// IsState reports whether the entity currently has exactly value.
	IsState(entityID, value string) bool
	// FriendlyName returns the friendly_name attribute, or the entity ID.
	FriendlyName(entityID string) string
}

// HAReader implements Reader over the host client's state cache.
type HAReader struct {
	client ha.HAClient
}

// NewHAReader creates a reader backed by client.
func NewHAReader(client ha.HAClient) *HAReader {
	return &HAReader{client: client}
}

func (r *HAReader) state(entityID string) *ha.State {
	if entityID == "" {
		return nil
	}
	state, err := r.client.GetState(entityID)
	if err != nil {
		return nil
	}
	return state
}

// ReadFloat implements Reader.
func (r *HAReader) ReadFloat(entityID string) (float64, bool) {
	return r.state(entityID).Float()
}

// ReadState implements Reader.
func (r *HAReader) ReadState(entityID string) (string, bool) {
	state := r.state(entityID)
	if state == nil {
		return "", false
	}
	return state.State, true
}

// IsState implements Reader.
func (r *HAReader) IsState(entityID, value string) bool {
	s, ok := r.ReadState(entityID)
	return ok && s == value
}

// FriendlyName implements Reader.
func (r *HAReader) FriendlyName(entityID string) string {
	if name := r.state(entityID).FriendlyName(); name != "" {
		return name
	}
	return entityID
}
