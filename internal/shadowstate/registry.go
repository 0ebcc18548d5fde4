package shadowstate

import (
	"sync"

	"humidityintelligence/internal/config"
	"humidityintelligence/internal/state"
	"humidityintelligence/internal/telemetry"
)

// InputRegistry tracks which host entities and state variables feed the
// engine, so decisions can be stored with the inputs they were made from.
type InputRegistry struct {
	mu        sync.RWMutex
	entities  []string
	stateKeys []string
	index     *telemetry.Index
}

// NewInputRegistry creates an empty registry
func NewInputRegistry() *InputRegistry {
	return &InputRegistry{index: telemetry.NewIndex(nil)}
}

// LoadConfig replaces the registrations with the telemetry of cfg and the
// control switches.
func (r *InputRegistry) LoadConfig(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = nil
	r.stateKeys = nil
	r.index = telemetry.NewIndex(cfg.Telemetry)
	for _, id := range cfg.TelemetryEntities() {
		r.registerEntity(id)
	}
	for _, key := range state.ControlKeys() {
		r.registerStateKey(key)
	}
	r.registerStateKey(state.KeyCOEmergencyActive)
}

// RegisterEntity adds a host entity to the captured inputs.
func (r *InputRegistry) RegisterEntity(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerEntity(entityID)
}

func (r *InputRegistry) registerEntity(entityID string) {
	for _, existing := range r.entities {
		if existing == entityID {
			return
		}
	}
	r.entities = append(r.entities, entityID)
}

// RegisterStateKey adds a state variable to the captured inputs.
func (r *InputRegistry) RegisterStateKey(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerStateKey(key)
}

func (r *InputRegistry) registerStateKey(key string) {
	for _, existing := range r.stateKeys {
		if existing == key {
			return
		}
	}
	r.stateKeys = append(r.stateKeys, key)
}

// Entities returns a copy of the registered entities.
func (r *InputRegistry) Entities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.entities...)
}

// StateKeys returns a copy of the registered state variables.
func (r *InputRegistry) StateKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.stateKeys...)
}

// Index returns the telemetry layout used for averages.
func (r *InputRegistry) Index() *telemetry.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index
}
