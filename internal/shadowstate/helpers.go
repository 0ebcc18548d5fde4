package shadowstate

import (
	"fmt"

	"humidityintelligence/internal/config"
	"humidityintelligence/internal/telemetry"
)

// StateManager defines the interface needed for state value retrieval.
// This avoids a dependency on the state manager's concrete type.
type StateManager interface {
	GetBool(key string) (bool, error)
	GetString(key string) (string, error)
}

var averagedInputs = []config.SensorType{
	config.SensorHumidity,
	config.SensorTemperature,
	config.SensorIAQ,
	config.SensorPM25,
	config.SensorVOC,
	config.SensorCO2,
	config.SensorCO,
}

// InputCaptureHelper reads every registered input. Entity values are stored
// under their entity ID, state variables under their key and averages as
// "avg.<level>.<type>" with "house" for the whole-house average.
type InputCaptureHelper struct {
	registry     *InputRegistry
	reader       telemetry.Reader
	stateManager StateManager
}

// NewInputCaptureHelper creates a new input capture helper
func NewInputCaptureHelper(registry *InputRegistry, reader telemetry.Reader, stateManager StateManager) *InputCaptureHelper {
	return &InputCaptureHelper{
		registry:     registry,
		reader:       reader,
		stateManager: stateManager,
	}
}

// CaptureInputs returns the current value of every registered input.
// Absent readings are left out.
func (h *InputCaptureHelper) CaptureInputs() map[string]interface{} {
	inputs := make(map[string]interface{})

	for _, entityID := range h.registry.Entities() {
		if v, ok := h.reader.ReadFloat(entityID); ok {
			inputs[entityID] = v
		} else if s, ok := h.reader.ReadState(entityID); ok {
			inputs[entityID] = s
		}
	}

	for _, key := range h.registry.StateKeys() {
		if val, err := h.getStateValue(key); err == nil {
			inputs[key] = val
		}
	}

	index := h.registry.Index()
	snap := telemetry.NewSnapshot(h.reader, index)
	for _, t := range averagedInputs {
		if v, ok := snap.HouseAvg(t); ok {
			inputs[fmt.Sprintf("avg.house.%s", t)] = v
		}
		for _, level := range index.Levels() {
			if v, ok := snap.LevelAvg(t, level); ok {
				inputs[fmt.Sprintf("avg.%s.%s", level, t)] = v
			}
		}
	}

	return inputs
}

// getStateValue retrieves a state variable, trying bool then string.
func (h *InputCaptureHelper) getStateValue(key string) (interface{}, error) {
	if val, err := h.stateManager.GetBool(key); err == nil {
		return val, nil
	}
	if val, err := h.stateManager.GetString(key); err == nil {
		return val, nil
	}
	return nil, fmt.Errorf("unable to get value for state variable %s", key)
}
