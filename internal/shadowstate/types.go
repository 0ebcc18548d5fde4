package shadowstate

import (
	"time"

	"humidityintelligence/internal/engine"
)

// InputSnapshot represents a snapshot of input values at a specific time
type InputSnapshot struct {
	Timestamp time.Time              `json:"timestamp"`
	Values    map[string]interface{} `json:"values"`
}

// StateMetadata contains metadata about the shadow state
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	Decisions   uint64    `json:"decisions"`
}

// DecisionRecord is one evaluation cycle with the inputs it saw.
type DecisionRecord struct {
	ID       string                 `json:"id"`
	Decision engine.Decision        `json:"decision"`
	Inputs   map[string]interface{} `json:"inputs"`
	Changed  bool                   `json:"changed"`
}

// DecisionInputs tracks current and last-change input values
type DecisionInputs struct {
	Current      map[string]interface{} `json:"current"`
	AtLastChange InputSnapshot          `json:"atLastChange"`
}

// DecisionOutputs holds the latest decision and a bounded history.
type DecisionOutputs struct {
	LastDecision   *DecisionRecord  `json:"lastDecision,omitempty"`
	LastChangeTime time.Time        `json:"lastChangeTime"`
	Recent         []DecisionRecord `json:"recent"`
}

// EngineShadowState is everything the status API shows about the engine's
// recent reasoning.
type EngineShadowState struct {
	Inputs   DecisionInputs  `json:"inputs"`
	Outputs  DecisionOutputs `json:"outputs"`
	Metadata StateMetadata   `json:"metadata"`
}

func copyValues(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
