package config

import (
	"time"

	"humidityintelligence/internal/derived"
)

// Level is a floor grouping used for telemetry averages and per-floor lanes.
type Level string

const (
	Level1 Level = "level1"
	Level2 Level = "level2"
)

// Levels lists the supported levels in evaluation order.
var Levels = []Level{Level1, Level2}

// FlagName is the level's name in flag and timer keys.
func (l Level) FlagName() string {
	if l == Level2 {
		return "upstairs"
	}
	return "downstairs"
}

// Label is the level's display name in reasons.
func (l Level) Label() string {
	if l == Level2 {
		return "Upstairs"
	}
	return "Downstairs"
}

// ZoneKey identifies an extraction zone.
type ZoneKey string

const (
	Zone1 ZoneKey = "zone1"
	Zone2 ZoneKey = "zone2"
)

// ZoneKeys lists the zones in evaluation order.
var ZoneKeys = []ZoneKey{Zone1, Zone2}

// SensorType is the kind of reading a telemetry entity provides.
type SensorType string

const (
	SensorHumidity    SensorType = "humidity"
	SensorTemperature SensorType = "temperature"
	SensorCO2         SensorType = "co2"
	SensorVOC         SensorType = "voc"
	SensorIAQ         SensorType = "iaq"
	SensorPM25        SensorType = "pm25"
	SensorCO          SensorType = "co"
)

var sensorTypes = map[SensorType]bool{
	SensorHumidity: true, SensorTemperature: true, SensorCO2: true, SensorVOC: true,
	SensorIAQ: true, SensorPM25: true, SensorCO: true,
}

// TelemetrySensor binds a host entity to a room and level.
type TelemetrySensor struct {
	EntityID     string     `yaml:"entity_id" json:"entity_id"`
	SensorType   SensorType `yaml:"sensor_type" json:"sensor_type"`
	Level        Level      `yaml:"level" json:"level"`
	Room         string     `yaml:"room" json:"room"`
	FriendlyName string     `yaml:"friendly_name" json:"friendly_name"`
}

// Outside actions for the time gate.
const (
	ActionNoAction  = "no_action"
	ActionSafeState = "safe_state"
	ActionPause     = "pause"
)

// TimeGate limits automation to a daily window. Start and End accept
// "HH:MM", "sunrise" or "sunset" with an optional +/- minute offset.
type TimeGate struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Start         string `yaml:"start" json:"start"`
	End           string `yaml:"end" json:"end"`
	OutsideAction string `yaml:"outside_action" json:"outside_action"`
}

// GateAction is the action applied while the window blocks; no_action when unset.
func (g TimeGate) GateAction() string {
	if g.OutsideAction == "" {
		return ActionNoAction
	}
	return g.OutsideAction
}

// BlockedAction is the action applied when any gate blocks; safe_state when unset.
func (g TimeGate) BlockedAction() string {
	if g.OutsideAction == "" {
		return ActionSafeState
	}
	return g.OutsideAction
}

// PresenceGate blocks automation unless an entity reports a present state.
type PresenceGate struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Entities      []string `yaml:"entities" json:"entities"`
	PresentStates []string `yaml:"present_states" json:"present_states"`
	AwayStates    []string `yaml:"away_states" json:"away_states"`
}

// Trigger is a validated trigger with its resolved threshold.
type Trigger struct {
	Kind      TriggerKind `json:"kind"`
	Threshold float64     `json:"threshold"`
}

// Def returns the trigger's definition.
func (t Trigger) Def() TriggerDef {
	return triggerDefs[t.Kind]
}

// Zone is an extraction zone tied to a set of rooms.
type Zone struct {
	Enabled     bool             `json:"enabled"`
	Level       Level            `json:"level"`
	Rooms       []string         `json:"rooms"`
	Triggers    []Trigger        `json:"triggers"`
	Outputs     []string         `json:"outputs"`
	OutputLevel derived.FanLevel `json:"output_level"`
	BoostLevel  derived.FanLevel `json:"boost_output_level"`
	UILabel     string           `json:"ui_label"`
}

// HumidifierLane drives humidifiers on one level.
type HumidifierLane struct {
	Enabled        bool     `json:"enabled"`
	BandAdjust     float64  `json:"band_adjust"`
	RecoveryInBand float64  `json:"recovery_in_band"`
	Outputs        []string `json:"outputs"`
}

// AQLane runs fans for a window after an air-quality trigger on one level.
type AQLane struct {
	Enabled     bool             `json:"enabled"`
	Triggers    []Trigger        `json:"triggers"`
	Outputs     []string         `json:"outputs"`
	RunDuration time.Duration    `json:"run_duration"`
	OutputLevel derived.FanLevel `json:"output_level"`
}

// Flash modes.
const (
	FlashRed   = "red"
	FlashWhite = "white"
)

// Alert is one configured alert. HasThreshold records whether the document
// carried a threshold, which controls the label suffix.
type Alert struct {
	Enabled       bool              `json:"enabled"`
	Kind          derived.AlertKind `json:"trigger_type"`
	CustomTrigger string            `json:"custom_trigger,omitempty"`
	Threshold     float64           `json:"threshold"`
	HasThreshold  bool              `json:"has_threshold"`
	Lights        []string          `json:"lights"`
	Outputs       []string          `json:"outputs"`
	PowerEntity   string            `json:"power_entity,omitempty"`
	FlashMode     string            `json:"flash_mode"`
	Duration      int               `json:"duration"`
}

// Color returns the flash colour for the alert.
func (a Alert) Color() [3]int {
	if a.FlashMode == FlashRed {
		return [3]int{255, 0, 0}
	}
	return [3]int{255, 255, 255}
}

// Slope modes.
const (
	SlopeCalculated = "hi_calculates"
	SlopeProvided   = "user_provided"
	SlopeSkip       = "skip"
)

// SlopeSettings selects how temperature slopes are sourced. In provided mode
// Provided maps a temperature entity to the host sensor holding its slope.
type SlopeSettings struct {
	Mode     string            `json:"mode"`
	Provided map[string]string `json:"provided,omitempty"`
}

// Config is the validated controller configuration. It is immutable once
// built; reloads produce a new value.
type Config struct {
	Telemetry             []TelemetrySensor        `json:"telemetry"`
	TimeGate              TimeGate                 `json:"time_gate"`
	PresenceGate          PresenceGate             `json:"presence_gate"`
	Zones                 map[ZoneKey]Zone         `json:"zones"`
	Humidifiers           map[Level]HumidifierLane `json:"humidifiers"`
	AQ                    map[Level]AQLane         `json:"aq"`
	Alerts                []Alert                  `json:"alerts"`
	EngineIntervalMinutes int                      `json:"engine_interval_minutes"`
	Slope                 SlopeSettings            `json:"slope"`
	Warnings              []string                 `json:"-"`
}

// EngineInterval is the periodic re-evaluation cadence.
func (c *Config) EngineInterval() time.Duration {
	return time.Duration(c.EngineIntervalMinutes) * time.Minute
}

// TelemetryEntities returns every configured telemetry entity ID.
func (c *Config) TelemetryEntities() []string {
	ids := make([]string, 0, len(c.Telemetry))
	for _, t := range c.Telemetry {
		ids = append(ids, t.EntityID)
	}
	return ids
}

// ZoneOutputs returns the union of zone outputs, deduplicated, in config order.
func (c *Config) ZoneOutputs() []string {
	var out []string
	for _, key := range ZoneKeys {
		if z, ok := c.Zones[key]; ok {
			out = append(out, z.Outputs...)
		}
	}
	return Dedupe(out)
}

// FanOutputs returns zone and AQ outputs, deduplicated.
func (c *Config) FanOutputs() []string {
	out := c.ZoneOutputs()
	for _, level := range Levels {
		if lane, ok := c.AQ[level]; ok {
			out = append(out, lane.Outputs...)
		}
	}
	return Dedupe(out)
}

// HumidifierOutputs returns every humidifier output, deduplicated.
func (c *Config) HumidifierOutputs() []string {
	var out []string
	for _, level := range Levels {
		if lane, ok := c.Humidifiers[level]; ok {
			out = append(out, lane.Outputs...)
		}
	}
	return Dedupe(out)
}

// Dedupe drops empty and repeated IDs, keeping first occurrence order.
func Dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
