package engine

import (
	"fmt"
	"strings"
	"time"

	"humidityintelligence/internal/config"
	"humidityintelligence/internal/derived"
)

// Lane identifies which part of the priority chain decided a cycle.
type Lane string

const (
	LaneLocked      Lane = "locked"
	LaneGate        Lane = "global_gate"
	LanePaused      Lane = "paused"
	LaneCOEmergency Lane = "co_emergency"
	LaneAlert       Lane = "alert"
	LaneZone        Lane = "zone"
	LaneAirQuality  Lane = "air_quality"
	LaneNormal      Lane = "normal"
)

// Runtime modes and their display text.
const (
	ModeNormal      = "normal"
	ModeGlobalGate  = "global_gate"
	ModeCOEmergency = "co_emergency"
	ModeAlert       = "alert"
	ModeCooking     = "cooking"
	ModeBathroom    = "bathroom"
	ModeAirQuality  = "air_quality"

	DisplayNormal      = "NORMAL"
	DisplayGlobalGate  = "GLOBAL GATE"
	DisplayCOEmergency = "CO EMERGENCY"
	DisplayAlert       = "ALERT"
	DisplayAirQuality  = "AIR QUALITY"
)

// Fixed reason texts.
const (
	ReasonControlDisabled = "System control is disabled, so all automation lanes are idle."
	ReasonManualOverride  = "Manual override is enabled, so HI automation is standing down."
	ReasonPaused          = "Pause is active, so automation is temporarily standing down."
	ReasonCOEmergency     = "CO emergency protection is active, so all configured ventilation outputs are forced to 100%."
	ReasonGateSafeState   = "Global gate is blocking automation, so outputs were moved to a safe state."
	ReasonGateHold        = "Global gate is blocking automation; no output changes were applied."
	ReasonAQWindow        = "AQ run window is still active from a recent trigger."

	noticeFansIsolated        = "Fan outputs are isolated for testing (service calls suppressed)."
	noticeHumidifiersIsolated = "Humidifier outputs are isolated for testing (service calls suppressed)."
)

// Output is a driven entity and the name shown in reasons.
type Output struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
}

// ZoneActivity describes a triggered zone.
type ZoneActivity struct {
	Key     config.ZoneKey   `json:"key"`
	Mode    string           `json:"mode"`
	Label   string           `json:"label"`
	Level   derived.FanLevel `json:"level"`
	Outputs []Output         `json:"outputs"`
	Details []string         `json:"details"`
}

// AQActivity describes a running air-quality lane.
type AQActivity struct {
	Level       config.Level     `json:"level"`
	OutputLevel derived.FanLevel `json:"output_level"`
	RunDuration time.Duration    `json:"run_duration"`
	Outputs     []Output         `json:"outputs"`
	Details     []string         `json:"details"`
}

// HumidifierActivity describes a humidifier lane that is on.
type HumidifierActivity struct {
	Level    config.Level           `json:"level"`
	Humidity float64                `json:"humidity"`
	Band     derived.HumidifierBand `json:"band"`
	Outputs  []Output               `json:"outputs"`
}

// GateBlock explains why the global gate blocked a cycle.
type GateBlock struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// COStatus is the CO emergency latch as seen by one cycle.
type COStatus struct {
	Active     bool      `json:"active"`
	Start      float64   `json:"start"`
	Clear      float64   `json:"clear"`
	BelowSince time.Time `json:"below_since,omitempty"`
	Outputs    []string  `json:"outputs,omitempty"`
}

// IsolationState records which output groups were isolated.
type IsolationState struct {
	Fans        bool `json:"fans"`
	Humidifiers bool `json:"humidifiers"`
}

// Decision is the typed outcome of one evaluation cycle. The runtime reason
// is rendered from it by FormatReason.
type Decision struct {
	Time          time.Time            `json:"time"`
	Lane          Lane                 `json:"lane"`
	Mode          string               `json:"mode"`
	Display       string               `json:"display"`
	Lock          string               `json:"lock,omitempty"`
	Gate          *GateBlock           `json:"gate,omitempty"`
	CO            COStatus             `json:"co"`
	Alerts        []string             `json:"alerts,omitempty"`
	Zones         []ZoneActivity       `json:"zones,omitempty"`
	AQ            []AQActivity         `json:"aq,omitempty"`
	Humidifiers   []HumidifierActivity `json:"humidifiers,omitempty"`
	HouseHumidity *float64             `json:"house_humidity,omitempty"`
	Isolation     IsolationState       `json:"isolation"`
	Reason        string               `json:"reason"`
	Error         string               `json:"error,omitempty"`
}

// FormatReason renders the runtime reason for d, including isolation notices.
func FormatReason(d Decision) string {
	return withIsolationNotice(baseReason(d), d.Isolation)
}

func baseReason(d Decision) string {
	switch d.Lane {
	case LaneLocked:
		return d.Lock
	case LaneGate:
		if d.Gate == nil {
			return ReasonGateHold
		}
		if d.Gate.Reason != "" {
			return d.Gate.Reason
		}
		if d.Gate.Action == config.ActionSafeState {
			return ReasonGateSafeState
		}
		return ReasonGateHold
	case LanePaused:
		return ReasonPaused
	case LaneCOEmergency:
		return ReasonCOEmergency
	case LaneAlert:
		if len(d.Alerts) > 0 {
			return fmt.Sprintf("Alert response is active (%s). All other lanes are paused until the alert clears.",
				strings.Join(d.Alerts, "; "))
		}
	case LaneZone:
		if len(d.Zones) > 0 {
			return formatZone(d.Zones[0])
		}
		return "Zone extraction is active."
	case LaneAirQuality:
		return formatAQ(d.AQ)
	}

	if len(d.Humidifiers) > 0 {
		return formatHumidifiers(d.Humidifiers)
	}
	if d.HouseHumidity != nil {
		return fmt.Sprintf("System is armed and monitoring telemetry. Current house humidity is %.1f%% and no lane currently needs to run.",
			*d.HouseHumidity)
	}
	return "System is armed and monitoring telemetry. No automation lane currently needs to run."
}

func withIsolationNotice(reason string, iso IsolationState) string {
	var notices []string
	if iso.Fans {
		notices = append(notices, noticeFansIsolated)
	}
	if iso.Humidifiers {
		notices = append(notices, noticeHumidifiersIsolated)
	}
	if len(notices) == 0 {
		return reason
	}
	return reason + " " + strings.Join(notices, " ")
}

func outputNames(outputs []Output) string {
	if len(outputs) == 0 {
		return "no outputs configured"
	}
	names := make([]string, 0, len(outputs))
	for _, o := range outputs {
		name := o.Name
		if name == "" {
			name = o.EntityID
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func formatZone(z ZoneActivity) string {
	details := strings.Join(z.Details, "; ")
	if details == "" {
		details = "configured trigger condition met"
	}
	return fmt.Sprintf("%s is active at %s on %s. Trigger detail: %s.",
		z.Label, z.Level.Text(), outputNames(z.Outputs), details)
}

func formatAQ(lanes []AQActivity) string {
	if len(lanes) == 0 {
		return "Air-quality assist is active."
	}
	segments := make([]string, 0, len(lanes))
	for _, a := range lanes {
		segments = append(segments, fmt.Sprintf("%s AQ is active at %s on %s. Trigger detail: %s.",
			a.Level.Label(), a.OutputLevel.Text(), outputNames(a.Outputs), strings.Join(a.Details, "; ")))
	}
	return strings.Join(segments, " ")
}

func formatHumidifiers(lanes []HumidifierActivity) string {
	segments := make([]string, 0, len(lanes))
	for _, h := range lanes {
		segments = append(segments, fmt.Sprintf(
			"%s humidifier is active on %s. Humidity is %.1f%% (target band %.1f%% - %.1f%%, off threshold %.1f%%).",
			h.Level.Label(), outputNames(h.Outputs), h.Humidity, h.Band.Low, h.Band.High, h.Band.RecoveryOff))
	}
	return strings.Join(segments, " ")
}

var alertLabels = map[derived.AlertKind]string{
	derived.AlertCondensationDanger: "Condensation Danger",
	derived.AlertHumidityDanger:     "Humidity Danger",
	derived.AlertMouldDanger:        "Mould Danger",
	derived.AlertCOEmergency:        "CO Emergency",
	derived.AlertCustomBinary:       "Custom binary sensor",
}

// AlertLabel renders "Alert N: Kind" with an "@ threshold" suffix for alerts
// that carry a threshold.
func AlertLabel(idx int, a config.Alert) string {
	label, ok := alertLabels[a.Kind]
	if !ok {
		label = titleCase(string(a.Kind))
	}
	suffix := ""
	if a.HasThreshold {
		suffix = fmt.Sprintf(" @ %.1f", a.Threshold)
	}
	return fmt.Sprintf("Alert %d: %s%s", idx+1, label, suffix)
}

func titleCase(s string) string {
	if s == "" {
		return "Unknown"
	}
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
