package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"humidityintelligence/internal/derived"
)

// ErrInvalidConfig is returned when a document cannot be decoded at all.
// Individual bad values never fail a load; they degrade to defaults and are
// reported in Config.Warnings.
var ErrInvalidConfig = errors.New("invalid configuration")

// Bounds applied at load time.
const (
	EngineIntervalMin     = 1
	EngineIntervalMax     = 30
	EngineIntervalDefault = 5

	AQRunMinutesMin     = 1
	AQRunMinutesMax     = 24 * 60
	AQRunMinutesDefault = 30

	AlertDurationMin     = 5
	AlertDurationMax     = 120
	AlertDurationDefault = 10

	MaxAlerts = 5
)

type rawZone struct {
	Enabled          bool           `yaml:"enabled"`
	Level            string         `yaml:"level"`
	Rooms            []string       `yaml:"rooms"`
	Triggers         []string       `yaml:"triggers"`
	Thresholds       map[string]any `yaml:"thresholds"`
	Outputs          []string       `yaml:"outputs"`
	OutputLevel      any            `yaml:"output_level"`
	BoostOutputLevel any            `yaml:"boost_output_level"`
	UILabel          string         `yaml:"ui_label"`
}

type rawHumidifier struct {
	Enabled        bool     `yaml:"enabled"`
	BandAdjust     any      `yaml:"band_adjust"`
	RecoveryInBand any      `yaml:"recovery_in_band"`
	Outputs        []string `yaml:"outputs"`
}

type rawAQ struct {
	Enabled     bool           `yaml:"enabled"`
	Triggers    []string       `yaml:"triggers"`
	Thresholds  map[string]any `yaml:"thresholds"`
	Outputs     []string       `yaml:"outputs"`
	RunDuration any            `yaml:"run_duration"`
	OutputLevel any            `yaml:"output_level"`
}

type rawAlert struct {
	Enabled       *bool    `yaml:"enabled"`
	TriggerType   string   `yaml:"trigger_type"`
	CustomTrigger string   `yaml:"custom_trigger"`
	Threshold     any      `yaml:"threshold"`
	Lights        []string `yaml:"lights"`
	Outputs       []string `yaml:"outputs"`
	PowerEntity   string   `yaml:"power_entity"`
	FlashMode     string   `yaml:"flash_mode"`
	Duration      any      `yaml:"duration"`
}

type rawSlope struct {
	Mode     string            `yaml:"mode"`
	Provided map[string]string `yaml:"provided"`
}

type rawDocument struct {
	Telemetry             []TelemetrySensor        `yaml:"telemetry"`
	TimeGate              TimeGate                 `yaml:"time_gate"`
	PresenceGate          PresenceGate             `yaml:"presence_gate"`
	Zones                 map[string]rawZone       `yaml:"zones"`
	Humidifiers           map[string]rawHumidifier `yaml:"humidifiers"`
	AQ                    map[string]rawAQ         `yaml:"aq"`
	Alerts                []rawAlert               `yaml:"alerts"`
	EngineIntervalMinutes any                      `yaml:"engine_interval_minutes"`
	Slope                 rawSlope                 `yaml:"slope"`
}

// Parse decodes a base document and an optional options document. Top-level
// keys present in options replace the same keys in base.
func Parse(base, options []byte) (*Config, error) {
	merged, err := overlay(base, options)
	if err != nil {
		return nil, err
	}

	var raw rawDocument
	if err := yaml.Unmarshal(merged, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	b := &builder{}
	cfg := &Config{
		Telemetry:    b.telemetry(raw.Telemetry),
		TimeGate:     b.timeGate(raw.TimeGate),
		PresenceGate: raw.PresenceGate,
		Zones:        make(map[ZoneKey]Zone),
		Humidifiers:  make(map[Level]HumidifierLane),
		AQ:           make(map[Level]AQLane),
		EngineIntervalMinutes: derived.BoundedInt(raw.EngineIntervalMinutes,
			EngineIntervalMin, EngineIntervalMax, EngineIntervalDefault),
		Slope: b.slope(raw.Slope),
	}

	for key, z := range raw.Zones {
		zk := ZoneKey(key)
		if zk != Zone1 && zk != Zone2 {
			b.warnf("zones: unknown zone %q ignored", key)
			continue
		}
		cfg.Zones[zk] = b.zone(key, z)
	}
	for key, h := range raw.Humidifiers {
		level, ok := parseLevel(key)
		if !ok {
			b.warnf("humidifiers: unknown level %q ignored", key)
			continue
		}
		cfg.Humidifiers[level] = b.humidifier(h)
	}
	for key, a := range raw.AQ {
		level, ok := parseLevel(key)
		if !ok {
			b.warnf("aq: unknown level %q ignored", key)
			continue
		}
		cfg.AQ[level] = b.aq(key, a)
	}

	alerts := raw.Alerts
	if len(alerts) > MaxAlerts {
		b.warnf("alerts: %d configured, only the first %d are used", len(alerts), MaxAlerts)
		alerts = alerts[:MaxAlerts]
	}
	for i, a := range alerts {
		cfg.Alerts = append(cfg.Alerts, b.alert(i, a))
	}

	cfg.Warnings = b.warnings
	return cfg, nil
}

// overlay merges top-level keys of options over base and re-encodes the result.
func overlay(base, options []byte) ([]byte, error) {
	doc := map[string]any{}
	if err := yaml.Unmarshal(base, &doc); err != nil {
		return nil, fmt.Errorf("%w: base: %v", ErrInvalidConfig, err)
	}
	if len(strings.TrimSpace(string(options))) > 0 {
		opts := map[string]any{}
		if err := yaml.Unmarshal(options, &opts); err != nil {
			return nil, fmt.Errorf("%w: options: %v", ErrInvalidConfig, err)
		}
		for k, v := range opts {
			doc[k] = v
		}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode merged config: %w", err)
	}
	return out, nil
}

func parseLevel(s string) (Level, bool) {
	switch Level(s) {
	case Level1, Level2:
		return Level(s), true
	}
	return "", false
}

type builder struct {
	warnings []string
}

func (b *builder) warnf(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *builder) telemetry(in []TelemetrySensor) []TelemetrySensor {
	seen := make(map[string]bool)
	out := make([]TelemetrySensor, 0, len(in))
	for i, t := range in {
		t.EntityID = strings.TrimSpace(t.EntityID)
		if t.EntityID == "" {
			b.warnf("telemetry[%d]: missing entity_id", i)
			continue
		}
		if seen[t.EntityID] {
			b.warnf("telemetry: duplicate entity %s ignored", t.EntityID)
			continue
		}
		if !sensorTypes[t.SensorType] {
			b.warnf("telemetry: %s has unknown sensor_type %q", t.EntityID, t.SensorType)
			continue
		}
		if t.Level != "" {
			if _, ok := parseLevel(string(t.Level)); !ok {
				b.warnf("telemetry: %s has unknown level %q", t.EntityID, t.Level)
				t.Level = ""
			}
		}
		seen[t.EntityID] = true
		out = append(out, t)
	}
	return out
}

func (b *builder) timeGate(g TimeGate) TimeGate {
	switch g.OutsideAction {
	case "", ActionNoAction, ActionSafeState, ActionPause:
	default:
		b.warnf("time_gate: unknown outside_action %q is treated as a blocking action", g.OutsideAction)
	}
	if g.Enabled && (g.Start == "" || g.End == "") {
		b.warnf("time_gate: enabled without start and end, window ignored")
	}
	return g
}

func (b *builder) slope(s rawSlope) SlopeSettings {
	switch s.Mode {
	case SlopeCalculated, SlopeProvided, SlopeSkip:
	case "":
		s.Mode = SlopeSkip
	default:
		b.warnf("slope: unknown mode %q, slopes disabled", s.Mode)
		s.Mode = SlopeSkip
	}
	return SlopeSettings{Mode: s.Mode, Provided: s.Provided}
}

func (b *builder) triggers(section string, names []string, thresholds map[string]any, allowed map[TriggerKind]bool) []Trigger {
	var out []Trigger
	seen := make(map[TriggerKind]bool)
	for _, name := range names {
		kind := TriggerKind(strings.TrimSpace(name))
		if !allowed[kind] {
			b.warnf("%s: unknown trigger %q ignored", section, name)
			continue
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		def := triggerDefs[kind]
		raw, present := thresholds[string(kind)]
		threshold := resolveThreshold(def, raw)
		if present {
			if v, ok := derived.ToFloat(raw); !ok {
				b.warnf("%s: threshold for %s is not a number, using %g", section, kind, def.Bounds.Default)
			} else if v != threshold {
				b.warnf("%s: threshold for %s clamped from %g to %g", section, kind, v, threshold)
			}
		}
		out = append(out, Trigger{Kind: kind, Threshold: threshold})
	}
	return out
}

func (b *builder) zone(key string, z rawZone) Zone {
	section := "zones." + key
	level, ok := parseLevel(z.Level)
	if !ok && z.Level != "" {
		b.warnf("%s: unknown level %q, house-wide readings used", section, z.Level)
	}
	normal := derived.NormalizeFanLevel(orDefault(z.OutputLevel, 66), derived.DefaultOutputLevel)
	boost := derived.NormalizeFanLevel(orDefault(z.BoostOutputLevel, 100), derived.DefaultBoostLevel)
	if boost.Rank() < normal.Rank() {
		boost = normal
	}
	label := strings.TrimSpace(z.UILabel)
	if len(label) > 40 {
		label = label[:40]
	}
	return Zone{
		Enabled:     z.Enabled,
		Level:       level,
		Rooms:       z.Rooms,
		Triggers:    b.triggers(section, z.Triggers, z.Thresholds, zoneTriggers),
		Outputs:     Dedupe(z.Outputs),
		OutputLevel: normal,
		BoostLevel:  boost,
		UILabel:     label,
	}
}

func (b *builder) humidifier(h rawHumidifier) HumidifierLane {
	adjust, ok := derived.ToFloat(h.BandAdjust)
	if !ok {
		adjust = 0
	}
	recovery, ok := derived.ToFloat(h.RecoveryInBand)
	if !ok {
		recovery = derived.RecoveryInBandDefault
	}
	return HumidifierLane{
		Enabled:        h.Enabled,
		BandAdjust:     derived.Clamp(adjust, derived.BandAdjustMin, derived.BandAdjustMax),
		RecoveryInBand: derived.Clamp(recovery, derived.RecoveryInBandMin, derived.RecoveryInBandMax),
		Outputs:        Dedupe(h.Outputs),
	}
}

func (b *builder) aq(key string, a rawAQ) AQLane {
	minutes := derived.BoundedInt(a.RunDuration, AQRunMinutesMin, AQRunMinutesMax, AQRunMinutesDefault)
	return AQLane{
		Enabled:     a.Enabled,
		Triggers:    b.triggers("aq."+key, a.Triggers, a.Thresholds, aqTriggers),
		Outputs:     Dedupe(a.Outputs),
		RunDuration: time.Duration(minutes) * time.Minute,
		OutputLevel: derived.NormalizeFanLevel(orDefault(a.OutputLevel, 66), derived.DefaultOutputLevel),
	}
}

func (b *builder) alert(i int, a rawAlert) Alert {
	kind := derived.AlertKind(a.TriggerType)
	switch kind {
	case derived.AlertCustomBinary, derived.AlertCondensationDanger, derived.AlertMouldDanger,
		derived.AlertHumidityDanger, derived.AlertCOEmergency:
	default:
		b.warnf("alerts[%d]: unknown trigger_type %q never fires", i, a.TriggerType)
	}
	if kind == derived.AlertCustomBinary && a.CustomTrigger == "" {
		b.warnf("alerts[%d]: custom_binary without custom_trigger never fires", i)
	}
	enabled := true
	if a.Enabled != nil {
		enabled = *a.Enabled
	}
	flash := a.FlashMode
	if flash != FlashRed {
		flash = FlashWhite
	}
	_, hasBounds := derived.AlertBounds(kind)
	return Alert{
		Enabled:       enabled,
		Kind:          kind,
		CustomTrigger: a.CustomTrigger,
		Threshold:     derived.ClampAlertThreshold(kind, a.Threshold),
		HasThreshold:  hasBounds && !blank(a.Threshold),
		Lights:        a.Lights,
		Outputs:       Dedupe(a.Outputs),
		PowerEntity:   a.PowerEntity,
		FlashMode:     flash,
		Duration:      derived.BoundedInt(a.Duration, AlertDurationMin, AlertDurationMax, AlertDurationDefault),
	}
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func orDefault(v any, fallback any) any {
	if v == nil {
		return fallback
	}
	return v
}
