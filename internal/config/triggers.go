package config

import (
	"fmt"

	"humidityintelligence/internal/derived"
)

// TriggerKind names a zone or air-quality trigger.
type TriggerKind string

// Zone triggers.
const (
	TriggerHumidityHigh     TriggerKind = "humidity_high"
	TriggerCondensationRisk TriggerKind = "condensation_risk"
	TriggerMouldRisk        TriggerKind = "mould_risk"
	TriggerAirQualityBad    TriggerKind = "air_quality_bad"
)

// Air-quality lane triggers.
const (
	TriggerIAQBad    TriggerKind = "iaq_bad"
	TriggerPM25High  TriggerKind = "pm25_high"
	TriggerVOCBad    TriggerKind = "voc_bad"
	TriggerCO2High   TriggerKind = "co2_high"
	TriggerCOWarning TriggerKind = "co_warning"
)

// Metric is the quantity a trigger compares against its threshold.
type Metric string

const (
	MetricHumidityDelta Metric = "humidity_delta"
	MetricWorstSpread   Metric = "worst_spread"
	MetricWorstMould    Metric = "worst_mould_level"
	MetricLevelIAQ      Metric = "iaq"
	MetricLevelPM25     Metric = "pm25"
	MetricLevelVOC      Metric = "voc"
	MetricLevelCO2      Metric = "co2"
	MetricLevelCO       Metric = "co"
)

// Comparison is the direction a trigger fires in.
type Comparison int

const (
	// AtLeast fires when value >= threshold.
	AtLeast Comparison = iota
	// AtMost fires when value <= threshold.
	AtMost
)

// Satisfied reports whether value meets threshold in this direction.
func (c Comparison) Satisfied(value, threshold float64) bool {
	if c == AtMost {
		return value <= threshold
	}
	return value >= threshold
}

// Symbol returns ">=" or "<=".
func (c Comparison) Symbol() string {
	if c == AtMost {
		return "<="
	}
	return ">="
}

// TriggerDef describes how a trigger is evaluated and bounded.
type TriggerDef struct {
	Kind   TriggerKind
	Label  string
	Metric Metric
	Op     Comparison
	Bounds derived.Bounds
	// Boost triggers run the zone at its boost level.
	Boost bool
	// Subject prefixes the detail text, e.g. "PM2.5".
	Subject string
	// ValueUnit and ThresholdUnit are appended to the value and threshold in
	// detail text.
	ValueUnit     string
	ThresholdUnit string
	// Integer values render without decimals.
	Integer bool
}

// Detail renders the trigger detail used in runtime reasons.
func (d TriggerDef) Detail(value, threshold float64) string {
	v := fmt.Sprintf("%.1f", value)
	if d.Integer {
		v = fmt.Sprintf("%d", int(value))
	}
	return fmt.Sprintf("%s %s%s %s threshold %g%s", d.Subject, v, d.ValueUnit, d.Op.Symbol(), threshold, d.ThresholdUnit)
}

var triggerDefs = map[TriggerKind]TriggerDef{
	TriggerHumidityHigh: {
		Kind: TriggerHumidityHigh, Label: "Humidity above house average", Metric: MetricHumidityDelta,
		Op: AtLeast, Bounds: derived.Bounds{Min: 2, Max: 20, Default: 5, Unit: "%"},
		Subject: "Humidity delta", ValueUnit: "%", ThresholdUnit: "%",
	},
	TriggerCondensationRisk: {
		Kind: TriggerCondensationRisk, Label: "Condensation risk", Metric: MetricWorstSpread,
		Op: AtMost, Bounds: derived.Bounds{Min: 2, Max: 6, Default: 4, Unit: "degC"}, Boost: true,
		Subject: "Dew-point spread", ValueUnit: " degC", ThresholdUnit: " degC",
	},
	TriggerMouldRisk: {
		Kind: TriggerMouldRisk, Label: "Mould risk", Metric: MetricWorstMould,
		Op: AtLeast, Bounds: derived.Bounds{Min: 1, Max: 3, Default: 2, Unit: "level"}, Boost: true,
		Subject: "Mould risk level", Integer: true,
	},
	TriggerAirQualityBad: {
		Kind: TriggerAirQualityBad, Label: "Air quality bad", Metric: MetricLevelIAQ,
		Op: AtMost, Bounds: derived.Bounds{Min: 50, Max: 90, Default: 70, Unit: "IAQ"},
		Subject: "IAQ",
	},
	TriggerIAQBad: {
		Kind: TriggerIAQBad, Label: "IAQ bad", Metric: MetricLevelIAQ,
		Op: AtMost, Bounds: derived.Bounds{Min: 60, Max: 90, Default: 75, Unit: "IAQ"},
		Subject: "IAQ",
	},
	TriggerPM25High: {
		Kind: TriggerPM25High, Label: "PM2.5 high", Metric: MetricLevelPM25,
		Op: AtLeast, Bounds: derived.Bounds{Min: 12, Max: 65, Default: 35, Unit: "ug/m3"},
		Subject: "PM2.5",
	},
	TriggerVOCBad: {
		Kind: TriggerVOCBad, Label: "VOC bad", Metric: MetricLevelVOC,
		Op: AtLeast, Bounds: derived.Bounds{Min: 200, Max: 1000, Default: 600, Unit: "ppb"},
		Subject: "VOC",
	},
	TriggerCO2High: {
		Kind: TriggerCO2High, Label: "CO2 high", Metric: MetricLevelCO2,
		Op: AtLeast, Bounds: derived.Bounds{Min: 800, Max: 2000, Default: 1200, Unit: "ppm"},
		Subject: "CO2",
	},
	TriggerCOWarning: {
		Kind: TriggerCOWarning, Label: "CO warning", Metric: MetricLevelCO,
		Op: AtLeast, Bounds: derived.Bounds{Min: 5, Max: 50, Default: 15, Unit: "ppm"},
		Subject: "CO",
	},
}

var zoneTriggers = map[TriggerKind]bool{
	TriggerHumidityHigh: true, TriggerCondensationRisk: true, TriggerMouldRisk: true, TriggerAirQualityBad: true,
}

var aqTriggers = map[TriggerKind]bool{
	TriggerIAQBad: true, TriggerPM25High: true, TriggerVOCBad: true, TriggerCO2High: true, TriggerCOWarning: true,
}

// LookupTrigger returns the definition for kind.
func LookupTrigger(kind TriggerKind) (TriggerDef, bool) {
	def, ok := triggerDefs[kind]
	return def, ok
}

// resolveThreshold clamps a raw threshold into the trigger's bounds, using
// the default when the value is missing or not numeric.
func resolveThreshold(def TriggerDef, raw any) float64 {
	v, ok := derived.ToFloat(raw)
	if !ok {
		return def.Bounds.Default
	}
	return derived.Clamp(v, def.Bounds.Min, def.Bounds.Max)
}
