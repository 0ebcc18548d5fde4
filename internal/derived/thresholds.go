package derived

// AlertKind identifies an alert trigger.
type AlertKind string

const (
	AlertCustomBinary       AlertKind = "custom_binary"
	AlertCondensationDanger AlertKind = "condensation_danger"
	AlertMouldDanger        AlertKind = "mould_danger"
	AlertHumidityDanger     AlertKind = "humidity_danger"
	AlertCOEmergency        AlertKind = "co_emergency"
)

// Bounds is a {min, max, default} safety envelope for a threshold.
type Bounds struct {
	Min     float64
	Max     float64
	Default float64
	Unit    string
}

var alertBounds = map[AlertKind]Bounds{
	AlertHumidityDanger: {Min: 55, Max: 90, Default: 75, Unit: "%"},
	AlertCOEmergency:    {Min: 10, Max: 100, Default: 15, Unit: "ppm"},
}

// COEmergencyStart is the emergency start threshold when no alert overrides it.
const COEmergencyStart = 15.0

// AlertBounds returns the safety envelope for kinds that carry a threshold.
func AlertBounds(kind AlertKind) (Bounds, bool) {
	b, ok := alertBounds[kind]
	return b, ok
}

// ClampAlertThreshold applies the kind's safety envelope. A missing or
// non-numeric value uses the default.
func ClampAlertThreshold(kind AlertKind, value any) float64 {
	b, ok := alertBounds[kind]
	if !ok {
		f, _ := ToFloat(value)
		return f
	}
	f, ok := ToFloat(value)
	if !ok {
		f = b.Default
	}
	return Clamp(f, b.Min, b.Max)
}

// COThresholds is the shared CO emergency hysteresis band.
type COThresholds struct {
	Start float64
	Clear float64
}

// ResolveCOEmergency picks the lowest clamped start threshold among the
// enabled co_emergency alerts (default 15) and derives the clear point five
// ppm below it, or one ppm below when that would not sit under start.
func ResolveCOEmergency(alertThresholds []float64) COThresholds {
	start := COEmergencyStart
	for i, t := range alertThresholds {
		if i == 0 || t < start {
			start = t
		}
	}
	clear := start - 5
	if clear < 0 {
		clear = 0
	}
	if clear >= start {
		clear = start - 1
		if clear < 0 {
			clear = 0
		}
	}
	return COThresholds{Start: start, Clear: clear}
}
