// Package derived holds the pure threshold and derived-metric math shared by
// the engine lanes and the computed sensors: dew point, condensation and
// mould risk tiers, seasonal humidity bands and alert threshold clamping.
package derived

import (
	"math"
	"time"
)

// Magnus coefficients for dew point over water.
const (
	magnusA = 17.62
	magnusB = 243.12
)

// Risk is a condensation or mould risk tier.
type Risk string

const (
	RiskUnknown Risk = "Unknown"
	RiskOK      Risk = "OK"
	RiskWatch   Risk = "Watch"
	RiskRisk    Risk = "Risk"
	RiskDanger  Risk = "Danger"
)

// Rank orders tiers for worst-room selection. Unknown ranks below OK.
func (r Risk) Rank() int {
	switch r {
	case RiskOK:
		return 0
	case RiskWatch:
		return 1
	case RiskRisk:
		return 2
	case RiskDanger:
		return 3
	default:
		return -1
	}
}

// DewPoint returns the dew point in degC for the given temperature and
// relative humidity. ok is false when rh is not positive.
func DewPoint(tempC, rh float64) (float64, bool) {
	if rh <= 0 {
		return 0, false
	}
	gamma := (magnusA*tempC)/(magnusB+tempC) + math.Log(rh/100.0)
	return (magnusB * gamma) / (magnusA - gamma), true
}

// Spread returns temperature minus dew point.
func Spread(tempC, rh float64) (float64, bool) {
	dp, ok := DewPoint(tempC, rh)
	if !ok {
		return 0, false
	}
	return tempC - dp, true
}

// CondensationRisk maps a dew-point spread to a tier.
func CondensationRisk(spread float64) Risk {
	switch {
	case spread <= 2:
		return RiskDanger
	case spread <= 4:
		return RiskRisk
	case spread <= 6:
		return RiskWatch
	default:
		return RiskOK
	}
}

// MouldLevel scores 0-3: humidity contributes up to 2 points and a small
// dew-point spread up to 2 more, capped at 3.
func MouldLevel(rh, spread float64) int {
	level := 0
	if rh >= 75 {
		level += 2
	} else if rh >= 68 {
		level++
	}
	if spread <= 2 {
		level += 2
	} else if spread <= 4 {
		level++
	}
	if level > 3 {
		level = 3
	}
	return level
}

// MouldRisk maps a mould level to a tier.
func MouldRisk(level int) Risk {
	switch {
	case level >= 3:
		return RiskDanger
	case level == 2:
		return RiskRisk
	case level == 1:
		return RiskWatch
	default:
		return RiskOK
	}
}

// SeasonalBand returns the default humidity target band for a month.
func SeasonalBand(month time.Month) (low, high float64) {
	switch month {
	case time.November, time.December, time.January, time.February, time.March:
		return 45, 55
	case time.June, time.July, time.August:
		return 51, 60
	default:
		return 47, 58
	}
}

// Humidifier band limits.
const (
	BandAdjustMin            = -3.0
	BandAdjustMax            = 3.0
	RecoveryInBandMin        = 1.0
	RecoveryInBandMax        = 8.0
	RecoveryInBandDefault    = 3.0
	HumidityDangerPercentage = 75.0
)

// HumidifierBand is the on/off hysteresis for one humidifier lane.
type HumidifierBand struct {
	Low         float64
	High        float64
	RecoveryOff float64
}

// NewHumidifierBand shifts the seasonal band by bandAdjust and places the
// recovery-off point recoveryInBand above the low edge, never above high.
func NewHumidifierBand(month time.Month, bandAdjust, recoveryInBand float64) HumidifierBand {
	bandAdjust = Clamp(bandAdjust, BandAdjustMin, BandAdjustMax)
	recoveryInBand = Clamp(recoveryInBand, RecoveryInBandMin, RecoveryInBandMax)

	low, high := SeasonalBand(month)
	low += bandAdjust
	high += bandAdjust
	return HumidifierBand{
		Low:         low,
		High:        high,
		RecoveryOff: math.Min(high, low+recoveryInBand),
	}
}

// Clamp bounds v into [min, max].
func Clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}

// BoundedInt clamps v into [min, max], or returns fallback when v is nil
// or not numeric. Clamping happens before the integer conversion so huge
// or infinite values cannot wrap.
func BoundedInt(v any, min, max, fallback int) int {
	f, ok := ToFloat(v)
	if !ok || math.IsNaN(f) {
		return fallback
	}
	if f <= float64(min) {
		return min
	}
	if f >= float64(max) {
		return max
	}
	return int(f)
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Mean returns the one-decimal average of values; ok is false when empty.
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return Round1(sum / float64(len(values))), true
}
