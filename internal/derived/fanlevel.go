package derived

import (
	"math"
	"strconv"
	"strings"
)

// FanLevel is a normalized fan output level.
type FanLevel string

const (
	FanAuto FanLevel = "auto"
	Fan33   FanLevel = "33"
	Fan66   FanLevel = "66"
	Fan100  FanLevel = "100"
)

// Zone defaults used when a configured level cannot be parsed.
const (
	DefaultOutputLevel = Fan66
	DefaultBoostLevel  = Fan100
)

var fanSteps = []int{33, 66, 100}

// NormalizeFanLevel maps a configured value ("auto", "50%", 70, nil) onto the
// nearest of auto/33/66/100. Values <= 0 are auto and >= 100 are 100; ties
// resolve toward the lower step. A nil value is auto; unparseable or NaN
// input yields fallback.
func NormalizeFanLevel(value any, fallback FanLevel) FanLevel {
	if value == nil {
		return FanAuto
	}
	var numeric float64
	switch v := value.(type) {
	case FanLevel:
		return NormalizeFanLevel(string(v), fallback)
	case string:
		text := strings.ToLower(strings.TrimSpace(v))
		if text == string(FanAuto) {
			return FanAuto
		}
		text = strings.TrimSuffix(text, "%")
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fallback
		}
		numeric = f
	default:
		f, ok := ToFloat(v)
		if !ok {
			return fallback
		}
		numeric = f
	}
	switch {
	case math.IsNaN(numeric):
		return fallback
	case numeric >= 100:
		return Fan100
	case numeric <= 0:
		return FanAuto
	}
	return levelFromPercent(int(numeric))
}

// FanLevelFromPercent maps an integer percentage onto a fan level.
func FanLevelFromPercent(pct int) FanLevel {
	return levelFromPercent(pct)
}

func levelFromPercent(pct int) FanLevel {
	if pct <= 0 {
		return FanAuto
	}
	if pct >= 100 {
		return Fan100
	}
	nearest := fanSteps[0]
	best := math.Abs(float64(pct - nearest))
	for _, step := range fanSteps[1:] {
		if d := math.Abs(float64(pct - step)); d < best {
			nearest, best = step, d
		}
	}
	return FanLevel(strconv.Itoa(nearest))
}

// Rank orders levels: auto < 33 < 66 < 100.
func (l FanLevel) Rank() int {
	switch l {
	case Fan33:
		return 33
	case Fan66:
		return 66
	case Fan100:
		return 100
	default:
		return 0
	}
}

// Percentage returns the fan percentage for a level, 0 for auto.
func (l FanLevel) Percentage() int {
	return l.Rank()
}

// IsAuto reports whether the level hands control back to the device.
func (l FanLevel) IsAuto() bool {
	return l.Rank() == 0
}

// Text renders the level for reasons: "66%" or "Auto".
func (l FanLevel) Text() string {
	if l.IsAuto() {
		return "Auto"
	}
	return string(l) + "%"
}

// MaxFanLevel returns the higher-ranked level; on equal rank the candidate wins.
func MaxFanLevel(current, candidate FanLevel) FanLevel {
	if current == "" {
		return candidate
	}
	if candidate.Rank() >= current.Rank() {
		return candidate
	}
	return current
}

// ToFloat converts YAML/JSON scalars to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
