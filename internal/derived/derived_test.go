package derived

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDewPoint(t *testing.T) {
	dp, ok := DewPoint(20, 50)
	require.True(t, ok)
	assert.InDelta(t, 9.26, dp, 0.01)

	dp, ok = DewPoint(20, 100)
	require.True(t, ok)
	assert.InDelta(t, 20.0, dp, 0.001)

	_, ok = DewPoint(20, 0)
	assert.False(t, ok, "non-positive humidity has no dew point")
}

func TestCondensationRiskTiers(t *testing.T) {
	tests := []struct {
		spread float64
		want   Risk
	}{
		{0.5, RiskDanger},
		{2.0, RiskDanger},
		{2.1, RiskRisk},
		{4.0, RiskRisk},
		{5.9, RiskWatch},
		{6.0, RiskWatch},
		{6.1, RiskOK},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CondensationRisk(tt.spread), "spread %v", tt.spread)
	}
}

func TestMouldLevel(t *testing.T) {
	assert.Equal(t, 0, MouldLevel(50, 10))
	assert.Equal(t, 1, MouldLevel(68, 10))
	assert.Equal(t, 2, MouldLevel(75, 10))
	assert.Equal(t, 1, MouldLevel(50, 4))
	assert.Equal(t, 3, MouldLevel(68, 2))
	assert.Equal(t, 3, MouldLevel(80, 1), "capped at 3")

	assert.Equal(t, RiskDanger, MouldRisk(3))
	assert.Equal(t, RiskRisk, MouldRisk(2))
	assert.Equal(t, RiskWatch, MouldRisk(1))
	assert.Equal(t, RiskOK, MouldRisk(0))
}

func TestRiskRankOrdersUnknownLowest(t *testing.T) {
	assert.Less(t, RiskUnknown.Rank(), RiskOK.Rank())
	assert.Less(t, RiskOK.Rank(), RiskWatch.Rank())
	assert.Less(t, RiskWatch.Rank(), RiskRisk.Rank())
	assert.Less(t, RiskRisk.Rank(), RiskDanger.Rank())
}

func TestNormalizeFanLevel(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  FanLevel
	}{
		{"zero", 0, FanAuto},
		{"zero percent string", "0%", FanAuto},
		{"nil", nil, FanAuto},
		{"auto text", " Auto ", FanAuto},
		{"negative", -10, FanAuto},
		{"fifty is nearer 66", 50, Fan66},
		{"forty nine is nearer 33", 49, Fan33},
		{"percent string", "70%", Fan66},
		{"float", 90.0, Fan100},
		{"over range", 150, Fan100},
		{"exact step", "33", Fan33},
		{"garbage uses fallback", "loud", Fan66},
		{"unsupported type uses fallback", []int{1}, Fan66},
		{"huge exponent string", "1e300", Fan100},
		{"beyond int range", 1e19, Fan100},
		{"positive infinity", math.Inf(1), Fan100},
		{"negative infinity", math.Inf(-1), FanAuto},
		{"nan string uses fallback", "NaN", Fan66},
		{"nan uses fallback", math.NaN(), Fan66},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeFanLevel(tt.input, Fan66))
		})
	}
}

func TestMaxFanLevel(t *testing.T) {
	assert.Equal(t, Fan66, MaxFanLevel("", Fan66))
	assert.Equal(t, Fan100, MaxFanLevel(Fan66, Fan100))
	assert.Equal(t, Fan100, MaxFanLevel(Fan100, Fan33))
	assert.Equal(t, "66%", Fan66.Text())
	assert.Equal(t, "Auto", FanAuto.Text())
}

func TestSeasonalBand(t *testing.T) {
	low, high := SeasonalBand(time.January)
	assert.Equal(t, 45.0, low)
	assert.Equal(t, 55.0, high)

	low, high = SeasonalBand(time.July)
	assert.Equal(t, 51.0, low)
	assert.Equal(t, 60.0, high)

	low, high = SeasonalBand(time.October)
	assert.Equal(t, 47.0, low)
	assert.Equal(t, 58.0, high)
}

func TestHumidifierBand(t *testing.T) {
	band := NewHumidifierBand(time.January, 1, 3)
	assert.Equal(t, 46.0, band.Low)
	assert.Equal(t, 56.0, band.High)
	assert.Equal(t, 49.0, band.RecoveryOff)

	band = NewHumidifierBand(time.January, 10, 20)
	assert.Equal(t, 48.0, band.Low, "band adjust clamped to +3")
	assert.Equal(t, 56.0, band.RecoveryOff, "recovery clamped to 8")
}

func TestClampAlertThreshold(t *testing.T) {
	assert.Equal(t, 75.0, ClampAlertThreshold(AlertHumidityDanger, nil))
	assert.Equal(t, 90.0, ClampAlertThreshold(AlertHumidityDanger, 120))
	assert.Equal(t, 55.0, ClampAlertThreshold(AlertHumidityDanger, "10"))
	assert.Equal(t, 15.0, ClampAlertThreshold(AlertCOEmergency, "bogus"))
	assert.Equal(t, 10.0, ClampAlertThreshold(AlertCOEmergency, 3))
	assert.Equal(t, 100.0, ClampAlertThreshold(AlertCOEmergency, 500))
}

func TestResolveCOEmergency(t *testing.T) {
	th := ResolveCOEmergency(nil)
	assert.Equal(t, 15.0, th.Start)
	assert.Equal(t, 10.0, th.Clear)

	th = ResolveCOEmergency([]float64{30, 12, 50})
	assert.Equal(t, 12.0, th.Start, "lowest alert threshold wins")
	assert.Equal(t, 7.0, th.Clear)
}

func TestBoundedInt(t *testing.T) {
	assert.Equal(t, 5, BoundedInt(nil, 1, 30, 5))
	assert.Equal(t, 30, BoundedInt(90, 1, 30, 5))
	assert.Equal(t, 1, BoundedInt("0", 1, 30, 5))
	assert.Equal(t, 12, BoundedInt(12.7, 1, 30, 5))
	assert.Equal(t, 1440, BoundedInt(1e19, 1, 1440, 60))
	assert.Equal(t, 1, BoundedInt(-1e19, 1, 1440, 60))
	assert.Equal(t, 1440, BoundedInt("1e300", 1, 1440, 60))
	assert.Equal(t, 1440, BoundedInt(math.Inf(1), 1, 1440, 60))
	assert.Equal(t, 60, BoundedInt(math.NaN(), 1, 1440, 60))
}

func TestMean(t *testing.T) {
	v, ok := Mean([]float64{60, 61, 62.25})
	require.True(t, ok)
	assert.Equal(t, 61.1, v)

	_, ok = Mean(nil)
	assert.False(t, ok)
}
