package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"humidityintelligence/internal/config"
	"humidityintelligence/internal/derived"
)

func TestFormatReason(t *testing.T) {
	house := 52.04
	tests := []struct {
		name string
		d    Decision
		want string
	}{
		{
			name: "locked",
			d:    Decision{Lane: LaneLocked, Lock: ReasonManualOverride},
			want: ReasonManualOverride,
		},
		{
			name: "gate without detail",
			d:    Decision{Lane: LaneGate, Gate: &GateBlock{Action: config.ActionSafeState}},
			want: ReasonGateSafeState,
		},
		{
			name: "gate hold",
			d:    Decision{Lane: LaneGate, Gate: &GateBlock{Action: config.ActionPause}},
			want: ReasonGateHold,
		},
		{
			name: "alert",
			d:    Decision{Lane: LaneAlert, Alerts: []string{"Alert 1: Mould Danger", "Alert 3: CO Emergency @ 20.0"}},
			want: "Alert response is active (Alert 1: Mould Danger; Alert 3: CO Emergency @ 20.0). All other lanes are paused until the alert clears.",
		},
		{
			name: "zone",
			d: Decision{Lane: LaneZone, Zones: []ZoneActivity{{
				Label:   "Cooking",
				Level:   derived.Fan66,
				Outputs: []Output{{EntityID: "fan.kitchen", Name: "Kitchen Extract"}},
				Details: []string{"Humidity delta 15.0% >= threshold 5%"},
			}}},
			want: "Cooking is active at 66% on Kitchen Extract. Trigger detail: Humidity delta 15.0% >= threshold 5%.",
		},
		{
			name: "air quality on two levels",
			d: Decision{Lane: LaneAirQuality, AQ: []AQActivity{
				{Level: config.Level1, OutputLevel: derived.Fan33, Outputs: []Output{{EntityID: "fan.lounge"}}, Details: []string{"PM2.5 50.0 >= threshold 35"}},
				{Level: config.Level2, OutputLevel: derived.Fan100, Details: []string{ReasonAQWindow}},
			}},
			want: "Downstairs AQ is active at 33% on fan.lounge. Trigger detail: PM2.5 50.0 >= threshold 35. " +
				"Upstairs AQ is active at 100% on no outputs configured. Trigger detail: " + ReasonAQWindow + ".",
		},
		{
			name: "humidifier",
			d: Decision{Lane: LaneNormal, Humidifiers: []HumidifierActivity{{
				Level:    config.Level1,
				Humidity: 44,
				Band:     derived.HumidifierBand{Low: 45, High: 55, RecoveryOff: 48},
				Outputs:  []Output{{EntityID: "humidifier.lounge", Name: "Lounge"}},
			}}},
			want: "Downstairs humidifier is active on Lounge. Humidity is 44.0% (target band 45.0% - 55.0%, off threshold 48.0%).",
		},
		{
			name: "armed with house humidity",
			d:    Decision{Lane: LaneNormal, HouseHumidity: &house},
			want: "System is armed and monitoring telemetry. Current house humidity is 52.0% and no lane currently needs to run.",
		},
		{
			name: "armed without telemetry",
			d:    Decision{Lane: LaneNormal},
			want: "System is armed and monitoring telemetry. No automation lane currently needs to run.",
		},
		{
			name: "isolation notices",
			d:    Decision{Lane: LanePaused, Isolation: IsolationState{Fans: true, Humidifiers: true}},
			want: ReasonPaused + " " + noticeFansIsolated + " " + noticeHumidifiersIsolated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatReason(tt.d))
		})
	}
}

func TestAlertLabel(t *testing.T) {
	assert.Equal(t, "Alert 1: Mould Danger", AlertLabel(0, config.Alert{Kind: derived.AlertMouldDanger}))
	assert.Equal(t, "Alert 2: Humidity Danger @ 80.0",
		AlertLabel(1, config.Alert{Kind: derived.AlertHumidityDanger, Threshold: 80, HasThreshold: true}))
	assert.Equal(t, "Alert 3: Humidity Danger",
		AlertLabel(2, config.Alert{Kind: derived.AlertHumidityDanger, Threshold: 75}))
	assert.Equal(t, "Alert 4: Smoke Detected", AlertLabel(3, config.Alert{Kind: "smoke_detected"}))
	assert.Equal(t, "Alert 5: Unknown", AlertLabel(4, config.Alert{}))
}
