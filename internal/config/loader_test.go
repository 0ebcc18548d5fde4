package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"humidityintelligence/internal/derived"
)

const baseDoc = `telemetry:
  - entity_id: sensor.kitchen_humidity
    sensor_type: humidity
    level: level1
    room: Kitchen
  - entity_id: sensor.kitchen_temperature
    sensor_type: temperature
    level: level1
    room: Kitchen
  - entity_id: sensor.landing_humidity
    sensor_type: humidity
    level: level2
    room: Landing
  - entity_id: sensor.landing_humidity
    sensor_type: humidity
    level: level2
    room: Landing
  - entity_id: sensor.attic_lux
    sensor_type: lux
    level: level2
    room: Attic
time_gate:
  enabled: true
  start: "08:00"
  end: "22:00"
zones:
  zone1:
    enabled: true
    level: level1
    rooms: [Kitchen]
    triggers: [humidity_high, condensation_risk, sparkle]
    thresholds:
      humidity_high: 50
      condensation_risk: "3.5"
    outputs: [fan.kitchen_extract, fan.kitchen_extract]
    output_level: 70
    boost_output_level: 33
    ui_label: "  Cooking extraction with a deliberately overlong label text  "
  zone9:
    enabled: true
humidifiers:
  level1:
    enabled: true
    band_adjust: 9
    outputs: [humidifier.lounge]
aq:
  level1:
    enabled: true
    triggers: [pm25_high, co2_high]
    thresholds:
      pm25_high: 40
    outputs: [fan.kitchen_extract]
    run_duration: 10
  level7:
    enabled: true
alerts:
  - trigger_type: co_emergency
    threshold: 500
    outputs: [fan.kitchen_extract, light.hall]
    flash_mode: red
  - trigger_type: humidity_danger
    enabled: false
  - trigger_type: custom_binary
  - trigger_type: mould_danger
  - trigger_type: condensation_danger
  - trigger_type: humidity_danger
engine_interval_minutes: 90
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(baseDoc), nil)
	require.NoError(t, err)

	t.Run("telemetry drops duplicates and unknown types", func(t *testing.T) {
		assert.Equal(t, []string{
			"sensor.kitchen_humidity", "sensor.kitchen_temperature", "sensor.landing_humidity",
		}, cfg.TelemetryEntities())
	})

	t.Run("zone triggers become typed variants", func(t *testing.T) {
		zone := cfg.Zones[Zone1]
		require.Len(t, zone.Triggers, 2)
		assert.Equal(t, TriggerHumidityHigh, zone.Triggers[0].Kind)
		assert.Equal(t, 20.0, zone.Triggers[0].Threshold, "clamped to max")
		assert.Equal(t, TriggerCondensationRisk, zone.Triggers[1].Kind)
		assert.Equal(t, 3.5, zone.Triggers[1].Threshold)
		assert.True(t, zone.Triggers[1].Def().Boost)

		assert.Equal(t, []string{"fan.kitchen_extract"}, zone.Outputs)
		assert.Equal(t, derived.Fan66, zone.OutputLevel)
		assert.Equal(t, derived.Fan66, zone.BoostLevel, "boost never below normal")
		assert.Len(t, zone.UILabel, 40)

		_, ok := cfg.Zones["zone9"]
		assert.False(t, ok)
	})

	t.Run("aq lane defaults", func(t *testing.T) {
		lane := cfg.AQ[Level1]
		require.Len(t, lane.Triggers, 2)
		assert.Equal(t, 40.0, lane.Triggers[0].Threshold)
		assert.Equal(t, 1200.0, lane.Triggers[1].Threshold, "missing threshold uses default")
		assert.Equal(t, 10*time.Minute, lane.RunDuration)
		assert.Equal(t, derived.Fan66, lane.OutputLevel)
		assert.Len(t, cfg.AQ, 1)
	})

	t.Run("humidifier clamps", func(t *testing.T) {
		lane := cfg.Humidifiers[Level1]
		assert.Equal(t, 3.0, lane.BandAdjust)
		assert.Equal(t, 3.0, lane.RecoveryInBand)
	})

	t.Run("alerts", func(t *testing.T) {
		require.Len(t, cfg.Alerts, MaxAlerts)
		co := cfg.Alerts[0]
		assert.True(t, co.Enabled, "enabled defaults to true")
		assert.Equal(t, 100.0, co.Threshold)
		assert.True(t, co.HasThreshold)
		assert.Equal(t, [3]int{255, 0, 0}, co.Color())
		assert.Equal(t, AlertDurationDefault, co.Duration)

		assert.False(t, cfg.Alerts[1].Enabled)
		assert.False(t, cfg.Alerts[1].HasThreshold)
		assert.Equal(t, 75.0, cfg.Alerts[1].Threshold)
		assert.Equal(t, [3]int{255, 255, 255}, cfg.Alerts[1].Color())
	})

	t.Run("engine interval bounded", func(t *testing.T) {
		assert.Equal(t, EngineIntervalMax, cfg.EngineIntervalMinutes)
		assert.Equal(t, 30*time.Minute, cfg.EngineInterval())
	})

	t.Run("warnings collected", func(t *testing.T) {
		assert.NotEmpty(t, cfg.Warnings)
		assert.Contains(t, cfg.Warnings, `zones.zone1: unknown trigger "sparkle" ignored`)
		assert.Contains(t, cfg.Warnings, "alerts: 6 configured, only the first 5 are used")
	})

	t.Run("output unions", func(t *testing.T) {
		assert.Equal(t, []string{"fan.kitchen_extract"}, cfg.FanOutputs())
		assert.Equal(t, []string{"humidifier.lounge"}, cfg.HumidifierOutputs())
	})
}

func TestParseOptionsOverrideBase(t *testing.T) {
	options := `zones:
  zone2:
    enabled: true
    rooms: [Bathroom]
    triggers: [mould_risk]
    outputs: [switch.bathroom_fan]
engine_interval_minutes: 2
`
	cfg, err := Parse([]byte(baseDoc), []byte(options))
	require.NoError(t, err)

	_, hasZone1 := cfg.Zones[Zone1]
	assert.False(t, hasZone1, "options replace the whole zones section")
	require.Contains(t, cfg.Zones, Zone2)
	assert.Equal(t, 2.0, cfg.Zones[Zone2].Triggers[0].Threshold)
	assert.Equal(t, 2, cfg.EngineIntervalMinutes)
	assert.Len(t, cfg.Telemetry, 3, "sections absent from options come from base")
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("zones: [unclosed"), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Parse([]byte(baseDoc), []byte("alerts: {unclosed"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseEmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""), nil)
	require.NoError(t, err)
	assert.Equal(t, EngineIntervalDefault, cfg.EngineIntervalMinutes)
	assert.Empty(t, cfg.Zones)
	assert.Equal(t, SlopeSkip, cfg.Slope.Mode)
	assert.Equal(t, ActionNoAction, cfg.TimeGate.GateAction())
	assert.Equal(t, ActionSafeState, cfg.TimeGate.BlockedAction())
}

func TestTriggerDetail(t *testing.T) {
	def, ok := LookupTrigger(TriggerHumidityHigh)
	require.True(t, ok)
	assert.Equal(t, "Humidity delta 15.0% >= threshold 5%", def.Detail(15, 5))

	def, _ = LookupTrigger(TriggerCondensationRisk)
	assert.Equal(t, "Dew-point spread 1.8 degC <= threshold 4 degC", def.Detail(1.84, 4))

	def, _ = LookupTrigger(TriggerMouldRisk)
	assert.Equal(t, "Mould risk level 3 >= threshold 2", def.Detail(3, 2))

	def, _ = LookupTrigger(TriggerPM25High)
	assert.Equal(t, "PM2.5 40.0 >= threshold 35", def.Detail(40, 35))

	def, _ = LookupTrigger(TriggerIAQBad)
	assert.Equal(t, "IAQ 60.5 <= threshold 75", def.Detail(60.5, 75))
}

func setupTestConfigDir(t *testing.T) (string, string) {
	tmpDir := t.TempDir()
	basePath := filepath.Join(tmpDir, "humidity_intelligence.yaml")
	require.NoError(t, os.WriteFile(basePath, []byte(baseDoc), 0644))
	return basePath, filepath.Join(tmpDir, "options.yaml")
}

func TestLoader_Load(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	basePath, optionsPath := setupTestConfigDir(t)

	loader := NewLoader(basePath, optionsPath, logger)
	assert.Nil(t, loader.Get())

	cfg, err := loader.Load()
	require.NoError(t, err, "missing options file is not an error")
	assert.Same(t, cfg, loader.Get())
	assert.False(t, loader.Changed())
}

func TestLoader_MissingBase(t *testing.T) {
	logger := zap.NewNop()
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"), "", logger)
	_, err := loader.Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read base config")
}

func TestLoader_BadReloadKeepsPrevious(t *testing.T) {
	logger := zap.NewNop()
	basePath, optionsPath := setupTestConfigDir(t)

	loader := NewLoader(basePath, optionsPath, logger)
	first, err := loader.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(optionsPath, []byte("zones: [broken"), 0644))
	assert.True(t, loader.Changed())

	_, err = loader.Load()
	assert.Error(t, err)
	assert.Same(t, first, loader.Get())
}

func TestLoader_AutoReload(t *testing.T) {
	logger := zap.NewNop()
	basePath, optionsPath := setupTestConfigDir(t)

	loader := NewLoader(basePath, optionsPath, logger)
	_, err := loader.Load()
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	loader.StartAutoReload(10*time.Millisecond, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	defer loader.Stop()

	require.NoError(t, os.WriteFile(optionsPath, []byte("engine_interval_minutes: 7\n"), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 7, cfg.EngineIntervalMinutes)
	case <-time.After(2 * time.Second):
		t.Fatal("config was not reloaded")
	}

	loader.Stop()
	loader.Stop()
}
