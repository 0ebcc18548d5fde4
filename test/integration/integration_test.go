package integration

import (
	"context"
	"testing"
	"time"

	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/config"
	"humidityintelligence/internal/engine"
	"humidityintelligence/internal/output"
	"humidityintelligence/internal/sensors"
	"humidityintelligence/internal/shadowstate"
	"humidityintelligence/internal/state"
	"humidityintelligence/internal/telemetry"
	"humidityintelligence/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken = "test_token_12345"
	waitFor   = 3 * time.Second
	tick      = 20 * time.Millisecond
)

const kitchenDoc = `telemetry:
  - {entity_id: sensor.kitchen_humidity, sensor_type: humidity, level: level1, room: Kitchen}
  - {entity_id: sensor.lounge_humidity, sensor_type: humidity, level: level1, room: Lounge}
zones:
  zone1:
    enabled: true
    level: level1
    rooms: [Kitchen]
    triggers: [humidity_high]
    thresholds: {humidity_high: 5}
    outputs: [fan.kitchen_extract]
    output_level: 66
`

type harness struct {
	env       *testutil.TestEnv
	engine    *engine.Engine
	computed  *sensors.Service
	decisions *shadowstate.DecisionTracker
}

func setup(t *testing.T) *harness {
	t.Helper()
	env, err := testutil.NewTestEnv(testToken, func(s *testutil.MockHAServer) {
		s.AddFan("fan.kitchen_extract", "Kitchen Extract")
		s.AddSensor("sensor.kitchen_humidity", "45", "%")
		s.AddSensor("sensor.lounge_humidity", "45", "%")
	})
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(kitchenDoc), nil)
	require.NoError(t, err)

	clk := clock.NewRealClock()
	timers := state.NewTimers(clk, env.Logger)
	reader := telemetry.NewHAReader(env.Client)

	tracker := sensors.NewSlopeTracker()
	computed := sensors.NewService(
		sensors.NewComputer(reader, env.Flags, timers, clk, tracker, cfg),
		tracker, clk, env.Logger)

	registry := shadowstate.NewInputRegistry()
	registry.LoadConfig(cfg)
	decisions := shadowstate.NewDecisionTracker(
		shadowstate.NewInputCaptureHelper(registry, reader, env.Flags),
		clk, shadowstate.DefaultCapacity)

	eng := engine.New(engine.Deps{
		Reader:    reader,
		Driver:    output.NewIsolated(output.NewHADriver(env.Client, env.Logger, false), env.Flags, env.Logger),
		Flags:     env.Flags,
		Timers:    timers,
		Clock:     clk,
		Events:    env.Client,
		Refresher: computed,
		Recorders: []engine.DecisionRecorder{decisions},
	}, cfg, env.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, eng.Start(ctx))

	t.Cleanup(func() {
		cancel()
		eng.Stop()
		computed.Stop()
		timers.Stop()
		env.Cleanup()
	})

	return &harness{env: env, engine: eng, computed: computed, decisions: decisions}
}

func (h *harness) lane() engine.Lane {
	d, ok := h.engine.Decision()
	if !ok {
		return ""
	}
	return d.Lane
}

func (h *harness) fanAttr(name string) interface{} {
	s := h.env.Server.GetState("fan.kitchen_extract")
	if s == nil {
		return nil
	}
	return s.Attributes[name]
}

func TestEngine_StartsInNormalLane(t *testing.T) {
	h := setup(t)

	require.Eventually(t, func() bool { return h.lane() == engine.LaneNormal }, waitFor, tick)

	require.Eventually(t, func() bool {
		_, ok := h.computed.Snapshot()
		return ok
	}, waitFor, tick, "the engine refreshes computed sensors every cycle")
	snap, _ := h.computed.Snapshot()
	assert.Equal(t, 45.0, snap.House[config.SensorHumidity])

	mode, err := h.env.Flags.GetString(state.KeyRuntimeMode)
	require.NoError(t, err)
	assert.Equal(t, engine.ModeNormal, mode)
	assert.Empty(t, h.env.Server.FindServiceCall("fan", "set_percentage", "fan.kitchen_extract"))
}

func TestEngine_KitchenHumidityDrivesExtractFan(t *testing.T) {
	h := setup(t)
	require.Eventually(t, func() bool { return h.lane() == engine.LaneNormal }, waitFor, tick)

	h.env.Server.SetState("sensor.kitchen_humidity", "75", map[string]interface{}{"unit_of_measurement": "%"})

	require.Eventually(t, func() bool {
		return h.fanAttr("percentage") == 66.0
	}, waitFor, tick, "zone should run the extract fan at 66%")
	assert.Equal(t, "on", h.env.Server.GetState("fan.kitchen_extract").State)

	require.Eventually(t, func() bool { return h.lane() == engine.LaneZone }, waitFor, tick)
	d, _ := h.engine.Decision()
	assert.Equal(t, engine.ModeCooking, d.Mode)
	require.Len(t, d.Zones, 1)
	assert.Equal(t, []engine.Output{{EntityID: "fan.kitchen_extract", Name: "Kitchen Extract"}}, d.Zones[0].Outputs)

	last, ok := h.decisions.Last()
	require.True(t, ok)
	assert.Equal(t, engine.LaneZone, last.Decision.Lane)

	// Humidity settles and the fan is handed back to its auto preset.
	h.env.Server.SetState("sensor.kitchen_humidity", "46", map[string]interface{}{"unit_of_measurement": "%"})

	require.Eventually(t, func() bool {
		return h.fanAttr("preset_mode") == "auto"
	}, waitFor, tick)
	require.Eventually(t, func() bool { return h.lane() == engine.LaneNormal }, waitFor, tick)
}

func TestEngine_ManualOverrideFromHost(t *testing.T) {
	h := setup(t)
	h.env.Server.SetState("sensor.kitchen_humidity", "80", map[string]interface{}{"unit_of_measurement": "%"})
	require.Eventually(t, func() bool { return h.fanAttr("percentage") == 66.0 }, waitFor, tick)

	h.env.Server.SetState("input_boolean.hi_"+state.KeyManualOverride, "on", nil)

	require.Eventually(t, func() bool { return h.lane() == engine.LaneLocked }, waitFor, tick)
	d, _ := h.engine.Decision()
	assert.Equal(t, engine.ReasonManualOverride, d.Lock)
	require.Eventually(t, func() bool { return h.fanAttr("preset_mode") == "auto" }, waitFor, tick)

	h.env.Server.SetState("input_boolean.hi_"+state.KeyManualOverride, "off", nil)
	require.Eventually(t, func() bool { return h.lane() == engine.LaneZone }, waitFor, tick)
}

func TestEngine_PauseWindow(t *testing.T) {
	h := setup(t)
	require.Eventually(t, func() bool { return h.lane() == engine.LaneNormal }, waitFor, tick)

	assert.Equal(t, 15*time.Minute, h.engine.Pause(15))
	require.Eventually(t, func() bool { return h.lane() == engine.LanePaused }, waitFor, tick)

	h.engine.Resume()
	require.Eventually(t, func() bool { return h.lane() == engine.LaneNormal }, waitFor, tick)
}
