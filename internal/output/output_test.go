package output

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/derived"
	"humidityintelligence/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupDriver(t *testing.T, readOnly bool) (*ha.MockClient, *HADriver) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	mockClient := ha.NewMockClient()
	mockClient.SetState("fan.kitchen", "off", map[string]interface{}{"preset_mode": "auto"})
	mockClient.SetState("fan.bathroom", "off", map[string]interface{}{})
	mockClient.SetState("switch.extractor", "off", map[string]interface{}{})
	mockClient.SetState("humidifier.bedroom", "off", map[string]interface{}{})
	return mockClient, NewHADriver(mockClient, logger, readOnly)
}

func TestSetFanLevel(t *testing.T) {
	mockClient, driver := setupDriver(t, false)

	require.NoError(t, driver.SetFanLevel("fan.kitchen", derived.Fan66))
	calls := mockClient.GetServiceCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "turn_on", calls[0].Service)
	assert.Equal(t, "set_percentage", calls[1].Service)
	assert.Equal(t, 66, calls[1].Data["percentage"])

	// Same level again is a no-op.
	mockClient.ClearServiceCalls()
	require.NoError(t, driver.SetFanLevel("fan.kitchen", derived.Fan66))
	assert.Empty(t, mockClient.GetServiceCalls())

	// A running fan only changes percentage.
	require.NoError(t, driver.SetFanLevel("fan.kitchen", derived.Fan100))
	calls = mockClient.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "set_percentage", calls[0].Service)
	assert.Equal(t, 100, calls[0].Data["percentage"])
}

func TestSetFanLevel_ReportedPercentageAsFloat(t *testing.T) {
	mockClient, driver := setupDriver(t, false)
	mockClient.SetState("fan.kitchen", "on", map[string]interface{}{"percentage": 33.0})

	require.NoError(t, driver.SetFanLevel("fan.kitchen", derived.Fan33))
	assert.Empty(t, mockClient.GetServiceCalls())
}

func TestSetFanLevel_LeavesAutoPreset(t *testing.T) {
	mockClient, driver := setupDriver(t, false)
	mockClient.SetState("fan.kitchen", "on", map[string]interface{}{"percentage": 66.0, "preset_mode": "auto"})

	require.NoError(t, driver.SetFanLevel("fan.kitchen", derived.Fan66))
	calls := mockClient.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "set_percentage", calls[0].Service)
}

func TestSetFanAuto(t *testing.T) {
	mockClient, driver := setupDriver(t, false)

	require.NoError(t, driver.SetFanAuto("fan.kitchen"))
	assert.Empty(t, mockClient.GetServiceCalls(), "already in auto")

	require.NoError(t, driver.SetFanLevel("fan.kitchen", derived.Fan33))
	mockClient.ClearServiceCalls()

	require.NoError(t, driver.SetFanLevel("fan.kitchen", derived.FanAuto))
	calls := mockClient.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "set_preset_mode", calls[0].Service)
	assert.Equal(t, "auto", calls[0].Data["preset_mode"])

	mockClient.SetState("fan.bathroom", "on", map[string]interface{}{"preset_mode": "AUTO"})
	mockClient.ClearServiceCalls()
	require.NoError(t, driver.SetFanAuto("fan.bathroom"))
	assert.Empty(t, mockClient.GetServiceCalls(), "preset comparison ignores case")
}

func TestSwitchOutputs(t *testing.T) {
	mockClient, driver := setupDriver(t, false)

	require.NoError(t, driver.SetFanLevel("switch.extractor", derived.Fan33))
	calls := mockClient.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "switch", calls[0].Domain)
	assert.Equal(t, "turn_on", calls[0].Service)

	mockClient.ClearServiceCalls()
	require.NoError(t, driver.SetFanLevel("switch.extractor", derived.Fan100))
	assert.Empty(t, mockClient.GetServiceCalls())

	require.NoError(t, driver.SetFanAuto("switch.extractor"))
	calls = mockClient.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "turn_off", calls[0].Service)
}

func TestSetHumidifierState(t *testing.T) {
	mockClient, driver := setupDriver(t, false)

	require.NoError(t, driver.SetHumidifierState("humidifier.bedroom", true))
	require.NoError(t, driver.SetHumidifierState("humidifier.bedroom", true))
	calls := mockClient.GetServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "humidifier", calls[0].Domain)
	assert.Equal(t, "turn_on", calls[0].Service)

	assert.Error(t, driver.SetHumidifierState("bogus", true))
}

func TestReadOnlyDriver(t *testing.T) {
	mockClient, driver := setupDriver(t, true)

	require.NoError(t, driver.SetFanLevel("fan.kitchen", derived.Fan100))
	require.NoError(t, driver.SetHumidifierState("humidifier.bedroom", true))
	require.NoError(t, driver.SetSwitchState("switch.extractor", true))
	assert.Empty(t, mockClient.GetServiceCalls())
}

func TestApplyLevel_ContinuesAfterFailure(t *testing.T) {
	mockClient, driver := setupDriver(t, false)
	mockClient.FailService("fan", "set_percentage", errors.New("boom"))

	err := ApplyLevel(driver, []string{"fan.kitchen", "fan.bathroom"}, derived.Fan66)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fan.kitchen")
	assert.Contains(t, err.Error(), "fan.bathroom")
	assert.Len(t, mockClient.CallsFor("fan.bathroom"), 2, "second output still attempted")

	mockClient.FailService("fan", "set_percentage", nil)
	assert.NoError(t, ApplyLevel(driver, []string{"fan.kitchen"}, derived.Fan66))
	assert.NoError(t, ApplyAuto(driver, []string{"fan.kitchen"}))
	assert.NoError(t, ApplyHumidifiers(driver, []string{"humidifier.bedroom"}, true))

	state, err := mockClient.GetState("humidifier.bedroom")
	require.NoError(t, err)
	assert.Equal(t, "on", state.State)
}

type fakeIsolation struct {
	fans        atomic.Bool
	humidifiers atomic.Bool
}

func (f *fakeIsolation) FansIsolated() bool        { return f.fans.Load() }
func (f *fakeIsolation) HumidifiersIsolated() bool { return f.humidifiers.Load() }

func TestIsolated(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockClient, inner := setupDriver(t, false)
	iso := &fakeIsolation{}
	driver := NewIsolated(inner, iso, logger)

	iso.fans.Store(true)
	require.NoError(t, driver.SetFanLevel("fan.kitchen", derived.Fan100))
	require.NoError(t, driver.SetFanAuto("fan.bathroom"))
	require.NoError(t, driver.SetSwitchState("switch.extractor", true))
	assert.Empty(t, mockClient.GetServiceCalls())

	require.NoError(t, driver.SetHumidifierState("humidifier.bedroom", true))
	assert.Len(t, mockClient.GetServiceCalls(), 1, "humidifiers are not isolated")

	iso.fans.Store(false)
	iso.humidifiers.Store(true)
	mockClient.ClearServiceCalls()
	require.NoError(t, driver.SetHumidifierState("humidifier.bedroom", false))
	assert.Empty(t, mockClient.GetServiceCalls())
	require.NoError(t, driver.SetFanLevel("fan.kitchen", derived.Fan100))
	assert.NotEmpty(t, mockClient.GetServiceCalls())
}

func TestFlashCount(t *testing.T) {
	assert.Equal(t, 20, FlashCount(10*time.Second, DefaultFlashInterval))
	assert.Equal(t, 2, FlashCount(0, DefaultFlashInterval), "raised to one second")
	assert.Equal(t, 1, FlashCount(time.Second, 2*time.Second))
}

func setupFlasher(t *testing.T) (*ha.MockClient, *clock.MockClock, *HAFlasher) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	mockClient := ha.NewMockClient()
	mockClient.SetState("light.hall", "on", map[string]interface{}{
		"brightness":            120,
		"hs_color":              []interface{}{30.0, 40.0},
		"supported_color_modes": []interface{}{"hs", "color_temp"},
	})
	mockClient.SetState("light.porch", "off", map[string]interface{}{
		"supported_color_modes": []interface{}{"onoff"},
	})
	mockClock := clock.NewMockClock(time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC))
	return mockClient, mockClock, NewHAFlasher(mockClient, mockClock, logger, false)
}

func TestFlashLights(t *testing.T) {
	mockClient, mockClock, flasher := setupFlasher(t)

	done := make(chan error, 1)
	go func() {
		done <- flasher.FlashLights(context.Background(), FlashRequest{
			Lights:      []string{"light.hall", "light.porch"},
			PowerEntity: "switch.light_power",
			Color:       [3]int{255, 0, 0},
			Duration:    2 * time.Second,
		})
	}()

	var err error
	deadline := time.After(5 * time.Second)
wait:
	for {
		select {
		case err = <-done:
			break wait
		case <-deadline:
			t.Fatal("flash did not finish")
		default:
			mockClock.Advance(DefaultFlashInterval)
			time.Sleep(time.Millisecond)
		}
	}
	require.NoError(t, err)

	power := mockClient.CallsFor("switch.light_power")
	require.Len(t, power, 1)
	assert.Equal(t, "turn_on", power[0].Service)

	hall := mockClient.CallsFor("light.hall")
	require.Len(t, hall, 9, "4 flashes plus restore")
	assert.Equal(t, []int{255, 0, 0}, hall[0].Data["rgb_color"])
	assert.Equal(t, 255, hall[0].Data["brightness"])
	restore := hall[len(hall)-1]
	assert.Equal(t, "turn_on", restore.Service)
	assert.Equal(t, 120, restore.Data["brightness"])

	porch := mockClient.CallsFor("light.porch")
	require.Len(t, porch, 9)
	assert.NotContains(t, porch[0].Data, "rgb_color")
	assert.Equal(t, "turn_off", porch[len(porch)-1].Service)

	state, _ := mockClient.GetState("light.hall")
	assert.Equal(t, "on", state.State)
	state, _ = mockClient.GetState("light.porch")
	assert.Equal(t, "off", state.State)
}

func TestFlashLights_CancelledRestores(t *testing.T) {
	mockClient, _, flasher := setupFlasher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := flasher.FlashLights(ctx, FlashRequest{Lights: []string{"light.hall"}, Duration: 10 * time.Second})
	assert.ErrorIs(t, err, context.Canceled)

	hall := mockClient.CallsFor("light.hall")
	require.NotEmpty(t, hall)
	assert.Equal(t, "turn_on", hall[len(hall)-1].Service)
	assert.Equal(t, 120, hall[len(hall)-1].Data["brightness"])
}

func TestFlashLights_ReadOnly(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mockClient := ha.NewMockClient()
	flasher := NewHAFlasher(mockClient, clock.NewRealClock(), logger, true)

	require.NoError(t, flasher.FlashLights(context.Background(), FlashRequest{Lights: []string{"light.hall"}}))
	assert.Empty(t, mockClient.GetServiceCalls())
}
