package telemetry

import (
	"testing"

	"humidityintelligence/internal/config"
	"humidityintelligence/internal/derived"
	"humidityintelligence/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSensors() []config.TelemetrySensor {
	return []config.TelemetrySensor{
		{EntityID: "sensor.kitchen_humidity", SensorType: config.SensorHumidity, Level: config.Level1, Room: "Kitchen"},
		{EntityID: "sensor.kitchen_temperature", SensorType: config.SensorTemperature, Level: config.Level1, Room: "Kitchen"},
		{EntityID: "sensor.landing_humidity", SensorType: config.SensorHumidity, Level: config.Level2, Room: "Landing", FriendlyName: "Upstairs Landing"},
		{EntityID: "sensor.landing_temperature", SensorType: config.SensorTemperature, Level: config.Level2, Room: "Landing"},
		{EntityID: "sensor.loft_humidity", SensorType: config.SensorHumidity, Level: config.Level2, Room: "Loft"},
		{EntityID: "sensor.hall_iaq", SensorType: config.SensorIAQ, Level: config.Level1, Room: "Hall"},
	}
}

func setupSnapshot(t *testing.T) (*ha.MockClient, *Snapshot) {
	t.Helper()
	mockClient := ha.NewMockClient()
	mockClient.SetState("sensor.kitchen_humidity", "75", map[string]interface{}{"friendly_name": "Kitchen Humidity"})
	mockClient.SetState("sensor.kitchen_temperature", "20", map[string]interface{}{})
	mockClient.SetState("sensor.landing_humidity", "45", map[string]interface{}{})
	mockClient.SetState("sensor.landing_temperature", "20", map[string]interface{}{})
	mockClient.SetState("sensor.loft_humidity", "unavailable", map[string]interface{}{})
	mockClient.SetState("sensor.hall_iaq", "not-a-number", map[string]interface{}{})
	return mockClient, NewSnapshot(NewHAReader(mockClient), NewIndex(testSensors()))
}

func TestHAReader(t *testing.T) {
	mockClient, snap := setupSnapshot(t)
	reader := snap.Reader()

	v, ok := reader.ReadFloat("sensor.kitchen_humidity")
	assert.True(t, ok)
	assert.Equal(t, 75.0, v)

	_, ok = reader.ReadFloat("sensor.loft_humidity")
	assert.False(t, ok, "unavailable is absent")
	_, ok = reader.ReadFloat("sensor.hall_iaq")
	assert.False(t, ok, "non-numeric is absent")
	_, ok = reader.ReadFloat("sensor.missing")
	assert.False(t, ok)

	state, ok := reader.ReadState("sensor.loft_humidity")
	assert.True(t, ok)
	assert.Equal(t, "unavailable", state)
	_, ok = reader.ReadState("sensor.missing")
	assert.False(t, ok)

	mockClient.SetState("binary_sensor.smoke", "on", nil)
	assert.True(t, reader.IsState("binary_sensor.smoke", "on"))
	assert.False(t, reader.IsState("binary_sensor.missing", "on"))

	assert.Equal(t, "Kitchen Humidity", reader.FriendlyName("sensor.kitchen_humidity"))
	assert.Equal(t, "sensor.kitchen_temperature", reader.FriendlyName("sensor.kitchen_temperature"))
}

func TestIndex(t *testing.T) {
	idx := NewIndex(testSensors())

	assert.Equal(t, []string{"Kitchen", "Landing", "Loft", "Hall"}, idx.Rooms())
	assert.Equal(t, "Upstairs Landing", idx.RoomLabel("Landing"))
	assert.Equal(t, "Kitchen", idx.RoomLabel("Kitchen"))
	assert.Equal(t, "sensor.kitchen_humidity", idx.FindRoomEntity("KITCH", config.SensorHumidity))
	assert.Equal(t, "", idx.FindRoomEntity("bathroom", config.SensorHumidity))
	assert.Equal(t, []config.Level{config.Level1, config.Level2}, idx.Levels())
	assert.True(t, idx.HasLevelType(config.Level1, config.SensorIAQ))
	assert.False(t, idx.HasLevelType(config.Level2, config.SensorIAQ))
	assert.Equal(t, []string{"sensor.landing_humidity", "sensor.loft_humidity"}, idx.Entities(config.SensorHumidity, config.Level2))
}

func TestSnapshotAverages(t *testing.T) {
	_, snap := setupSnapshot(t)

	assert.ElementsMatch(t, []float64{75, 45}, snap.Values(config.SensorHumidity))

	avg, ok := snap.HouseAvg(config.SensorHumidity)
	require.True(t, ok)
	assert.Equal(t, 60.0, avg)

	avg, ok = snap.LevelAvg(config.SensorHumidity, config.Level2)
	require.True(t, ok)
	assert.Equal(t, 45.0, avg, "unavailable loft reading is excluded")

	avg, ok = snap.RoomsAvg(config.SensorHumidity, []string{"KITCHEN", "nowhere"})
	require.True(t, ok)
	assert.Equal(t, 75.0, avg)

	_, ok = snap.RoomsAvg(config.SensorHumidity, nil)
	assert.False(t, ok)

	_, ok = snap.LevelAvg(config.SensorIAQ, config.Level1)
	assert.False(t, ok, "no usable readings")

	v, ok := snap.RoomValue("kitchen", config.SensorHumidity)
	require.True(t, ok)
	assert.Equal(t, 75.0, v)

	assert.True(t, snap.AnyAtLeast(config.SensorHumidity, 75))
	assert.False(t, snap.AnyAtLeast(config.SensorHumidity, 75.1))
}

func TestSnapshotRoomMetrics(t *testing.T) {
	mockClient, snap := setupSnapshot(t)

	spread, ok := snap.WorstSpread()
	require.True(t, ok)
	assert.InDelta(t, 4.57, spread, 0.01)
	assert.Equal(t, 2, snap.WorstMouldLevel())

	metrics := snap.RoomMetrics()
	require.Len(t, metrics, 4)
	kitchen := metrics[0]
	require.NotNil(t, kitchen.DewPoint)
	assert.Equal(t, 15.4, *kitchen.DewPoint)
	assert.Equal(t, derived.RiskWatch, kitchen.Condensation)
	assert.Equal(t, derived.RiskRisk, kitchen.Mould)
	assert.Equal(t, derived.RiskUnknown, metrics[2].Condensation, "loft has no temperature")
	assert.Nil(t, metrics[2].Spread)

	worst, ok := snap.WorstCondensation()
	require.True(t, ok)
	assert.Equal(t, "Kitchen", worst.Room)
	assert.False(t, snap.CondensationDanger())
	assert.False(t, snap.MouldDanger())
	assert.True(t, snap.HumidityDanger(derived.HumidityDangerPercentage))

	// A cold wet room reaches danger.
	mockClient.SetState("sensor.landing_humidity", "90", nil)
	mockClient.SetState("sensor.landing_temperature", "18", nil)
	worst, _ = snap.WorstCondensation()
	assert.Equal(t, "Upstairs Landing", worst.Name)
	assert.True(t, snap.CondensationDanger())
	assert.True(t, snap.MouldDanger())
	assert.Equal(t, 3, snap.WorstMouldLevel())
}

func TestSnapshotNoRooms(t *testing.T) {
	snap := NewSnapshot(NewHAReader(ha.NewMockClient()), NewIndex(nil))
	_, ok := snap.WorstSpread()
	assert.False(t, ok)
	assert.Equal(t, 0, snap.WorstMouldLevel())
	_, ok = snap.WorstCondensation()
	assert.False(t, ok)
	assert.False(t, snap.CondensationDanger())
}
