package publish

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"humidityintelligence/internal/config"
	"humidityintelligence/internal/derived"
	"humidityintelligence/internal/engine"
	"humidityintelligence/internal/sensors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	_ Publisher               = (*RealPublisher)(nil)
	_ Publisher               = (*FakePublisher)(nil)
	_ Publisher               = Nop{}
	_ sensors.Sink            = (*FakePublisher)(nil)
	_ engine.DecisionRecorder = (*RuntimeRecorder)(nil)
)

func TestFormatRuntimePayload(t *testing.T) {
	ts := time.Date(2026, 1, 15, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	payload, err := FormatRuntimePayload(ts, "cooking", "Cooking", "Cooking is active.")
	require.NoError(t, err)

	var parsed RuntimePayload
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, "2026-01-15T11:30:00Z", parsed.Timestamp)
	assert.Equal(t, "cooking", parsed.Mode)
	assert.Equal(t, "Cooking", parsed.Display)
	assert.Equal(t, "Cooking is active.", parsed.Reason)
}

func TestFormatSnapshotPayload(t *testing.T) {
	drift := 2.5
	payload, err := FormatSnapshotPayload(sensors.Snapshot{
		House:              map[config.SensorType]float64{config.SensorHumidity: 52.5},
		HouseDrift7d:       &drift,
		WorstMould:         sensors.RoomRisk{Room: "Bathroom", Risk: derived.RiskRisk},
		CondensationDanger: true,
		Mode:               "normal",
	})
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &parsed))
	assert.Equal(t, map[string]interface{}{"humidity": 52.5}, parsed["house"])
	assert.Equal(t, 2.5, parsed["house_drift_7d"])
	assert.Equal(t, map[string]interface{}{"room": "Bathroom", "risk": "Risk"}, parsed["worst_mould"])
	assert.Equal(t, true, parsed["condensation_danger"])
	assert.NotContains(t, parsed, "kitchen_slope")
}

func TestOptionsTopic(t *testing.T) {
	assert.Equal(t, "hi/runtime", Options{TopicPrefix: "hi/"}.Topic(TopicRuntime))
	assert.Equal(t, "hi/status", Options{TopicPrefix: "hi"}.Topic(TopicStatus))
	assert.Equal(t, "sensors", Options{}.Topic(TopicSensors))
}

func TestRuntimeRecorder_SkipsUnchanged(t *testing.T) {
	fake := NewFakePublisher()
	rec := NewRuntimeRecorder(fake, zap.NewNop())

	d := engine.Decision{Mode: "normal", Display: "NORMAL", Reason: "armed"}
	rec.RecordDecision(d)
	rec.RecordDecision(d)
	require.Len(t, fake.Runtime, 1)

	d.Mode, d.Display, d.Reason = "cooking", "Cooking", "Cooking is active."
	rec.RecordDecision(d)
	require.Len(t, fake.Runtime, 2)
	assert.Equal(t, "cooking", fake.Runtime[1].Mode)
}

func TestRuntimeRecorder_RetriesAfterFailure(t *testing.T) {
	fake := NewFakePublisher()
	fake.PublishError = errors.New("broker down")
	rec := NewRuntimeRecorder(fake, zap.NewNop())

	d := engine.Decision{Mode: "normal", Display: "NORMAL", Reason: "armed"}
	rec.RecordDecision(d)
	assert.Empty(t, fake.Runtime)

	fake.PublishError = nil
	rec.RecordDecision(d)
	assert.Len(t, fake.Runtime, 1)
}

func TestFakePublisher(t *testing.T) {
	fake := NewFakePublisher()
	require.NoError(t, fake.PublishSnapshot(sensors.Snapshot{Mode: "normal"}))
	require.NoError(t, fake.Close())
	assert.Len(t, fake.Snapshots, 1)
	assert.True(t, fake.Closed)

	assert.NoError(t, Nop{}.PublishRuntime("a", "b", "c"))
	assert.NoError(t, Nop{}.PublishSnapshot(sensors.Snapshot{}))
}
