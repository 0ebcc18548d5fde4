package history

import (
	"humidityintelligence/internal/config"
	"humidityintelligence/internal/engine"
	"humidityintelligence/internal/sensors"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementHouse    = "hi_house"
	MeasurementLevel    = "hi_level"
	MeasurementRoom     = "hi_room"
	MeasurementDecision = "hi_decision"
)

// SnapshotPoints converts a snapshot to points: one house point, one per
// level with readings and one per room with readings.
func SnapshotPoints(s sensors.Snapshot) []*write.Point {
	var points []*write.Point

	house := map[string]interface{}{
		"target_low":          s.TargetLow,
		"target_high":         s.TargetHigh,
		"condensation_danger": s.CondensationDanger,
		"mould_danger":        s.MouldDanger,
		"humidity_danger":     s.HumidityDanger,
	}
	for t, v := range s.House {
		house[string(t)] = v
	}
	if s.HouseDrift7d != nil {
		house["drift_7d"] = *s.HouseDrift7d
	}
	if s.KitchenSlope != nil {
		house["kitchen_slope"] = *s.KitchenSlope
	}
	points = append(points, write.NewPoint(MeasurementHouse,
		map[string]string{"mode": s.Mode}, house, s.Time))

	for _, level := range config.Levels {
		avgs := s.Levels[level]
		if len(avgs) == 0 {
			continue
		}
		fields := make(map[string]interface{}, len(avgs))
		for t, v := range avgs {
			fields[string(t)] = v
		}
		points = append(points, write.NewPoint(MeasurementLevel,
			map[string]string{"level": string(level)}, fields, s.Time))
	}

	deltas := make(map[string]*float64, len(s.RoomDeltas))
	for _, d := range s.RoomDeltas {
		deltas[d.Room] = d.Delta
	}
	for _, room := range s.Rooms {
		fields := make(map[string]interface{})
		setFloat(fields, "humidity", room.Humidity)
		setFloat(fields, "temperature", room.Temperature)
		setFloat(fields, "dew_point", room.DewPoint)
		setFloat(fields, "spread", room.Spread)
		setFloat(fields, "humidity_delta", deltas[room.Room])
		if len(fields) == 0 {
			continue
		}
		fields["condensation_risk"] = string(room.Condensation)
		fields["mould_risk"] = string(room.Mould)
		points = append(points, write.NewPoint(MeasurementRoom,
			map[string]string{"room": room.Room}, fields, s.Time))
	}
	return points
}

func setFloat(fields map[string]interface{}, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}

// DecisionPoint converts a decision to a point tagged with lane and mode.
func DecisionPoint(d engine.Decision) *write.Point {
	fields := map[string]interface{}{
		"reason":       d.Reason,
		"co_active":    d.CO.Active,
		"alerts":       len(d.Alerts),
		"zones":        len(d.Zones),
		"aq":           len(d.AQ),
		"humidifiers":  len(d.Humidifiers),
		"isolate_fans": d.Isolation.Fans,
	}
	if d.HouseHumidity != nil {
		fields["house_humidity"] = *d.HouseHumidity
	}
	if d.Error != "" {
		fields["error"] = d.Error
	}
	return write.NewPoint(MeasurementDecision,
		map[string]string{"lane": string(d.Lane), "mode": d.Mode}, fields, d.Time)
}
