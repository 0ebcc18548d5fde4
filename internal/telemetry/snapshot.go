package telemetry

import (
	"humidityintelligence/internal/config"
	"humidityintelligence/internal/derived"
)

// Snapshot answers aggregate questions about the current telemetry. Values
// are read on demand so every call reflects the reader's latest state.
type Snapshot struct {
	reader Reader
	index  *Index
}

// NewSnapshot pairs a reader with an index.
func NewSnapshot(reader Reader, index *Index) *Snapshot {
	return &Snapshot{reader: reader, index: index}
}

// Reader returns the underlying reader.
func (s *Snapshot) Reader() Reader {
	return s.reader
}

// Index returns the underlying index.
func (s *Snapshot) Index() *Index {
	return s.index
}

func (s *Snapshot) read(ids []string) []float64 {
	var out []float64
	for _, id := range ids {
		if v, ok := s.reader.ReadFloat(id); ok {
			out = append(out, v)
		}
	}
	return out
}

// Values returns every present reading of type t.
func (s *Snapshot) Values(t config.SensorType) []float64 {
	return s.read(s.index.Entities(t, ""))
}

// LevelAvg averages readings of type t on level, or the whole house when
// level is empty. The result is rounded to 0.1.
func (s *Snapshot) LevelAvg(t config.SensorType, level config.Level) (float64, bool) {
	return derived.Mean(s.read(s.index.Entities(t, level)))
}

// HouseAvg averages every reading of type t.
func (s *Snapshot) HouseAvg(t config.SensorType) (float64, bool) {
	return s.LevelAvg(t, "")
}

// RoomsAvg averages readings of type t across rooms.
func (s *Snapshot) RoomsAvg(t config.SensorType, rooms []string) (float64, bool) {
	if len(rooms) == 0 {
		return 0, false
	}
	return derived.Mean(s.read(s.index.RoomEntities(t, rooms)))
}

// RoomValue reads type t from the first room whose name contains hint.
func (s *Snapshot) RoomValue(hint string, t config.SensorType) (float64, bool) {
	id := s.index.FindRoomEntity(hint, t)
	if id == "" {
		return 0, false
	}
	return s.reader.ReadFloat(id)
}

// AnyAtLeast reports whether any reading of type t is >= threshold.
func (s *Snapshot) AnyAtLeast(t config.SensorType, threshold float64) bool {
	for _, v := range s.Values(t) {
		if v >= threshold {
			return true
		}
	}
	return false
}

// RoomMetrics is the dew-point picture for one room. Pointer fields are nil
// when the inputs are absent.
type RoomMetrics struct {
	Room         string       `json:"room"`
	Name         string       `json:"name"`
	Humidity     *float64     `json:"humidity"`
	Temperature  *float64     `json:"temperature"`
	DewPoint     *float64     `json:"dew_point"`
	Spread       *float64     `json:"spread"`
	Condensation derived.Risk `json:"condensation_risk"`
	Mould        derived.Risk `json:"mould_risk"`
}

func ptr(v float64) *float64 {
	return &v
}

// RoomMetrics computes per-room metrics in configuration order, using the
// dew point rounded to 0.1 as the computed sensors display it.
func (s *Snapshot) RoomMetrics() []RoomMetrics {
	var out []RoomMetrics
	for _, room := range s.index.Rooms() {
		m := RoomMetrics{
			Room:         room,
			Name:         s.index.RoomLabel(room),
			Condensation: derived.RiskUnknown,
			Mould:        derived.RiskUnknown,
		}
		rh, rhOK := s.reader.ReadFloat(s.index.RoomEntity(room, config.SensorHumidity))
		temp, tempOK := s.reader.ReadFloat(s.index.RoomEntity(room, config.SensorTemperature))
		if rhOK {
			m.Humidity = ptr(rh)
		}
		if tempOK {
			m.Temperature = ptr(temp)
		}
		if rhOK && tempOK {
			if dp, ok := derived.DewPoint(temp, rh); ok {
				dp = derived.Round1(dp)
				spread := temp - dp
				m.DewPoint = ptr(dp)
				m.Spread = ptr(spread)
				m.Condensation = derived.CondensationRisk(spread)
				m.Mould = derived.MouldRisk(derived.MouldLevel(rh, spread))
			}
		}
		out = append(out, m)
	}
	return out
}

// WorstCondensation returns the first room with the highest condensation
// risk. ok is false when no rooms are configured.
func (s *Snapshot) WorstCondensation() (RoomMetrics, bool) {
	return worst(s.RoomMetrics(), func(m RoomMetrics) derived.Risk { return m.Condensation })
}

// WorstMould returns the first room with the highest mould risk.
func (s *Snapshot) WorstMould() (RoomMetrics, bool) {
	return worst(s.RoomMetrics(), func(m RoomMetrics) derived.Risk { return m.Mould })
}

func worst(rooms []RoomMetrics, risk func(RoomMetrics) derived.Risk) (RoomMetrics, bool) {
	if len(rooms) == 0 {
		return RoomMetrics{}, false
	}
	best := rooms[0]
	for _, m := range rooms[1:] {
		if risk(m).Rank() > risk(best).Rank() {
			best = m
		}
	}
	return best, true
}

// CondensationDanger reports whether the worst room is at Danger.
func (s *Snapshot) CondensationDanger() bool {
	m, ok := s.WorstCondensation()
	return ok && m.Condensation == derived.RiskDanger
}

// MouldDanger reports whether the worst mould room is at Danger.
func (s *Snapshot) MouldDanger() bool {
	m, ok := s.WorstMould()
	return ok && m.Mould == derived.RiskDanger
}

// HumidityDanger reports whether any humidity reading is at or above threshold.
func (s *Snapshot) HumidityDanger(threshold float64) bool {
	return s.AnyAtLeast(config.SensorHumidity, threshold)
}

// roomSpreads yields the unrounded spread and humidity for every room with
// both readings.
func (s *Snapshot) roomSpreads(f func(rh, spread float64)) {
	for _, room := range s.index.Rooms() {
		rh, ok := s.reader.ReadFloat(s.index.RoomEntity(room, config.SensorHumidity))
		if !ok {
			continue
		}
		temp, ok := s.reader.ReadFloat(s.index.RoomEntity(room, config.SensorTemperature))
		if !ok {
			continue
		}
		spread, ok := derived.Spread(temp, rh)
		if !ok {
			continue
		}
		f(rh, spread)
	}
}

// WorstSpread returns the smallest dew-point spread across rooms.
func (s *Snapshot) WorstSpread() (float64, bool) {
	found := false
	lowest := 0.0
	s.roomSpreads(func(_, spread float64) {
		if !found || spread < lowest {
			lowest = spread
			found = true
		}
	})
	return lowest, found
}

// WorstMouldLevel returns the highest mould level across rooms, 0 when none
// can be computed.
func (s *Snapshot) WorstMouldLevel() int {
	level := 0
	s.roomSpreads(func(rh, spread float64) {
		if l := derived.MouldLevel(rh, spread); l > level {
			level = l
		}
	})
	return level
}
