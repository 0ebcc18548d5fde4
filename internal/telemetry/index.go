package telemetry

import (
	"strings"

	"humidityintelligence/internal/config"
)

// Index groups configured telemetry by room and level. Rooms keep the order
// they first appear in the configuration; when a room lists two sensors of
// the same type the later one wins.
type Index struct {
	sensors    []config.TelemetrySensor
	rooms      []string
	roomTypes  map[string]map[config.SensorType]string
	roomLabels map[string]string
	levels     map[config.Level]map[config.SensorType][]string
}

// NewIndex builds an index over sensors.
func NewIndex(sensors []config.TelemetrySensor) *Index {
	idx := &Index{
		sensors:    sensors,
		roomTypes:  make(map[string]map[config.SensorType]string),
		roomLabels: make(map[string]string),
		levels:     make(map[config.Level]map[config.SensorType][]string),
	}
	for _, s := range sensors {
		if s.Room != "" {
			types, ok := idx.roomTypes[s.Room]
			if !ok {
				types = make(map[config.SensorType]string)
				idx.roomTypes[s.Room] = types
				idx.rooms = append(idx.rooms, s.Room)
				label := s.Room
				if s.FriendlyName != "" {
					label = s.FriendlyName
				}
				idx.roomLabels[s.Room] = label
			}
			types[s.SensorType] = s.EntityID
		}
		if s.Level != "" {
			byType, ok := idx.levels[s.Level]
			if !ok {
				byType = make(map[config.SensorType][]string)
				idx.levels[s.Level] = byType
			}
			byType[s.SensorType] = append(byType[s.SensorType], s.EntityID)
		}
	}
	return idx
}

// Rooms returns room names in configuration order.
func (i *Index) Rooms() []string {
	return append([]string(nil), i.rooms...)
}

// RoomLabel returns the display label for a room.
func (i *Index) RoomLabel(room string) string {
	if label, ok := i.roomLabels[room]; ok {
		return label
	}
	return room
}

// RoomEntity returns the entity of type t in room, or "".
func (i *Index) RoomEntity(room string, t config.SensorType) string {
	return i.roomTypes[room][t]
}

// FindRoomEntity returns the entity of type t in the first room whose name
// contains hint, case-insensitively.
func (i *Index) FindRoomEntity(hint string, t config.SensorType) string {
	hint = strings.ToLower(hint)
	for _, room := range i.rooms {
		if strings.Contains(strings.ToLower(room), hint) {
			return i.roomTypes[room][t]
		}
	}
	return ""
}

// HasLevelType reports whether level has any sensor of type t.
func (i *Index) HasLevelType(level config.Level, t config.SensorType) bool {
	return len(i.levels[level][t]) > 0
}

// Levels returns the levels that have telemetry, level1 first.
func (i *Index) Levels() []config.Level {
	var out []config.Level
	for _, level := range config.Levels {
		if _, ok := i.levels[level]; ok {
			out = append(out, level)
		}
	}
	return out
}

// Entities returns every entity of type t, optionally restricted to level.
func (i *Index) Entities(t config.SensorType, level config.Level) []string {
	var out []string
	for _, s := range i.sensors {
		if s.SensorType != t {
			continue
		}
		if level != "" && s.Level != level {
			continue
		}
		out = append(out, s.EntityID)
	}
	return out
}

// RoomEntities returns the entities of type t whose room is in rooms,
// matched case-insensitively.
func (i *Index) RoomEntities(t config.SensorType, rooms []string) []string {
	set := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		if r != "" {
			set[strings.ToLower(r)] = true
		}
	}
	var out []string
	for _, s := range i.sensors {
		if s.SensorType == t && set[strings.ToLower(s.Room)] {
			out = append(out, s.EntityID)
		}
	}
	return out
}
