// Package sensors computes the dashboard sensors derived from telemetry and
// the engine's runtime state: averages, seasonal targets, worst rooms,
// humidity deltas, the kitchen temperature slope and the danger flags.
package sensors

import (
	"sort"
	"strings"
	"sync"
	"time"

	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/config"
	"humidityintelligence/internal/derived"
	"humidityintelligence/internal/state"
	"humidityintelligence/internal/telemetry"
)

// DriftMeanEntity is the host statistics sensor holding the 7-day mean
// house humidity.
const DriftMeanEntity = "sensor.house_humidity_mean_7d"

const defaultReason = "System is armed and monitoring sensors. No action is needed right now."

// RuntimeState exposes the flags and runtime text the mode sensor reads.
type RuntimeState interface {
	Bool(key string) bool
	GetString(key string) (string, error)
}

// PauseState reports whether a countdown is running.
type PauseState interface {
	TimerActive(key string) bool
}

// RoomRisk names the worst room for one risk.
type RoomRisk struct {
	Room string       `json:"room"`
	Risk derived.Risk `json:"risk"`
}

// RoomDelta is one room's humidity relative to the house average.
type RoomDelta struct {
	Room         string   `json:"room"`
	Name         string   `json:"name"`
	Delta        *float64 `json:"delta"`
	Humidity     *float64 `json:"room_humidity,omitempty"`
	HouseAverage *float64 `json:"house_average,omitempty"`
}

// Snapshot is one computation of every derived sensor. Averages only hold
// sensor types with at least one present reading.
type Snapshot struct {
	Time               time.Time                                      `json:"time"`
	House              map[config.SensorType]float64                  `json:"house"`
	Levels             map[config.Level]map[config.SensorType]float64 `json:"levels"`
	TargetLow          float64                                        `json:"target_low"`
	TargetHigh         float64                                        `json:"target_high"`
	HouseDrift7d       *float64                                       `json:"house_drift_7d,omitempty"`
	WorstCondensation  RoomRisk                                       `json:"worst_condensation"`
	WorstMould         RoomRisk                                       `json:"worst_mould"`
	Rooms              []telemetry.RoomMetrics                        `json:"rooms"`
	RoomDeltas         []RoomDelta                                    `json:"room_deltas"`
	KitchenDelta       *float64                                       `json:"kitchen_humidity_delta,omitempty"`
	BathroomDelta      *float64                                       `json:"bathroom_humidity_delta,omitempty"`
	KitchenSlope       *float64                                       `json:"kitchen_slope,omitempty"`
	KitchenSlopeSource string                                         `json:"kitchen_slope_source,omitempty"`
	CondensationDanger bool                                           `json:"condensation_danger"`
	MouldDanger        bool                                           `json:"mould_danger"`
	HumidityDanger     bool                                           `json:"humidity_danger"`
	Mode               string                                         `json:"mode"`
	ModeDisplay        string                                         `json:"mode_display"`
	Reason             string                                         `json:"reason"`
}

var averagedTypes = []config.SensorType{
	config.SensorHumidity,
	config.SensorTemperature,
	config.SensorIAQ,
	config.SensorPM25,
	config.SensorVOC,
	config.SensorCO2,
	config.SensorCO,
}

// Computer derives a Snapshot from the current telemetry and runtime state.
type Computer struct {
	reader  telemetry.Reader
	state   RuntimeState
	timers  PauseState
	clock   clock.Clock
	tracker *SlopeTracker

	mu    sync.RWMutex
	cfg   *config.Config
	index *telemetry.Index
}

// NewComputer creates a computer for cfg.
func NewComputer(reader telemetry.Reader, rs RuntimeState, timers PauseState, clk clock.Clock, tracker *SlopeTracker, cfg *config.Config) *Computer {
	return &Computer{
		reader:  reader,
		state:   rs,
		timers:  timers,
		clock:   clk,
		tracker: tracker,
		cfg:     cfg,
		index:   telemetry.NewIndex(cfg.Telemetry),
	}
}

// UpdateConfig swaps the telemetry layout.
func (c *Computer) UpdateConfig(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.index = telemetry.NewIndex(cfg.Telemetry)
}

func (c *Computer) current() (*config.Config, *telemetry.Index) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.index
}

// SlopeSources returns the temperature entities sampled by the tracker. It
// is empty unless slopes are calculated locally.
func (c *Computer) SlopeSources() []string {
	cfg, index := c.current()
	if cfg.Slope.Mode != config.SlopeCalculated {
		return nil
	}
	return index.Entities(config.SensorTemperature, "")
}

// Compute builds a snapshot.
func (c *Computer) Compute() Snapshot {
	cfg, index := c.current()
	snap := telemetry.NewSnapshot(c.reader, index)
	now := c.clock.Now()

	out := Snapshot{
		Time:   now,
		House:  make(map[config.SensorType]float64),
		Levels: make(map[config.Level]map[config.SensorType]float64),
	}
	for _, t := range averagedTypes {
		if v, ok := snap.HouseAvg(t); ok {
			out.House[t] = v
		}
	}
	for _, level := range index.Levels() {
		avgs := make(map[config.SensorType]float64)
		for _, t := range averagedTypes {
			if v, ok := snap.LevelAvg(t, level); ok {
				avgs[t] = v
			}
		}
		out.Levels[level] = avgs
	}

	out.TargetLow, out.TargetHigh = derived.SeasonalBand(now.Month())
	houseRH, houseOK := out.House[config.SensorHumidity]
	if mean, ok := c.reader.ReadFloat(DriftMeanEntity); ok && houseOK {
		out.HouseDrift7d = ptr(derived.Round1(houseRH - mean))
	}

	out.Rooms = snap.RoomMetrics()
	out.WorstCondensation = RoomRisk{Room: "Unknown", Risk: derived.RiskUnknown}
	out.WorstMould = RoomRisk{Room: "Unknown", Risk: derived.RiskUnknown}
	if m, ok := snap.WorstCondensation(); ok {
		out.WorstCondensation = RoomRisk{Room: m.Name, Risk: m.Condensation}
	}
	if m, ok := snap.WorstMould(); ok {
		out.WorstMould = RoomRisk{Room: m.Name, Risk: m.Mould}
	}
	out.CondensationDanger = out.WorstCondensation.Risk == derived.RiskDanger
	out.MouldDanger = out.WorstMould.Risk == derived.RiskDanger
	out.HumidityDanger = snap.HumidityDanger(derived.HumidityDangerPercentage)

	out.RoomDeltas = roomDeltas(snap, index, houseRH, houseOK)
	out.KitchenDelta = hintDelta(snap, "kitchen", houseRH, houseOK)
	out.BathroomDelta = hintDelta(snap, "bathroom", houseRH, houseOK)
	out.KitchenSlope, out.KitchenSlopeSource = c.kitchenSlope(cfg, index)

	out.Mode, out.ModeDisplay = c.mode()
	out.Reason = c.reason()
	return out
}

func ptr(v float64) *float64 {
	return &v
}

func roomDeltas(snap *telemetry.Snapshot, index *telemetry.Index, house float64, houseOK bool) []RoomDelta {
	rooms := index.Rooms()
	sort.SliceStable(rooms, func(i, j int) bool { return strings.ToLower(rooms[i]) < strings.ToLower(rooms[j]) })

	var out []RoomDelta
	for _, room := range rooms {
		id := index.RoomEntity(room, config.SensorHumidity)
		if id == "" {
			continue
		}
		d := RoomDelta{Room: room, Name: index.RoomLabel(room)}
		if rh, ok := snap.Reader().ReadFloat(id); ok && houseOK {
			d.Delta = ptr(derived.Round1(rh - house))
			d.Humidity = ptr(rh)
			d.HouseAverage = ptr(house)
		}
		out = append(out, d)
	}
	return out
}

func hintDelta(snap *telemetry.Snapshot, hint string, house float64, houseOK bool) *float64 {
	v, ok := snap.RoomValue(hint, config.SensorHumidity)
	if !ok || !houseOK {
		return nil
	}
	return ptr(derived.Round1(v - house))
}

// kitchenSlope reads the kitchen temperature slope from the local tracker or
// from the host sensor paired with the kitchen temperature entity.
func (c *Computer) kitchenSlope(cfg *config.Config, index *telemetry.Index) (*float64, string) {
	temp := index.FindRoomEntity("kitchen", config.SensorTemperature)
	switch cfg.Slope.Mode {
	case config.SlopeCalculated:
		if temp == "" || c.tracker == nil {
			return nil, ""
		}
		if v, ok := c.tracker.Slope(temp); ok {
			return ptr(v), temp
		}
		return nil, temp
	case config.SlopeProvided:
		source := cfg.Slope.Provided[temp]
		if source == "" {
			for from, to := range cfg.Slope.Provided {
				if strings.Contains(strings.ToLower(from), "kitchen") || strings.Contains(strings.ToLower(to), "kitchen") {
					source = to
					break
				}
			}
		}
		if source == "" {
			return nil, ""
		}
		if v, ok := c.reader.ReadFloat(source); ok {
			return ptr(v), source
		}
		return nil, source
	default:
		return nil, ""
	}
}

// mode mirrors the runtime mode, overridden by pause and the control
// switches.
func (c *Computer) mode() (string, string) {
	switch {
	case c.timers != nil && c.timers.TimerActive(state.TimerPause):
		return "paused", "PAUSED"
	case !c.state.Bool(state.KeyControlEnabled):
		return "disabled", "DISABLED"
	case c.state.Bool(state.KeyManualOverride):
		return "manual_override", "MANUAL OVERRIDE"
	}

	if mode, err := c.state.GetString(state.KeyRuntimeMode); err == nil && mode != "" {
		display, _ := c.state.GetString(state.KeyRuntimeModeDisplay)
		if strings.TrimSpace(display) == "" {
			display = strings.ToUpper(strings.ReplaceAll(mode, "_", " "))
		}
		return mode, strings.TrimSpace(display)
	}

	switch {
	case c.state.Bool(state.KeyCOEmergencyActive):
		return "co_emergency", "CO EMERGENCY"
	case c.state.Bool(state.AQActiveKey(config.Level2.FlagName())),
		c.state.Bool(state.AQActiveKey(config.Level1.FlagName())):
		return "air_quality", "AIR QUALITY"
	}
	return state.DefaultRuntimeMode, state.DefaultRuntimeDisplay
}

func (c *Computer) reason() string {
	reason, err := c.state.GetString(state.KeyRuntimeReason)
	if err != nil || strings.TrimSpace(reason) == "" {
		return defaultReason
	}
	return strings.TrimSpace(reason)
}
