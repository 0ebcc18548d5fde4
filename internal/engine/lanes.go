package engine

import (
	"fmt"
	"strings"
	"time"

	"humidityintelligence/internal/config"
	"humidityintelligence/internal/derived"
	"humidityintelligence/internal/output"
	"humidityintelligence/internal/state"
	"humidityintelligence/internal/suntime"
	"humidityintelligence/internal/telemetry"

	"go.uber.org/zap"
)

// decide runs the priority chain. Callers hold mu.
func (e *Engine) decide(now time.Time) Decision {
	cfg := e.cfg
	snap := telemetry.NewSnapshot(e.deps.Reader, e.index)
	d := Decision{
		Time: now,
		Isolation: IsolationState{
			Fans:        e.deps.Flags.Bool(state.KeyIsolateFans),
			Humidifiers: e.deps.Flags.Bool(state.KeyIsolateHumidifiers),
		},
	}
	if avg, ok := snap.HouseAvg(config.SensorHumidity); ok {
		d.HouseHumidity = &avg
	}

	if lock := e.controlLock(); lock != "" {
		e.returnToNormal(&d)
		d.Lane = LaneLocked
		d.Lock = lock
		return d
	}

	if reason, blocked := e.gateStatus(cfg, now); blocked {
		action := cfg.TimeGate.BlockedAction()
		if action == config.ActionSafeState {
			e.returnToNormal(&d)
		}
		d.Lane = LaneGate
		d.Mode, d.Display = ModeGlobalGate, DisplayGlobalGate
		d.Gate = &GateBlock{Action: action, Reason: reason}
		return d
	}

	if e.deps.Timers.TimerActive(state.TimerPause) {
		e.returnToNormal(&d)
		d.Lane = LanePaused
		return d
	}

	co, coOutputs := e.coSettings(cfg)
	d.CO = COStatus{Start: co.Start, Clear: co.Clear, Outputs: coOutputs}
	if e.coEmergency(snap, co, now) {
		e.applyCOEmergency(cfg, coOutputs)
		d.Lane = LaneCOEmergency
		d.Mode, d.Display = ModeCOEmergency, DisplayCOEmergency
		d.CO.Active = true
		d.CO.BelowSince = e.coBelowSince
		return d
	}
	e.setBool(state.KeyCOEmergencyActive, false)

	if labels := e.handleAlerts(cfg, snap, now); len(labels) > 0 {
		e.deactivateAQ(cfg, true)
		e.setZoneOutputsAuto(cfg, nil)
		e.deactivateHumidifiers(cfg, true)
		d.Lane = LaneAlert
		d.Mode, d.Display = ModeAlert, DisplayAlert
		d.Alerts = labels
		return d
	}

	d.Humidifiers = e.handleHumidifiers(cfg, snap, now)

	for _, key := range config.ZoneKeys {
		if z := e.handleZone(cfg, key, snap); z != nil {
			d.Zones = append(d.Zones, *z)
		}
	}
	zoneActive := len(d.Zones) > 0

	aqActive := false
	if zoneActive {
		e.releaseAQOutputs(cfg, zoneOutputIDs(d.Zones))
		e.deactivateAQ(cfg, false)
	} else {
		d.AQ = e.handleAQ(cfg, snap)
		aqActive = len(d.AQ) > 0
		var exclude []string
		if aqActive {
			exclude = e.activeAQOutputs(cfg)
		}
		e.setZoneOutputsAuto(cfg, exclude)
	}

	switch {
	case zoneActive:
		d.Lane = LaneZone
		d.Mode, d.Display = d.Zones[0].Mode, d.Zones[0].Label
	case aqActive:
		d.Lane = LaneAirQuality
		d.Mode, d.Display = ModeAirQuality, DisplayAirQuality
	default:
		d.Lane = LaneNormal
		d.Mode, d.Display = ModeNormal, DisplayNormal
	}
	return d
}

func (e *Engine) controlLock() string {
	if !e.deps.Flags.Bool(state.KeyControlEnabled) {
		return ReasonControlDisabled
	}
	if e.deps.Flags.Bool(state.KeyManualOverride) {
		return ReasonManualOverride
	}
	return ""
}

// returnToNormal releases every output the engine drives.
func (e *Engine) returnToNormal(d *Decision) {
	cfg := e.cfg
	e.clearAlertSwitches()
	e.setZoneOutputsAuto(cfg, nil)
	e.deactivateAQ(cfg, true)
	e.deactivateHumidifiers(cfg, true)
	d.Mode, d.Display = ModeNormal, DisplayNormal
}

// gateStatus reports whether the time or presence gate blocks this cycle.
// A time gate whose outside action is no_action lets the cycle through
// without consulting presence.
func (e *Engine) gateStatus(cfg *config.Config, now time.Time) (string, bool) {
	tg := cfg.TimeGate
	if tg.Enabled && tg.Start != "" && tg.End != "" {
		start, errStart := e.deps.Windows.Resolve(tg.Start, now)
		end, errEnd := e.deps.Windows.Resolve(tg.End, now)
		switch {
		case errStart != nil || errEnd != nil:
			e.logger.Warn("Time gate window could not be resolved; gate ignored",
				zap.String("start", tg.Start),
				zap.String("end", tg.End),
				zap.NamedError("start_error", errStart),
				zap.NamedError("end_error", errEnd))
		case !suntime.InWindow(now, start, end):
			action := tg.GateAction()
			if action == config.ActionNoAction {
				return "", false
			}
			return fmt.Sprintf("Time gate is outside %s - %s; action '%s' is active.",
				start.Format("15:04"), end.Format("15:04"), action), true
		}
	}

	pg := cfg.PresenceGate
	if pg.Enabled && len(pg.Entities) > 0 && len(pg.PresentStates) > 0 {
		for _, entityID := range pg.Entities {
			s, ok := e.deps.Reader.ReadState(entityID)
			if !ok {
				continue
			}
			for _, present := range pg.PresentStates {
				if s == present {
					return "", false
				}
			}
		}
		return fmt.Sprintf("Presence gate is active (no entity in present states). Snapshot: %s.",
			e.presenceSnapshot(pg.Entities)), true
	}
	return "", false
}

func (e *Engine) presenceSnapshot(entities []string) string {
	parts := make([]string, 0, len(entities))
	for _, entityID := range entities {
		s, ok := e.deps.Reader.ReadState(entityID)
		if !ok {
			s = "unknown"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", e.deps.Reader.FriendlyName(entityID), s))
	}
	return strings.Join(parts, ", ")
}

// coSettings resolves the shared CO hysteresis band and the outputs forced
// to 100%. Enabled co_emergency alerts contribute their clamped thresholds
// and fan/switch outputs; with no outputs configured every known fan output
// is used.
func (e *Engine) coSettings(cfg *config.Config) (derived.COThresholds, []string) {
	var thresholds []float64
	var outputs []string
	for _, a := range cfg.Alerts {
		if !a.Enabled || a.Kind != derived.AlertCOEmergency {
			continue
		}
		thresholds = append(thresholds, a.Threshold)
		for _, id := range a.Outputs {
			if d := output.Domain(id); d == "fan" || d == "switch" {
				outputs = append(outputs, id)
			}
		}
	}
	co := derived.ResolveCOEmergency(thresholds)
	if len(outputs) == 0 {
		return co, cfg.FanOutputs()
	}
	return co, config.Dedupe(outputs)
}

// coEmergency updates the CO latch. Any reading at or above start latches
// it; a latched emergency ends once every reading has stayed below clear
// for COClearHold.
func (e *Engine) coEmergency(snap *telemetry.Snapshot, co derived.COThresholds, now time.Time) bool {
	values := snap.Values(config.SensorCO)
	for _, v := range values {
		if v >= co.Start {
			if !e.coActive {
				e.logger.Warn("CO emergency started", zap.Float64("co", v), zap.Float64("threshold", co.Start))
			}
			e.coActive = true
			e.coBelowSince = time.Time{}
			return true
		}
	}
	if !e.coActive {
		return false
	}
	if e.coClearReady(values, co.Clear, now) {
		e.logger.Info("CO emergency cleared", zap.Float64("clear_threshold", co.Clear))
		e.coActive = false
		e.coBelowSince = time.Time{}
		return false
	}
	return true
}

func (e *Engine) coClearReady(values []float64, clear float64, now time.Time) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if v >= clear {
			e.coBelowSince = time.Time{}
			return false
		}
	}
	if e.coBelowSince.IsZero() {
		e.coBelowSince = now
	}
	return now.Sub(e.coBelowSince) >= COClearHold
}

func (e *Engine) applyCOEmergency(cfg *config.Config, outputs []string) {
	known := config.Dedupe(append(cfg.FanOutputs(), e.aqOutputs(cfg)...))
	e.deactivateAQ(cfg, false)
	e.deactivateHumidifiers(cfg, true)
	e.clearAlertSwitches()
	e.setBool(state.KeyCOEmergencyActive, true)

	selected := make(map[string]bool, len(outputs))
	for _, id := range outputs {
		selected[id] = true
	}
	var toAuto []string
	for _, id := range known {
		if !selected[id] {
			toAuto = append(toAuto, id)
		}
	}
	e.setAuto(toAuto)
	e.setLevel(outputs, derived.Fan100)
}

// handleAlerts evaluates alerts in order, updates their activity switches
// and fires debounced flashes. It returns the labels of triggered alerts.
func (e *Engine) handleAlerts(cfg *config.Config, snap *telemetry.Snapshot, now time.Time) []string {
	triggered := make([]bool, state.MaxAlertSwitches)
	var labels []string
	for i, a := range cfg.Alerts {
		if i >= state.MaxAlertSwitches {
			break
		}
		if !a.Enabled || !e.alertTriggered(a, snap) {
			continue
		}
		triggered[i] = true
		labels = append(labels, AlertLabel(i, a))

		if last, ok := e.lastFlash[i]; ok && now.Sub(last) < AlertFlashDebounce {
			continue
		}
		e.lastFlash[i] = now
		e.flash(i, a)
	}
	for i, on := range triggered {
		e.setBool(state.AlertKey(i), on)
	}
	return labels
}

func (e *Engine) alertTriggered(a config.Alert, snap *telemetry.Snapshot) bool {
	switch a.Kind {
	case derived.AlertCustomBinary:
		return a.CustomTrigger != "" && e.deps.Reader.IsState(a.CustomTrigger, "on")
	case derived.AlertCondensationDanger:
		return snap.CondensationDanger()
	case derived.AlertMouldDanger:
		return snap.MouldDanger()
	case derived.AlertHumidityDanger:
		return snap.AnyAtLeast(config.SensorHumidity, a.Threshold)
	case derived.AlertCOEmergency:
		return snap.AnyAtLeast(config.SensorCO, a.Threshold)
	default:
		return false
	}
}

// flash fires the alert effect without waiting for it.
func (e *Engine) flash(idx int, a config.Alert) {
	if e.deps.Flasher == nil || len(a.Lights) == 0 {
		return
	}
	req := output.FlashRequest{
		Lights:      a.Lights,
		PowerEntity: a.PowerEntity,
		Color:       a.Color(),
		Duration:    time.Duration(a.Duration) * time.Second,
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.deps.Flasher.FlashLights(e.ctx, req); err != nil {
			e.logger.Warn("Alert flash failed", zap.Int("alert", idx+1), zap.Error(err))
		}
	}()
}

func (e *Engine) clearAlertSwitches() {
	for i := 0; i < state.MaxAlertSwitches; i++ {
		e.setBool(state.AlertKey(i), false)
	}
}

// handleZone runs one zone. The zone runs at the highest level among its
// satisfied triggers; boost triggers use the boost level.
func (e *Engine) handleZone(cfg *config.Config, key config.ZoneKey, snap *telemetry.Snapshot) *ZoneActivity {
	z, ok := cfg.Zones[key]
	if !ok || !z.Enabled || len(z.Triggers) == 0 || len(z.Outputs) == 0 {
		return nil
	}

	var level derived.FanLevel
	var details []string
	for _, t := range z.Triggers {
		def := t.Def()
		value, ok := e.zoneMetric(z, def.Metric, snap)
		if !ok || !def.Op.Satisfied(value, t.Threshold) {
			continue
		}
		candidate := z.OutputLevel
		if def.Boost {
			candidate = z.BoostLevel
		}
		level = derived.MaxFanLevel(level, candidate)
		details = append(details, def.Detail(value, t.Threshold))
	}
	if level == "" {
		return nil
	}

	e.setLevel(z.Outputs, level)
	mode, label := zoneMode(key, z)
	return &ZoneActivity{
		Key:     key,
		Mode:    mode,
		Label:   label,
		Level:   level,
		Outputs: e.outputs(z.Outputs),
		Details: details,
	}
}

func zoneMode(key config.ZoneKey, z config.Zone) (string, string) {
	mode, label := ModeCooking, "Cooking"
	if key == config.Zone2 {
		mode, label = ModeBathroom, "Bathroom"
	}
	if z.UILabel != "" {
		label = z.UILabel
	}
	return mode, label
}

func (e *Engine) zoneMetric(z config.Zone, metric config.Metric, snap *telemetry.Snapshot) (float64, bool) {
	switch metric {
	case config.MetricHumidityDelta:
		rooms, ok := snap.RoomsAvg(config.SensorHumidity, z.Rooms)
		if !ok {
			return 0, false
		}
		house, ok := snap.HouseAvg(config.SensorHumidity)
		if !ok {
			return 0, false
		}
		return rooms - house, true
	case config.MetricWorstSpread:
		return snap.WorstSpread()
	case config.MetricWorstMould:
		return float64(snap.WorstMouldLevel()), true
	default:
		return levelMetric(metric, z.Level, snap)
	}
}

var metricSensors = map[config.Metric]config.SensorType{
	config.MetricLevelIAQ:  config.SensorIAQ,
	config.MetricLevelPM25: config.SensorPM25,
	config.MetricLevelVOC:  config.SensorVOC,
	config.MetricLevelCO2:  config.SensorCO2,
	config.MetricLevelCO:   config.SensorCO,
}

func levelMetric(metric config.Metric, level config.Level, snap *telemetry.Snapshot) (float64, bool) {
	t, ok := metricSensors[metric]
	if !ok {
		return 0, false
	}
	return snap.LevelAvg(t, level)
}

func (e *Engine) setZoneOutputsAuto(cfg *config.Config, exclude []string) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var outputs []string
	for _, id := range cfg.ZoneOutputs() {
		if !skip[id] {
			outputs = append(outputs, id)
		}
	}
	e.setAuto(outputs)
}

// handleAQ runs the per-level air-quality state machines and returns the
// lanes that are running.
func (e *Engine) handleAQ(cfg *config.Config, snap *telemetry.Snapshot) []AQActivity {
	var active []AQActivity
	for _, level := range config.Levels {
		lane, ok := cfg.AQ[level]
		if !ok || !lane.Enabled || len(lane.Outputs) == 0 {
			e.releaseHeld(cfg, level)
			e.clearAQ(level)
			continue
		}

		running := e.scheduler.Running(level)
		details := e.aqTriggerDetails(level, lane, snap)
		triggered := len(details) > 0
		if triggered {
			if !running || !e.aqTriggered[level] {
				e.startAQ(level, lane)
				running = true
			}
		} else if !running {
			e.clearAQ(level)
		}
		e.aqTriggered[level] = triggered

		if !running && !triggered {
			continue
		}
		if !triggered {
			details = []string{ReasonAQWindow}
		}
		active = append(active, AQActivity{
			Level:       level,
			OutputLevel: lane.OutputLevel,
			RunDuration: lane.RunDuration,
			Outputs:     e.outputs(lane.Outputs),
			Details:     details,
		})
	}
	return active
}

func (e *Engine) aqTriggerDetails(level config.Level, lane config.AQLane, snap *telemetry.Snapshot) []string {
	var details []string
	for _, t := range lane.Triggers {
		def := t.Def()
		value, ok := levelMetric(def.Metric, level, snap)
		if ok && def.Op.Satisfied(value, t.Threshold) {
			details = append(details, def.Detail(value, t.Threshold))
		}
	}
	return details
}

// startAQ runs the lane's outputs and (re)starts its run window.
func (e *Engine) startAQ(level config.Level, lane config.AQLane) {
	name := level.FlagName()
	e.setLevel(lane.Outputs, lane.OutputLevel)
	e.aqHeld[level] = lane.Outputs
	e.setBool(state.AQActiveKey(name), true)
	e.deps.Timers.StartTimer(state.AQRunTimer(name), lane.RunDuration)
	e.scheduler.Schedule(level, lane.RunDuration, func() { e.aqExpired(level) })
	e.logger.Info("AQ run window started",
		zap.String("level", string(level)),
		zap.Duration("duration", lane.RunDuration))
}

// aqExpired handles the end of a run window: restart while the trigger
// holds and the gate is open, otherwise release outputs no other running
// lane claims.
func (e *Engine) aqExpired(level config.Level) {
	if e.isStopped() {
		return
	}
	e.mu.Lock()
	if e.isStopped() || e.scheduler.Running(level) {
		// Stopped, or a cycle restarted the window while this callback
		// waited for mu.
		e.mu.Unlock()
		return
	}
	lane, ok := e.cfg.AQ[level]
	if !ok || !lane.Enabled || len(lane.Outputs) == 0 {
		e.releaseHeld(e.cfg, level)
		e.clearAQ(level)
		e.mu.Unlock()
		e.RequestEvaluate()
		return
	}

	snap := telemetry.NewSnapshot(e.deps.Reader, e.index)
	if details := e.aqTriggerDetails(level, lane, snap); len(details) > 0 {
		if _, blocked := e.gateStatus(e.cfg, e.deps.Clock.Now()); !blocked {
			e.logger.Info("AQ trigger still active, restarting run window", zap.String("level", string(level)))
			e.startAQ(level, lane)
			e.mu.Unlock()
			return
		}
		e.logger.Info("AQ trigger still active but the gate is closed, ending run window", zap.String("level", string(level)))
	}

	reserved := e.aqReservedByOthers(e.cfg, level)
	var release []string
	for _, id := range lane.Outputs {
		if !reserved[id] {
			release = append(release, id)
		}
	}
	e.setAuto(release)
	name := level.FlagName()
	e.setBool(state.AQActiveKey(name), false)
	e.deps.Timers.CancelTimer(state.AQRunTimer(name))
	e.aqTriggered[level] = false
	delete(e.aqHeld, level)
	e.mu.Unlock()

	e.logger.Info("AQ run window finished", zap.String("level", string(level)), zap.Strings("released", release))
	e.RequestEvaluate()
}

func (e *Engine) aqReservedByOthers(cfg *config.Config, level config.Level) map[string]bool {
	reserved := make(map[string]bool)
	for other, lane := range cfg.AQ {
		if other == level || !e.scheduler.Running(other) {
			continue
		}
		for _, id := range lane.Outputs {
			reserved[id] = true
		}
	}
	return reserved
}

func (e *Engine) activeAQOutputs(cfg *config.Config) []string {
	var out []string
	for _, level := range config.Levels {
		if lane, ok := cfg.AQ[level]; ok && e.scheduler.Running(level) {
			out = append(out, lane.Outputs...)
		}
	}
	return config.Dedupe(out)
}

// releaseAQOutputs hands every AQ output back to auto except those in keep.
// Outputs held by a window whose lane has since been removed are included.
func (e *Engine) releaseAQOutputs(cfg *config.Config, keep []string) {
	skip := make(map[string]bool, len(keep))
	for _, id := range keep {
		skip[id] = true
	}
	var release []string
	for _, id := range e.aqOutputs(cfg) {
		if !skip[id] {
			release = append(release, id)
		}
	}
	e.setAuto(release)
}

// releaseHeld returns the outputs level's window was driving to auto,
// leaving those another running window still claims.
func (e *Engine) releaseHeld(cfg *config.Config, level config.Level) {
	held := e.aqHeld[level]
	if len(held) == 0 {
		return
	}
	reserved := e.aqReservedByOthers(cfg, level)
	var release []string
	for _, id := range held {
		if !reserved[id] {
			release = append(release, id)
		}
	}
	e.setAuto(release)
	e.logger.Info("AQ lane disabled or removed, released outputs",
		zap.String("level", string(level)),
		zap.Strings("released", release))
}

// aqOutputs lists configured AQ outputs plus any still held by a window.
func (e *Engine) aqOutputs(cfg *config.Config) []string {
	var out []string
	for _, level := range config.Levels {
		if lane, ok := cfg.AQ[level]; ok {
			out = append(out, lane.Outputs...)
		}
		out = append(out, e.aqHeld[level]...)
	}
	return config.Dedupe(out)
}

func zoneOutputIDs(zones []ZoneActivity) []string {
	var ids []string
	for _, z := range zones {
		for _, o := range z.Outputs {
			ids = append(ids, o.EntityID)
		}
	}
	return ids
}

// clearAQ cancels one level's run window and clears its flags.
func (e *Engine) clearAQ(level config.Level) {
	name := level.FlagName()
	e.scheduler.Cancel(level)
	e.setBool(state.AQActiveKey(name), false)
	e.deps.Timers.CancelTimer(state.AQRunTimer(name))
	e.aqTriggered[level] = false
	delete(e.aqHeld, level)
}

// deactivateAQ cancels every run window, optionally handing AQ outputs
// back to auto.
func (e *Engine) deactivateAQ(cfg *config.Config, setAuto bool) {
	e.scheduler.CancelAll()
	if setAuto {
		e.setAuto(e.aqOutputs(cfg))
	}
	for _, level := range config.Levels {
		name := level.FlagName()
		e.setBool(state.AQActiveKey(name), false)
		e.deps.Timers.CancelTimer(state.AQRunTimer(name))
		e.aqTriggered[level] = false
		delete(e.aqHeld, level)
	}
}

// handleHumidifiers applies the per-level humidifier hysteresis and returns
// the lanes that are on.
func (e *Engine) handleHumidifiers(cfg *config.Config, snap *telemetry.Snapshot, now time.Time) []HumidifierActivity {
	var active []HumidifierActivity
	for _, level := range config.Levels {
		key := state.HumidifierActiveKey(level.FlagName())
		lane, ok := cfg.Humidifiers[level]
		if !ok {
			e.setBool(key, false)
			continue
		}
		if !lane.Enabled {
			e.setHumidifiers(lane.Outputs, false)
			e.setBool(key, false)
			continue
		}
		if len(lane.Outputs) == 0 {
			e.setBool(key, false)
			continue
		}
		avg, ok := snap.LevelAvg(config.SensorHumidity, level)
		if !ok {
			e.setBool(key, false)
			continue
		}

		band := derived.NewHumidifierBand(now.Month(), lane.BandAdjust, lane.RecoveryInBand)
		on := e.deps.Flags.Bool(key)
		switch {
		case avg <= band.Low:
			if !on {
				e.setHumidifiers(lane.Outputs, true)
				e.setBool(key, true)
				on = true
			}
		case avg >= band.RecoveryOff:
			if on {
				e.setHumidifiers(lane.Outputs, false)
				e.setBool(key, false)
				on = false
			}
		}
		if on {
			active = append(active, HumidifierActivity{
				Level:    level,
				Humidity: avg,
				Band:     band,
				Outputs:  e.outputs(lane.Outputs),
			})
		}
	}
	return active
}

// deactivateHumidifiers clears both humidifier flags, optionally switching
// every configured humidifier off.
func (e *Engine) deactivateHumidifiers(cfg *config.Config, turnOff bool) {
	if turnOff {
		e.setHumidifiers(cfg.HumidifierOutputs(), false)
	}
	for _, level := range config.Levels {
		e.setBool(state.HumidifierActiveKey(level.FlagName()), false)
	}
}
