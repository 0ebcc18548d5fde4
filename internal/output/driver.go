// Package output drives fans, switches, humidifiers and alert lights on the
// host. Every command checks the entity's current state first so repeating
// a command is a no-op.
package output

import (
	"errors"
	"fmt"
	"strings"

	"humidityintelligence/internal/derived"
	"humidityintelligence/internal/ha"

	"go.uber.org/zap"
)

// Driver sets physical outputs. Each call is idempotent and independent;
// a failure on one entity does not affect the others.
type Driver interface {
	SetFanLevel(entityID string, level derived.FanLevel) error
	SetFanAuto(entityID string) error
	SetSwitchState(entityID string, on bool) error
	SetHumidifierState(entityID string, on bool) error
}

// Domain returns the entity domain, e.g. "fan" for "fan.kitchen".
func Domain(entityID string) string {
	if i := strings.IndexByte(entityID, '.'); i >= 0 {
		return entityID[:i]
	}
	return ""
}

// HADriver implements Driver with host service calls.
type HADriver struct {
	client   ha.HAClient
	logger   *zap.Logger
	readOnly bool
}

// NewHADriver creates a driver. In read-only mode commands are logged and
// never sent.
func NewHADriver(client ha.HAClient, logger *zap.Logger, readOnly bool) *HADriver {
	return &HADriver{
		client:   client,
		logger:   logger.Named("output"),
		readOnly: readOnly,
	}
}

func (d *HADriver) state(entityID string) *ha.State {
	state, err := d.client.GetState(entityID)
	if err != nil {
		return nil
	}
	return state
}

func (d *HADriver) call(domain, service string, data map[string]interface{}) error {
	if d.readOnly {
		d.logger.Info("READ-ONLY: Would call service",
			zap.String("service", domain+"."+service),
			zap.Any("data", data))
		return nil
	}
	d.logger.Debug("Executing: service call",
		zap.String("service", domain+"."+service),
		zap.Any("data", data))
	if err := d.client.CallService(domain, service, data); err != nil {
		return fmt.Errorf("failed to call %s.%s for %v: %w", domain, service, data["entity_id"], err)
	}
	return nil
}

// SetFanLevel runs a fan at level, or hands it back to auto. Switches used
// as fan outputs are turned on for any non-auto level.
func (d *HADriver) SetFanLevel(entityID string, level derived.FanLevel) error {
	if level.IsAuto() {
		return d.SetFanAuto(entityID)
	}
	pct := level.Percentage()

	switch Domain(entityID) {
	case "fan":
		state := d.state(entityID)
		if state != nil && state.State == "on" && !strings.EqualFold(state.StringAttribute("preset_mode"), "auto") {
			if raw, ok := state.Attribute("percentage"); ok {
				if current, ok := derived.ToFloat(raw); ok && int(current) == pct {
					d.logger.Debug("⏭  Fan already at level", zap.String("entity_id", entityID), zap.Int("percentage", pct))
					return nil
				}
			}
		}
		if state == nil || state.State != "on" {
			if err := d.call("fan", "turn_on", map[string]interface{}{"entity_id": entityID}); err != nil {
				return err
			}
		}
		return d.call("fan", "set_percentage", map[string]interface{}{
			"entity_id":  entityID,
			"percentage": pct,
		})
	case "switch":
		return d.SetSwitchState(entityID, pct > 0)
	default:
		d.logger.Debug("Skipping fan level for unsupported domain", zap.String("entity_id", entityID))
		return nil
	}
}

// SetFanAuto selects the fan's auto preset, or turns a switch off.
func (d *HADriver) SetFanAuto(entityID string) error {
	switch Domain(entityID) {
	case "fan":
		state := d.state(entityID)
		if strings.EqualFold(state.StringAttribute("preset_mode"), "auto") {
			return nil
		}
		return d.call("fan", "set_preset_mode", map[string]interface{}{
			"entity_id":   entityID,
			"preset_mode": "auto",
		})
	case "switch":
		return d.SetSwitchState(entityID, false)
	default:
		d.logger.Debug("Skipping fan auto for unsupported domain", zap.String("entity_id", entityID))
		return nil
	}
}

func alreadyIn(state *ha.State, on bool) bool {
	if state == nil {
		return false
	}
	return (on && state.State == "on") || (!on && state.State == "off")
}

// SetSwitchState turns a switch on or off.
func (d *HADriver) SetSwitchState(entityID string, on bool) error {
	if alreadyIn(d.state(entityID), on) {
		return nil
	}
	return d.call("switch", onOff(on), map[string]interface{}{"entity_id": entityID})
}

// SetHumidifierState turns a humidifier (or any on/off entity) on or off
// through its own domain.
func (d *HADriver) SetHumidifierState(entityID string, on bool) error {
	if alreadyIn(d.state(entityID), on) {
		return nil
	}
	domain := Domain(entityID)
	if domain == "" {
		return fmt.Errorf("invalid entity id %q", entityID)
	}
	return d.call(domain, onOff(on), map[string]interface{}{"entity_id": entityID})
}

func onOff(on bool) string {
	if on {
		return "turn_on"
	}
	return "turn_off"
}

// ApplyLevel sets every output to level. All outputs are attempted; the
// returned error joins the individual failures.
func ApplyLevel(d Driver, outputs []string, level derived.FanLevel) error {
	var errs []error
	for _, id := range outputs {
		if err := d.SetFanLevel(id, level); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ApplyAuto hands every output back to automatic control.
func ApplyAuto(d Driver, outputs []string) error {
	var errs []error
	for _, id := range outputs {
		if err := d.SetFanAuto(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ApplyHumidifiers switches every humidifier output on or off.
func ApplyHumidifiers(d Driver, outputs []string, on bool) error {
	var errs []error
	for _, id := range outputs {
		if err := d.SetHumidifierState(id, on); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
