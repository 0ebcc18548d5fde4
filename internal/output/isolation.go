package output

import (
	"humidityintelligence/internal/derived"

	"go.uber.org/zap"
)

// Isolation reports which output groups the user has isolated. Isolated
// outputs are left alone while the engine keeps deciding as usual.
type Isolation interface {
	FansIsolated() bool
	HumidifiersIsolated() bool
}

// Isolated wraps a Driver and drops commands for isolated output groups.
// Switches count as fan outputs.
type Isolated struct {
	inner     Driver
	isolation Isolation
	logger    *zap.Logger
}

// NewIsolated wraps inner.
func NewIsolated(inner Driver, isolation Isolation, logger *zap.Logger) *Isolated {
	return &Isolated{
		inner:     inner,
		isolation: isolation,
		logger:    logger.Named("isolation"),
	}
}

func (i *Isolated) fansBlocked(entityID string) bool {
	if i.isolation.FansIsolated() {
		i.logger.Debug("⏭  Fan output isolated", zap.String("entity_id", entityID))
		return true
	}
	return false
}

// SetFanLevel implements Driver.
func (i *Isolated) SetFanLevel(entityID string, level derived.FanLevel) error {
	if i.fansBlocked(entityID) {
		return nil
	}
	return i.inner.SetFanLevel(entityID, level)
}

// SetFanAuto implements Driver.
func (i *Isolated) SetFanAuto(entityID string) error {
	if i.fansBlocked(entityID) {
		return nil
	}
	return i.inner.SetFanAuto(entityID)
}

// SetSwitchState implements Driver.
func (i *Isolated) SetSwitchState(entityID string, on bool) error {
	if i.fansBlocked(entityID) {
		return nil
	}
	return i.inner.SetSwitchState(entityID, on)
}

// SetHumidifierState implements Driver.
func (i *Isolated) SetHumidifierState(entityID string, on bool) error {
	if i.isolation.HumidifiersIsolated() {
		i.logger.Debug("⏭  Humidifier output isolated", zap.String("entity_id", entityID))
		return nil
	}
	return i.inner.SetHumidifierState(entityID, on)
}
