package output

import (
	"context"
	"fmt"
	"time"

	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/ha"

	"go.uber.org/zap"
)

// DefaultFlashInterval is the on and off time of one flash.
const DefaultFlashInterval = 500 * time.Millisecond

// restoreAttributes are the light attributes put back after a flash.
var restoreAttributes = []string{"brightness", "rgb_color", "hs_color", "color_temp", "effect"}

// FlashRequest describes one alert flash.
type FlashRequest struct {
	Lights      []string
	PowerEntity string
	Color       [3]int
	Duration    time.Duration
}

// Flasher flashes alert lights. FlashLights blocks until the lights are
// restored or ctx is cancelled.
type Flasher interface {
	FlashLights(ctx context.Context, req FlashRequest) error
}

// HAFlasher flashes lights with host light services and restores their
// previous state afterwards.
type HAFlasher struct {
	client   ha.HAClient
	clock    clock.Clock
	logger   *zap.Logger
	readOnly bool
	interval time.Duration
}

// NewHAFlasher creates a flasher.
func NewHAFlasher(client ha.HAClient, clk clock.Clock, logger *zap.Logger, readOnly bool) *HAFlasher {
	return &HAFlasher{
		client:   client,
		clock:    clk,
		logger:   logger.Named("flash"),
		readOnly: readOnly,
		interval: DefaultFlashInterval,
	}
}

// FlashCount is the number of on/off cycles for a flash lasting duration.
// Durations below one second are raised to one second.
func FlashCount(duration, interval time.Duration) int {
	if duration < time.Second {
		duration = time.Second
	}
	n := int(duration / interval)
	if n < 1 {
		n = 1
	}
	return n
}

func (f *HAFlasher) sleep(ctx context.Context, d time.Duration) error {
	done := make(chan struct{})
	t := f.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-done:
		return nil
	}
}

func supportsColor(state *ha.State) bool {
	raw, ok := state.Attribute("supported_color_modes")
	if !ok {
		return false
	}
	var modes []string
	switch v := raw.(type) {
	case []string:
		modes = v
	case []interface{}:
		for _, m := range v {
			if s, ok := m.(string); ok {
				modes = append(modes, s)
			}
		}
	}
	for _, m := range modes {
		if m == "rgb" || m == "hs" {
			return true
		}
	}
	return false
}

// FlashLights implements Flasher.
func (f *HAFlasher) FlashLights(ctx context.Context, req FlashRequest) error {
	if len(req.Lights) == 0 {
		return nil
	}
	count := FlashCount(req.Duration, f.interval)

	if f.readOnly {
		f.logger.Info("READ-ONLY: Would flash alert lights",
			zap.Strings("lights", req.Lights),
			zap.Int("flashes", count))
		return nil
	}

	if req.PowerEntity != "" {
		domain := Domain(req.PowerEntity)
		if err := f.client.CallService(domain, "turn_on", map[string]interface{}{"entity_id": req.PowerEntity}); err != nil {
			f.logger.Warn("Failed to power alert lights", zap.String("entity_id", req.PowerEntity), zap.Error(err))
		}
		if err := f.sleep(ctx, f.interval); err != nil {
			return err
		}
	}

	saved := make(map[string]*ha.State, len(req.Lights))
	for _, id := range req.Lights {
		if state, err := f.client.GetState(id); err == nil {
			saved[id] = state.Clone()
		}
	}

	f.logger.Info("Executing: flash alert lights",
		zap.Strings("lights", req.Lights),
		zap.Int("flashes", count))

	flashErr := f.flash(ctx, req, saved, count)
	// Restore even when cancelled so lights are not left flashing colours.
	restoreErr := f.restore(req.Lights, saved)
	if flashErr != nil {
		return flashErr
	}
	return restoreErr
}

func (f *HAFlasher) flash(ctx context.Context, req FlashRequest, saved map[string]*ha.State, count int) error {
	for i := 0; i < count; i++ {
		for _, id := range req.Lights {
			data := map[string]interface{}{"entity_id": id, "brightness": 255}
			if supportsColor(saved[id]) {
				data["rgb_color"] = []int{req.Color[0], req.Color[1], req.Color[2]}
			}
			if err := f.client.CallService("light", "turn_on", data); err != nil {
				f.logger.Debug("Flash on failed", zap.String("entity_id", id), zap.Error(err))
			}
		}
		if err := f.sleep(ctx, f.interval); err != nil {
			return err
		}
		for _, id := range req.Lights {
			if err := f.client.CallService("light", "turn_off", map[string]interface{}{"entity_id": id}); err != nil {
				f.logger.Debug("Flash off failed", zap.String("entity_id", id), zap.Error(err))
			}
		}
		if err := f.sleep(ctx, f.interval); err != nil {
			return err
		}
	}
	return nil
}

func (f *HAFlasher) restore(lights []string, saved map[string]*ha.State) error {
	var failed []string
	for _, id := range lights {
		state, ok := saved[id]
		if !ok || state == nil {
			continue
		}
		service := "turn_off"
		data := map[string]interface{}{"entity_id": id}
		if state.State == "on" {
			service = "turn_on"
			for _, attr := range restoreAttributes {
				if v, ok := state.Attribute(attr); ok && v != nil {
					data[attr] = v
				}
			}
		}
		if err := f.client.CallService("light", service, data); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to restore lights %v", failed)
	}
	f.logger.Debug("✓ Successfully restored alert lights", zap.Strings("lights", lights))
	return nil
}
