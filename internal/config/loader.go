package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Loader reads the base and options documents and keeps the last valid Config.
type Loader struct {
	basePath    string
	optionsPath string
	logger      *zap.Logger

	mu         sync.RWMutex
	config     *Config
	baseMod    time.Time
	optionsMod time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewLoader creates a loader. optionsPath may be empty or point to a file
// that does not exist yet.
func NewLoader(basePath, optionsPath string, logger *zap.Logger) *Loader {
	return &Loader{
		basePath:    basePath,
		optionsPath: optionsPath,
		logger:      logger.Named("config"),
		stopChan:    make(chan struct{}),
	}
}

// Load reads both documents and replaces the current Config. On error the
// previous Config is kept.
func (l *Loader) Load() (*Config, error) {
	l.logger.Debug("Loading configuration",
		zap.String("base", l.basePath),
		zap.String("options", l.optionsPath))

	base, baseMod, err := readFile(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read base config: %w", err)
	}

	var options []byte
	var optionsMod time.Time
	if l.optionsPath != "" {
		options, optionsMod, err = readFile(l.optionsPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read options config: %w", err)
		}
	}

	cfg, err := Parse(base, options)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for _, w := range cfg.Warnings {
		l.logger.Warn("Configuration value adjusted", zap.String("detail", w))
	}

	l.mu.Lock()
	l.config = cfg
	l.baseMod = baseMod
	l.optionsMod = optionsMod
	l.mu.Unlock()

	l.logger.Info("Configuration loaded",
		zap.Int("telemetry", len(cfg.Telemetry)),
		zap.Int("zones", len(cfg.Zones)),
		zap.Int("aq_lanes", len(cfg.AQ)),
		zap.Int("humidifier_lanes", len(cfg.Humidifiers)),
		zap.Int("alerts", len(cfg.Alerts)),
		zap.Int("engine_interval_minutes", cfg.EngineIntervalMinutes))
	return cfg, nil
}

// Get returns the current Config, or nil before the first successful Load.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Changed reports whether either document's modification time differs from
// the last successful load.
func (l *Loader) Changed() bool {
	l.mu.RLock()
	baseMod, optionsMod := l.baseMod, l.optionsMod
	l.mu.RUnlock()

	if mod, err := modTime(l.basePath); err == nil && !mod.Equal(baseMod) {
		return true
	}
	if l.optionsPath == "" {
		return false
	}
	mod, err := modTime(l.optionsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return !optionsMod.IsZero()
	}
	return err == nil && !mod.Equal(optionsMod)
}

// StartAutoReload polls the documents every interval and calls onChange with
// each newly loaded Config.
func (l *Loader) StartAutoReload(interval time.Duration, onChange func(*Config)) {
	l.logger.Info("Starting config auto-reload", zap.Duration("interval", interval))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !l.Changed() {
					continue
				}
				l.logger.Info("Configuration changed on disk, reloading")
				cfg, err := l.Load()
				if err != nil {
					l.logger.Error("Failed to reload config, keeping previous", zap.Error(err))
					continue
				}
				if onChange != nil {
					onChange(cfg)
				}

			case <-l.stopChan:
				l.logger.Info("Stopping config auto-reload")
				return
			}
		}
	}()
}

// Stop stops the auto-reload loop.
func (l *Loader) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

func readFile(path string) ([]byte, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	mod, err := modTime(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, mod, nil
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
