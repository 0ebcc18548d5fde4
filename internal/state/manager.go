package state

import (
	"errors"
	"fmt"
	"sync"

	"humidityintelligence/internal/ha"

	"go.uber.org/zap"
)

var (
	// ErrUnknownVariable is returned for keys that are not in AllVariables.
	ErrUnknownVariable = errors.New("unknown state variable")
	// ErrWrongType is returned when a variable is accessed as the wrong type.
	ErrWrongType = errors.New("state variable has a different type")
)

// StateChangeHandler is called when a state variable changes
type StateChangeHandler func(key string, oldValue, newValue interface{})

// Subscription represents an active state change subscription
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	key     string
	id      int
	manager *Manager
}

func (s *subscription) Unsubscribe() {
	s.manager.unsubscribe(s.key, s.id)
}

type handlerEntry struct {
	id      int
	handler StateChangeHandler
}

// Manager holds the control switches, engine flags and runtime text.
// Control switches are mirrored from host input_boolean entities; everything
// else is in memory.
type Manager struct {
	client      ha.HAClient
	logger      *zap.Logger
	readOnly    bool
	cache       map[string]interface{}
	cacheMu     sync.RWMutex
	variables   map[string]StateVariable
	subscribers map[string][]handlerEntry
	nextSubID   int
	subsMu      sync.RWMutex
	haSubs      map[string]ha.Subscription
	haSubsMu    sync.Mutex
}

// NewManager creates a new state manager
func NewManager(client ha.HAClient, logger *zap.Logger, readOnly bool) *Manager {
	m := &Manager{
		client:      client,
		logger:      logger.Named("state"),
		readOnly:    readOnly,
		cache:       make(map[string]interface{}),
		variables:   VariablesByKey(),
		subscribers: make(map[string][]handlerEntry),
		haSubs:      make(map[string]ha.Subscription),
	}
	for _, v := range AllVariables {
		m.cache[v.Key] = v.Default
	}
	return m
}

// SyncFromHA reads mirrored variables from the host and subscribes to their
// changes. Missing entities keep their defaults.
func (m *Manager) SyncFromHA() error {
	m.logger.Info("Syncing control switches from host")

	states, err := m.client.GetAllStates()
	if err != nil {
		return fmt.Errorf("failed to get states: %w", err)
	}

	stateMap := make(map[string]*ha.State)
	for _, state := range states {
		stateMap[state.EntityID] = state
	}

	syncCount := 0
	localCount := 0
	for _, variable := range AllVariables {
		if variable.LocalOnly {
			localCount++
			continue
		}

		if err := m.subscribeToEntity(variable.EntityID, variable.Key); err != nil {
			m.logger.Warn("Failed to subscribe to entity",
				zap.String("entity_id", variable.EntityID),
				zap.Error(err))
		}

		state, ok := stateMap[variable.EntityID]
		if !ok || state.Unavailable() {
			m.logger.Warn("Entity not found on host, using default",
				zap.String("entity_id", variable.EntityID),
				zap.String("key", variable.Key),
				zap.Any("default", variable.Default))
			continue
		}

		m.store(variable.Key, parseStateValue(state.State, variable))
		syncCount++
	}

	m.logger.Info("State sync complete",
		zap.Int("synced", syncCount),
		zap.Int("local_only", localCount),
		zap.Int("total", len(AllVariables)))

	return nil
}

func parseStateValue(stateStr string, variable StateVariable) interface{} {
	if variable.Type == TypeBool {
		return stateStr == "on"
	}
	return stateStr
}

func (m *Manager) subscribeToEntity(entityID, key string) error {
	m.haSubsMu.Lock()
	defer m.haSubsMu.Unlock()
	if _, ok := m.haSubs[entityID]; ok {
		return nil
	}

	sub, err := m.client.SubscribeStateChanges(entityID, func(entity string, oldState, newState *ha.State) {
		if newState.Unavailable() {
			return
		}
		variable := m.variables[key]
		newValue := parseStateValue(newState.State, variable)
		m.logger.Debug("Control switch changed on host",
			zap.String("key", key),
			zap.Any("value", newValue))
		m.store(key, newValue)
	})
	if err != nil {
		return err
	}

	m.haSubs[entityID] = sub
	return nil
}

// store updates the cache and notifies subscribers when the value changed.
func (m *Manager) store(key string, value interface{}) {
	m.cacheMu.Lock()
	oldValue := m.cache[key]
	m.cache[key] = value
	m.cacheMu.Unlock()

	if oldValue != value {
		m.notifySubscribers(key, oldValue, value)
	}
}

func (m *Manager) notifySubscribers(key string, oldValue, newValue interface{}) {
	m.subsMu.RLock()
	entries := append([]handlerEntry(nil), m.subscribers[key]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		go entry.handler(key, oldValue, newValue)
	}
}

func (m *Manager) lookup(key string, want StateType) (StateVariable, error) {
	variable, ok := m.variables[key]
	if !ok {
		return StateVariable{}, fmt.Errorf("%w: %s", ErrUnknownVariable, key)
	}
	if variable.Type != want {
		return StateVariable{}, fmt.Errorf("%w: %s is %s", ErrWrongType, key, variable.Type)
	}
	return variable, nil
}

// GetBool retrieves a boolean state variable
func (m *Manager) GetBool(key string) (bool, error) {
	if _, err := m.lookup(key, TypeBool); err != nil {
		return false, err
	}

	m.cacheMu.RLock()
	value := m.cache[key]
	m.cacheMu.RUnlock()

	return value.(bool), nil
}

// Bool returns the value of key, or false when the key is unknown.
func (m *Manager) Bool(key string) bool {
	v, err := m.GetBool(key)
	if err != nil {
		m.logger.Error("Failed to read flag", zap.String("key", key), zap.Error(err))
	}
	return v
}

// SetBool sets a boolean state variable. Mirrored variables are written to
// the host first and the cache is only updated when that succeeds.
func (m *Manager) SetBool(key string, value bool) error {
	variable, err := m.lookup(key, TypeBool)
	if err != nil {
		return err
	}

	if !variable.LocalOnly {
		if m.readOnly {
			m.logger.Info("READ-ONLY: Would set input_boolean",
				zap.String("entity_id", variable.EntityID),
				zap.Bool("value", value))
		} else if err := m.client.SetInputBoolean(extractEntityName(variable.EntityID), value); err != nil {
			return fmt.Errorf("failed to set host value: %w", err)
		}
	}

	m.store(key, value)
	return nil
}

// GetString retrieves a string state variable
func (m *Manager) GetString(key string) (string, error) {
	if _, err := m.lookup(key, TypeString); err != nil {
		return "", err
	}

	m.cacheMu.RLock()
	value := m.cache[key]
	m.cacheMu.RUnlock()

	return value.(string), nil
}

// SetString sets a string state variable
func (m *Manager) SetString(key string, value string) error {
	variable, err := m.lookup(key, TypeString)
	if err != nil {
		return err
	}

	if !variable.LocalOnly {
		if m.readOnly {
			m.logger.Info("READ-ONLY: Would set input_text",
				zap.String("entity_id", variable.EntityID),
				zap.String("value", value))
		} else if err := m.client.SetInputText(extractEntityName(variable.EntityID), value); err != nil {
			return fmt.Errorf("failed to set host value: %w", err)
		}
	}

	m.store(key, value)
	return nil
}

// Subscribe subscribes to state changes for a variable. Handlers run on
// their own goroutine and only fire when the value actually changes.
func (m *Manager) Subscribe(key string, handler StateChangeHandler) (Subscription, error) {
	if _, ok := m.variables[key]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariable, key)
	}

	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[key] = append(m.subscribers[key], handlerEntry{id: id, handler: handler})
	m.subsMu.Unlock()

	return &subscription{key: key, id: id, manager: m}, nil
}

func (m *Manager) unsubscribe(key string, id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	entries := m.subscribers[key]
	for i, entry := range entries {
		if entry.id == id {
			m.subscribers[key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(m.subscribers[key]) == 0 {
		delete(m.subscribers, key)
	}
}

// Close drops the host subscriptions created by SyncFromHA.
func (m *Manager) Close() {
	m.haSubsMu.Lock()
	defer m.haSubsMu.Unlock()
	for entityID, sub := range m.haSubs {
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Debug("Failed to unsubscribe", zap.String("entity_id", entityID), zap.Error(err))
		}
		delete(m.haSubs, entityID)
	}
}

// GetAllValues returns all cached values
func (m *Manager) GetAllValues() map[string]interface{} {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	values := make(map[string]interface{})
	for k, v := range m.cache {
		values[k] = v
	}
	return values
}

// extractEntityName extracts the entity name from full entity ID
// e.g., "input_boolean.hi_air_control_enabled" -> "hi_air_control_enabled"
func extractEntityName(entityID string) string {
	for i := len(entityID) - 1; i >= 0; i-- {
		if entityID[i] == '.' {
			return entityID[i+1:]
		}
	}
	return entityID
}

// FansIsolated reports whether fan and switch outputs are isolated for testing.
func (m *Manager) FansIsolated() bool {
	return m.Bool(KeyIsolateFans)
}

// HumidifiersIsolated reports whether humidifier outputs are isolated for testing.
func (m *Manager) HumidifiersIsolated() bool {
	return m.Bool(KeyIsolateHumidifiers)
}
