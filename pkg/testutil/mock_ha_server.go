// Package testutil provides a websocket mock of the host platform and
// helpers for end-to-end controller tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg Message) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.WriteJSON(msg)
}

// MockHAServer simulates the host platform's WebSocket API. Service calls
// against fans, switches, humidifiers and lights update entity state the
// way the real platform would, so idempotent drivers see their own writes.
type MockHAServer struct {
	server       *http.Server
	listener     net.Listener
	addr         string
	logger       *zap.Logger
	states       map[string]*EntityState
	statesMu     sync.RWMutex
	connections  []*connWrapper
	connsMu      sync.Mutex
	eventDelay   time.Duration // Simulates network latency
	token        string
	serviceCalls []ServiceCall
	callsMu      sync.Mutex
}

// EntityState represents an entity state
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// Message represents a WebSocket message
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Event represents a platform event
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent represents a state_changed event
type StateChangedEvent struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

// AuthMessage represents authentication request
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// CallServiceRequest represents a service call
type CallServiceRequest struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
}

type request struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// NewMockHAServer creates a mock server. addr may use port 0; URL reports
// the bound address after Start.
func NewMockHAServer(addr, token string) *MockHAServer {
	return &MockHAServer{
		addr:       addr,
		logger:     zap.NewNop(),
		states:     make(map[string]*EntityState),
		eventDelay: 10 * time.Millisecond,
		token:      token,
	}
}

// SetLogger replaces the no-op logger.
func (s *MockHAServer) SetLogger(logger *zap.Logger) {
	s.logger = logger.Named("mock_ha")
}

// SetEventDelay sets the delay for broadcasting events
func (s *MockHAServer) SetEventDelay(delay time.Duration) {
	s.eventDelay = delay
}

// Start listens and serves in the background.
func (s *MockHAServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Mock server error", zap.Error(err))
		}
	}()
	return nil
}

// URL returns the websocket endpoint.
func (s *MockHAServer) URL() string {
	addr := s.addr
	if s.listener != nil {
		addr = s.listener.Addr().String()
	}
	return fmt.Sprintf("ws://%s/api/websocket", addr)
}

// Stop closes every connection and the listener.
func (s *MockHAServer) Stop() error {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// SetState sets a state and broadcasts a state_changed event.
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	s.statesMu.Lock()
	oldState := s.states[entityID]

	now := time.Now()
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	s.states[entityID] = newState
	s.statesMu.Unlock()

	if s.eventDelay > 0 {
		time.Sleep(s.eventDelay)
	}
	s.broadcastStateChange(entityID, oldState, newState)
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// InitializeControls creates the controller's input_boolean switches with
// control enabled and everything else off.
func (s *MockHAServer) InitializeControls(keys []string) {
	for _, key := range keys {
		value := "off"
		if strings.HasSuffix(key, "_enabled") {
			value = "on"
		}
		s.SetState("input_boolean.hi_"+key, value, map[string]interface{}{
			"friendly_name": key,
		})
	}
}

// AddFan creates a fan entity that is off and in manual mode.
func (s *MockHAServer) AddFan(entityID, friendlyName string) {
	s.SetState(entityID, "off", map[string]interface{}{
		"friendly_name": friendlyName,
		"percentage":    0,
		"preset_mode":   "manual",
		"preset_modes":  []string{"auto", "manual"},
	})
}

// AddSensor creates a numeric sensor.
func (s *MockHAServer) AddSensor(entityID, value, unit string) {
	s.SetState(entityID, value, map[string]interface{}{
		"unit_of_measurement": unit,
	})
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	wrapper := &connWrapper{conn: conn}
	defer func() {
		s.connsMu.Lock()
		for i, c := range s.connections {
			if c == wrapper {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.write(Message{Type: "auth_required"})

	var authMsg AuthMessage
	if err := conn.ReadJSON(&authMsg); err != nil {
		s.logger.Debug("Failed to read auth", zap.Error(err))
		return
	}
	if authMsg.AccessToken != s.token {
		wrapper.write(Message{Type: "auth_invalid"})
		return
	}
	wrapper.write(Message{Type: "auth_ok"})

	// Events only flow after a successful auth.
	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	for {
		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("Connection closed", zap.Error(err))
			return
		}

		var req request
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}

		switch req.Type {
		case "subscribe_events":
			s.respond(wrapper, req.ID, nil)
		case "get_states":
			s.handleGetStates(wrapper, req.ID)
		case "call_service":
			s.handleCallService(wrapper, msg)
		}
	}
}

func (s *MockHAServer) respond(wrapper *connWrapper, id int, result json.RawMessage) {
	success := true
	wrapper.write(Message{ID: id, Type: "result", Success: &success, Result: result})
}

func (s *MockHAServer) handleGetStates(wrapper *connWrapper, id int) {
	s.statesMu.RLock()
	states := make([]*EntityState, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	s.statesMu.RUnlock()

	statesJSON, _ := json.Marshal(states)
	s.respond(wrapper, id, statesJSON)
}

func (s *MockHAServer) handleCallService(wrapper *connWrapper, msg json.RawMessage) {
	var req CallServiceRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	})
	s.callsMu.Unlock()

	// Respond before broadcasting so the caller is never blocked behind
	// its own state_changed event.
	s.respond(wrapper, req.ID, nil)

	entityID, _ := req.ServiceData["entity_id"].(string)
	if entityID != "" {
		s.apply(req.Domain, req.Service, entityID, req.ServiceData)
	}
}

// apply mutates entity state the way the platform does for the services
// the controller calls. Unknown services are acknowledged only.
func (s *MockHAServer) apply(domain, service, entityID string, data map[string]interface{}) {
	s.statesMu.RLock()
	old := s.states[entityID]
	s.statesMu.RUnlock()

	state := "off"
	attrs := make(map[string]interface{})
	if old != nil {
		state = old.State
		for k, v := range old.Attributes {
			attrs[k] = v
		}
	}

	switch {
	case service == "turn_on":
		state = "on"
	case service == "turn_off":
		state = "off"
	case domain == "fan" && service == "set_percentage":
		pct, _ := data["percentage"].(float64)
		attrs["percentage"] = pct
		attrs["preset_mode"] = "manual"
		if pct > 0 {
			state = "on"
		} else {
			state = "off"
		}
	case domain == "fan" && service == "set_preset_mode":
		attrs["preset_mode"] = data["preset_mode"]
		state = "on"
	default:
		return
	}

	if domain == "light" {
		if color, ok := data["rgb_color"]; ok {
			attrs["rgb_color"] = color
		}
		if brightness, ok := data["brightness"]; ok {
			attrs["brightness"] = brightness
		}
	}
	s.SetState(entityID, state, attrs)
}

// broadcastStateChange sends a state_changed event to every connection
func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *EntityState) {
	eventData, _ := json.Marshal(StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})

	msg := Message{
		Type: "event",
		Event: &Event{
			EventType: "state_changed",
			Data:      eventData,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	wrappers := make([]*connWrapper, len(s.connections))
	copy(wrappers, s.connections)
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		wrapper.write(msg)
	}
}

// GetServiceCalls returns all service calls since last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// ClearServiceCalls resets the service call log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
}

// FindServiceCall finds the most recent matching call. An empty entityID
// matches any entity.
func (s *MockHAServer) FindServiceCall(domain, service, entityID string) *ServiceCall {
	calls := s.GetServiceCalls()
	for i := len(calls) - 1; i >= 0; i-- {
		call := calls[i]
		if call.Domain != domain || call.Service != service {
			continue
		}
		if entityID == "" || call.EntityID() == entityID {
			return &call
		}
	}
	return nil
}

// CountServiceCalls counts service calls matching domain and service
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	return len(FilterServiceCalls(s.GetServiceCalls(), domain, service))
}
