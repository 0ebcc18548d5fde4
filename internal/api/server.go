package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"humidityintelligence/internal/config"
	"humidityintelligence/internal/engine"
	"humidityintelligence/internal/sensors"
	"humidityintelligence/internal/shadowstate"
	"humidityintelligence/internal/state"

	"go.uber.org/zap"
)

// Controller is the part of the engine the API drives.
type Controller interface {
	Pause(minutes any) time.Duration
	Resume()
	RequestEvaluate()
	Decision() (engine.Decision, bool)
}

// StateSource exposes the cached state variables.
type StateSource interface {
	GetAllValues() map[string]interface{}
}

// TimerSource reports countdowns.
type TimerSource interface {
	Snapshot(keys ...string) map[string]state.TimerStatus
}

// DecisionSource exposes the decision shadow state.
type DecisionSource interface {
	GetState() shadowstate.EngineShadowState
}

// SensorSource exposes the latest computed sensors.
type SensorSource interface {
	Snapshot() (sensors.Snapshot, bool)
}

// Deps are the server's collaborators. Decisions and Sensors are optional.
type Deps struct {
	Controller Controller
	State      StateSource
	Timers     TimerSource
	Decisions  DecisionSource
	Sensors    SensorSource
}

// Server provides the HTTP status API for the controller
type Server struct {
	deps   Deps
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps, logger *zap.Logger, port int) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.Named("api"),
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/state", s.handleGetState)
	mux.HandleFunc("/api/decision", s.handleGetDecision)
	mux.HandleFunc("/api/sensors", s.handleGetSensors)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/evaluate", s.handleEvaluate)
	return mux
}

// StateResponse represents the JSON response for the state endpoint
type StateResponse struct {
	Booleans map[string]bool              `json:"booleans"`
	Strings  map[string]string            `json:"strings"`
	Timers   map[string]state.TimerStatus `json:"timers"`
	Mode     string                       `json:"mode"`
	Display  string                       `json:"display"`
	Reason   string                       `json:"reason"`
}

// TimerKeys lists the countdowns shown by the state endpoint.
func TimerKeys() []string {
	keys := []string{state.TimerPause}
	for _, level := range config.Levels {
		keys = append(keys, state.AQRunTimer(level.FlagName()))
	}
	return keys
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// handleGetState returns the state variables, countdowns and runtime text
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := StateResponse{
		Booleans: make(map[string]bool),
		Strings:  make(map[string]string),
		Timers:   s.deps.Timers.Snapshot(TimerKeys()...),
	}
	for key, value := range s.deps.State.GetAllValues() {
		switch v := value.(type) {
		case bool:
			response.Booleans[key] = v
		case string:
			response.Strings[key] = v
		}
	}
	response.Mode = response.Strings[state.KeyRuntimeMode]
	response.Display = response.Strings[state.KeyRuntimeModeDisplay]
	response.Reason = response.Strings[state.KeyRuntimeReason]

	s.writeJSON(w, http.StatusOK, response)
	s.logger.Debug("State request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// DecisionResponse is the decision endpoint payload.
type DecisionResponse struct {
	Last   *engine.Decision               `json:"last,omitempty"`
	Shadow *shadowstate.EngineShadowState `json:"shadow,omitempty"`
}

func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var response DecisionResponse
	if d, ok := s.deps.Controller.Decision(); ok {
		response.Last = &d
	}
	if s.deps.Decisions != nil {
		shadow := s.deps.Decisions.GetState()
		response.Shadow = &shadow
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Sensors == nil {
		http.Error(w, "Computed sensors are not available", http.StatusServiceUnavailable)
		return
	}
	snap, ok := s.deps.Sensors.Snapshot()
	if !ok {
		http.Error(w, "Computed sensors are not ready yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// PauseResponse reports the applied pause window.
type PauseResponse struct {
	Status  string `json:"status"`
	Minutes int    `json:"minutes,omitempty"`
}

// handlePause starts the pause window. minutes is bounded to 1..1440 and
// defaults to 60 when absent or not numeric.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var minutes any
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		minutes = raw
	}
	d := s.deps.Controller.Pause(minutes)
	s.logger.Info("Pause requested via API", zap.Duration("duration", d))
	s.writeJSON(w, http.StatusOK, PauseResponse{Status: "paused", Minutes: int(d / time.Minute)})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Controller.Resume()
	s.logger.Info("Resume requested via API")
	s.writeJSON(w, http.StatusOK, PauseResponse{Status: "resumed"})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.deps.Controller.RequestEvaluate()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
	{Path: "/api/state", Method: "GET", Description: "Control switches, flags, countdowns and the runtime mode and reason"},
	{Path: "/api/decision", Method: "GET", Description: "Latest engine decision and recent decision history with inputs"},
	{Path: "/api/sensors", Method: "GET", Description: "Computed sensors: averages, targets, worst rooms, deltas and danger flags"},
	{Path: "/api/pause?minutes=N", Method: "POST", Description: "Pause automation for N minutes (1-1440, default 60)"},
	{Path: "/api/resume", Method: "POST", Description: "End a pause early"},
	{Path: "/api/evaluate", Method: "POST", Description: "Queue an evaluation cycle"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Only handle requests to the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Humidity Intelligence API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Humidity Intelligence API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Humidity Intelligence API\n")
		fmt.Fprintf(w, "=========================\n\n")
		for _, ep := range endpoints {
			fmt.Fprintf(w, "  %-6s %-22s %s\n", ep.Method, ep.Path, ep.Description)
		}
	}

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Bool("html_format", preferHTML))
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
