package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/derived"
	"humidityintelligence/internal/engine"
	"humidityintelligence/internal/ha"
	"humidityintelligence/internal/sensors"
	"humidityintelligence/internal/shadowstate"
	"humidityintelligence/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeController struct {
	paused    []any
	resumed   int
	evaluated int
	last      *engine.Decision
}

func (f *fakeController) Pause(minutes any) time.Duration {
	f.paused = append(f.paused, minutes)
	return time.Duration(derived.BoundedInt(minutes, 1, 1440, 60)) * time.Minute
}

func (f *fakeController) Resume()          { f.resumed++ }
func (f *fakeController) RequestEvaluate() { f.evaluated++ }

func (f *fakeController) Decision() (engine.Decision, bool) {
	if f.last == nil {
		return engine.Decision{}, false
	}
	return *f.last, true
}

type fakeSensors struct {
	snap sensors.Snapshot
	ok   bool
}

func (f fakeSensors) Snapshot() (sensors.Snapshot, bool) { return f.snap, f.ok }

type fixture struct {
	ctrl    *fakeController
	flags   *state.Manager
	timers  *state.Timers
	tracker *shadowstate.DecisionTracker
	handler http.Handler
}

func setup(t *testing.T, sensorSource SensorSource) *fixture {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	flags := state.NewManager(ha.NewMockClient(), logger, false)
	timers := state.NewTimers(clk, logger)
	tracker := shadowstate.NewDecisionTracker(nil, clk, 0)
	ctrl := &fakeController{}

	server := NewServer(Deps{
		Controller: ctrl,
		State:      flags,
		Timers:     timers,
		Decisions:  tracker,
		Sensors:    sensorSource,
	}, logger, 8080)

	return &fixture{ctrl: ctrl, flags: flags, timers: timers, tracker: tracker, handler: server.Handler()}
}

func (f *fixture) do(method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestHandleGetState(t *testing.T) {
	f := setup(t, nil)
	require.NoError(t, f.flags.SetBool(state.KeyManualOverride, true))
	require.NoError(t, f.flags.SetString(state.KeyRuntimeMode, "cooking"))
	require.NoError(t, f.flags.SetString(state.KeyRuntimeReason, "Cooking is active."))
	f.timers.StartTimer(state.TimerPause, 30*time.Minute)

	w := f.do(http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response StateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.True(t, response.Booleans[state.KeyManualOverride])
	assert.True(t, response.Booleans[state.KeyControlEnabled])
	assert.Equal(t, "cooking", response.Mode)
	assert.Equal(t, "Cooking is active.", response.Reason)

	pause := response.Timers[state.TimerPause]
	assert.True(t, pause.Active)
	assert.Equal(t, 30*time.Minute, pause.Remaining)
	assert.False(t, response.Timers[state.AQRunTimer("downstairs")].Active)
	assert.Len(t, response.Timers, 3)
}

func TestHandleGetState_MethodNotAllowed(t *testing.T) {
	f := setup(t, nil)
	w := f.do(http.MethodPost, "/api/state", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleGetDecision(t *testing.T) {
	f := setup(t, nil)

	w := f.do(http.MethodGet, "/api/decision", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var empty DecisionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&empty))
	assert.Nil(t, empty.Last)

	d := engine.Decision{Lane: engine.LaneNormal, Mode: engine.ModeNormal, Reason: "armed"}
	f.ctrl.last = &d
	f.tracker.RecordDecision(d)

	w = f.do(http.MethodGet, "/api/decision", nil)
	var response DecisionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.NotNil(t, response.Last)
	assert.Equal(t, "armed", response.Last.Reason)
	require.NotNil(t, response.Shadow)
	require.Len(t, response.Shadow.Outputs.Recent, 1)
	assert.NotEmpty(t, response.Shadow.Outputs.Recent[0].ID)
}

func TestHandleGetSensors(t *testing.T) {
	f := setup(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/sensors", nil).Code)

	f = setup(t, fakeSensors{})
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/api/sensors", nil).Code)

	f = setup(t, fakeSensors{snap: sensors.Snapshot{Mode: "normal", MouldDanger: true}, ok: true})
	w := f.do(http.MethodGet, "/api/sensors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap sensors.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, "normal", snap.Mode)
	assert.True(t, snap.MouldDanger)
}

func TestHandlePauseResume(t *testing.T) {
	f := setup(t, nil)

	w := f.do(http.MethodPost, "/api/pause?minutes=15", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var response PauseResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "paused", response.Status)
	assert.Equal(t, 15, response.Minutes)

	w = f.do(http.MethodPost, "/api/pause", nil)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, 60, response.Minutes)
	assert.Equal(t, []any{"15", nil}, f.ctrl.paused)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/pause", nil).Code)

	w = f.do(http.MethodPost, "/api/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.ctrl.resumed)
}

func TestHandleEvaluate(t *testing.T) {
	f := setup(t, nil)
	w := f.do(http.MethodPost, "/api/evaluate", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, f.ctrl.evaluated)
}

func TestHandleHealth(t *testing.T) {
	f := setup(t, nil)
	w := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleSitemap(t *testing.T) {
	f := setup(t, nil)

	w := f.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	for _, ep := range endpoints {
		assert.Contains(t, w.Body.String(), ep.Path)
	}

	w = f.do(http.MethodGet, "/", map[string]string{"Accept": "text/html,application/xhtml+xml"})
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, w.Body.String(), "<h1>Humidity Intelligence API</h1>")

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/nope", nil).Code)
}
