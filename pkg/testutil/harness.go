package testutil

import (
	"fmt"

	"humidityintelligence/internal/ha"
	"humidityintelligence/internal/state"

	"go.uber.org/zap"
)

// TestEnv is a mock server with a connected client and a synced state
// manager.
type TestEnv struct {
	Server *MockHAServer
	Client *ha.Client
	Flags  *state.Manager
	Logger *zap.Logger
}

// NewTestEnv starts a mock server on a free local port, seeds the control
// switches, then connects and syncs. seed runs before the client connects
// so its entities arrive with the initial get_states.
//
//	env, err := testutil.NewTestEnv("test_token", func(s *testutil.MockHAServer) {
//	    s.AddFan("fan.kitchen_extract", "Kitchen Extract")
//	})
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
func NewTestEnv(token string, seed func(*MockHAServer)) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	server := NewMockHAServer("127.0.0.1:0", token)
	server.SetLogger(logger)
	server.SetEventDelay(0)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mock server: %w", err)
	}
	server.InitializeControls(state.ControlKeys())
	if seed != nil {
		seed(server)
	}

	client := ha.NewClient(server.URL(), token, logger)
	if err := client.Connect(); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	flags := state.NewManager(client, logger, false)
	if err := flags.SyncFromHA(); err != nil {
		client.Disconnect()
		server.Stop()
		return nil, fmt.Errorf("failed to sync state: %w", err)
	}

	return &TestEnv{
		Server: server,
		Client: client,
		Flags:  flags,
		Logger: logger,
	}, nil
}

// Cleanup stops all components in reverse order.
func (e *TestEnv) Cleanup() {
	if e.Flags != nil {
		e.Flags.Close()
	}
	if e.Client != nil {
		e.Client.Disconnect()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}

// GetServiceCalls returns all service calls made to the mock server.
func (e *TestEnv) GetServiceCalls() []ServiceCall {
	return e.Server.GetServiceCalls()
}

// ClearServiceCalls clears the recorded service calls.
func (e *TestEnv) ClearServiceCalls() {
	e.Server.ClearServiceCalls()
}
