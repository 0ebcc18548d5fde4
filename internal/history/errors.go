package history

import "errors"

// Sentinel errors for history operations.
var (
	// ErrNotConnected indicates the client is closed or never connected.
	ErrNotConnected = errors.New("history: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("history: connection failed")

	// ErrDisabled indicates no InfluxDB URL is configured.
	ErrDisabled = errors.New("history: disabled in configuration")
)
