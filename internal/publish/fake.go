package publish

import (
	"sync"

	"humidityintelligence/internal/sensors"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Runtime contains every runtime payload that was published.
	Runtime []RuntimePayload

	// Snapshots contains every computed sensor snapshot that was published.
	Snapshots []sensors.Snapshot

	// PublishError, if set, is returned by every publish call.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishRuntime records the runtime state.
func (f *FakePublisher) PublishRuntime(mode, display, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Runtime = append(f.Runtime, RuntimePayload{Mode: mode, Display: display, Reason: reason})
	return nil
}

// PublishSnapshot records the snapshot.
func (f *FakePublisher) PublishSnapshot(s sensors.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Snapshots = append(f.Snapshots, s)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
