// Package history exports computed sensors and engine decisions to InfluxDB
// as time series. It is an outbound sink; nothing is read back.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"humidityintelligence/internal/engine"
	"humidityintelligence/internal/sensors"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 50
	defaultFlushSeconds   = 10

	millisecondsPerSecond = 1000
)

// Config selects the InfluxDB target. An empty URL disables history.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval int // seconds
}

// Client writes batched points through the non-blocking write API.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *zap.Logger

	mu        sync.RWMutex
	connected bool
	done      chan struct{}
}

// Connect creates a client and verifies the server answers a ping.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushSeconds
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:    logger.Named("influx"),
		connected: true,
		done:      make(chan struct{}),
	}
	go c.handleWriteErrors(c.writeAPI.Errors())

	c.logger.Info("Connected to InfluxDB",
		zap.String("url", cfg.URL),
		zap.String("bucket", cfg.Bucket))
	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for {
		select {
		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			c.logger.Warn("Failed to write history", zap.Error(err))
		case <-c.done:
			return
		}
	}
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// WriteSnapshot queues the computed sensors.
func (c *Client) WriteSnapshot(s sensors.Snapshot) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	for _, p := range SnapshotPoints(s) {
		c.writeAPI.WritePoint(p)
	}
	return nil
}

// PublishSnapshot implements sensors.Sink.
func (c *Client) PublishSnapshot(s sensors.Snapshot) error {
	return c.WriteSnapshot(s)
}

// WriteDecision queues one engine decision.
func (c *Client) WriteDecision(d engine.Decision) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(DecisionPoint(d))
	return nil
}

// RecordDecision implements engine.DecisionRecorder.
func (c *Client) RecordDecision(d engine.Decision) {
	if err := c.WriteDecision(d); err != nil {
		c.logger.Debug("Skipping decision history", zap.Error(err))
	}
}

// Close flushes pending writes and closes the client.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	close(c.done)
	c.client.Close()
	c.logger.Info("InfluxDB client closed")
	return nil
}
