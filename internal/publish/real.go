package publish

import (
	"fmt"
	"strings"
	"time"

	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/sensors"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Options configures the broker connection.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// Topic joins the prefix and suffix.
func (o Options) Topic(suffix string) string {
	prefix := strings.TrimSuffix(o.TopicPrefix, "/")
	if prefix == "" {
		return suffix
	}
	return prefix + "/" + suffix
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	opts   Options
	clock  clock.Clock
	logger *zap.Logger
}

// NewRealPublisher creates a publisher connected to the configured broker.
// The status topic carries a retained last will of "offline".
func NewRealPublisher(opts Options, clk clock.Clock, logger *zap.Logger) (*RealPublisher, error) {
	logger = logger.Named("mqtt")
	status := opts.Topic(TopicStatus)

	pahoOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(status, StatusOffline, 1, true).
		SetOnConnectHandler(func(c paho.Client) {
			logger.Info("Connected to MQTT broker", zap.String("broker", opts.Broker))
			c.Publish(status, 1, true, StatusOnline)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		})

	client := paho.NewClient(pahoOpts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	return &RealPublisher{
		client: client,
		opts:   opts,
		clock:  clk,
		logger: logger,
	}, nil
}

func (p *RealPublisher) publish(topic string, qos byte, payload []byte) error {
	token := p.client.Publish(topic, qos, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// PublishRuntime sends the runtime state, retained at QoS 1.
func (p *RealPublisher) PublishRuntime(mode, display, reason string) error {
	payload, err := FormatRuntimePayload(p.clock.Now(), mode, display, reason)
	if err != nil {
		return fmt.Errorf("failed to format runtime payload: %w", err)
	}
	return p.publish(p.opts.Topic(TopicRuntime), 1, payload)
}

// PublishSnapshot sends the computed sensors, retained at QoS 0.
func (p *RealPublisher) PublishSnapshot(s sensors.Snapshot) error {
	payload, err := FormatSnapshotPayload(s)
	if err != nil {
		return fmt.Errorf("failed to format sensors payload: %w", err)
	}
	return p.publish(p.opts.Topic(TopicSensors), 0, payload)
}

// Close marks the controller offline and disconnects from the broker.
func (p *RealPublisher) Close() error {
	if err := p.publish(p.opts.Topic(TopicStatus), 1, []byte(StatusOffline)); err != nil {
		p.logger.Debug("Failed to publish offline status", zap.Error(err))
	}
	p.client.Disconnect(1000)
	return nil
}
