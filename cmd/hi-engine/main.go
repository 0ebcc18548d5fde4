package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"humidityintelligence/internal/api"
	"humidityintelligence/internal/clock"
	"humidityintelligence/internal/config"
	"humidityintelligence/internal/engine"
	"humidityintelligence/internal/ha"
	"humidityintelligence/internal/history"
	"humidityintelligence/internal/logging"
	"humidityintelligence/internal/output"
	"humidityintelligence/internal/publish"
	"humidityintelligence/internal/sensors"
	"humidityintelligence/internal/shadowstate"
	"humidityintelligence/internal/state"
	"humidityintelligence/internal/suntime"
	"humidityintelligence/internal/telemetry"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envFileErr := godotenv.Load()

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Validate(&env.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid logging configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&env.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envFileErr != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, env, logger); err != nil {
		logger.Fatal("Humidity Intelligence stopped with error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// sink is an optional outbound connection closed at shutdown.
type sink struct {
	name  string
	close func() error
}

func run(ctx context.Context, env *config.Env, logger *zap.Logger) error {
	logger.Info("Starting Humidity Intelligence",
		zap.String("url", env.HAURL),
		zap.Bool("read_only", env.ReadOnly))

	client := ha.NewClient(env.HAURL, env.HAToken, logger)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Home Assistant: %w", err)
	}
	defer client.Disconnect()
	logger.Info("Connected to Home Assistant")

	clk := clock.NewRealClock()

	flags := state.NewManager(client, logger, env.ReadOnly)
	defer flags.Close()
	if err := flags.SyncFromHA(); err != nil {
		return fmt.Errorf("failed to sync state from HA: %w", err)
	}
	timers := state.NewTimers(clk, logger)
	defer timers.Stop()

	loader := config.NewLoader(env.ConfigPath, env.OptionsPath, logger)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	reader := telemetry.NewHAReader(client)

	tracker := sensors.NewSlopeTracker()
	computed := sensors.NewService(
		sensors.NewComputer(reader, flags, timers, clk, tracker, cfg),
		tracker, clk, logger)

	registry := shadowstate.NewInputRegistry()
	registry.LoadConfig(cfg)
	decisions := shadowstate.NewDecisionTracker(
		shadowstate.NewInputCaptureHelper(registry, reader, flags),
		clk, shadowstate.DefaultCapacity)
	recorders := []engine.DecisionRecorder{decisions}

	var sinks []sink
	if env.MQTTBroker != "" {
		pub, err := publish.NewRealPublisher(publish.Options{
			Broker:      env.MQTTBroker,
			ClientID:    env.MQTTClientID,
			TopicPrefix: env.MQTTTopicPrefix,
		}, clk, logger)
		if err != nil {
			logger.Warn("MQTT publishing disabled", zap.Error(err))
		} else {
			computed.AddSink(pub)
			recorders = append(recorders, publish.NewRuntimeRecorder(pub, logger))
			sinks = append(sinks, sink{name: "mqtt", close: pub.Close})
		}
	}

	influx, err := history.Connect(ctx, history.Config{
		URL:    env.InfluxURL,
		Token:  env.InfluxToken,
		Org:    env.InfluxOrg,
		Bucket: env.InfluxBucket,
	}, logger)
	switch {
	case errors.Is(err, history.ErrDisabled):
		logger.Info("InfluxDB history disabled")
	case err != nil:
		logger.Warn("InfluxDB history unavailable", zap.Error(err))
	default:
		computed.AddSink(influx)
		recorders = append(recorders, influx)
		sinks = append(sinks, sink{name: "influx", close: influx.Close})
	}

	eng := engine.New(engine.Deps{
		Reader:    reader,
		Driver:    output.NewIsolated(output.NewHADriver(client, logger, env.ReadOnly), flags, logger),
		Flags:     flags,
		Timers:    timers,
		Clock:     clk,
		Events:    client,
		Flasher:   output.NewHAFlasher(client, clk, logger, env.ReadOnly),
		Windows:   suntime.NewCalculator(env.Latitude, env.Longitude, logger),
		Refresher: computed,
		Recorders: recorders,
	}, cfg, logger)

	if err := computed.StartSlopeSampling(client); err != nil {
		logger.Warn("Slope sampling unavailable", zap.Error(err))
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	loader.StartAutoReload(env.ReloadInterval(), func(cfg *config.Config) {
		registry.LoadConfig(cfg)
		computed.UpdateConfig(cfg)
		eng.UpdateConfig(cfg)
	})

	server := api.NewServer(api.Deps{
		Controller: eng,
		State:      flags,
		Timers:     timers,
		Decisions:  decisions,
		Sensors:    computed,
	}, logger, env.HTTPPort)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	logger.Info("Humidity Intelligence running")
	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	loader.Stop()
	eng.Stop()
	computed.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(shutdownCtx)
	g.Go(func() error {
		return server.Stop(gctx)
	})
	for _, s := range sinks {
		s := s
		g.Go(func() error {
			if err := s.close(); err != nil {
				return fmt.Errorf("failed to close %s: %w", s.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
