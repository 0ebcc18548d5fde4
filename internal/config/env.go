package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Env holds process settings read from the environment.
type Env struct {
	HAURL    string `env:"HA_URL" env-required:"true"`
	HAToken  string `env:"HA_TOKEN" env-required:"true"`
	ReadOnly bool   `env:"READ_ONLY" env-default:"false"`

	ConfigPath          string `env:"HI_CONFIG_PATH" env-default:"./configs/humidity_intelligence.yaml"`
	OptionsPath         string `env:"HI_OPTIONS_PATH" env-default:"./configs/options.yaml"`
	ConfigReloadSeconds int    `env:"CONFIG_RELOAD_SECONDS" env-default:"30"`

	HTTPPort int `env:"HTTP_PORT" env-default:"8080"`

	Latitude  float64 `env:"LATITUDE" env-default:"51.5074"`
	Longitude float64 `env:"LONGITUDE" env-default:"-0.1278"`

	MQTTBroker      string `env:"MQTT_BROKER"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" env-default:"humidity-intelligence"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" env-default:"humidity_intelligence"`

	InfluxURL    string `env:"INFLUX_URL"`
	InfluxToken  string `env:"INFLUX_TOKEN"`
	InfluxOrg    string `env:"INFLUX_ORG" env-default:"home"`
	InfluxBucket string `env:"INFLUX_BUCKET" env-default:"humidity_intelligence"`

	Logging LoggingConfig
}

// LoggingConfig selects log format and level.
type LoggingConfig struct {
	Format string `env:"LOG_FORMAT" env-default:"console"`
	Level  string `env:"LOG_LEVEL" env-default:"info"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (*Env, error) {
	var env Env
	if err := cleanenv.ReadEnv(&env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if env.ConfigReloadSeconds < 1 {
		env.ConfigReloadSeconds = 30
	}
	return &env, nil
}

// ReloadInterval is the config poll interval.
func (e *Env) ReloadInterval() time.Duration {
	return time.Duration(e.ConfigReloadSeconds) * time.Second
}
