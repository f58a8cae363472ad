// Package config loads binary configuration from a yaml file with
// environment overrides
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config represents relay and tail configuration
type Config struct {
	Log       Log       `yaml:"log"`
	Kafka     Kafka     `yaml:"kafka"`
	Journal   Journal   `yaml:"journal"`
	Relay     Relay     `yaml:"relay"`
	Ambar     Ambar     `yaml:"ambar"`
	Redis     Redis     `yaml:"redis"`
	Telemetry Telemetry `yaml:"telemetry"`
}

// Log configures the slog level of the binaries
type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// Kafka configures the brokers, the topic and how publishing is acknowledged
type Kafka struct {
	Brokers      []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic        string        `yaml:"topic" env:"KAFKA_TOPIC" env-default:"domain-events"`
	GroupID      string        `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"kafkaevents-tail"`
	Confirmation string        `yaml:"confirmation" env:"KAFKA_CONFIRMATION" env-default:"wait-for-ack"`
	AckTimeout   time.Duration `yaml:"ack_timeout" env:"KAFKA_ACK_TIMEOUT" env-default:"1s"`
}

// Journal selects the journal storage. SQLite wins if both are set
type Journal struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"JOURNAL_POSTGRES_DSN"`
	SQLitePath  string `yaml:"sqlite_path" env:"JOURNAL_SQLITE_PATH"`
}

// Relay configures journal polling of the relay binary
type Relay struct {
	Name         string        `yaml:"name" env:"RELAY_NAME" env-default:"kafka-relay"`
	BatchSize    int           `yaml:"batch_size" env:"RELAY_BATCH_SIZE" env-default:"100"`
	PollInterval time.Duration `yaml:"poll_interval" env:"RELAY_POLL_INTERVAL" env-default:"100ms"`
}

// Ambar configures the optional ambar data destination endpoint
type Ambar struct {
	Enabled bool   `yaml:"enabled" env:"AMBAR_ENABLED" env-default:"false"`
	Addr    string `yaml:"addr" env:"AMBAR_ADDR" env-default:":8080"`

	// Basic auth credentials of the data destination (optional)
	Username string `yaml:"username" env:"AMBAR_USERNAME"`
	Password string `yaml:"password" env:"AMBAR_PASSWORD"`
}

// Redis enables message deduplication in the tail binary when Addr is set
type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_DEDUP_TTL" env-default:"24h"`
}

// Telemetry configures otlp trace export
type Telemetry struct {
	Enabled      bool    `yaml:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	ServiceName  string  `yaml:"service_name" env:"OTEL_SERVICE_NAME" env-default:"kafkaevents"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	SampleRatio  float64 `yaml:"sample_ratio" env:"OTEL_SAMPLING_RATIO" env-default:"1"`
}

// Load reads config from path (if it exists) and lets environment
// variables override it
func Load(path string) (*Config, error) {
	var cfg Config

	_, err := os.Stat(path)

	switch {
	case err == nil:
		err = cleanenv.ReadConfig(path, &cfg)
	case errors.Is(err, os.ErrNotExist):
		err = cleanenv.ReadEnv(&cfg)
	}

	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return &cfg, nil
}
