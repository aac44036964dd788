// Package config loads the process configuration from the environment. The
// mapping profiles themselves live in a YAML settings file referenced here;
// see internal/settings.
package config

import (
	"fmt"
	"os"
	"strconv"
)

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

type Config struct {
	Environment string
	ListenAddr  string

	// DatabaseURL is the record store's Postgres DSN.
	DatabaseURL string
	// RecordBaseURL builds deep links into the record store UI.
	RecordBaseURL string

	// Tracker connection. Token auth and username+key auth are mutually
	// exclusive; trackerrest validates that.
	TrackerBaseURL  string
	TrackerToken    string
	TrackerUsername string
	TrackerAPIKey   string

	// WebhookToken is the shared secret both inbound endpoints require.
	WebhookToken string
	// MappingFile is the YAML settings file declaring the sync profiles.
	MappingFile string

	SnowflakeNodeID int64

	OTel OTelConfig
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c Config) IsDevelopment() bool {
	return !c.IsProduction()
}

// Load reads the configuration from environment variables. Missing required
// values are fatal.
func Load() (Config, error) {
	cfg := Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RecordBaseURL:   os.Getenv("RECORD_BASE_URL"),
		TrackerBaseURL:  os.Getenv("TRACKER_BASE_URL"),
		TrackerToken:    os.Getenv("TRACKER_TOKEN"),
		TrackerUsername: os.Getenv("TRACKER_USERNAME"),
		TrackerAPIKey:   os.Getenv("TRACKER_API_KEY"),
		WebhookToken:    os.Getenv("WEBHOOK_TOKEN"),
		MappingFile:     getEnv("MAPPING_FILE", "sync.yaml"),
		OTel: OTelConfig{
			Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Headers:        os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "sync-server"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
	}

	nodeID, err := strconv.ParseInt(getEnv("SNOWFLAKE_NODE_ID", "1"), 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("parsing SNOWFLAKE_NODE_ID: %w", err)
	}
	cfg.SnowflakeNodeID = nodeID

	if cfg.WebhookToken == "" {
		return Config{}, fmt.Errorf("WEBHOOK_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
