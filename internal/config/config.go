package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Catalog drivers
const (
	CatalogDriverPostgres = "postgres"
	CatalogDriverSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	LogLevel    string
	Catalog     CatalogConfig
	Readings    ReadingsConfig
	VTN         VTNConfig
	Pipeline    PipelineConfig
	Simulation  SimulationConfig
	Schedule    ScheduleConfig
	RabbitMQ    RabbitMQConfig
	Redis       RedisConfig
	Anomaly     AnomalyConfig
}

// CatalogConfig holds resource catalog storage settings
type CatalogConfig struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
}

// ReadingsConfig points at the recorded power samples
type ReadingsConfig struct {
	Path string
}

// VTNConfig holds remote authority connection and credential settings
type VTNConfig struct {
	BaseURL           string
	BearerToken       string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string
	RequestTimeout    time.Duration
	BulkTimeout       time.Duration
}

// PipelineConfig holds registration and upload batching settings
type PipelineConfig struct {
	RegistrationBatchSize  int
	RegistrationBatchDelay time.Duration
	UploadChunkSize        int
	UploadBatchSize        int
	UploadLimitLoads       int
}

// SimulationConfig holds simulation engine settings
type SimulationConfig struct {
	Vens []string
	Seed int64
}

// ScheduleConfig holds periodic task intervals
type ScheduleConfig struct {
	ReportInterval      time.Duration
	StatusCheckInterval time.Duration
	HeartbeatInterval   time.Duration
	EventPollInterval   time.Duration
}

// RabbitMQConfig holds RabbitMQ connection and queue settings.
// An empty URL disables telemetry publishing and status commands.
type RabbitMQConfig struct {
	URL                 string
	TelemetryExchange   string
	TelemetryRoutingKey string
	StatusExchange      string
	StatusQueue         string
	StatusRoutingKey    string
	StatusDLQQueue      string
	PrefetchCount       int
}

// RedisConfig holds cursor checkpoint settings. An empty URL disables checkpointing.
type RedisConfig struct {
	URL       string
	KeyPrefix string
	Timeout   time.Duration
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	SpikeThreshold            float64
	MinDataPointsForDetection int
	WindowSize                int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "ven-fleet-simulator"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Catalog: CatalogConfig{
			Driver:      getEnv("CATALOG_DRIVER", CatalogDriverPostgres),
			DatabaseURL: getEnv("DATABASE_URL", ""),
			SQLitePath:  getEnv("SQLITE_PATH", "./config/resources.db"),
		},
		Readings: ReadingsConfig{
			Path: getEnv("READINGS_PATH", "./config/meterdata/load_data.parquet"),
		},
		VTN: VTNConfig{
			BaseURL:           strings.TrimRight(getEnv("VTN_SERVER_ADDRESS", ""), "/"),
			BearerToken:       getEnv("VTN_BEARER_TOKEN", ""),
			OAuthClientID:     getEnv("OAUTH_CLIENT_ID", ""),
			OAuthClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
			OAuthTokenURL:     getEnv("OAUTH_TOKEN_URL", ""),
			RequestTimeout:    getEnvAsDuration("VTN_REQUEST_TIMEOUT", 30*time.Second),
			BulkTimeout:       getEnvAsDuration("VTN_BULK_TIMEOUT", 300*time.Second),
		},
		Pipeline: PipelineConfig{
			RegistrationBatchSize:  getEnvAsInt("REGISTRATION_BATCH_SIZE", 20),
			RegistrationBatchDelay: getEnvAsDuration("REGISTRATION_BATCH_DELAY", 500*time.Millisecond),
			UploadChunkSize:        getEnvAsInt("UPLOAD_CHUNK_SIZE", 50000),
			UploadBatchSize:        getEnvAsInt("UPLOAD_BATCH_SIZE", 5000),
			UploadLimitLoads:       getEnvAsInt("UPLOAD_LIMIT_LOADS", 0),
		},
		Simulation: SimulationConfig{
			Vens: getEnvAsList("SIMULATION_VENS"),
			Seed: int64(getEnvAsInt("SIMULATION_SEED", 0)),
		},
		Schedule: ScheduleConfig{
			ReportInterval:      getEnvAsDuration("REPORT_INTERVAL", time.Minute),
			StatusCheckInterval: getEnvAsDuration("STATUS_CHECK_INTERVAL", 5*time.Minute),
			HeartbeatInterval:   getEnvAsDuration("HEARTBEAT_INTERVAL", 30*time.Second),
			EventPollInterval:   getEnvAsDuration("EVENT_POLL_INTERVAL", 15*time.Second),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                 getEnv("RABBITMQ_URL", ""),
			TelemetryExchange:   getEnv("RABBITMQ_TELEMETRY_EXCHANGE", "ven-simulator.telemetry.exchange"),
			TelemetryRoutingKey: getEnv("RABBITMQ_TELEMETRY_ROUTING_KEY", "meter.reading.simulated"),
			StatusExchange:      getEnv("RABBITMQ_STATUS_EXCHANGE", "ven-simulator.status.exchange"),
			StatusQueue:         getEnv("RABBITMQ_STATUS_QUEUE", "ven-simulator.status.queue"),
			StatusRoutingKey:    getEnv("RABBITMQ_STATUS_ROUTING_KEY", "resource.status.change"),
			StatusDLQQueue:      getEnv("RABBITMQ_STATUS_DLQ_QUEUE", "ven-simulator.status.dlq"),
			PrefetchCount:       getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "ven-simulator:"),
			Timeout:   getEnvAsDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold:            getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinDataPointsForDetection: getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 3),
			WindowSize:                getEnvAsInt("ANOMALY_WINDOW_SIZE", 10),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	switch c.Catalog.Driver {
	case CatalogDriverPostgres:
		if c.Catalog.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when CATALOG_DRIVER=%s", CatalogDriverPostgres)
		}
	case CatalogDriverSQLite:
		if c.Catalog.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when CATALOG_DRIVER=%s", CatalogDriverSQLite)
		}
	default:
		return fmt.Errorf("unsupported CATALOG_DRIVER %q (expected %s or %s)",
			c.Catalog.Driver, CatalogDriverPostgres, CatalogDriverSQLite)
	}

	if c.VTN.BaseURL == "" {
		return fmt.Errorf("VTN_SERVER_ADDRESS is required but not set in environment variables")
	}
	if c.Pipeline.RegistrationBatchSize <= 0 {
		return fmt.Errorf("REGISTRATION_BATCH_SIZE must be positive, got %d", c.Pipeline.RegistrationBatchSize)
	}
	if c.Pipeline.UploadChunkSize <= 0 {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE must be positive, got %d", c.Pipeline.UploadChunkSize)
	}
	if c.Anomaly.WindowSize <= 0 {
		return fmt.Errorf("ANOMALY_WINDOW_SIZE must be positive, got %d", c.Anomaly.WindowSize)
	}

	return nil
}

// HasOAuth reports whether client credentials are configured
func (c VTNConfig) HasOAuth() bool {
	return c.OAuthClientID != "" && c.OAuthClientSecret != "" && c.OAuthTokenURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("90s") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
