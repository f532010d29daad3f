package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	ServiceName    = "canteen"
	ServiceVersion = "0.1.0"
)

const (
	TracesPath    = "/v1/traces"
	LogsPath      = "/v1/logs"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	MySQLDSN  string
	RedisAddr string

	KafkaBrokers string
	KafkaTopic   string

	OtelEndpoint string

	QueueCapacity     int
	QueueBlockOnFull  bool
	QueueBlockTimeout time.Duration
	StationWait       time.Duration
	EventBuffer       int

	SeedMenu bool
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:          getEnv("GRPC_ADDR", ":9090"),
		MySQLDSN:          getEnv("MYSQL_DSN", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		KafkaBrokers:      getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "canteen.order-events"),
		OtelEndpoint:      getEnv("OTEL_ENDPOINT", ""),
		QueueCapacity:     getEnvAsInt("QUEUE_CAPACITY", 50),
		QueueBlockOnFull:  getEnvAsBool("QUEUE_BLOCK_ON_FULL", false),
		QueueBlockTimeout: getEnvAsDuration("QUEUE_BLOCK_TIMEOUT", 2*time.Second),
		StationWait:       getEnvAsDuration("STATION_WAIT", 0),
		EventBuffer:       getEnvAsInt("EVENT_BUFFER", 1024),
		SeedMenu:          getEnvAsBool("SEED_MENU", true),
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR must not be empty"))
	}
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("QUEUE_CAPACITY must be >= 0, got %d", c.QueueCapacity))
	}
	if c.QueueBlockOnFull && c.QueueBlockTimeout <= 0 {
		errs = append(errs, errors.New("QUEUE_BLOCK_TIMEOUT must be positive when QUEUE_BLOCK_ON_FULL is set"))
	}
	if c.StationWait < 0 {
		errs = append(errs, fmt.Errorf("STATION_WAIT must be >= 0, got %s", c.StationWait))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER must be positive, got %d", c.EventBuffer))
	}
	if c.KafkaBrokers != "" && c.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required with KAFKA_BROKERS"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
