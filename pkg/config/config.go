package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Store backends
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Settings sources
const (
	SettingsStatic = "static"
	SettingsRedis  = "redis"
)

// Config holds the configuration for a J.E.E.V.E.S. RTLS agent
type Config struct {
	// MQTT configuration
	MQTTBroker   string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string

	// Redis configuration
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Postgres configuration
	PostgresHost               string
	PostgresPort               int
	PostgresUser               string
	PostgresPassword           string
	PostgresDB                 string
	PostgresSSLMode            string
	PostgresMaxConnections     int
	PostgresMaxIdleConnections int
	PostgresConnMaxLifetime    time.Duration

	// Service configuration
	ServiceName string
	HealthPort  int
	APIPort     int
	LogLevel    string

	// Tracker configuration
	ZoneTopics     []string
	StoreBackend   string
	SettingsSource string
	ZonesFile      string
	Workers        int
	MaxRetries     int
	RetryBackoff   time.Duration

	// Hysteresis thresholds (used when SettingsSource is static)
	MinDwell          time.Duration
	MinDwellReturning time.Duration
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		MQTTBroker: "localhost",
		MQTTPort:   1883,
		RedisHost:  "localhost",
		RedisPort:  6379,
		RedisDB:    0,
		// Postgres defaults
		PostgresHost:               "localhost",
		PostgresPort:               5432,
		PostgresUser:               "jeeves",
		PostgresDB:                 "jeeves",
		PostgresSSLMode:            "disable",
		PostgresMaxConnections:     10,
		PostgresMaxIdleConnections: 5,
		PostgresConnMaxLifetime:    30 * time.Minute,
		// Service defaults
		ServiceName: "tracker-agent",
		HealthPort:  8080,
		APIPort:     3003,
		LogLevel:    "info",
		// Tracker defaults
		ZoneTopics:     []string{"rtls/raw/zone/+"},
		StoreBackend:   StorePostgres,
		SettingsSource: SettingsStatic,
		Workers:        8,
		MaxRetries:     3,
		RetryBackoff:   100 * time.Millisecond,
		// Hysteresis defaults
		MinDwell:          5 * time.Second,
		MinDwellReturning: 15 * time.Second,
	}
}

// LoadFromEnv loads configuration from environment variables with JEEVES_ prefix
func (c *Config) LoadFromEnv() {
	// MQTT configuration
	if v := os.Getenv("JEEVES_MQTT_BROKER"); v != "" {
		c.MQTTBroker = v
	}
	if v := os.Getenv("JEEVES_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTTPort = port
		}
	}
	if v := os.Getenv("JEEVES_MQTT_USER"); v != "" {
		c.MQTTUser = v
	}
	if v := os.Getenv("JEEVES_MQTT_PASSWORD"); v != "" {
		c.MQTTPassword = v
	}
	if v := os.Getenv("JEEVES_MQTT_CLIENT_ID"); v != "" {
		c.MQTTClientID = v
	}

	// Redis configuration
	if v := os.Getenv("JEEVES_REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v := os.Getenv("JEEVES_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.RedisPort = port
		}
	}
	if v := os.Getenv("JEEVES_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("JEEVES_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}

	// Postgres configuration
	if v := os.Getenv("JEEVES_POSTGRES_HOST"); v != "" {
		c.PostgresHost = v
	}
	if v := os.Getenv("JEEVES_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.PostgresPort = port
		}
	}
	if v := os.Getenv("JEEVES_POSTGRES_USER"); v != "" {
		c.PostgresUser = v
	}
	if v := os.Getenv("JEEVES_POSTGRES_PASSWORD"); v != "" {
		c.PostgresPassword = v
	}
	if v := os.Getenv("JEEVES_POSTGRES_DB"); v != "" {
		c.PostgresDB = v
	}
	if v := os.Getenv("JEEVES_POSTGRES_SSLMODE"); v != "" {
		c.PostgresSSLMode = v
	}
	if v := os.Getenv("JEEVES_POSTGRES_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PostgresMaxConnections = n
		}
	}

	// Service configuration
	if v := os.Getenv("JEEVES_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("JEEVES_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HealthPort = port
		}
	}
	if v := os.Getenv("JEEVES_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.APIPort = port
		}
	}
	if v := os.Getenv("JEEVES_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	// Tracker configuration
	if v := os.Getenv("JEEVES_ZONE_TOPICS"); v != "" {
		c.ZoneTopics = strings.Split(v, ",")
	}
	if v := os.Getenv("JEEVES_STORE_BACKEND"); v != "" {
		c.StoreBackend = v
	}
	if v := os.Getenv("JEEVES_SETTINGS_SOURCE"); v != "" {
		c.SettingsSource = v
	}
	if v := os.Getenv("JEEVES_ZONES_FILE"); v != "" {
		c.ZonesFile = v
	}
	if v := os.Getenv("JEEVES_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Workers = n
		}
	}
	if v := os.Getenv("JEEVES_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("JEEVES_RETRY_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RetryBackoff = d
		}
	}

	// Hysteresis thresholds
	if v := os.Getenv("JEEVES_MIN_DWELL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.MinDwell = d
		}
	}
	if v := os.Getenv("JEEVES_MIN_DWELL_RETURNING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.MinDwellReturning = d
		}
	}
}

// LoadFromFlags parses command-line flags and overrides config values
func (c *Config) LoadFromFlags() {
	c.BindFlags(pflag.CommandLine)
	pflag.Parse()
}

// BindFlags registers all configuration flags on the given flag set
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	// MQTT flags
	fs.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	fs.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	fs.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	fs.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	fs.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Redis flags
	fs.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	fs.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	// Postgres flags
	fs.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	fs.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	fs.StringVar(&c.PostgresUser, "postgres-user", c.PostgresUser, "Postgres user")
	fs.StringVar(&c.PostgresPassword, "postgres-password", c.PostgresPassword, "Postgres password")
	fs.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database name")
	fs.StringVar(&c.PostgresSSLMode, "postgres-sslmode", c.PostgresSSLMode, "Postgres sslmode")
	fs.IntVar(&c.PostgresMaxConnections, "postgres-max-connections", c.PostgresMaxConnections, "Maximum open Postgres connections")

	// Service flags
	fs.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	fs.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health check HTTP port")
	fs.IntVar(&c.APIPort, "api-port", c.APIPort, "Query API HTTP port")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")

	// Tracker flags
	fs.StringSliceVar(&c.ZoneTopics, "zone-topics", c.ZoneTopics, "MQTT topics carrying raw zone assignments")
	fs.StringVar(&c.StoreBackend, "store", c.StoreBackend, "History store backend (postgres, memory)")
	fs.StringVar(&c.SettingsSource, "settings-source", c.SettingsSource, "Threshold source (static, redis)")
	fs.StringVar(&c.ZonesFile, "zones-file", c.ZonesFile, "YAML zone catalog (empty reads zone names from Redis)")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Number of per-tag ingest workers")
	fs.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "Retries for transient storage failures")
	fs.DurationVar(&c.RetryBackoff, "retry-backoff", c.RetryBackoff, "Initial backoff between retries")

	// Hysteresis flags
	fs.DurationVar(&c.MinDwell, "min-dwell", c.MinDwell, "MIN_DWELL: minimum dwell before accepting a move to a new zone")
	fs.DurationVar(&c.MinDwellReturning, "min-dwell-returning", c.MinDwellReturning, "MIN_DWELL_RETURNING: minimum dwell before accepting a return to the previous zone")
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT port must be between 1 and 65535")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("Redis host is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("Redis port must be between 1 and 65535")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("Health port must be between 1 and 65535")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API port must be between 1 and 65535")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("Service name is required")
	}

	switch c.StoreBackend {
	case StorePostgres:
		if c.PostgresHost == "" || c.PostgresDB == "" {
			return fmt.Errorf("Postgres host and database are required for the postgres store")
		}
		if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
			return fmt.Errorf("Postgres port must be between 1 and 65535")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid store backend: %s (must be postgres or memory)", c.StoreBackend)
	}

	switch c.SettingsSource {
	case SettingsStatic:
		if c.MinDwell <= 0 || c.MinDwellReturning <= 0 {
			return fmt.Errorf("min-dwell and min-dwell-returning must be positive")
		}
	case SettingsRedis:
	default:
		return fmt.Errorf("invalid settings source: %s (must be static or redis)", c.SettingsSource)
	}

	if len(c.ZoneTopics) == 0 {
		return fmt.Errorf("at least one zone topic is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must not be negative")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresConnectionString returns a lib/pq key/value connection string
func (c *Config) PostgresConnectionString() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.PostgresHost),
		fmt.Sprintf("port=%d", c.PostgresPort),
		fmt.Sprintf("dbname=%s", c.PostgresDB),
		fmt.Sprintf("sslmode=%s", c.PostgresSSLMode),
	}
	if c.PostgresUser != "" {
		parts = append(parts, fmt.Sprintf("user=%s", c.PostgresUser))
	}
	if c.PostgresPassword != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.PostgresPassword))
	}
	return strings.Join(parts, " ")
}
