// Package config loads the service configuration from the environment and an
// optional YAML file, and reloads the file while the service runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	domainconfig "github.com/teesha-ghevariya/to-do/domain/config"
)

// Store backends
const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"server_address"`
	Environment   string `yaml:"environment"`

	// Logging
	LogLevel string `yaml:"log_level"`

	// Persistence
	StoreBackend     string `yaml:"store_backend"`
	AWSRegion        string `yaml:"aws_region"`
	DynamoDBEndpoint string `yaml:"dynamodb_endpoint"`
	TableName        string `yaml:"table_name"`
	LockTableName    string `yaml:"lock_table_name"`
	DatabaseURL      string `yaml:"database_url"`

	// Events
	EnableEvents bool   `yaml:"enable_events"`
	EventBusName string `yaml:"event_bus_name"`

	// Tree locking
	LockTimeout time.Duration `yaml:"lock_timeout"`
	LockLease   time.Duration `yaml:"lock_lease"`

	// Domain limits, zero keeps the environment default
	MaxTreeDepth int `yaml:"max_tree_depth"`
	MaxBatchSize int `yaml:"max_batch_size"`

	// Feature flags
	EnableMetrics bool     `yaml:"enable_metrics"`
	EnableCORS    bool     `yaml:"enable_cors"`
	CORSOrigins   []string `yaml:"cors_origins"`

	// ConfigFile is the optional YAML overlay, watched for changes
	ConfigFile string `yaml:"-"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		ServerAddress: ":8080",
		Environment:   "development",
		LogLevel:      "info",
		StoreBackend:  StoreMemory,
		AWSRegion:     "us-west-2",
		TableName:     "outliner-nodes",
		EventBusName:  "outliner-events",
		LockTimeout:   5 * time.Second,
		LockLease:     30 * time.Second,
		EnableMetrics: true,
		EnableCORS:    true,
		CORSOrigins:   []string{"*"},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// CONFIG_FILE, then environment variables, and validates the result.
func LoadConfig() (*Config, error) {
	cfg := Default()
	cfg.ConfigFile = os.Getenv("CONFIG_FILE")

	if cfg.ConfigFile != "" {
		if err := cfg.loadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServerAddress = getEnv("SERVER_ADDRESS", c.ServerAddress)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.DynamoDBEndpoint = getEnv("DYNAMODB_ENDPOINT", c.DynamoDBEndpoint)
	c.TableName = getEnv("TABLE_NAME", c.TableName)
	c.LockTableName = getEnv("LOCK_TABLE_NAME", c.LockTableName)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)

	c.EnableEvents = getEnvBool("ENABLE_EVENTS", c.EnableEvents)
	c.EventBusName = getEnv("EVENT_BUS_NAME", c.EventBusName)

	c.LockTimeout = getEnvDuration("LOCK_TIMEOUT", c.LockTimeout)
	c.LockLease = getEnvDuration("LOCK_LEASE", c.LockLease)
	c.MaxTreeDepth = getEnvInt("MAX_TREE_DEPTH", c.MaxTreeDepth)
	c.MaxBatchSize = getEnvInt("MAX_BATCH_SIZE", c.MaxBatchSize)

	c.EnableMetrics = getEnvBool("ENABLE_METRICS", c.EnableMetrics)
	c.EnableCORS = getEnvBool("ENABLE_CORS", c.EnableCORS)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.CORSOrigins = splitList(origins)
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StoreDynamoDB:
		if c.TableName == "" {
			return fmt.Errorf("TABLE_NAME is required for the dynamodb store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.EnableEvents && c.EventBusName == "" {
		return fmt.Errorf("EVENT_BUS_NAME is required when events are enabled")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if c.LockLease <= c.LockTimeout {
		return fmt.Errorf("LOCK_LEASE must be longer than LOCK_TIMEOUT")
	}
	if c.MaxTreeDepth < 0 || c.MaxBatchSize < 0 {
		return fmt.Errorf("domain limits cannot be negative")
	}

	return c.Domain().Validate()
}

// Domain returns the domain rules for the environment with any overrides
func (c *Config) Domain() *domainconfig.DomainConfig {
	d := domainconfig.LoadDomainConfig(c.Environment)
	if c.MaxTreeDepth > 0 {
		d.MaxTreeDepth = c.MaxTreeDepth
	}
	if c.MaxBatchSize > 0 {
		d.MaxBatchSize = c.MaxBatchSize
	}
	return d
}

// LockTable returns the table holding lock records
func (c *Config) LockTable() string {
	if c.LockTableName != "" {
		return c.LockTableName
	}
	return c.TableName
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration parses values like "5s" and falls back on bad input
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
