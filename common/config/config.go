package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Blob      BlobConfig
	Credits   CreditsConfig
	Engine    EngineConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// BlobConfig holds object store settings
type BlobConfig struct {
	SigningSecret  string
	PublicBaseURL  string
	DefaultExpiry  time.Duration
	MaxExpiry      time.Duration
	MaxObjectBytes int64
}

// CreditsConfig holds compute-credit accounting settings
type CreditsConfig struct {
	Enforce bool
}

// EngineConfig holds execution engine settings
type EngineConfig struct {
	Mode         string // "dev" or "prod"
	DurableSteps bool
	StepCacheTTL time.Duration
	Env          map[string]string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "runlet"),
			User:        getEnv("POSTGRES_USER", "runlet"),
			Password:    getEnv("POSTGRES_PASSWORD", "runlet"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Blob: BlobConfig{
			SigningSecret:  getEnv("BLOB_SIGNING_SECRET", "dev-signing-secret"),
			PublicBaseURL:  getEnv("BLOB_PUBLIC_BASE_URL", "http://localhost:8080"),
			DefaultExpiry:  getEnvDuration("BLOB_DEFAULT_EXPIRY", time.Hour),
			MaxExpiry:      getEnvDuration("BLOB_MAX_EXPIRY", 7*24*time.Hour),
			MaxObjectBytes: int64(getEnvInt("BLOB_MAX_OBJECT_BYTES", 64<<20)),
		},
		Credits: CreditsConfig{
			Enforce: getEnvBool("CREDITS_ENFORCE", true),
		},
		Engine: EngineConfig{
			Mode:         getEnv("ENGINE_MODE", "prod"),
			DurableSteps: getEnvBool("ENGINE_DURABLE_STEPS", true),
			StepCacheTTL: getEnvDuration("ENGINE_STEP_CACHE_TTL", 24*time.Hour),
			Env:          engineEnv(),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", true),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.Mode != "dev" && c.Engine.Mode != "prod" {
		return fmt.Errorf("invalid engine mode: %s", c.Engine.Mode)
	}

	if c.Blob.MaxExpiry < c.Blob.DefaultExpiry {
		return fmt.Errorf("blob max expiry must be >= default expiry")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// engineEnv collects provider settings that are passed through to node
// execution contexts.
func engineEnv() map[string]string {
	env := map[string]string{}
	for _, key := range []string{"OPENAI_MODEL", "OPENAI_BASE_URL"} {
		if value := os.Getenv(key); value != "" {
			env[key] = value
		}
	}
	return env
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
