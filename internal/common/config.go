package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Engine   EngineConfig
	Runtime  RuntimeConfig
}

// DatabaseConfig holds job-store configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// EngineConfig holds queue and orchestration configuration
type EngineConfig struct {
	DataRoot          string
	MaxQueueSize      int
	MaxConcurrency    int
	HeartbeatInterval time.Duration
	StaleThreshold    time.Duration
	DefaultJobTimeout time.Duration
}

// RuntimeConfig holds activation-environment configuration
type RuntimeConfig struct {
	Interpreter      string
	BlockingPoolSize int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", "file:rowforge.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Engine: EngineConfig{
			DataRoot:          getEnv("DATA_ROOT", "./data"),
			MaxQueueSize:      getEnvAsInt("MAX_QUEUE_SIZE", 64),
			MaxConcurrency:    getEnvAsInt("MAX_CONCURRENCY", 4),
			HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", 15*time.Second),
			StaleThreshold:    getEnvAsDuration("STALE_THRESHOLD", 2*time.Minute),
			DefaultJobTimeout: getEnvAsDuration("DEFAULT_JOB_TIMEOUT", 5*time.Minute),
		},
		Runtime: RuntimeConfig{
			Interpreter:      getEnv("PYTHON_INTERPRETER", "python3"),
			BlockingPoolSize: getEnvAsInt("BLOCKING_POOL_SIZE", 4),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Engine.DataRoot == "" {
		return NewAppError("CONFIG_ERROR", "DATA_ROOT is required", ErrInvalidInput)
	}
	if c.Engine.MaxQueueSize <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_QUEUE_SIZE must be positive", ErrInvalidInput)
	}
	if c.Engine.MaxConcurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_CONCURRENCY must be positive", ErrInvalidInput)
	}
	if c.Runtime.BlockingPoolSize <= 0 {
		return NewAppError("CONFIG_ERROR", "BLOCKING_POOL_SIZE must be positive", ErrInvalidInput)
	}
	return nil
}
