package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	Gemini        GeminiConfig
	Categorizer   CategorizerConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

type GeminiConfig struct {
	APIKey string
	Model  string
	// RequestsPerMinute bounds outgoing classifier calls.
	RequestsPerMinute int
}

// CategorizerConfig holds the tuning knobs for the categorization pipeline.
// Defaults are deliberate: batch size is a cost/latency knob, not a
// correctness boundary, and the threshold gates which AI results are applied.
type CategorizerConfig struct {
	BatchSize           int
	ConfidenceThreshold float64
	Timeout             time.Duration
	MaxRetries          int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "ledgerlite-dev"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
		Gemini: GeminiConfig{
			APIKey:            getEnv("GEMINI_API_KEY", ""),
			Model:             getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			RequestsPerMinute: getEnvAsInt("GEMINI_REQUESTS_PER_MINUTE", 15),
		},
		Categorizer: CategorizerConfig{
			BatchSize:           getEnvAsInt("CATEGORIZER_BATCH_SIZE", 50),
			ConfidenceThreshold: getEnvAsFloat("CATEGORIZER_CONFIDENCE_THRESHOLD", 0.7),
			Timeout:             time.Duration(getEnvAsInt("CATEGORIZER_TIMEOUT_SECONDS", 120)) * time.Second,
			MaxRetries:          getEnvAsInt("CATEGORIZER_MAX_RETRIES", 3),
		},
	}

	if cfg.Categorizer.BatchSize < 1 {
		return nil, errors.New("CATEGORIZER_BATCH_SIZE must be at least 1")
	}
	if cfg.Categorizer.ConfidenceThreshold < 0 || cfg.Categorizer.ConfidenceThreshold > 1 {
		return nil, errors.New("CATEGORIZER_CONFIDENCE_THRESHOLD must be within [0,1]")
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
