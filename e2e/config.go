package e2e

import (
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for E2E tests
type Config struct {
	// ConfigPath is an authenticated onedrive-extractor configuration.
	ConfigPath string
	// FilePath overrides settings.file_path of that configuration.
	FilePath string
	Timeout  time.Duration
	// MaxFiles skips the full download when the mask selects more files.
	MaxFiles int
}

// LoadConfig loads E2E test configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		ConfigPath: getEnvOrDefault("ONEDRIVE_EXTRACTOR_E2E_CONFIG", "../config.json"),
		FilePath:   os.Getenv("ONEDRIVE_EXTRACTOR_E2E_FILE_PATH"),
		Timeout:    getTimeoutFromEnv("ONEDRIVE_EXTRACTOR_E2E_TIMEOUT", 300*time.Second),
		MaxFiles:   getIntFromEnv("ONEDRIVE_EXTRACTOR_E2E_MAX_FILES", 20),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getTimeoutFromEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getIntFromEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return defaultValue
}
