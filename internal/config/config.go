/**
 * Configuration for the manga translation worker.
 *
 * Loads configuration from environment variables matching .env
 */

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue + translation cache + status events)
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// Translation backend (OpenAI-compatible chat completions endpoint)
	TranslatorAPIKey string
	TranslatorAPIURL string
	TranslatorModel  string

	// Pipeline configuration
	MinOCRConfidence     float64
	MaxPageConcurrency   int
	TranslationTimeoutMs int
	MinFontSize          int

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64
	ProcessingTimeout int

	// Rendering
	FontPath string

	// Temporary directory for PDF page extraction
	TempDir string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:             getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		TranslatorAPIKey:     os.Getenv("TRANSLATOR_API_KEY"),
		TranslatorAPIURL:     getEnvOrDefault("TRANSLATOR_API_URL", "https://api.openai.com/v1"),
		TranslatorModel:      getEnvOrDefault("TRANSLATOR_MODEL", "gpt-4o-mini"),
		MinOCRConfidence:     getEnvAsFloatOrDefault("MIN_OCR_CONFIDENCE", 0.40),
		MaxPageConcurrency:   getEnvAsIntOrDefault("MAX_PAGE_CONCURRENCY", runtime.NumCPU()),
		TranslationTimeoutMs: getEnvAsIntOrDefault("TRANSLATION_TIMEOUT_MS", 30000),
		MinFontSize:          getEnvAsIntOrDefault("MIN_FONT_SIZE", 10),
		WorkerConcurrency:    getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:          getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800), // 50MB
		ProcessingTimeout:    getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 600000), // 10 minutes
		FontPath:             getEnvOrDefault("FONT_PATH", ""),
		TempDir:              getEnvOrDefault("TEMP_DIR", os.TempDir()),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.MinOCRConfidence < 0 || c.MinOCRConfidence > 1 {
		return fmt.Errorf("MIN_OCR_CONFIDENCE must be between 0 and 1, got %f", c.MinOCRConfidence)
	}

	if c.MaxPageConcurrency < 1 || c.MaxPageConcurrency > 64 {
		return fmt.Errorf("MAX_PAGE_CONCURRENCY must be between 1 and 64, got %d", c.MaxPageConcurrency)
	}

	if c.TranslationTimeoutMs < 100 {
		return fmt.Errorf("TRANSLATION_TIMEOUT_MS must be at least 100, got %d", c.TranslationTimeoutMs)
	}

	if c.MinFontSize < 1 {
		return fmt.Errorf("MIN_FONT_SIZE must be positive, got %d", c.MinFontSize)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 {
		return fmt.Errorf("MAX_FILE_SIZE must be at least 1KB, got %d", c.MaxFileSize)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
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

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
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
