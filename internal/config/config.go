package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSigningSecret   string
	JWTAccessTTL       time.Duration
	OperatorBootstrapSecret string

	// Field-level encryption (national ID etc.)
	FieldEncryptionKey string

	// Server
	Port        string
	CORSOrigins []string
	Env         string

	// Object storage (manual-proof evidence)
	S3 S3Config

	// Payment provider
	Provider ProviderConfig

	// Idempotency
	IdempotencyTTL time.Duration
}

// S3Config holds S3-compatible object storage configuration.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// ProviderConfig configures the outbound PaymentProvider implementation.
type ProviderConfig struct {
	Mode    string // "sandbox" or "rest"
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		JWTSigningSecret:        getEnv("JWT_SIGNING_SECRET", ""),
		JWTAccessTTL:            getDuration("JWT_ACCESS_TTL", time.Hour),
		OperatorBootstrapSecret: getEnv("OPERATOR_BOOTSTRAP_SECRET", ""),
		FieldEncryptionKey:      getEnv("FIELD_ENCRYPTION_KEY", ""),
		Port:                    getEnv("PORT", "8080"),
		CORSOrigins:             strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		Env:                     getEnv("ENV", "development"),
		S3: S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("S3_SECRET_KEY", ""),
			BucketName:      getEnv("S3_BUCKET", "fortuna-loan-evidence"),
			UseSSL:          getEnv("S3_USE_SSL", "false") == "true",
		},
		Provider: ProviderConfig{
			Mode:    getEnv("PROVIDER_MODE", "sandbox"),
			BaseURL: getEnv("PROVIDER_BASE_URL", ""),
			APIKey:  getEnv("PROVIDER_API_KEY", ""),
			Timeout: getDuration("PROVIDER_TIMEOUT", 15*time.Second),
		},
		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSigningSecret == "" {
		return fmt.Errorf("JWT_SIGNING_SECRET is required")
	}
	if len(c.FieldEncryptionKey) != 32 {
		return fmt.Errorf("FIELD_ENCRYPTION_KEY must be exactly 32 bytes")
	}
	if c.Provider.Mode != "sandbox" && c.Provider.Mode != "rest" {
		return fmt.Errorf("PROVIDER_MODE must be 'sandbox' or 'rest'")
	}
	if c.Provider.Mode == "rest" && c.Provider.BaseURL == "" {
		return fmt.Errorf("PROVIDER_BASE_URL is required when PROVIDER_MODE=rest")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
