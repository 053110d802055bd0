// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Reconciler  ReconcilerConfig
	Cache       CacheConfig
	Log         LogConfig
	I18n        I18nConfig
	Frontend    FrontendConfig
	RateLimit   RateLimitConfig
}

type FrontendConfig struct {
	BaseURL string
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Driver       string // postgres or memory
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	EventBucket     string
}

type PaymentConfig struct {
	Provider            string // stripe or sandbox
	StripeTestSecretKey string
	StripeLiveSecretKey string
	StripeWebhookSecret string
	SandboxSecret       string
	Currency            string
	SessionTTLMinutes   int
	CreationLockSeconds int
	CreationWaitMillis  int
}

func (p PaymentConfig) SessionTTL() time.Duration {
	return time.Duration(p.SessionTTLMinutes) * time.Minute
}

type ReconcilerConfig struct {
	AbandonAfterMinutes  int
	SweepIntervalSeconds int
	PollAfterSeconds     int
	BatchSize            int
}

func (r ReconcilerConfig) AbandonAfter() time.Duration {
	return time.Duration(r.AbandonAfterMinutes) * time.Minute
}

func (r ReconcilerConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalSeconds) * time.Second
}

func (r ReconcilerConfig) PollAfter() time.Duration {
	return time.Duration(r.PollAfterSeconds) * time.Second
}

type CacheConfig struct {
	TTLSeconds int
	MaxEntries int
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type LogConfig struct {
	Level  string
	Format string
}

type I18nConfig struct {
	DefaultLocale string
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	environment := getEnv("ENVIRONMENT", "development")
	defaultFormat := "text"
	if environment == "production" {
		defaultFormat = "json"
	}

	config := &Config{
		Environment: environment,
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "checkout"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", defaultJWTSecret),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			EventBucket:     getEnv("AWS_EVENT_BUCKET", "checkout-provider-events"),
		},
		Payment: PaymentConfig{
			Provider:            getEnv("PAYMENT_PROVIDER", "sandbox"),
			StripeTestSecretKey: getEnv("STRIPE_TEST_SECRET_KEY", ""),
			StripeLiveSecretKey: getEnv("STRIPE_LIVE_SECRET_KEY", ""),
			StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SandboxSecret:       getEnv("SANDBOX_WEBHOOK_SECRET", "sandbox-secret"),
			Currency:            strings.ToLower(getEnv("PAYMENT_CURRENCY", "usd")),
			SessionTTLMinutes:   getEnvAsInt("PAYMENT_SESSION_TTL_MINUTES", 30),
			CreationLockSeconds: getEnvAsInt("PAYMENT_CREATION_LOCK_SECONDS", 15),
			CreationWaitMillis:  getEnvAsInt("PAYMENT_CREATION_WAIT_MS", 2000),
		},
		Reconciler: ReconcilerConfig{
			AbandonAfterMinutes:  getEnvAsInt("RECONCILER_ABANDON_AFTER_MINUTES", 45),
			SweepIntervalSeconds: getEnvAsInt("RECONCILER_SWEEP_INTERVAL_SECONDS", 60),
			PollAfterSeconds:     getEnvAsInt("RECONCILER_POLL_AFTER_SECONDS", 120),
			BatchSize:            getEnvAsInt("RECONCILER_BATCH_SIZE", 100),
		},
		Cache: CacheConfig{
			TTLSeconds: getEnvAsInt("CACHE_TTL_SECONDS", 300),
			MaxEntries: getEnvAsInt("CACHE_MAX_ENTRIES", 10000),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", defaultFormat),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
		},
		Frontend: FrontendConfig{
			BaseURL: getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.Reconciler.AbandonAfterMinutes <= c.Payment.SessionTTLMinutes {
		return fmt.Errorf("abandon timeout (%dm) must be longer than the provider session TTL (%dm)",
			c.Reconciler.AbandonAfterMinutes, c.Payment.SessionTTLMinutes)
	}

	switch c.Payment.Provider {
	case "stripe", "sandbox":
	default:
		return fmt.Errorf("unknown payment provider %q", c.Payment.Provider)
	}

	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Environment != "production" {
		return nil
	}

	if c.JWT.SecretKey == defaultJWTSecret {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Payment.Provider != "stripe" {
		return fmt.Errorf("the sandbox payment provider cannot run in production")
	}

	if c.Payment.StripeLiveSecretKey == "" || c.Payment.StripeWebhookSecret == "" {
		return fmt.Errorf("stripe live key and webhook secret are required in production")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
