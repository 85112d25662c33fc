// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Decision pipeline
	DecisionBudget time.Duration // end-to-end budget per decision
	RulesTimeout   time.Duration // rules path sub-timeout
	ScoreTimeout   time.Duration // model path sub-timeout
	MidThreshold   float64       // score at or above this challenges
	HighThreshold  float64       // score at or above this denies

	// Strong authentication mapping for CHALLENGE verdicts
	StrongAuthAmount float64 // amount at or above this always requires strong auth
	StrongAuthMargin float64 // score margin above MidThreshold that requires strong auth

	// Rule storage
	RuleRefreshInterval time.Duration

	// Idempotency
	IdempotencyTTL time.Duration

	// Audit
	AuditSecret string // HMAC secret for audit entry signatures (required)

	// Model scorer
	ScorerURL   string // empty disables the model path
	ScorerToken string

	// Circuit breaker
	BreakerThreshold    int
	BreakerOpenDuration time.Duration

	// Event publishing
	PublisherURL    string // downstream webhook endpoint (empty disables publishing)
	PublisherSecret string

	// Security
	RateLimitRPS int
	AdminSecret  string // operator API secret (key issuance, rule management)

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultDecisionBudget      = 120 * time.Millisecond
	DefaultRulesTimeout        = 50 * time.Millisecond
	DefaultScoreTimeout        = 80 * time.Millisecond
	DefaultMidThreshold        = 0.5
	DefaultHighThreshold       = 0.85
	DefaultStrongAuthAmount    = 500.0
	DefaultStrongAuthMargin    = 0.0
	DefaultRuleRefreshInterval = 30 * time.Second
	DefaultIdempotencyTTL      = 24 * time.Hour
	DefaultBreakerThreshold    = 5
	DefaultBreakerOpen         = 10 * time.Second
	DefaultRateLimit           = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		DecisionBudget:      getEnvDuration("DECISION_BUDGET", DefaultDecisionBudget),
		RulesTimeout:        getEnvDuration("RULES_TIMEOUT", DefaultRulesTimeout),
		ScoreTimeout:        getEnvDuration("SCORE_TIMEOUT", DefaultScoreTimeout),
		MidThreshold:        getEnvFloat("SCORE_MID_THRESHOLD", DefaultMidThreshold),
		HighThreshold:       getEnvFloat("SCORE_HIGH_THRESHOLD", DefaultHighThreshold),
		StrongAuthAmount:    getEnvFloat("STRONG_AUTH_AMOUNT", DefaultStrongAuthAmount),
		StrongAuthMargin:    getEnvFloat("STRONG_AUTH_SCORE_MARGIN", DefaultStrongAuthMargin),
		RuleRefreshInterval: getEnvDuration("RULE_REFRESH_INTERVAL", DefaultRuleRefreshInterval),
		IdempotencyTTL:      getEnvDuration("IDEMPOTENCY_TTL", DefaultIdempotencyTTL),
		AuditSecret:         os.Getenv("AUDIT_SECRET"), // Required, no default
		ScorerURL:           os.Getenv("SCORER_URL"),
		ScorerToken:         os.Getenv("SCORER_TOKEN"),
		BreakerThreshold:    int(getEnvInt64("BREAKER_THRESHOLD", DefaultBreakerThreshold)),
		BreakerOpenDuration: getEnvDuration("BREAKER_OPEN_DURATION", DefaultBreakerOpen),
		PublisherURL:        os.Getenv("PUBLISHER_URL"),
		PublisherSecret:     os.Getenv("PUBLISHER_SECRET"),
		RateLimitRPS:        int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AuditSecret == "" {
		return fmt.Errorf("AUDIT_SECRET is required")
	}
	if len(c.AuditSecret) < 16 {
		return fmt.Errorf("AUDIT_SECRET must be at least 16 characters")
	}

	if c.MidThreshold <= 0 || c.MidThreshold >= 1 {
		return fmt.Errorf("SCORE_MID_THRESHOLD must be between 0 and 1 exclusive")
	}
	if c.HighThreshold <= c.MidThreshold || c.HighThreshold > 1 {
		return fmt.Errorf("SCORE_HIGH_THRESHOLD must be above SCORE_MID_THRESHOLD and at most 1")
	}
	if c.StrongAuthAmount < 0 {
		return fmt.Errorf("STRONG_AUTH_AMOUNT must not be negative")
	}
	if c.StrongAuthMargin < 0 {
		return fmt.Errorf("STRONG_AUTH_SCORE_MARGIN must not be negative")
	}

	if c.DecisionBudget <= 0 {
		return fmt.Errorf("DECISION_BUDGET must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
