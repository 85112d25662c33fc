package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "AUDIT_SECRET", "0123456789abcdef0123456789abcdef")
	setEnv(t, "PORT", "9090")
	setEnv(t, "DECISION_BUDGET", "200ms")
	setEnv(t, "SCORE_HIGH_THRESHOLD", "0.9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 200*time.Millisecond, cfg.DecisionBudget)
	assert.Equal(t, DefaultRulesTimeout, cfg.RulesTimeout)
	assert.Equal(t, DefaultMidThreshold, cfg.MidThreshold)
	assert.Equal(t, 0.9, cfg.HighThreshold)
	assert.Equal(t, DefaultStrongAuthAmount, cfg.StrongAuthAmount)
	assert.Equal(t, DefaultStrongAuthMargin, cfg.StrongAuthMargin)
	assert.Equal(t, DefaultIdempotencyTTL, cfg.IdempotencyTTL)
}

func TestLoad_MissingAuditSecret(t *testing.T) {
	setEnv(t, "AUDIT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "AUDIT_SECRET is required")
}

func TestLoad_ShortAuditSecret(t *testing.T) {
	setEnv(t, "AUDIT_SECRET", "tooshort")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "at least 16 characters")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			AuditSecret:    "0123456789abcdef0123456789abcdef",
			MidThreshold:   0.5,
			HighThreshold:  0.85,
			DecisionBudget: 120 * time.Millisecond,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing audit secret",
			mutate:  func(c *Config) { c.AuditSecret = "" },
			wantErr: "AUDIT_SECRET is required",
		},
		{
			name:    "mid threshold out of range",
			mutate:  func(c *Config) { c.MidThreshold = 1.5 },
			wantErr: "SCORE_MID_THRESHOLD",
		},
		{
			name:    "thresholds inverted",
			mutate:  func(c *Config) { c.HighThreshold = 0.3 },
			wantErr: "SCORE_HIGH_THRESHOLD",
		},
		{
			name:    "zero budget",
			mutate:  func(c *Config) { c.DecisionBudget = 0 },
			wantErr: "DECISION_BUDGET must be positive",
		},
		{
			name:    "negative strong auth amount",
			mutate:  func(c *Config) { c.StrongAuthAmount = -1 },
			wantErr: "STRONG_AUTH_AMOUNT",
		},
		{
			name:    "negative strong auth margin",
			mutate:  func(c *Config) { c.StrongAuthMargin = -0.1 },
			wantErr: "STRONG_AUTH_SCORE_MARGIN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "250ms")
	setEnv(t, "TEST_INVALID", "not_a_duration")

	assert.Equal(t, 250*time.Millisecond, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("NONEXISTENT_VAR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_INVALID", time.Second)) // Falls back on parse error
}

func TestGetEnvFloat(t *testing.T) {
	setEnv(t, "TEST_FLOAT", "0.75")

	assert.Equal(t, 0.75, getEnvFloat("TEST_FLOAT", 0.5))
	assert.Equal(t, 0.5, getEnvFloat("NONEXISTENT_VAR", 0.5))
}
