package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("TOKEN_SIGNING_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("EVENTS_SHARED_SECRET", "events")
}

// TestPurpose: Validates that defaults match the monthly reset cadence and store batch limit.
// Scope: Unit Test
// Expected: Schedule "0 0 1 * *" in Asia/Seoul, batch size 500.
// Test Case ID: CFG-01
func TestConfig_Load_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0 0 1 * *", cfg.Reset.Schedule)
	assert.Equal(t, "Asia/Seoul", cfg.Reset.Timezone)
	assert.Equal(t, MaxBatchSize, cfg.Reset.BatchSize)
	assert.Equal(t, time.Hour, cfg.Token.TTL)
	assert.Equal(t, "claims:", cfg.Redis.KeyPrefix)
	assert.Zero(t, cfg.Reset.RunTimeout, "reset runs are not cut short by default")
	assert.Zero(t, cfg.Events.Timeout, "provisioning is not cut short by default")
	assert.False(t, cfg.Server.TrustProxy)
	assert.NoError(t, cfg.ValidateCommand("serve"))
}

// TestPurpose: Validates that missing or unsafe settings are rejected at startup.
// Scope: Unit Test
// Security: Fail-closed configuration (weak signing secrets are refused)
// Expected: Load returns an error for each invalid setting.
// Test Case ID: CFG-02
func TestConfig_Load_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"batch size above store limit", "RESET_BATCH_SIZE", "501"},
		{"zero concurrency", "RESET_CONCURRENCY", "0"},
		{"unknown timezone", "RESET_TIMEZONE", "Mars/Olympus"},
		{"negative event timeout", "EVENTS_TIMEOUT", "-1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

// TestPurpose: Validates that secrets are required only by the commands that use them.
// Scope: Unit Test
// Security: Fail-closed configuration (weak signing secrets are refused)
// Expected: migrate needs no secrets; serve needs both; token commands need the signing secret.
// Test Case ID: CFG-04
func TestConfig_ValidateCommand(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("TOKEN_SIGNING_SECRET", "")
	t.Setenv("EVENTS_SHARED_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err, "secrets are not required to load")
	assert.NoError(t, cfg.ValidateCommand("migrate"))
	assert.Error(t, cfg.ValidateCommand("serve"))
	assert.Error(t, cfg.ValidateCommand("issue-token"))

	cfg.Token.SigningSecret = "short"
	assert.Error(t, cfg.ValidateCommand("reset-usage"))

	cfg.Token.SigningSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.ValidateCommand("bootstrap"))
	assert.Error(t, cfg.ValidateCommand("serve"), "serve also needs the event secret")

	cfg.Events.SharedSecret = "events"
	assert.NoError(t, cfg.ValidateCommand("serve"))
}

// TestPurpose: Validates that malformed durations fall back to defaults.
// Scope: Unit Test
// Expected: TOKEN_TTL=garbage yields the 1h default.
// Test Case ID: CFG-03
func TestConfig_ParseDuration_Fallback(t *testing.T) {
	t.Setenv("TOKEN_TTL", "garbage")
	assert.Equal(t, time.Hour, parseDuration("TOKEN_TTL", "1h"))
}
