package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.AppPort)
	assert.Equal(t, "identities", cfg.DynamoTables.Identities)
	assert.Equal(t, "one_time_codes", cfg.DynamoTables.Codes)
	assert.Equal(t, 5, cfg.Auth.LockoutThreshold)
	assert.Equal(t, 15*time.Minute, cfg.Auth.LockoutCooldown)
	assert.Equal(t, 30*time.Minute, cfg.Auth.PendingSessionTTL)
	assert.Equal(t, 180*time.Second, cfg.Auth.CodeLifetime)
	assert.Equal(t, 60*time.Second, cfg.Auth.CodeResendInterval)
	assert.Equal(t, 6, cfg.Auth.CodeDigits)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
	assert.Empty(t, cfg.KafkaBrokerList())
	assert.False(t, cfg.TrustProxyHeaders)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PIN_LOCKOUT_THRESHOLD", "3")
	t.Setenv("CODE_LIFETIME", "60s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DYNAMO_TABLE_SESSIONS", "auth_sessions")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Auth.LockoutThreshold)
	assert.Equal(t, time.Minute, cfg.Auth.CodeLifetime)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokerList())
	assert.Equal(t, "auth_sessions", cfg.DynamoTables.Sessions)
}

func TestLoad_BypassRejectedInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DEV_BYPASS_CODE", "000000")

	_, err := Load()
	assert.ErrorContains(t, err, "DEV_BYPASS_CODE")
}

func TestLoad_BypassAllowedInDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DEV_BYPASS_CODE", "000000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "000000", cfg.Auth.DevBypassCode)
}

func TestValidate_RejectsBadDigits(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Auth.CodeDigits = 4
	assert.ErrorContains(t, cfg.Validate(), "CODE_DIGITS")
}

func TestValidate_RejectsZeroThreshold(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Auth.LockoutThreshold = 0
	assert.ErrorContains(t, cfg.Validate(), "PIN_LOCKOUT_THRESHOLD")
}
