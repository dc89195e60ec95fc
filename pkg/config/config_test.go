package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, time.Hour, cfg.Token.TTL)
	assert.Equal(t, 30*time.Second, cfg.Token.ClockSkew)
	assert.Equal(t, 3, cfg.Engine.MaxRetries)
	assert.Equal(t, 20*time.Millisecond, cfg.Engine.RetryBaseDelay)
	assert.Equal(t, 30*time.Minute, cfg.Engine.CheckInEarlyWindow)
	assert.Equal(t, "@every 5m", cfg.Sweeper.Cron)
	assert.Equal(t, 2, cfg.Events.Workers)
	assert.True(t, strings.HasPrefix(cfg.Database.DSN(), "host=localhost"))
}

func TestLoadRefusesMissingSecret(t *testing.T) {
	t.Setenv("SERVER_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_SECRET")
}

func TestLoadRejectsLongTTL(t *testing.T) {
	t.Setenv("SERVER_SECRET", testSecret)
	t.Setenv("TOKEN_TTL_SECONDS", "3601")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_TTL_SECONDS")
}

func TestLoadRejectsRetryBounds(t *testing.T) {
	t.Setenv("SERVER_SECRET", testSecret)
	t.Setenv("SCHEDULER_MAX_RETRIES", "5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCHEDULER_MAX_RETRIES")
}

func TestLoadRejectsLargeRing(t *testing.T) {
	t.Setenv("SERVER_SECRET", testSecret)
	t.Setenv("SERVER_SECRET_PREVIOUS", strings.Repeat("a", 32)+","+strings.Repeat("b", 32)+","+strings.Repeat("c", 32))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_SECRET_PREVIOUS")
}

func TestLoadRingAndOverrides(t *testing.T) {
	t.Setenv("SERVER_SECRET", testSecret)
	t.Setenv("SERVER_SECRET_PREVIOUS", " fedcba9876543210fedcba9876543210 , ")
	t.Setenv("DB_URL", "postgres://exam@db/dronexam?sslmode=disable")
	t.Setenv("NO_SHOW_SWEEP_CRON", "off")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"fedcba9876543210fedcba9876543210"}, cfg.Token.PreviousSecrets)
	assert.Equal(t, "postgres://exam@db/dronexam?sslmode=disable", cfg.Database.DSN())
	assert.Empty(t, cfg.Sweeper.Cron)
}
