package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 28, cfg.Scheduler.DailyCap)
	assert.Equal(t, 9, cfg.Scheduler.StartHour)
	assert.True(t, cfg.Scheduler.SkipWeekends)
	assert.InDelta(t, 0.10, cfg.Breaker.FailureRate, 1e-9)
	assert.Zero(t, cfg.Provider.MockFailureRate)
	assert.Equal(t, 5, cfg.Breaker.ConsecutiveFailures)
	assert.Equal(t, time.Hour, cfg.Breaker.Window)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.StuckThreshold)
	assert.Equal(t, 30*24*time.Hour, cfg.Matcher.RecentWindow)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, time.UTC, cfg.Scheduler.Location())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DAILY_CAP", "50")
	t.Setenv("SEND_TIMEZONE", "Europe/Berlin")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com,https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Scheduler.DailyCap)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Location().String())
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.CORSOrigins)
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidWindow(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SEND_START_HOUR", "18")
	t.Setenv("SEND_END_HOUR", "9")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SEND_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	assert.Error(t, err)
}
