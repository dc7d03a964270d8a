package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_ADDR", ":9090")
	t.Setenv("LEDGER_CONFLICT_RETRIES", "5")
	t.Setenv("ALERTS_CACHE_TTL", "2m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.AppAddr)
	require.Equal(t, 5, cfg.LedgerConflictRetries)
	require.Equal(t, 2*time.Minute, cfg.AlertsCacheTTL)
	require.True(t, cfg.IsProduction())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.False(t, cfg.IsProduction())
	require.Equal(t, 30*time.Second, cfg.LedgerReplayTimeout)
	require.Equal(t, 30, cfg.AlertsLookbackDays)
	require.Equal(t, 7*24*time.Hour, cfg.IdempotencyRetention)
}
