package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "CRASH_PORT", "DATABASE_URL", "CRASH_DATA_DIR", "LOG_LEVEL",
		"CRASH_WAITING_MS", "CRASH_TICK_MS", "CRASH_COOLDOWN_MS", "CRASH_GROWTH_K",
		"CRASH_CLIENT_SEED", "CRASH_DEFAULT_CHAIN", "CRASH_BET_RATE_MS", "CRASH_CASHOUT_RATE_MS"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, 8081, cfg.Port)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.WaitingDuration)
	assert.Equal(t, 90*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Cooldown)
	assert.Equal(t, 0.105, cfg.GrowthK)
	assert.Equal(t, "SOL", cfg.DefaultChain)
	assert.NotEmpty(t, cfg.ClientSeed)
	assert.Equal(t, 800*time.Millisecond, cfg.BetRateLimit)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CRASH_PORT", "9000")
	t.Setenv("CRASH_WAITING_MS", "2500")
	t.Setenv("CRASH_TICK_MS", "not-a-number")
	t.Setenv("CRASH_GROWTH_K", "0.2")
	t.Setenv("CRASH_CLIENT_SEED", "client")
	t.Setenv("CRASH_DEFAULT_CHAIN", "evm")

	cfg := Load()
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2500*time.Millisecond, cfg.WaitingDuration)
	assert.Equal(t, 90*time.Millisecond, cfg.TickInterval, "invalid value falls back to default")
	assert.Equal(t, 0.2, cfg.GrowthK)
	assert.Equal(t, "client", cfg.ClientSeed)
	assert.Equal(t, "EVM", cfg.DefaultChain)
}
