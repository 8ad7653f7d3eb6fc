package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	Port        int
	DatabaseURL string // Empty: file-backed store under DataDir
	DataDir     string
	LogLevel    string

	WaitingDuration time.Duration
	TickInterval    time.Duration
	Cooldown        time.Duration // CRASHED -> next WAITING
	GrowthK         float64

	ClientSeed   string // Client seed for the first round
	DefaultChain string // Chain tag for users without a deposit on record

	BetRateLimit     time.Duration // Minimum gap between bet commands per user
	CashoutRateLimit time.Duration
}

func Load() *Config {
	port := 8081
	// Prefer PORT (Render, Fly.io, Railway, etc.) then CRASH_PORT
	if p := os.Getenv("PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			port = v
		}
	} else if p := os.Getenv("CRASH_PORT"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			port = v
		}
	}
	dataDir := os.Getenv("CRASH_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	logLevel := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if logLevel == "" {
		logLevel = "info"
	}
	clientSeed := strings.TrimSpace(os.Getenv("CRASH_CLIENT_SEED"))
	if clientSeed == "" {
		clientSeed = uuid.New().String()
	}
	chain := strings.ToUpper(strings.TrimSpace(os.Getenv("CRASH_DEFAULT_CHAIN")))
	if chain == "" {
		chain = "SOL"
	}
	return &Config{
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DataDir:          dataDir,
		LogLevel:         logLevel,
		WaitingDuration:  envMillis("CRASH_WAITING_MS", 5000),
		TickInterval:     envMillis("CRASH_TICK_MS", 90),
		Cooldown:         envMillis("CRASH_COOLDOWN_MS", 1500),
		GrowthK:          envFloat("CRASH_GROWTH_K", 0.105),
		ClientSeed:       clientSeed,
		DefaultChain:     chain,
		BetRateLimit:     envMillis("CRASH_BET_RATE_MS", 800),
		CashoutRateLimit: envMillis("CRASH_CASHOUT_RATE_MS", 300),
	}
}

// envMillis reads a positive millisecond count, falling back to def.
func envMillis(key string, def int) time.Duration {
	ms := def
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			ms = v
		}
	}
	return time.Duration(ms) * time.Millisecond
}

func envFloat(key string, def float64) float64 {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
			return v
		}
	}
	return def
}
