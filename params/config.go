package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Fees struct {
	// TradeFeeBps is the trade fee in basis points of the quote-denominated
	// cost (30 bps = 0.3%). iGas/iTax are supplied by the accountant
	// collaborator and are not configured here.
	TradeFeeBps int64
}

type Settlement struct {
	// ProvisionalTTL bounds how long locked balances wait for finalization
	// before the sweep releases them.
	ProvisionalTTL time.Duration
	// SweepInterval is how often the expiry sweep scans for timed-out
	// provisional settlements.
	SweepInterval time.Duration
}

type Matching struct {
	// AllowMarketRest re-enables the legacy behavior of resting an
	// unmatched MARKET order at the book's last trade price. Default is
	// false: a market order against an empty opposite side is rejected,
	// since it carries no price to rest at.
	AllowMarketRest bool
}

type Config struct {
	Fees       Fees
	Settlement Settlement
	Matching   Matching
	// MetricsAddr is the listen address for the /metrics endpoint.
	// Empty disables the metrics server.
	MetricsAddr string
}

func Default() Config {
	return Config{
		Fees: Fees{
			TradeFeeBps: 30, // 0.3%
		},
		Settlement: Settlement{
			ProvisionalTTL: 30 * time.Second,
			SweepInterval:  time.Second,
		},
		Matching: Matching{
			AllowMarketRest: false,
		},
		MetricsAddr: "",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if bps := os.Getenv("TRADE_FEE_BPS"); bps != "" {
		if n, err := strconv.ParseInt(bps, 10, 64); err == nil && n >= 0 {
			cfg.Fees.TradeFeeBps = n
		}
	}

	if ttl := os.Getenv("PROVISIONAL_TTL_MS"); ttl != "" {
		if ms, err := strconv.Atoi(ttl); err == nil && ms > 0 {
			cfg.Settlement.ProvisionalTTL = time.Duration(ms) * time.Millisecond
		}
	}

	if sweep := os.Getenv("SETTLEMENT_SWEEP_MS"); sweep != "" {
		if ms, err := strconv.Atoi(sweep); err == nil && ms > 0 {
			cfg.Settlement.SweepInterval = time.Duration(ms) * time.Millisecond
		}
	}

	if rest := os.Getenv("ALLOW_MARKET_REST"); rest != "" {
		cfg.Matching.AllowMarketRest = rest == "true"
	}

	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
