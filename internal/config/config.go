// Package config reads the server's settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prismfinance/synth-engine/internal/pair"
	"github.com/prismfinance/synth-engine/internal/perp"
	"github.com/prismfinance/synth-engine/internal/vault"
)

// Config is the full server configuration.
type Config struct {
	Port        string
	DatabaseURL string // empty selects the in-memory store
	RedisURL    string // empty disables the cache and the intent queue
	RedisTTL    time.Duration
	// IntentQueue is the Redis list intents are pushed to. Empty disables
	// submission.
	IntentQueue string
	LogLevel    string

	HubSymbol       string
	QuoteStaleAfter time.Duration
	DefaultSlippage uint64 // bps

	Vault vault.Params
	Perp  perp.Limits
}

// FromEnv reads the configuration from environment variables, applying
// defaults for anything unset.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:        getenv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		IntentQueue: os.Getenv("INTENT_QUEUE"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		HubSymbol:   getenv("HUB_SYMBOL", "sUSD"),
	}

	var err error
	if cfg.RedisTTL, err = durationEnv("REDIS_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.QuoteStaleAfter, err = durationEnv("QUOTE_STALE_AFTER", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.DefaultSlippage, err = uintEnv("DEFAULT_SLIPPAGE_BPS", 50); err != nil {
		return nil, err
	}
	if cfg.Vault.MinCollateralRatioPct, err = uintEnv("MIN_COLLATERAL_RATIO_PCT", 150); err != nil {
		return nil, err
	}
	if cfg.Vault.WarningBufferPct, err = uintEnv("WARNING_BUFFER_PCT", 25); err != nil {
		return nil, err
	}
	maxLeverage, err := uintEnv("MAX_LEVERAGE", 20)
	if err != nil {
		return nil, err
	}
	cfg.Perp.MaxLeverage = int(maxLeverage)
	if cfg.Perp.MaintenanceMarginPct, err = decimalEnv("MAINTENANCE_MARGIN_PCT", "5"); err != nil {
		return nil, err
	}
	if cfg.Perp.MaxMarketSizeBase, err = decimalEnv("MAX_MARKET_SIZE_BASE", "0"); err != nil {
		return nil, err
	}
	if cfg.Perp.MaxAccountSizeBase, err = decimalEnv("MAX_ACCOUNT_SIZE_BASE", "0"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if err := pair.ValidateSymbol(c.HubSymbol); err != nil {
		return fmt.Errorf("%w: HUB_SYMBOL: %v", ErrInvalidValue, err)
	}
	if c.DefaultSlippage >= 10_000 {
		return fmt.Errorf("%w: DEFAULT_SLIPPAGE_BPS must be below 10000", ErrInvalidValue)
	}
	if err := c.Vault.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if err := c.Perp.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if c.IntentQueue != "" && c.RedisURL == "" {
		return ErrQueueWithoutRedis
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, raw)
	}
	return d, nil
}

func uintEnv(key string, fallback uint64) (uint64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, raw)
	}
	return v, nil
}

func decimalEnv(key, fallback string) (decimal.Decimal, error) {
	raw := getenv(key, fallback)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, raw)
	}
	return d, nil
}
