// Package config loads the server configuration from the environment,
// after reading an optional .env file.
package config

import (
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Postgres Postgres
	Redis    Redis
	Policy   Policy
	Jobs     Jobs
}

// Postgres is optional; without a URL the server runs on the in-memory store.
type Postgres struct {
	URL     string `env:"DATABASE_URL"`
	Migrate bool   `env:"DB_MIGRATE" envDefault:"true"`
}

// Redis is only used in front of Postgres.
type Redis struct {
	URL      string        `env:"REDIS_URL"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`
}

// Policy holds the activation gates and custody defaults.
type Policy struct {
	AssemblyCostPerLeg    decimal.Decimal `env:"ASSEMBLY_COST_PER_LEG" envDefault:"2.5"`
	CashTolerance         decimal.Decimal `env:"CASH_TOLERANCE" envDefault:"1000"`
	GuaranteeTolerance    decimal.Decimal `env:"GUARANTEE_TOLERANCE" envDefault:"5000"`
	StockGuaranteePercent decimal.Decimal `env:"STOCK_GUARANTEE_PERCENT" envDefault:"60"`
	Currency              string          `env:"CURRENCY" envDefault:"BRL"`
}

type Jobs struct {
	// OrphanScanInterval of zero disables the scan.
	OrphanScanInterval time.Duration `env:"ORPHAN_SCAN_INTERVAL" envDefault:"15m"`
}

// Load reads .env (if present) and parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Policy.StockGuaranteePercent.IsNegative() || cfg.Policy.StockGuaranteePercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("parse config: STOCK_GUARANTEE_PERCENT must be within [0, 100], got %s", cfg.Policy.StockGuaranteePercent)
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("config error: %s", err)
	}
	return cfg
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
