// Package config loads the tracker configuration from an optional TOML file,
// a .env file and the process environment, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	DB      DBConfig      `toml:"db"`
	Redis   RedisConfig   `toml:"redis"`
	Market  MarketConfig  `toml:"market"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port       string `toml:"port"`
	GinMode    string `toml:"gin_mode"`
	NumWorkers int    `toml:"num_workers"`
}

// DBConfig selects and configures the SQL store
type DBConfig struct {
	Driver     string `toml:"driver"` // "sqlite" or "postgres"
	Host       string `toml:"host"`
	Port       string `toml:"port"`
	User       string `toml:"user"`
	Password   string `toml:"password"`
	Name       string `toml:"name"`
	SQLitePath string `toml:"sqlite_path"`
	CoinStore  string `toml:"coin_store"` // "sql" or "redis"
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
	Publish  bool   `toml:"publish"`
}

// Enabled reports whether any component needs a Redis connection
func (r RedisConfig) Enabled(db DBConfig) bool {
	return r.Publish || db.CoinStore == "redis"
}

// MarketConfig configures the market data source and polling
type MarketConfig struct {
	Source       string        `toml:"source"` // "coingecko" or "simulated"
	BaseURL      string        `toml:"base_url"`
	APIKey       string        `toml:"api_key"`
	Currency     string        `toml:"currency"`
	PerPage      int           `toml:"per_page"`
	Timeout      time.Duration `toml:"timeout"`
	RPS          float64       `toml:"rps"`
	PollInterval time.Duration `toml:"poll_interval"`
}

// LedgerConfig holds the ledger constants
type LedgerConfig struct {
	// FeeRate is invalid (unset) until defaults apply; an explicit 0 means no fee
	FeeRate        decimal.NullDecimal `toml:"fee_rate"`
	InitialBalance decimal.Decimal     `toml:"initial_balance"`
	Staleness      time.Duration       `toml:"price_staleness"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load builds the configuration. path may be empty, in which case only
// .env and the environment are consulted.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	// Load .env file (optional)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using defaults or environment variables")
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.GinMode = getEnv("GIN_MODE", cfg.Server.GinMode)
	cfg.Server.NumWorkers = getEnvInt("NUM_WORKERS", cfg.Server.NumWorkers, &errs)

	cfg.DB.Driver = getEnv("DB_DRIVER", cfg.DB.Driver)
	cfg.DB.Host = getEnv("DB_HOST", cfg.DB.Host)
	cfg.DB.Port = getEnv("DB_PORT", cfg.DB.Port)
	cfg.DB.User = getEnv("DB_USER", cfg.DB.User)
	cfg.DB.Password = getEnv("DB_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = getEnv("DB_NAME", cfg.DB.Name)
	cfg.DB.SQLitePath = getEnv("SQLITE_PATH", cfg.DB.SQLitePath)
	cfg.DB.CoinStore = getEnv("COIN_STORE", cfg.DB.CoinStore)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB, &errs)
	cfg.Redis.Prefix = getEnv("REDIS_PREFIX", cfg.Redis.Prefix)
	cfg.Redis.Publish = getEnvBool("REDIS_PUBLISH", cfg.Redis.Publish, &errs)

	cfg.Market.Source = getEnv("MARKET_SOURCE", cfg.Market.Source)
	cfg.Market.BaseURL = getEnv("MARKET_BASE_URL", cfg.Market.BaseURL)
	cfg.Market.APIKey = getEnv("MARKET_API_KEY", cfg.Market.APIKey)
	cfg.Market.Currency = getEnv("MARKET_CURRENCY", cfg.Market.Currency)
	cfg.Market.PerPage = getEnvInt("MARKET_PER_PAGE", cfg.Market.PerPage, &errs)
	cfg.Market.Timeout = getEnvDuration("MARKET_TIMEOUT", cfg.Market.Timeout, &errs)
	cfg.Market.RPS = getEnvFloat("MARKET_RPS", cfg.Market.RPS, &errs)
	cfg.Market.PollInterval = getEnvDuration("POLL_INTERVAL", cfg.Market.PollInterval, &errs)

	if v, ok := getEnvDecimalOK("FEE_RATE", &errs); ok {
		cfg.Ledger.FeeRate = decimal.NewNullDecimal(v)
	}
	cfg.Ledger.InitialBalance = getEnvDecimal("INITIAL_BALANCE", cfg.Ledger.InitialBalance, &errs)
	cfg.Ledger.Staleness = getEnvDuration("PRICE_STALENESS", cfg.Ledger.Staleness, &errs)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)

	return errors.Join(errs...)
}

// DefaultFeeRate is the single canonical trading fee (0.1% of notional).
var DefaultFeeRate = decimal.RequireFromString("0.001")

// DefaultInitialBalance seeds the cash balance on first use.
var DefaultInitialBalance = decimal.NewFromInt(10000)

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.NumWorkers <= 0 {
		cfg.Server.NumWorkers = 5
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "sqlite"
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == "" {
		cfg.DB.Port = "5433"
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "trader"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "crypto_tracker"
	}
	if cfg.DB.SQLitePath == "" {
		cfg.DB.SQLitePath = "data/tracker.db"
	}
	if cfg.DB.CoinStore == "" {
		cfg.DB.CoinStore = "sql"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "tracker"
	}
	if cfg.Market.Source == "" {
		cfg.Market.Source = "coingecko"
	}
	if cfg.Market.BaseURL == "" {
		cfg.Market.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Market.Currency == "" {
		cfg.Market.Currency = "usd"
	}
	if cfg.Market.PerPage <= 0 {
		cfg.Market.PerPage = 100
	}
	if cfg.Market.Timeout <= 0 {
		cfg.Market.Timeout = 10 * time.Second
	}
	if cfg.Market.RPS <= 0 {
		cfg.Market.RPS = 0.5
	}
	if cfg.Market.PollInterval <= 0 {
		cfg.Market.PollInterval = time.Minute
	}
	if !cfg.Ledger.FeeRate.Valid {
		cfg.Ledger.FeeRate = decimal.NewNullDecimal(DefaultFeeRate)
	}
	if cfg.Ledger.InitialBalance.IsZero() {
		cfg.Ledger.InitialBalance = DefaultInitialBalance
	}
	if cfg.Ledger.Staleness <= 0 {
		cfg.Ledger.Staleness = 5 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	switch cfg.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("db.driver %q: want sqlite or postgres", cfg.DB.Driver)
	}
	switch cfg.DB.CoinStore {
	case "sql", "redis":
	default:
		return fmt.Errorf("db.coin_store %q: want sql or redis", cfg.DB.CoinStore)
	}
	switch cfg.Market.Source {
	case "coingecko", "simulated":
	default:
		return fmt.Errorf("market.source %q: want coingecko or simulated", cfg.Market.Source)
	}
	if fee := cfg.Ledger.FeeRate.Decimal; fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("ledger.fee_rate %s out of range [0, 1)", fee)
	}
	if !cfg.Ledger.InitialBalance.IsPositive() {
		return errors.New("ledger.initial_balance must be positive")
	}
	return nil
}

// Helper function to get environment variable with default
func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool, errs *[]error) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func getEnvDecimal(key string, defaultValue decimal.Decimal, errs *[]error) decimal.Decimal {
	if d, ok := getEnvDecimalOK(key, errs); ok {
		return d
	}
	return defaultValue
}

// getEnvDecimalOK reports ok only when key is set to a valid decimal
func getEnvDecimalOK(key string, errs *[]error) (decimal.Decimal, bool) {
	value := getEnv(key, "")
	if value == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return decimal.Decimal{}, false
	}
	return d, true
}
