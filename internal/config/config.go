package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// Values come from an optional config file (.env or YAML) overridden by
// environment variables, with defaults from the struct tags.
type Config struct {
	// Server
	Port     int    `env:"PORT" env-default:"8080" yaml:"port"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info" yaml:"log_level"`

	// Ledger API
	LedgerAPIURL string        `env:"LEDGER_API_URL" env-default:"http://localhost:8000/api" yaml:"ledger_api_url"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT" env-default:"10s" yaml:"http_timeout"`

	// Resilience
	MaxRetries     int           `env:"MAX_RETRIES" env-default:"2" yaml:"max_retries"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" env-default:"200ms" yaml:"initial_backoff"`
	MaxConcurrency int           `env:"MAX_CONCURRENCY" env-default:"50" yaml:"max_concurrency"`

	// Cache freshness windows
	AccountFreshFor      time.Duration `env:"ACCOUNT_FRESH_FOR" env-default:"5m" yaml:"account_fresh_for"`
	MembershipsFreshFor  time.Duration `env:"MEMBERSHIPS_FRESH_FOR" env-default:"10m" yaml:"memberships_fresh_for"`
	MyMembershipFreshFor time.Duration `env:"MY_MEMBERSHIP_FRESH_FOR" env-default:"5m" yaml:"my_membership_fresh_for"`

	// Guards
	StaleBalanceAfter time.Duration `env:"STALE_BALANCE_AFTER" env-default:"1m" yaml:"stale_balance_after"`
	MinWithdrawal     string        `env:"MIN_WITHDRAWAL" env-default:"10" yaml:"min_withdrawal"`
	MinRecharge       string        `env:"MIN_RECHARGE" env-default:"10" yaml:"min_recharge"`

	// Sessions
	SessionIdleTTL   time.Duration `env:"SESSION_IDLE_TTL" env-default:"30m" yaml:"session_idle_ttl"`
	SessionSweepSpec string        `env:"SESSION_SWEEP_SPEC" env-default:"@every 1m" yaml:"session_sweep_spec"`
	JWTSecret        string        `env:"JWT_SECRET" env-default:"wallet-default-dev-secret-change-me" yaml:"jwt_secret"`

	// Observability
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" yaml:"otlp_endpoint"`
}

// Load reads configuration from path (if it exists) and the environment.
// A missing file is not an error; environment variables still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			return cfg, cfg.validate()
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("couldn't read environment variables: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.AccountFreshFor <= 0 || c.MembershipsFreshFor <= 0 || c.MyMembershipFreshFor <= 0 {
		return errors.New("freshness windows must be positive")
	}
	if _, _, err := c.Minimums(); err != nil {
		return err
	}
	if c.LedgerAPIURL == "" {
		return errors.New("LEDGER_API_URL is required")
	}
	return nil
}

// Minimums returns the minimum withdrawal and recharge amounts.
func (c *Config) Minimums() (withdraw, recharge decimal.Decimal, err error) {
	withdraw, err = decimal.NewFromString(c.MinWithdrawal)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("MIN_WITHDRAWAL: %w", err)
	}
	recharge, err = decimal.NewFromString(c.MinRecharge)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("MIN_RECHARGE: %w", err)
	}
	if withdraw.IsNegative() || recharge.IsNegative() {
		return decimal.Zero, decimal.Zero, errors.New("minimum amounts must not be negative")
	}
	return withdraw, recharge, nil
}
