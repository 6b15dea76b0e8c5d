package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"CardLedger"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8002"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	NATSURL        string        `env:"NATS_URL"`
	NATSSubject    string        `env:"NATS_SUBJECT" envDefault:"cards.balance.changed"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	LockTimeout    time.Duration `env:"LEDGER_LOCK_TIMEOUT" envDefault:"2s"`
	OpTimeout      time.Duration `env:"CARD_OP_TIMEOUT" envDefault:"5s"`
	MaxRetries     uint64        `env:"CARD_OP_MAX_RETRIES" envDefault:"3"`
	RetryBase      time.Duration `env:"CARD_OP_RETRY_BASE" envDefault:"25ms"`
}

// Load reads an optional .env file, then populates a Config from the environment.
func Load() (Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if !c.IsDev() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.OpTimeout <= 0 {
		return errors.New("CARD_OP_TIMEOUT must be positive")
	}
	if c.LockTimeout < 0 {
		return errors.New("LEDGER_LOCK_TIMEOUT must not be negative")
	}
	if c.LockTimeout >= c.OpTimeout {
		return fmt.Errorf("LEDGER_LOCK_TIMEOUT (%s) must be shorter than CARD_OP_TIMEOUT (%s)", c.LockTimeout, c.OpTimeout)
	}
	return nil
}

// IsDev reports whether the service runs in a local development environment,
// where missing backing services fall back to in-process substitutes.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
