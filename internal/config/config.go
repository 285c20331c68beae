package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	envProduction = "production"

	// BackendMemory keeps accounts in process memory.
	BackendMemory = "memory"
	// BackendPostgres stores accounts in PostgreSQL.
	BackendPostgres = "postgres"
	// BackendRedis stores accounts in Redis.
	BackendRedis = "redis"
)

// SMTP holds mail transport credentials. An empty Host or User selects the
// logging transport instead of a real relay.
type SMTP struct {
	Host   string `env:"SMTP_HOST"`
	Port   int    `env:"SMTP_PORT" envDefault:"587"`
	User   string `env:"SMTP_USER"`
	Pass   string `env:"SMTP_PASS"`
	Secure bool   `env:"SMTP_SECURE" envDefault:"false"`
	From   string `env:"FROM_EMAIL" envDefault:"noreply@pet-saude.br"`
}

// Enabled reports whether enough credentials are present to use SMTP.
func (s SMTP) Enabled() bool {
	return s.Host != "" && s.User != ""
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"AuthService"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"3001"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	StoreBackend   string        `env:"STORE_BACKEND" envDefault:"memory"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	DemoMode       string        `env:"DEMO_MODE"`
	AllowOrigins   string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	BcryptCost     int           `env:"BCRYPT_COST" envDefault:"10"`
	MailTimeout    time.Duration `env:"MAIL_TIMEOUT" envDefault:"10s"`
	MetricsEnabled bool          `env:"METRICS_ENABLED" envDefault:"true"`
	SMTP           SMTP
}

// Load reads an optional .env file, then populates a Config from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse populates a Config from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_BACKEND=%s", c.StoreBackend)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when STORE_BACKEND=%s", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.DemoMode != "" {
		if _, err := strconv.ParseBool(c.DemoMode); err != nil {
			return fmt.Errorf("invalid DEMO_MODE: %w", err)
		}
	}
	if c.MailTimeout <= 0 {
		return fmt.Errorf("MAIL_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, envProduction)
}

// Demo reports whether verification codes are echoed back to the client.
// Unless DEMO_MODE is set explicitly, demo mode follows APP_ENV.
func (c Config) Demo() bool {
	if demo, err := strconv.ParseBool(c.DemoMode); err == nil {
		return demo
	}
	return !c.IsProduction()
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
