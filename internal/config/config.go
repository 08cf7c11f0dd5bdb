// Package config loads the process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrNoSigningKey = errors.New("config: AUTH_SIGNING_KEY or AUTH_RSA_PRIVATE_KEY is required")
	ErrInvalidValue = errors.New("config: invalid value")
)

// Config is read once in main and passed down explicitly.
type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr  string `env:"GRPC_ADDR" envDefault:":9090"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// An empty DatabaseURL selects the in-memory store.
	DatabaseURL   string `env:"DATABASE_URL"`
	DBAutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`
	// An empty RedisURL selects the in-process revocation cache.
	RedisURL string `env:"REDIS_URL"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaAuditTopic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"auth.audit"`

	Auth  AuthConfig
	Sweep SweepConfig

	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"20"`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	CORSOrigins    []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	Bootstrap BootstrapConfig
}

// AuthConfig holds token issuance settings. RS256 keys win over the HS256 secret when both are set.
type AuthConfig struct {
	Issuer            string        `env:"AUTH_ISSUER" envDefault:"dinehub"`
	Audience          string        `env:"AUTH_AUDIENCE" envDefault:"dinehub-api"`
	SigningKey        string        `env:"AUTH_SIGNING_KEY"`
	RSAPrivateKey     string        `env:"AUTH_RSA_PRIVATE_KEY"`
	RSAPublicKey      string        `env:"AUTH_RSA_PUBLIC_KEY"`
	KeyID             string        `env:"AUTH_KEY_ID"`
	AccessTTL         time.Duration `env:"AUTH_ACCESS_TTL" envDefault:"1h"`
	RefreshTTL        time.Duration `env:"AUTH_REFRESH_TTL" envDefault:"720h"`
	StrictPermissions bool          `env:"AUTH_STRICT_PERMISSIONS" envDefault:"false"`
}

// SweepConfig drives the maintenance loop.
type SweepConfig struct {
	Interval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	ExpiredGrace time.Duration `env:"SWEEP_EXPIRED_GRACE" envDefault:"24h"`
	RevokedDays  int           `env:"SWEEP_REVOKED_DAYS" envDefault:"30"`
}

// BootstrapConfig seeds a tenant owner into the in-memory store for local development.
type BootstrapConfig struct {
	Tenant   string `env:"BOOTSTRAP_TENANT"`
	Email    string `env:"BOOTSTRAP_EMAIL"`
	Password string `env:"BOOTSTRAP_PASSWORD"`
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return parse(env.Options{})
}

// Parse reads configuration from the given variables only.
func Parse(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.KafkaBrokers = compact(c.KafkaBrokers)
	c.CORSOrigins = compact(c.CORSOrigins)
	c.Auth.RSAPrivateKey = unescapePEM(c.Auth.RSAPrivateKey)
	c.Auth.RSAPublicKey = unescapePEM(c.Auth.RSAPublicKey)
}

// Validate checks invariants env tags cannot express.
func (c Config) Validate() error {
	if c.Auth.SigningKey == "" && c.Auth.RSAPrivateKey == "" {
		return ErrNoSigningKey
	}
	switch {
	case c.Auth.AccessTTL <= 0:
		return fmt.Errorf("%w: AUTH_ACCESS_TTL must be positive", ErrInvalidValue)
	case c.Auth.RefreshTTL <= 0:
		return fmt.Errorf("%w: AUTH_REFRESH_TTL must be positive", ErrInvalidValue)
	case c.Sweep.Interval <= 0:
		return fmt.Errorf("%w: SWEEP_INTERVAL must be positive", ErrInvalidValue)
	case c.Sweep.ExpiredGrace < 0:
		return fmt.Errorf("%w: SWEEP_EXPIRED_GRACE must not be negative", ErrInvalidValue)
	case c.Sweep.RevokedDays < 0:
		return fmt.Errorf("%w: SWEEP_REVOKED_DAYS must not be negative", ErrInvalidValue)
	case c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0:
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalidValue)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaAuditTopic == "" {
		return fmt.Errorf("%w: KAFKA_AUDIT_TOPIC is required with KAFKA_BROKERS", ErrInvalidValue)
	}
	return nil
}

// UseRS256 reports whether the RSA key pair is configured.
func (c Config) UseRS256() bool { return c.Auth.RSAPrivateKey != "" }

// InMemory reports whether no database is configured.
func (c Config) InMemory() bool { return c.DatabaseURL == "" }

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// unescapePEM accepts PEM blocks passed on one line with literal \n.
func unescapePEM(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
