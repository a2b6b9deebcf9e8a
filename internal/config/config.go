// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// LedgerPostgres stores refresh tokens in Postgres (DATABASE_URL required).
	LedgerPostgres = "postgres"
	// LedgerMemory keeps refresh tokens in process memory; local development only.
	LedgerMemory = "memory"

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Required when LedgerBackend is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// LedgerBackend selects the refresh token store: "postgres" or "memory".
	LedgerBackend string `mapstructure:"LEDGER_BACKEND"`

	// SecretKey is the shared HS256 secret for access and refresh tokens.
	SecretKey string `mapstructure:"SECRET_KEY"`
	// AccessTokenExpiration is the access token lifetime (e.g. "15m").
	AccessTokenExpiration string `mapstructure:"ACCESS_TOKEN_EXPIRATION"`
	// RefreshTokenExpiration is the refresh token lifetime used for signing (e.g. "7d").
	RefreshTokenExpiration string `mapstructure:"REFRESH_TOKEN_EXPIRATION"`
	// RefreshTokenExpirationSec is the refresh lifetime in seconds used for the ledger's expires_at.
	// Zero means "same as RefreshTokenExpiration"; any other value must encode the same duration.
	RefreshTokenExpirationSec int64 `mapstructure:"REFRESH_TOKEN_EXPIRATION_SEC"`
	// MaxActiveSessions caps concurrent active refresh tokens per user.
	MaxActiveSessions int `mapstructure:"MAX_ACTIVE_SESSIONS"`
	// BcryptCost is the bcrypt cost factor (4–31).
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment. "production" makes the refresh cookie SameSite=None; Secure.
	Env string `mapstructure:"APP_ENV"`

	// SweeperEnabled runs the expiry sweeper inside the server process.
	SweeperEnabled bool `mapstructure:"SWEEPER_ENABLED"`
	// SweepInterval is how often the sweeper purges expired/invalid tokens (e.g. "24h").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// SweepOnStart runs one purge pass immediately when the sweeper starts.
	SweepOnStart bool `mapstructure:"SWEEP_ON_START"`
	// RedisURL enables the shared sweeper lease (redis://host:port/db or host:port). Empty uses a local lease.
	RedisURL string `mapstructure:"REDIS_URL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty gives no-op telemetry providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	// LogLevel is the zerolog level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LEDGER_BACKEND", LedgerPostgres)
	v.SetDefault("SECRET_KEY", "")
	v.SetDefault("ACCESS_TOKEN_EXPIRATION", "15m")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "7d")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION_SEC", 0)
	v.SetDefault("MAX_ACTIVE_SESSIONS", 5)
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("SWEEPER_ENABLED", true)
	v.SetDefault("SWEEP_INTERVAL", "24h")
	v.SetDefault("SWEEP_ON_START", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "authsessions")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("config: SECRET_KEY must be set")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.LedgerBackend {
	case LedgerPostgres, LedgerMemory:
	default:
		return fmt.Errorf("config: LEDGER_BACKEND must be %q or %q, got %q", LedgerPostgres, LedgerMemory, c.LedgerBackend)
	}
	if d, err := ParseDuration(c.AccessTokenExpiration); err != nil || d <= 0 {
		return fmt.Errorf("config: ACCESS_TOKEN_EXPIRATION %q is not a positive duration", c.AccessTokenExpiration)
	}
	refresh, err := ParseDuration(c.RefreshTokenExpiration)
	if err != nil || refresh <= 0 {
		return fmt.Errorf("config: REFRESH_TOKEN_EXPIRATION %q is not a positive duration", c.RefreshTokenExpiration)
	}
	if c.RefreshTokenExpirationSec < 0 {
		return errors.New("config: REFRESH_TOKEN_EXPIRATION_SEC must not be negative")
	}
	if c.RefreshTokenExpirationSec > 0 && time.Duration(c.RefreshTokenExpirationSec)*time.Second != refresh {
		return fmt.Errorf("config: REFRESH_TOKEN_EXPIRATION_SEC (%ds) and REFRESH_TOKEN_EXPIRATION (%s) must describe the same duration",
			c.RefreshTokenExpirationSec, c.RefreshTokenExpiration)
	}
	if c.MaxActiveSessions < 1 {
		return errors.New("config: MAX_ACTIVE_SESSIONS must be at least 1")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 10
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if d, err := ParseDuration(c.SweepInterval); err != nil || d <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL %q is not a positive duration", c.SweepInterval)
	}
	return nil
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// AccessTTL parses AccessTokenExpiration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := ParseDuration(c.AccessTokenExpiration)
	if err != nil || d <= 0 {
		return defaultAccessTTL
	}
	return d
}

// RefreshTTL is the single refresh lifetime used both to sign refresh tokens and to set
// the ledger's expires_at. Load has already rejected configs where the two keys disagree.
func (c *Config) RefreshTTL() time.Duration {
	if c.RefreshTokenExpirationSec > 0 {
		return time.Duration(c.RefreshTokenExpirationSec) * time.Second
	}
	d, err := ParseDuration(c.RefreshTokenExpiration)
	if err != nil || d <= 0 {
		return defaultRefreshTTL
	}
	return d
}

// SweepEvery parses SweepInterval. Returns 24h if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	d, err := ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// ParseDuration accepts Go durations ("15m", "168h"), a whole-day form ("7d"),
// and bare integers, which are read as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseInt(days, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
