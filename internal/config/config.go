// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Auth     AuthConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"SERVER_PORT" envDefault:"8080"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	DBName   string `env:"DB_NAME" envDefault:"dental_pm"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"50"`
	MinConns int32  `env:"DB_MIN_CONNS" envDefault:"5"`
}

// RedisConfig holds the connection settings for the ephemeral two-factor store
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// JWTConfig holds access token signing configuration
type JWTConfig struct {
	Secret            string        `env:"JWT_SECRET"`
	AccessTokenExpiry time.Duration `env:"JWT_ACCESS_EXPIRY" envDefault:"15m"`
	Issuer            string        `env:"JWT_ISSUER" envDefault:"dental-pm"`
}

// AuthConfig holds the lockout, session, two-factor, and reset-token policy
type AuthConfig struct {
	MaxFailedLogins int           `env:"AUTH_MAX_FAILED_LOGINS" envDefault:"5"`
	LockoutDuration time.Duration `env:"AUTH_LOCKOUT_DURATION" envDefault:"15m"`
	SessionTTL      time.Duration `env:"AUTH_SESSION_TTL" envDefault:"168h"`
	RememberMeTTL   time.Duration `env:"AUTH_REMEMBER_ME_TTL" envDefault:"720h"`
	ChallengeTTL    time.Duration `env:"AUTH_2FA_CHALLENGE_TTL" envDefault:"5m"`
	EnrollmentTTL   time.Duration `env:"AUTH_2FA_ENROLLMENT_TTL" envDefault:"10m"`
	ResetTokenTTL   time.Duration `env:"AUTH_RESET_TOKEN_TTL" envDefault:"1h"`
	LoginRateLimit  int           `env:"AUTH_LOGIN_RATE_LIMIT" envDefault:"10"`
	LoginRateWindow time.Duration `env:"AUTH_LOGIN_RATE_WINDOW" envDefault:"1m"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level     string `env:"LOG_LEVEL" envDefault:"info"`
	Format    string `env:"LOG_FORMAT" envDefault:"json"`
	Output    string `env:"LOG_OUTPUT" envDefault:"stdout"`
	AddSource bool   `env:"LOG_ADD_SOURCE" envDefault:"false"`
}

// Load parses configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks that required settings are present and sane
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 bytes")
	}
	if c.Auth.MaxFailedLogins < 1 {
		return errors.New("AUTH_MAX_FAILED_LOGINS must be at least 1")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// URL returns the PostgreSQL connection URL used by the migration tool
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}
