package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"golang.org/x/crypto/bcrypt"
)

const (
	EnvDevelopment = "development"
	EnvBeta        = "beta"
	EnvProduction  = "production"

	OtpStorePostgres = "postgres"
	OtpStoreRedis    = "redis"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	Port        string `env:"PORT" envDefault:"8080"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Secret keys the PII cipher; JWTSecret signs session tokens
	Secret     string        `env:"SECRET,required"`
	JWTSecret  string        `env:"JWT_SECRET,required"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"720h"`

	BcryptCost      int `env:"BCRYPT_COST" envDefault:"10"`
	HashConcurrency int `env:"HASH_CONCURRENCY" envDefault:"0"`

	OtpMaxAge time.Duration `env:"OTP_MAX_AGE" envDefault:"10m"`
	OtpStore  string        `env:"OTP_STORE" envDefault:"postgres"`
	RedisURL  string        `env:"REDIS_URL"`

	SMSAuthKey    string `env:"SMS_AUTH_KEY"`
	SMSTemplateID string `env:"SMS_TEMPLATE_ID" envDefault:"6436e9e3d6fc052a7e3937c2"`
	SMSBaseURL    string `env:"SMS_BASE_URL" envDefault:"https://control.msg91.com/api/v5/flow/"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))
	switch cfg.AppEnv {
	case EnvDevelopment, EnvBeta, EnvProduction:
	default:
		return nil, fmt.Errorf("APP_ENV must be one of development, beta, production; got %q", cfg.AppEnv)
	}

	cfg.OtpStore = strings.ToLower(strings.TrimSpace(cfg.OtpStore))
	switch cfg.OtpStore {
	case OtpStorePostgres:
	case OtpStoreRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL environment variable is required when OTP_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("OTP_STORE must be postgres or redis; got %q", cfg.OtpStore)
	}

	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.OtpMaxAge <= 0 {
		return nil, fmt.Errorf("OTP_MAX_AGE must be positive")
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}

	if !cfg.IsDevelopment() && cfg.SMSAuthKey == "" {
		return nil, fmt.Errorf("SMS_AUTH_KEY environment variable is required outside development")
	}

	return cfg, nil
}

// IsDevelopment reports whether one-time codes are logged instead of sent
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// DBTarget describes the database connection without the password, for logging
func (c *Config) DBTarget() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	dbName := strings.TrimPrefix(u.Path, "/")
	user := u.User.Username()
	if user == "" {
		user = "(none)"
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, dbName, user)
}
