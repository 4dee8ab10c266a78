// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	ReadHeaderTimeout time.Duration `mapstructure:"HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"HTTP_IDLE_TIMEOUT"`

	// KratosPublicURL is the Kratos public API base URL.
	KratosPublicURL string `mapstructure:"KRATOS_PUBLIC_URL"`

	// TurnstileSiteKey is rendered into the captcha widget.
	TurnstileSiteKey string `mapstructure:"TURNSTILE_SITE_KEY"`
	// TurnstileSecretKey enables server-side token verification; empty disables it outside production.
	TurnstileSecretKey string `mapstructure:"TURNSTILE_SECRET_KEY"`
	// TurnstileVerifyURL overrides the siteverify endpoint.
	TurnstileVerifyURL string `mapstructure:"TURNSTILE_VERIFY_URL"`

	// FlowStore selects where flows live: "memory" or "redis".
	FlowStore     string `mapstructure:"FLOW_STORE"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`
	// FlowTTL bounds how long an idle sign-in flow is kept.
	FlowTTL time.Duration `mapstructure:"FLOW_TTL"`
	// PendingTimeout lets a stuck submission be retried after this long.
	PendingTimeout time.Duration `mapstructure:"PENDING_TIMEOUT"`

	// FlowJWKSFile or FlowJWKSURL supplies the keys that sign the flow cookie.
	FlowJWKSFile string `mapstructure:"FLOW_JWKS_FILE"`
	FlowJWKSURL  string `mapstructure:"FLOW_JWKS_URL"`
	// CookieSecure marks cookies Secure; required in production.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// CoachingHosts is a comma-separated list of hosts served as the coaching tenant.
	CoachingHosts string `mapstructure:"COACHING_HOSTS"`
	// DefaultLanguage is the fallback language for page strings.
	DefaultLanguage string `mapstructure:"DEFAULT_LANGUAGE"`
	// AfterLoginPath is where users land when no redirect was requested.
	AfterLoginPath string `mapstructure:"AFTER_LOGIN_PATH"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_READ_HEADER_TIMEOUT", "5s")
	v.SetDefault("HTTP_READ_TIMEOUT", "15s")
	v.SetDefault("HTTP_WRITE_TIMEOUT", "30s")
	v.SetDefault("HTTP_IDLE_TIMEOUT", "60s")
	v.SetDefault("KRATOS_PUBLIC_URL", "http://127.0.0.1:4433")
	v.SetDefault("TURNSTILE_SITE_KEY", "")
	v.SetDefault("TURNSTILE_SECRET_KEY", "")
	v.SetDefault("TURNSTILE_VERIFY_URL", "")
	v.SetDefault("FLOW_STORE", "memory")
	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "signin")
	v.SetDefault("FLOW_TTL", "15m")
	v.SetDefault("PENDING_TIMEOUT", "30s")
	v.SetDefault("FLOW_JWKS_FILE", "jwks.json")
	v.SetDefault("FLOW_JWKS_URL", "")
	v.SetDefault("COOKIE_SECURE", false)
	v.SetDefault("COACHING_HOSTS", "")
	v.SetDefault("DEFAULT_LANGUAGE", "en")
	v.SetDefault("AFTER_LOGIN_PATH", "/dashboard")
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.KratosPublicURL == "" {
		return errors.New("config: KRATOS_PUBLIC_URL must be set")
	}
	switch c.FlowStore {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR must be set when FLOW_STORE=redis")
		}
	default:
		return errors.New("config: FLOW_STORE must be memory or redis")
	}
	if c.FlowTTL <= 0 {
		return errors.New("config: FLOW_TTL must be positive")
	}
	if c.PendingTimeout < 0 {
		return errors.New("config: PENDING_TIMEOUT must not be negative")
	}
	if c.FlowJWKSFile == "" && c.FlowJWKSURL == "" {
		return errors.New("config: one of FLOW_JWKS_FILE or FLOW_JWKS_URL must be set")
	}
	if !strings.HasPrefix(c.AfterLoginPath, "/") {
		return errors.New("config: AFTER_LOGIN_PATH must be an absolute path")
	}
	if c.IsProduction() {
		if c.TurnstileSecretKey == "" || c.TurnstileSiteKey == "" {
			return errors.New("config: TURNSTILE_SITE_KEY and TURNSTILE_SECRET_KEY must be set when APP_ENV=production")
		}
		if !c.CookieSecure {
			return errors.New("config: COOKIE_SECURE must be true when APP_ENV=production")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// CoachingHostList returns the coaching hosts from the comma-separated config.
func (c *Config) CoachingHostList() []string {
	if c == nil || c.CoachingHosts == "" {
		return nil
	}
	parts := strings.Split(c.CoachingHosts, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
