package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
)

const minSecretLength = 32

// Config is the reference server configuration.
type Config struct {
	ListenAddr string `env:"AFROMEMO_LISTEN_ADDR" envDefault:":8080"`
	// FrontURL prefixes the links sent to submitters.
	FrontURL string `env:"AFROMEMO_FRONT_URL" envDefault:"http://localhost:3000"`

	DB struct {
		DSN      string `env:"AFROMEMO_DB_DSN"`
		Host     string `env:"AFROMEMO_DB_HOST"`
		Port     string `env:"AFROMEMO_DB_PORT" envDefault:"5432"`
		Name     string `env:"AFROMEMO_DB_NAME"`
		User     string `env:"AFROMEMO_DB_USER"`
		Password string `env:"AFROMEMO_DB_PASSWORD"`
		SSLMode  string `env:"AFROMEMO_DB_SSLMODE" envDefault:"disable"`
	}

	JWT struct {
		Secret          string        `env:"AFROMEMO_JWT_SECRET"`
		RefreshSecret   string        `env:"AFROMEMO_JWT_REFRESH_SECRET"`
		AccessTokenTTL  time.Duration `env:"AFROMEMO_ACCESS_TOKEN_TTL" envDefault:"15m"`
		RefreshTokenTTL time.Duration `env:"AFROMEMO_REFRESH_TOKEN_TTL" envDefault:"168h"`
		// SecureCookie marks the refresh cookie Secure. Disable only for local HTTP.
		SecureCookie bool `env:"AFROMEMO_SECURE_COOKIE" envDefault:"true"`
	}

	// SMTP delivers submitter notifications. Without a host they are only logged.
	SMTP struct {
		Host     string `env:"AFROMEMO_SMTP_HOST"`
		Port     string `env:"AFROMEMO_SMTP_PORT" envDefault:"587"`
		User     string `env:"AFROMEMO_SMTP_USER"`
		Password string `env:"AFROMEMO_SMTP_PASSWORD"`
		From     string `env:"AFROMEMO_SMTP_FROM" envDefault:"agenda@afromemo.ch"`
	}

	ConfirmationTTL time.Duration `env:"AFROMEMO_CONFIRMATION_TTL" envDefault:"24h"`
	UploadDir       string        `env:"AFROMEMO_UPLOAD_DIR" envDefault:"uploads"`
	ArchiveInterval time.Duration `env:"AFROMEMO_ARCHIVE_INTERVAL" envDefault:"24h"`
	// Timezone decides when an event's last day is over.
	Timezone string `env:"AFROMEMO_TIMEZONE" envDefault:"Europe/Zurich"`
	// AdminUser and AdminPassword seed an administrator account at startup when both are set.
	AdminUser     string `env:"AFROMEMO_ADMIN_USER"`
	AdminPassword string `env:"AFROMEMO_ADMIN_PASSWORD"`

	LogLevel          string   `env:"AFROMEMO_LOG_LEVEL" envDefault:"info"`
	LogFormat         string   `env:"AFROMEMO_LOG_FORMAT" envDefault:"text"`
	PrometheusEnabled bool     `env:"AFROMEMO_PROMETHEUS_ENABLED" envDefault:"false"`
	TrustedProxies    []string `env:"AFROMEMO_TRUSTED_PROXIES" envSeparator:","`
}

// Load reads the server configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.TrustedProxies = trimList(cfg.TrustedProxies)

	if cfg.DB.DSN == "" && cfg.DB.Host != "" {
		var missing []string
		if cfg.DB.Name == "" {
			missing = append(missing, "AFROMEMO_DB_NAME")
		}
		if cfg.DB.User == "" {
			missing = append(missing, "AFROMEMO_DB_USER")
		}
		if cfg.DB.Password == "" {
			missing = append(missing, "AFROMEMO_DB_PASSWORD")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("AFROMEMO_DB_HOST is set but %s missing", strings.Join(missing, ", "))
		}
		cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			url.QueryEscape(cfg.DB.User), url.QueryEscape(cfg.DB.Password),
			cfg.DB.Host, cfg.DB.Port, cfg.DB.Name, cfg.DB.SSLMode)
	}

	if cfg.JWT.Secret == "" {
		return nil, errors.New("AFROMEMO_JWT_SECRET is required")
	}
	if len(cfg.JWT.Secret) < minSecretLength {
		return nil, fmt.Errorf("AFROMEMO_JWT_SECRET must be at least %d characters long (got %d)", minSecretLength, len(cfg.JWT.Secret))
	}
	if cfg.JWT.RefreshSecret == "" {
		return nil, errors.New("AFROMEMO_JWT_REFRESH_SECRET is required")
	}
	if len(cfg.JWT.RefreshSecret) < minSecretLength {
		return nil, fmt.Errorf("AFROMEMO_JWT_REFRESH_SECRET must be at least %d characters long (got %d)", minSecretLength, len(cfg.JWT.RefreshSecret))
	}
	if cfg.JWT.RefreshSecret == cfg.JWT.Secret {
		return nil, errors.New("AFROMEMO_JWT_REFRESH_SECRET must differ from AFROMEMO_JWT_SECRET")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		return nil, errors.New("AFROMEMO_ACCESS_TOKEN_TTL must be positive")
	}
	if cfg.JWT.RefreshTokenTTL <= cfg.JWT.AccessTokenTTL {
		return nil, errors.New("AFROMEMO_REFRESH_TOKEN_TTL must be longer than AFROMEMO_ACCESS_TOKEN_TTL")
	}
	if cfg.ConfirmationTTL <= 0 {
		return nil, errors.New("AFROMEMO_CONFIRMATION_TTL must be positive")
	}
	if cfg.ArchiveInterval < time.Minute {
		return nil, fmt.Errorf("AFROMEMO_ARCHIVE_INTERVAL must be at least 1m (got %s)", cfg.ArchiveInterval)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("AFROMEMO_TIMEZONE is not a known time zone (got %q)", cfg.Timezone)
	}
	if u, err := url.Parse(cfg.FrontURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("AFROMEMO_FRONT_URL must be an absolute URL (got %q)", cfg.FrontURL)
	}
	if cfg.SMTP.Host != "" && cfg.SMTP.User != "" && cfg.SMTP.Password == "" {
		return nil, errors.New("AFROMEMO_SMTP_PASSWORD is required when AFROMEMO_SMTP_USER is set")
	}
	if (cfg.AdminUser == "") != (cfg.AdminPassword == "") {
		return nil, errors.New("AFROMEMO_ADMIN_USER and AFROMEMO_ADMIN_PASSWORD must be set together")
	}

	if len(cfg.TrustedProxies) == 0 {
		slog.Warn("no AFROMEMO_TRUSTED_PROXIES configured, client IPs are taken from the connection only")
	}
	return cfg, nil
}

// Location returns the time zone of the agenda.
func (c *Config) Location() *time.Location {
	return loadLocation(c.Timezone)
}

// ClientConfig is the configuration of the command line client.
type ClientConfig struct {
	Server   string        `env:"AFROMEMO_SERVER" envDefault:"http://localhost:8080"`
	StateDir string        `env:"AFROMEMO_STATE_DIR"`
	Storage  string        `env:"AFROMEMO_STORAGE" envDefault:"file"`
	Timeout  time.Duration `env:"AFROMEMO_REQUEST_TIMEOUT" envDefault:"30s"`
	Lang     string        `env:"AFROMEMO_LANG" envDefault:"fr"`
	Timezone string        `env:"AFROMEMO_TIMEZONE" envDefault:"Europe/Zurich"`
	// PushGateway receives the client metrics after each command when set.
	PushGateway string `env:"AFROMEMO_PUSHGATEWAY"`
}

// LoadClient reads the client configuration from the environment.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("AFROMEMO_STATE_DIR is not set and the home directory is unknown: %w", err)
		}
		cfg.StateDir = filepath.Join(home, ".afromemo")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that flags may have overridden.
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("AFROMEMO_SERVER must be an http(s) URL (got %q)", c.Server)
	}
	switch c.Storage {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("AFROMEMO_STORAGE must be file, sqlite or memory (got %q)", c.Storage)
	}
	if c.Timeout <= 0 {
		return errors.New("AFROMEMO_REQUEST_TIMEOUT must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("AFROMEMO_TIMEZONE is not a known time zone (got %q)", c.Timezone)
	}
	if c.PushGateway != "" {
		if u, err := url.Parse(c.PushGateway); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("AFROMEMO_PUSHGATEWAY must be an http(s) URL (got %q)", c.PushGateway)
		}
	}
	return nil
}

// Location returns the time zone agenda dates are expressed in.
func (c *ClientConfig) Location() *time.Location {
	return loadLocation(c.Timezone)
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

func trimList(items []string) []string {
	var result []string
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
