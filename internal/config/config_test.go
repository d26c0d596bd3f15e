package config

import (
	"strings"
	"testing"
	"time"
)

const (
	testSecret        = "0123456789abcdef0123456789abcdef"
	testRefreshSecret = "fedcba9876543210fedcba9876543210"
)

func setServerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AFROMEMO_JWT_SECRET", testSecret)
	t.Setenv("AFROMEMO_JWT_REFRESH_SECRET", testRefreshSecret)
	t.Setenv("AFROMEMO_TRUSTED_PROXIES", "10.0.0.1, ,10.0.0.2")
}

func TestLoadDefaults(t *testing.T) {
	setServerEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.JWT.AccessTokenTTL != 15*time.Minute || cfg.JWT.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("token TTLs = %s / %s", cfg.JWT.AccessTokenTTL, cfg.JWT.RefreshTokenTTL)
	}
	if cfg.ConfirmationTTL != 24*time.Hour {
		t.Errorf("ConfirmationTTL = %s", cfg.ConfirmationTTL)
	}
	if cfg.DB.DSN != "" {
		t.Errorf("DSN = %q, want empty for the memory store", cfg.DB.DSN)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[1] != "10.0.0.2" {
		t.Errorf("TrustedProxies = %v", cfg.TrustedProxies)
	}
}

func TestLoadBuildsDSN(t *testing.T) {
	setServerEnv(t)
	t.Setenv("AFROMEMO_DB_HOST", "db")
	t.Setenv("AFROMEMO_DB_NAME", "afromemo")
	t.Setenv("AFROMEMO_DB_USER", "app")
	t.Setenv("AFROMEMO_DB_PASSWORD", "p@ss")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := "postgres://app:p%40ss@db:5432/afromemo?sslmode=disable"; cfg.DB.DSN != want {
		t.Errorf("DSN = %q, want %q", cfg.DB.DSN, want)
	}
}

func TestLoadErrorsNameTheVariable(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantVar string
	}{
		{"short secret", map[string]string{"AFROMEMO_JWT_SECRET": "short"}, "AFROMEMO_JWT_SECRET"},
		{"same secrets", map[string]string{"AFROMEMO_JWT_REFRESH_SECRET": testSecret}, "AFROMEMO_JWT_REFRESH_SECRET"},
		{"partial db settings", map[string]string{"AFROMEMO_DB_HOST": "db"}, "AFROMEMO_DB_NAME"},
		{"relative front url", map[string]string{"AFROMEMO_FRONT_URL": "/front"}, "AFROMEMO_FRONT_URL"},
		{"refresh shorter than access", map[string]string{"AFROMEMO_REFRESH_TOKEN_TTL": "1m"}, "AFROMEMO_REFRESH_TOKEN_TTL"},
		{"admin without password", map[string]string{"AFROMEMO_ADMIN_USER": "admin"}, "AFROMEMO_ADMIN_PASSWORD"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setServerEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantVar) {
				t.Errorf("error %q does not name %s", err, tc.wantVar)
			}
		})
	}
}

func TestLoadClient(t *testing.T) {
	t.Setenv("AFROMEMO_STATE_DIR", t.TempDir())
	t.Setenv("AFROMEMO_STORAGE", "sqlite")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.Server != "http://localhost:8080" || cfg.Timeout != 30*time.Second || cfg.Lang != "fr" {
		t.Errorf("unexpected defaults %+v", cfg)
	}

	cfg.Storage = "redis"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "AFROMEMO_STORAGE") {
		t.Errorf("expected storage error, got %v", err)
	}
	cfg.Storage = "file"
	cfg.Server = "ftp://example.org"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "AFROMEMO_SERVER") {
		t.Errorf("expected server error, got %v", err)
	}
}
