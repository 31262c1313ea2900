package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Environment != "development" {
		t.Fatalf("Server.Environment = %q, want development", cfg.Server.Environment)
	}
	if cfg.Database.Path != ":memory:" {
		t.Fatalf("Database.Path = %q, want :memory:", cfg.Database.Path)
	}
	if cfg.IsProduction() {
		t.Fatal("IsProduction() = true for development defaults")
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("Addr() = %q, want 0.0.0.0:8080", cfg.Addr())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  host: 127.0.0.1
  port: 9000
database:
  path: /tmp/piano-test/chat.db
logging:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Fatalf("server = %s:%d, want 127.0.0.1:9000", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/piano-test/chat.db" {
		t.Fatalf("Database.Path = %q, want /tmp/piano-test/chat.db", cfg.Database.Path)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Fatalf("LogLevel() = %v, want debug", cfg.LogLevel())
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("WS_PORT", "9001")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("SALT1", "pepper")
	t.Setenv("SALT2", "sesame")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Fatalf("Server.Port = %d, want env override 9001", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Fatal("IsProduction() = false with NODE_ENV=production")
	}
	if len(cfg.Server.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v, want 2 entries", cfg.Server.CORSAllowedOrigins)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("WS_PORT", "70000")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() with port 70000 succeeded, want validation error")
	}
}

func TestProductionRequiresSalts(t *testing.T) {
	t.Setenv("NODE_ENV", "production")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() in production without salts succeeded, want error")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() with missing explicit file succeeded, want error")
	}
}

func TestIsProductionVariants(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{env: "production", want: true},
		{env: "prod", want: true},
		{env: "PROD", want: true},
		{env: "development", want: false},
		{env: "staging", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{}
			cfg.Server.Environment = tt.env
			if got := cfg.IsProduction(); got != tt.want {
				t.Fatalf("IsProduction() with %q = %v, want %v", tt.env, got, tt.want)
			}
		})
	}
}
