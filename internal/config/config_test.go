package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.App.HTTPAddr)
	}
	if cfg.App.TokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl %v", cfg.App.TokenTTL)
	}
	if cfg.App.InitialTokens != 20 {
		t.Fatalf("unexpected initial tokens %d", cfg.App.InitialTokens)
	}
}

func TestLoad_ParsesDurationsAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"app": {"token_ttl": "30m", "sweep_interval": "10m"},
		"conversion": {"url": "http://conv.local/convert", "timeout": "90s"}
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.TokenTTL != 30*time.Minute {
		t.Fatalf("unexpected token ttl %v", cfg.App.TokenTTL)
	}
	if cfg.App.SweepInterval != 10*time.Minute {
		t.Fatalf("unexpected sweep interval %v", cfg.App.SweepInterval)
	}
	if cfg.Conversion.Timeout != 90*time.Second {
		t.Fatalf("unexpected conversion timeout %v", cfg.Conversion.Timeout)
	}
	if cfg.Conversion.URL != "http://conv.local/convert" {
		t.Fatalf("unexpected conversion url %q", cfg.Conversion.URL)
	}
	// 未设置的字段回退默认值
	if cfg.App.HTTPAddr != ":8080" || cfg.MySQL.DSN == "" {
		t.Fatalf("defaults not applied: %+v", cfg.App)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"app": {"token_ttl": "soon"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("SERVER_URL", "http://conv.env/convert")
	t.Setenv("ADMIN_EMAIL", "root@example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Security.JWTSecret != "env-secret" {
		t.Fatalf("jwt secret not overridden: %q", cfg.Security.JWTSecret)
	}
	if cfg.App.HTTPAddr != ":9090" {
		t.Fatalf("port not overridden: %q", cfg.App.HTTPAddr)
	}
	if cfg.Conversion.URL != "http://conv.env/convert" {
		t.Fatalf("conversion url not overridden: %q", cfg.Conversion.URL)
	}
	if cfg.Security.AdminEmail != "root@example.com" {
		t.Fatalf("admin email not overridden: %q", cfg.Security.AdminEmail)
	}
}

func TestLoad_DSNAssemblyFromParts(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "meshforge")
	t.Setenv("DB_PASSWORD", "hunter2")
	t.Setenv("DB_NAME", "meshforge_prod")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dsn := cfg.MySQL.DSN
	for _, want := range []string{"db.internal:3306", "meshforge:", "hunter2", "meshforge_prod"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
}
