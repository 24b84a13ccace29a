package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("API_ADDR", "")
	t.Setenv("ACCESS_TTL", "")
	t.Setenv("RECORDS_SCHEMA", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.RecordsSchema != "current" {
		t.Fatalf("expected current schema, got %q", cfg.RecordsSchema)
	}
}

func TestLoadFileOverlayLosesToEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemedesk.yaml")
	body := "API_ADDR: \":9000\"\nrecords_schema: legacy\nAI_TIMEOUT_SECONDS: 12\nMINIO_USE_SSL: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("API_ADDR", ":7000")
	t.Setenv("RECORDS_SCHEMA", "")
	t.Setenv("AI_TIMEOUT_SECONDS", "")
	t.Setenv("MINIO_USE_SSL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7000" {
		t.Fatalf("expected env to win, got %q", cfg.Addr)
	}
	if cfg.RecordsSchema != "legacy" {
		t.Fatalf("expected file value, got %q", cfg.RecordsSchema)
	}
	if cfg.AITimeout != 12*time.Second {
		t.Fatalf("expected 12s ai timeout, got %s", cfg.AITimeout)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("expected ssl from file")
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("API_ADDR: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(FileEnv, path)

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("STORE_TIMEOUT_SECONDS", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreTimeout != 30*time.Second {
		t.Fatalf("expected fallback timeout, got %s", cfg.StoreTimeout)
	}
}
