package config

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("API_BASE_URL", "https://api.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Timeout != 30*time.Second || !cfg.Gateway.DemoMode {
		t.Fatalf("unexpected gateway defaults %+v", cfg.Gateway)
	}
	if cfg.Gateway.AuthBaseURL != "https://api.example" {
		t.Fatalf("auth base should default to api base, got %q", cfg.Gateway.AuthBaseURL)
	}
	if cfg.Store.Backend != BackendSQL || cfg.DB.Driver != "sqlite" || cfg.Crypto.Enabled() {
		t.Fatalf("unexpected store defaults %+v %+v", cfg.Store, cfg.DB)
	}
	if !strings.HasPrefix(cfg.Redis.EventsGroup, "ikasa-") {
		t.Fatalf("events group should be per host, got %q", cfg.Redis.EventsGroup)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	if _, err := Load(); !errors.Is(err, ErrMissingBotToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}

	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("DEMO_MODE", "false")
	if _, err := Load(); !errors.Is(err, ErrMissingAPIBaseURL) {
		t.Fatalf("expected missing api error, got %v", err)
	}

	t.Setenv("DEMO_MODE", "true")
	t.Setenv("STORE_BACKEND", "etcd")
	if _, err := Load(); !errors.Is(err, ErrInvalidBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestLoadMasterKeys(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	k1 := base64.StdEncoding.EncodeToString(make([]byte, 32))
	k2 := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 32)))
	t.Setenv("MASTER_KEY_K1_B64", k1)
	t.Setenv("MASTER_KEY_K2_B64", k2)

	if _, err := Load(); err == nil {
		t.Fatalf("two keys without a current id should fail")
	}

	t.Setenv("MASTER_KEY_CURRENT_ID", "K2")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Crypto.Enabled() || cfg.Crypto.CurrentKeyID != "K2" || len(cfg.Crypto.Keys) != 2 {
		t.Fatalf("unexpected crypto config %+v", cfg.Crypto)
	}

	t.Setenv("MASTER_KEY_K1_B64", "short")
	if _, err := Load(); err == nil {
		t.Fatalf("bad key should fail")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BOT_TOKEN=from-file\nGATEWAY_TIMEOUT=5s\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("GATEWAY_TIMEOUT", "")
	// godotenv only fills unset variables
	os.Unsetenv("BOT_TOKEN")
	os.Unsetenv("GATEWAY_TIMEOUT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BotToken != "from-file" || cfg.Gateway.Timeout != 5*time.Second {
		t.Fatalf("expected values from .env, got token=%q timeout=%v", cfg.BotToken, cfg.Gateway.Timeout)
	}
}
