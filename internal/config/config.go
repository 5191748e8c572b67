package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeAll     = "ALL"
	ModeWebhook = "WEBHOOK"
	ModeWorker  = "WORKER"

	BackendSQL   = "sql"
	BackendRedis = "redis"
)

var (
	ErrMissingBotToken    = errors.New("BOT_TOKEN is required")
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required when STORE_BACKEND=sql")
	ErrMissingAPIBaseURL  = errors.New("API_BASE_URL is required")
	ErrInvalidBackend     = errors.New("STORE_BACKEND must be 'sql' or 'redis'")
)

type Config struct {
	BotToken string
	AppMode  string

	DevPolling bool

	Webhook WebhookConfig
	Gateway GatewayConfig
	Store   StoreConfig
	Redis   RedisConfig
	DB      DBConfig
	Worker  WorkerConfig
	Rate    RateConfig
	Crypto  CryptoConfig
	Log     LogConfig
}

type WebhookConfig struct {
	ListenAddr     string
	PublicURL      string
	SecretPath     string
	SecretToken    string
	HealthPath     string
	MetricsPath    string
	WebhookTimeout time.Duration
}

type GatewayConfig struct {
	APIBaseURL     string
	AuthBaseURL    string
	AuthAPIKey     string
	Timeout        time.Duration
	SSOProvider    string
	SSORedirectURL string
	DemoMode       bool
	DemoCatalog    string
}

type StoreConfig struct {
	Backend   string
	CacheSize int
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	EventsStream string
	EventsGroup  string
	EventsBlock  time.Duration
	UpdateTTL    time.Duration
	FormTTL      time.Duration
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type WorkerConfig struct {
	Concurrency  int
	ConsumerName string
}

type RateConfig struct {
	ChatPerHour int64
}

// CryptoConfig is empty when no master key is set; tokens are then stored unsealed.
type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

func (c CryptoConfig) Enabled() bool {
	return len(c.Keys) > 0
}

type LogConfig struct {
	Level string
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	host := hostnameOr("bot")
	cfg := &Config{
		BotToken:   mustEnv("BOT_TOKEN", ""),
		AppMode:    strings.ToUpper(mustEnv("APP_MODE", ModeAll)),
		DevPolling: mustBool("DEV_POLLING", false),
		Webhook: WebhookConfig{
			ListenAddr:     mustEnv("WEBHOOK_LISTEN_ADDR", ":8080"),
			PublicURL:      mustEnv("WEBHOOK_URL", ""),
			SecretPath:     strings.Trim(mustEnv("WEBHOOK_SECRET_PATH", "telegram"), "/"),
			SecretToken:    mustEnv("WEBHOOK_SECRET_TOKEN", ""),
			HealthPath:     mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:    mustEnv("METRICS_PATH", "/metrics"),
			WebhookTimeout: mustDuration("WEBHOOK_TIMEOUT", 8*time.Second),
		},
		Gateway: GatewayConfig{
			APIBaseURL:     mustEnv("API_BASE_URL", ""),
			AuthBaseURL:    mustEnv("AUTH_BASE_URL", ""),
			AuthAPIKey:     mustEnv("AUTH_API_KEY", ""),
			Timeout:        mustDuration("GATEWAY_TIMEOUT", 30*time.Second),
			SSOProvider:    mustEnv("SSO_PROVIDER", "google"),
			SSORedirectURL: mustEnv("SSO_REDIRECT_URL", ""),
			DemoMode:       mustBool("DEMO_MODE", true),
			DemoCatalog:    mustEnv("DEMO_CATALOG_PATH", ""),
		},
		Store: StoreConfig{
			Backend:   strings.ToLower(mustEnv("STORE_BACKEND", BackendSQL)),
			CacheSize: mustInt("STORE_CACHE_SIZE", 10000),
		},
		Redis: RedisConfig{
			Addr:         mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:     mustEnv("REDIS_PASSWORD", ""),
			DB:           mustInt("REDIS_DB", 0),
			EventsStream: mustEnv("SESSION_EVENTS_STREAM", "ikasa:session-events"),
			EventsGroup:  mustEnv("SESSION_EVENTS_GROUP", "ikasa-"+host),
			EventsBlock:  mustDuration("SESSION_EVENTS_BLOCK", 5*time.Second),
			UpdateTTL:    mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
			FormTTL:      mustDuration("FORM_TTL", 20*time.Minute),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "file:ikasa.db?_pragma=busy_timeout(5000)"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Worker: WorkerConfig{
			Concurrency:  mustInt("WORKER_CONCURRENCY", 1),
			ConsumerName: mustEnv("WORKER_CONSUMER_NAME", host),
		},
		Rate: RateConfig{
			ChatPerHour: int64(mustInt("RATE_LIMIT_PER_HOUR", 0)),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.BotToken == "" {
		return nil, ErrMissingBotToken
	}
	if cfg.AppMode != ModeAll && cfg.AppMode != ModeWebhook && cfg.AppMode != ModeWorker {
		return nil, fmt.Errorf("unsupported APP_MODE %q", cfg.AppMode)
	}
	if cfg.Gateway.APIBaseURL == "" && !cfg.Gateway.DemoMode {
		return nil, ErrMissingAPIBaseURL
	}
	if cfg.Gateway.AuthBaseURL == "" {
		cfg.Gateway.AuthBaseURL = cfg.Gateway.APIBaseURL
	}
	switch cfg.Store.Backend {
	case BackendSQL:
		if cfg.DB.DSN == "" {
			return nil, ErrMissingDatabaseDSN
		}
	case BackendRedis:
	default:
		return nil, ErrInvalidBackend
	}

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "MASTER_KEY_B64" {
			continue
		}
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, nil
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		if len(keys) > 1 {
			return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID is required with more than one key")
		}
		for id := range keys {
			current = id
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
