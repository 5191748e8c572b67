package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ikasa/internal/authwatch"
	"ikasa/internal/config"
	"ikasa/internal/crypto"
	"ikasa/internal/demo"
	"ikasa/internal/funnel"
	"ikasa/internal/gateway"
	"ikasa/internal/metrics"
	"ikasa/internal/queue"
	"ikasa/internal/session"
	"ikasa/internal/storage"
	"ikasa/internal/telegram"
	"ikasa/internal/validate"
	"ikasa/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("mode", cfg.AppMode).
		Str("store_backend", cfg.Store.Backend).
		Bool("demo_mode", cfg.Gateway.DemoMode).
		Bool("dev_polling", cfg.DevPolling).
		Msg("starting ikasa")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	var persister session.Persister = store
	if cfg.Store.Backend == config.BackendRedis {
		persister = storage.NewRedisPersister(rdb)
	}

	var sealer session.Sealer
	if cfg.Crypto.Enabled() {
		manager, err := crypto.NewManager(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize crypto manager")
		}
		sealer = manager
		log.Info().Str("key_id", manager.CurrentKeyID()).Msg("session tokens sealed at rest")
	} else {
		log.Warn().Msg("no master key configured, session tokens are stored in clear")
	}

	bot, err := gotgbot.NewBot(cfg.BotToken, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create telegram bot")
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	m := metrics.Global()
	registry, err := session.NewRegistry(session.RegistryConfig{
		Persister: persister,
		Sealer:    sealer,
		Size:      cfg.Store.CacheSize,
		Logger:    log.With().Str("component", "session").Logger(),
		OnOpen:    telegram.TypingNotifier(bot, log.Logger),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session registry")
	}

	catalog := demo.Builtin()
	if cfg.Gateway.DemoCatalog != "" {
		if catalog, err = demo.Load(cfg.Gateway.DemoCatalog); err != nil {
			log.Fatal().Err(err).Str("path", cfg.Gateway.DemoCatalog).Msg("failed to load demo catalog")
		}
	}

	gw := gateway.New(gateway.Config{
		APIBaseURL:  cfg.Gateway.APIBaseURL,
		AuthBaseURL: cfg.Gateway.AuthBaseURL,
		AuthAPIKey:  cfg.Gateway.AuthAPIKey,
		Timeout:     cfg.Gateway.Timeout,
		Metrics:     m,
	})
	events := queue.NewEventStream(rdb, cfg.Redis.EventsStream, cfg.Redis.EventsGroup, cfg.Worker.ConsumerName, cfg.Redis.EventsBlock).
		SealWith(sealer)

	funnelCfg := funnel.Config{
		Gateway:        gw,
		Demo:           demo.NewPolicy(cfg.Gateway.DemoMode, catalog),
		Validator:      validate.New(),
		Auditor:        store,
		Publisher:      events,
		Metrics:        m,
		Logger:         log.With().Str("component", "funnel").Logger(),
		SSOProvider:    cfg.Gateway.SSOProvider,
		SSORedirectURL: cfg.Gateway.SSORedirectURL,
	}
	if cfg.Rate.ChatPerHour > 0 {
		funnelCfg.Limiter = queue.NewChatLimiter(rdb, cfg.Rate.ChatPerHour)
	}
	watcher := authwatch.New(authwatch.Config{
		Gateway:  gw,
		Registry: registry,
		Logger:   log.With().Str("component", "authwatch").Logger(),
	})

	errCh := make(chan error, 4)
	var updater *ext.Updater
	var webhookHandler http.HandlerFunc
	var webhookRoute string
	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.BotToken))
	}

	runPolling := cfg.DevPolling && cfg.AppMode != config.ModeWorker
	runWebhook := !runPolling && (cfg.AppMode == config.ModeWebhook || cfg.AppMode == config.ModeAll)
	if runPolling || runWebhook {
		dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
			MaxRoutines:      100,
			UnhandledErrFunc: logTelegramErr,
			Processor: telegram.Processor{
				Dedupe:  queue.NewUpdateDeduplicator(rdb, cfg.Redis.UpdateTTL),
				Metrics: m,
				Logger:  log.Logger,
			},
		})
		service := telegram.NewService(telegram.Config{
			Registry: registry,
			Funnel:   funnel.New(funnelCfg),
			Watcher:  watcher,
			Redis:    rdb,
			History:  store,
			Logger:   log.With().Str("component", "telegram").Logger(),
			Metrics:  m,
			FormTTL:  cfg.Redis.FormTTL,
		})
		service.Register(dispatcher)
		updater = ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
			UnhandledErrFunc: logTelegramErr,
		})

		if runPolling {
			if err := updater.StartPolling(bot, &ext.PollingOpts{
				EnableWebhookDeletion: true,
				DropPendingUpdates:    true,
				GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
					Timeout: 50,
					RequestOpts: &gotgbot.RequestOpts{
						Timeout: 60 * time.Second,
					},
				},
			}); err != nil {
				log.Fatal().Err(err).Msg("failed to start polling")
			}
			log.Info().Msg("polling mode started")
		} else {
			path := strings.Trim(cfg.Webhook.SecretPath, "/")
			if path == "" {
				path = "telegram"
			}
			if cfg.Webhook.PublicURL == "" {
				log.Fatal().Msg("WEBHOOK_URL is required in webhook mode")
			}
			if err := updater.AddWebhook(bot, path, &ext.AddWebhookOpts{SecretToken: cfg.Webhook.SecretToken}); err != nil {
				log.Fatal().Err(err).Msg("failed to configure webhook handler")
			}

			webhookURL := strings.TrimSuffix(cfg.Webhook.PublicURL, "/") + "/" + path
			if _, err := bot.SetWebhook(webhookURL, &gotgbot.SetWebhookOpts{
				DropPendingUpdates: false,
				SecretToken:        cfg.Webhook.SecretToken,
			}); err != nil {
				log.Fatal().Err(err).Msg("failed to set telegram webhook")
			}
			log.Info().Str("webhook_url", webhookURL).Msg("webhook registered")
			webhookRoute = "/" + path
			webhookHandler = updater.GetHandlerFunc("/")
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Webhook.ListenAddr,
		Handler:           opsRouter(cfg, store, rdb, webhookRoute, webhookHandler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Webhook.WebhookTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.Webhook.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Every replica consumes session events under its own group, so sessions
	// loaded here see sign-outs made through any other replica.
	w := worker.New(worker.Config{
		Bot:     bot,
		Source:  events,
		Applier: watcher,
		Logger:  log.With().Str("component", "worker").Logger(),
		Metrics: m,
	})
	go func() {
		if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("session event worker failed: %w", err)
		}
	}()
	log.Info().Int("concurrency", cfg.Worker.Concurrency).Str("group", cfg.Redis.EventsGroup).Msg("session event worker started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if updater != nil {
		if err := updater.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop updater")
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

type pinger interface {
	Ping(ctx context.Context) error
}

func opsRouter(cfg *config.Config, db pinger, rdb *redis.Client, webhookRoute string, webhook http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get(cfg.Webhook.HealthPath, func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle(cfg.Webhook.MetricsPath, promhttp.Handler())
	if webhook != nil && webhookRoute != "" {
		r.Post(webhookRoute, webhook)
	}
	return r
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func sanitizeTelegramErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
