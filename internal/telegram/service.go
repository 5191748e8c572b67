package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"ikasa/internal/authwatch"
	"ikasa/internal/funnel"
	"ikasa/internal/metrics"
	"ikasa/internal/session"
	"ikasa/internal/storage"
)

// History lists recent funnel milestones for /status.
type History interface {
	RecentActions(ctx context.Context, key string, limit uint64) ([]storage.AuditEntry, error)
}

type Service struct {
	registry *session.Registry
	funnel   *funnel.Funnel
	watcher  *authwatch.Watcher
	forms    *formStore
	history  History
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
}

type Config struct {
	Registry *session.Registry
	Funnel   *funnel.Funnel
	Watcher  *authwatch.Watcher
	Redis    *redis.Client
	// History is optional; without it /status omits recent activity.
	History       History
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	FormTTL       time.Duration
	UpdateTimeout time.Duration
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.FormTTL <= 0 {
		cfg.FormTTL = 20 * time.Minute
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 2 * time.Minute
	}
	return &Service{
		registry: cfg.Registry,
		funnel:   cfg.Funnel,
		watcher:  cfg.Watcher,
		forms:    newFormStore(cfg.Redis, cfg.FormTTL),
		history:  cfg.History,
		logger:   cfg.Logger,
		metrics:  m,
		timeout:  cfg.UpdateTimeout,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("help", s.help))
	for name, r := range routeCommands {
		d.AddHandler(handlers.NewCommand(name, s.route(r)))
	}
	d.AddHandler(handlers.NewCommand("theme", s.toggleTheme))
	d.AddHandler(handlers.NewCommand("reset", s.reset))
	d.AddHandler(handlers.NewCommand("signout", s.signOut))
	d.AddHandler(handlers.NewCommand("status", s.status))
	d.AddHandler(handlers.NewCommand("cancel", s.cancelForm))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && message.Text(msg)
	}, s.privateText))
}

// withEntry runs fn with the caller's session entry locked, so one user's
// updates apply in order.
func (s *Service) withEntry(b *gotgbot.Bot, ctx *ext.Context, fn func(c context.Context, e *session.Entry) error) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveUser == nil {
		return nil
	}
	if ctx.EffectiveChat.Type != "private" {
		return s.reply(ctx, b, "Message me privately to get started.")
	}
	c, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := s.serve(c, ctx.EffectiveUser.Id, func(e *session.Entry) error {
		return fn(c, e)
	})
	if errors.Is(err, errOpenSession) {
		s.logger.Error().Err(err).Int64("user_id", ctx.EffectiveUser.Id).Msg("open session failed")
		return s.reply(ctx, b, "Something went wrong loading your session. Please try again.")
	}
	return err
}

var errOpenSession = errors.New("open session")

// serve runs fn on the user's entry with its lock held.
func (s *Service) serve(c context.Context, userID int64, fn func(e *session.Entry) error) error {
	e, err := s.registry.Get(c, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", errOpenSession, err)
	}
	e.Lock()
	defer e.Unlock()
	return fn(e)
}

// TypingNotifier returns a registry hook that shows the typing indicator
// while a reply is pending. Private chat ids equal user ids.
func TypingNotifier(bot *gotgbot.Bot, logger zerolog.Logger) func(*session.Entry) {
	return func(e *session.Entry) {
		chatID := e.UserID
		e.Store.Subscribe(func(prev, next session.State) {
			if !next.IsTyping || prev.IsTyping {
				return
			}
			go func() {
				if _, err := bot.SendChatAction(chatID, "typing", nil); err != nil {
					logger.Debug().Err(err).Int64("chat_id", chatID).Msg("send typing action failed")
				}
			}()
		})
	}
}
