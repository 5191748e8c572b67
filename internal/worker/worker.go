package worker

import (
	"context"
	"sync"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/rs/zerolog"

	"ikasa/internal/metrics"
	"ikasa/internal/queue"
	"ikasa/internal/session"
)

// Applier mutates the loaded sessions an event refers to.
type Applier interface {
	Apply(ctx context.Context, ev session.Event) ([]int64, error)
}

type Source interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, count int64) ([]queue.Message, error)
	Ack(ctx context.Context, messageID string) error
}

type Worker struct {
	bot     *gotgbot.Bot
	source  Source
	applier Applier
	batch   int64
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

type Config struct {
	// Bot is optional; when set, affected users are told their session ended.
	Bot     *gotgbot.Bot
	Source  Source
	Applier Applier
	Batch   int64
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 16
	}
	return &Worker{
		bot:     cfg.Bot,
		source:  cfg.Source,
		applier: cfg.Applier,
		batch:   cfg.Batch,
		logger:  cfg.Logger,
		metrics: m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.source.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.source.Read(ctx, w.batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read session events")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range messages {
			w.Handle(ctx, msg)
		}
	}
}

// Handle applies one stream entry and acks it. Events are not retried: a
// failed apply leaves the affected stores pending re-check on their next use.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) {
	log := w.logger.With().Str("msg_id", msg.ID).Logger()
	kind := string(msg.Event.Kind)
	switch {
	case msg.Err != nil:
		w.metrics.SessionEvents.WithLabelValues("malformed", "failed").Inc()
		log.Warn().Err(msg.Err).Msg("dropping malformed session event")
	default:
		affected, err := w.applier.Apply(ctx, msg.Event)
		if err != nil {
			w.metrics.SessionEvents.WithLabelValues(kind, "failed").Inc()
			log.Error().Err(err).Str("kind", kind).Str("event_id", msg.Event.ID).Msg("session event failed")
		} else {
			w.metrics.SessionEvents.WithLabelValues(kind, "applied").Inc()
		}
		w.notify(ctx, msg.Event, affected)
	}
	if err := w.source.Ack(ctx, msg.ID); err != nil {
		log.Error().Err(err).Msg("failed to ack session event")
	}
}

func (w *Worker) notify(ctx context.Context, ev session.Event, affected []int64) {
	if w.bot == nil || ev.Kind == session.EventTokenRefreshed {
		return
	}
	text := "You were signed out from another chat. Send /start to sign in again."
	if ev.Kind == session.EventUserDeleted {
		text = "Your account was deleted. Send /start to begin again."
	}
	for _, uid := range affected {
		if uid == ev.Origin {
			continue
		}
		if _, err := w.bot.SendMessageWithContext(ctx, uid, text, nil); err != nil {
			w.logger.Warn().Err(err).Int64("user_id", uid).Msg("failed to notify session change")
		}
	}
}
