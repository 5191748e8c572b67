package funnel

import (
	"context"
	"fmt"
	"strings"

	"ikasa/internal/gateway"
	"ikasa/internal/session"
)

// ChatResult carries the assistant turn produced by Send.
type ChatResult struct {
	Outcome
	Reply   *session.Message
	Speaker string
}

// Send runs one chat turn: the user message is appended, the typing flag is
// held for the single gateway call, then the reply (or a canned one in demo
// mode) is appended.
func (f *Funnel) Send(ctx context.Context, store *session.Store, text string) ChatResult {
	return f.send(ctx, store, text, func(call func()) { call() })
}

// SendLocked is Send for a caller holding e's lock. The lock is released for
// the gateway call, so a second message from the same user arrives while the
// first is in flight and is ignored instead of queued behind it.
func (f *Funnel) SendLocked(ctx context.Context, e *session.Entry, text string) ChatResult {
	return f.send(ctx, e.Store, text, e.Unlocked)
}

func (f *Funnel) send(ctx context.Context, store *session.Store, text string, during func(func())) ChatResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatResult{Outcome: Outcome{Ignored: true}}
	}
	release, ok := store.TryBegin()
	if !ok {
		return ChatResult{Outcome: Outcome{Ignored: true}}
	}
	defer release()

	st := store.Snapshot()
	if f.cfg.Limiter != nil {
		allowed, resetAt, err := f.cfg.Limiter.AllowChat(ctx, store.Key(), f.cfg.Clock())
		if err != nil {
			f.cfg.Logger.Warn().Err(err).Msg("chat rate limit check failed")
		} else if !allowed {
			if f.cfg.Metrics != nil {
				f.cfg.Metrics.RateLimitedChat.Inc()
			}
			return ChatResult{Outcome: Outcome{Notice: fmt.Sprintf("You've reached the hourly message limit. Try again after %s UTC.", resetAt.UTC().Format("15:04"))}}
		}
	}

	if _, err := store.AddMessage(ctx, text, session.SenderUser); f.persisted(err) != nil {
		return ChatResult{Outcome: fail(err)}
	}

	var (
		reply gateway.ChatReply
		err   error
	)
	store.SetTyping(true)
	during(func() {
		reply, err = f.cfg.Gateway.SendMessage(ctx, token(st), st.UserID(), text)
	})
	store.SetTyping(false)
	if store.Snapshot().UserID() != st.UserID() {
		// signed out or reset while the reply was pending
		return ChatResult{}
	}

	content, speaker := reply.Message, reply.CharacterName
	if err != nil {
		if !f.cfg.Demo.Enabled {
			return ChatResult{Outcome: fail(err)}
		}
		f.fallback("chat_reply", err)
		content, speaker = f.cfg.Demo.Reply(), ""
	}
	if speaker == "" && st.SelectedCharacter != nil {
		speaker = st.SelectedCharacter.Name
	}
	msg, err := store.AddMessage(ctx, content, session.SenderAI)
	if f.persisted(err) != nil {
		return ChatResult{Outcome: fail(err)}
	}
	return ChatResult{Reply: &msg, Speaker: speaker}
}
