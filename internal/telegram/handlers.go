package telegram

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"ikasa/internal/funnel"
	"ikasa/internal/guard"
	"ikasa/internal/session"
	"ikasa/internal/validate"
)

const ssoStartPrefix = "sso_"

var routeCommands = map[string]guard.Route{
	"auth":      guard.RouteAuth,
	"profile":   guard.RouteProfile,
	"style":     guard.RouteStyle,
	"character": guard.RouteCharacter,
	"scenario":  guard.RouteScenario,
	"chat":      guard.RouteChat,
}

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, helpText())
}

// start renders home, or finishes single sign-on when the deep link carries
// an authorization code.
func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	args := ctx.Args()
	return s.withEntry(b, ctx, func(c context.Context, e *session.Entry) error {
		if len(args) > 1 && strings.HasPrefix(args[1], ssoStartPrefix) {
			form, err := s.forms.Get(c, e.UserID)
			if err != nil {
				s.logger.Warn().Err(err).Msg("read form failed")
			}
			code := strings.TrimPrefix(args[1], ssoStartPrefix)
			return s.apply(c, b, ctx, e, s.funnel.CompleteSSO(c, e.Store, code, form.Verifier))
		}
		return s.navigate(c, b, ctx, e, guard.RouteHome)
	})
}

func (s *Service) route(r guard.Route) func(b *gotgbot.Bot, ctx *ext.Context) error {
	return func(b *gotgbot.Bot, ctx *ext.Context) error {
		return s.withEntry(b, ctx, func(c context.Context, e *session.Entry) error {
			return s.navigate(c, b, ctx, e, r)
		})
	}
}

func (s *Service) toggleTheme(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.withEntry(b, ctx, func(c context.Context, e *session.Entry) error {
		dark, err := s.funnel.ToggleTheme(c, e.Store)
		if err != nil {
			s.logger.Error().Err(err).Msg("toggle theme failed")
			return s.reply(ctx, b, "Could not change the theme right now.")
		}
		if dark {
			return s.reply(ctx, b, "Dark mode on.")
		}
		return s.reply(ctx, b, "Dark mode off.")
	})
}

func (s *Service) reset(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.withEntry(b, ctx, func(c context.Context, e *session.Entry) error {
		return s.apply(c, b, ctx, e, s.funnel.Reset(c, e.Store))
	})
}

func (s *Service) signOut(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.withEntry(b, ctx, func(c context.Context, e *session.Entry) error {
		return s.apply(c, b, ctx, e, s.funnel.SignOut(c, e.Store, e.UserID))
	})
}

func (s *Service) status(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.withEntry(b, ctx, func(c context.Context, e *session.Entry) error {
		var recent []string
		if s.history != nil {
			entries, err := s.history.RecentActions(c, e.Store.Key(), 5)
			if err != nil {
				s.logger.Warn().Err(err).Msg("recent actions failed")
			}
			for _, a := range entries {
				recent = append(recent, fmt.Sprintf("- %s %s", a.CreatedAt.UTC().Format("2006-01-02 15:04"), a.Action))
			}
		}
		return s.reply(ctx, b, statusText(e.Store.Snapshot(), e.Theme.ClassList(), recent))
	})
}

func (s *Service) cancelForm(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.withEntry(b, ctx, func(c context.Context, e *session.Entry) error {
		if err := s.forms.Clear(c, e.UserID); err != nil {
			return s.reply(ctx, b, "Failed to cancel right now.")
		}
		return s.reply(ctx, b, "Input canceled.")
	})
}

// privateText takes a plain message as the answer the current form waits
// for, or as a chat message when no form is open.
func (s *Service) privateText(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		return s.route(guard.RouteNotFound)(b, ctx)
	}
	return s.withEntry(b, ctx, func(c context.Context, e *session.Entry) error {
		form, err := s.forms.Get(c, e.UserID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("read form failed")
		}
		switch form.Awaiting {
		case AwaitEmail:
			form.Email = text
			form.Awaiting = AwaitPassword
			return s.saveFormAndShow(c, b, ctx, e, form, guard.RouteAuth)

		case AwaitPassword:
			if _, err := b.DeleteMessage(msg.Chat.Id, msg.MessageId, nil); err != nil {
				s.logger.Debug().Err(err).Msg("delete password message failed")
			}
			var out funnel.Outcome
			if form.Mode == modeSignUp {
				out = s.funnel.SignUpEmail(c, e.Store, form.Email, text)
			} else {
				out = s.funnel.SignInEmail(c, e.Store, form.Email, text)
			}
			if !out.OK() {
				form.Awaiting = AwaitEmail
				if _, bad := out.Fields["email"]; !bad && out.Err == nil {
					form.Awaiting = AwaitPassword
				}
				s.saveForm(c, e.UserID, form)
			}
			return s.apply(c, b, ctx, e, out)

		case AwaitPhone:
			out := s.funnel.SendOTP(c, text)
			if out.OK() {
				form.Phone = text
				form.Awaiting = AwaitOTP
				s.saveForm(c, e.UserID, form)
			}
			return s.apply(c, b, ctx, e, out)

		case AwaitOTP:
			return s.apply(c, b, ctx, e, s.funnel.VerifyOTP(c, e.Store, form.Phone, text))

		case AwaitName:
			if utf8.RuneCountInString(text) < 2 {
				return s.reply(ctx, b, validate.MsgName)
			}
			form.Draft = draftOf(e.Store.Snapshot(), form)
			form.Draft.Name = text
			form.Awaiting = AwaitNone
			return s.saveFormAndShow(c, b, ctx, e, form, guard.RouteProfile)
		}
		return s.chat(c, b, ctx, e, text)
	})
}

func (s *Service) chat(c context.Context, b *gotgbot.Bot, ctx *ext.Context, e *session.Entry, text string) error {
	if !s.allowed(c, b, ctx, e, guard.RouteChat) {
		return nil
	}
	res := s.funnel.SendLocked(c, e, text)
	if res.Ignored {
		return s.reply(ctx, b, "Please wait for the reply to your last message.")
	}
	if res.Reply == nil {
		return s.apply(c, b, ctx, e, res.Outcome)
	}
	return s.reply(ctx, b, formatMessage(*res.Reply, res.Speaker, e.Theme.Palette()))
}

// navigate runs the guard for r and shows whichever screen it settles on.
// A pending session is probed once while the user sees the loading line.
func (s *Service) navigate(c context.Context, b *gotgbot.Bot, ctx *ext.Context, e *session.Entry, r guard.Route) error {
	target := s.settle(c, e, r, func() {
		if err := s.reply(ctx, b, loadingText); err != nil {
			s.logger.Debug().Err(err).Msg("send loading failed")
		}
	})
	if out := s.prepare(c, e, target); out.Err != nil {
		if err := s.reply(ctx, b, out.Message()); err != nil {
			return err
		}
	}

	form, err := s.forms.Get(c, e.UserID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read form failed")
	}
	if form.Route != target {
		form.Route = target
		s.saveForm(c, e.UserID, form)
	}
	return s.show(ctx, b, renderScreen(target, e.Store.Snapshot(), form, e.Theme.Palette()))
}

// settle runs the guard for r and returns the route that renders. When the
// session is still pending, loading runs, the session is probed and the
// guard evaluated again.
func (s *Service) settle(c context.Context, e *session.Entry, r guard.Route, loading func()) guard.Route {
	d, hops := guard.Resolve(r, guard.ViewOf(e.Store.Snapshot()))
	if d.Kind == guard.Loading {
		loading()
		s.watcher.Probe(c, e.Store)
		d, hops = guard.Resolve(r, guard.ViewOf(e.Store.Snapshot()))
	}
	from := r
	for _, hop := range hops {
		s.metrics.GuardRedirects.WithLabelValues(string(from), string(hop)).Inc()
		from = hop
	}
	if d.Kind != guard.Render {
		return guard.RouteHome
	}
	return d.Target
}

// prepare loads what the target screen lists before it is rendered.
func (s *Service) prepare(c context.Context, e *session.Entry, target guard.Route) funnel.Outcome {
	switch target {
	case guard.RouteCharacter:
		return s.funnel.LoadCharacters(c, e.Store)
	case guard.RouteScenario:
		s.funnel.LoadScenarios(e.Store)
	}
	return funnel.Outcome{}
}

// allowed reports whether actions of route r may run now. When they may not,
// the screen the guard redirects to is shown instead.
func (s *Service) allowed(c context.Context, b *gotgbot.Bot, ctx *ext.Context, e *session.Entry, r guard.Route) bool {
	d := guard.Evaluate(r, guard.ViewOf(e.Store.Snapshot()))
	if d.Kind == guard.Render {
		return true
	}
	if err := s.navigate(c, b, ctx, e, r); err != nil {
		s.logger.Debug().Err(err).Msg("redirect render failed")
	}
	return false
}

// apply reports an action's outcome and moves on when it names a next screen.
func (s *Service) apply(c context.Context, b *gotgbot.Bot, ctx *ext.Context, e *session.Entry, out funnel.Outcome) error {
	if out.Ignored {
		return nil
	}
	switch {
	case !out.Fields.Empty():
		return s.reply(ctx, b, fieldText(out.Fields))
	case out.Err != nil:
		return s.reply(ctx, b, out.Message())
	case out.Notice != "":
		if err := s.reply(ctx, b, out.Notice); err != nil {
			return err
		}
	}
	if out.Next == "" {
		return nil
	}
	if err := s.forms.Clear(c, e.UserID); err != nil {
		s.logger.Warn().Err(err).Msg("clear form failed")
	}
	return s.navigate(c, b, ctx, e, out.Next)
}

func (s *Service) saveForm(c context.Context, userID int64, form formState) {
	if err := s.forms.Set(c, userID, form); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("save form failed")
	}
}

func (s *Service) saveFormAndShow(c context.Context, b *gotgbot.Bot, ctx *ext.Context, e *session.Entry, form formState, r guard.Route) error {
	s.saveForm(c, e.UserID, form)
	return s.navigate(c, b, ctx, e, r)
}

func (s *Service) show(ctx *ext.Context, b *gotgbot.Bot, scr screen) error {
	if ctx.CallbackQuery != nil {
		return s.editOrReplyCallback(ctx, b, scr.Text, scr.Markup)
	}
	return s.replyWithMarkup(ctx, b, scr.Text, scr.Markup)
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	return s.replyWithMarkup(ctx, b, text, nil)
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, opts)
	return err
}
