package telegram

import (
	"context"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"ikasa/internal/guard"
	"ikasa/internal/session"
)

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}
	data := strings.TrimSpace(ctx.CallbackQuery.Data)
	s.answerCallback(b, ctx)

	return s.withEntry(b, ctx, func(c context.Context, e *session.Entry) error {
		form, err := s.forms.Get(c, e.UserID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("read form failed")
		}
		st := e.Store.Snapshot()

		switch {
		case strings.HasPrefix(data, cbNav):
			return s.navigate(c, b, ctx, e, guard.Parse(strings.TrimPrefix(data, cbNav)))

		case data == cbContinue:
			if st.OnboardingComplete {
				return s.navigate(c, b, ctx, e, guard.RouteChat)
			}
			return s.navigate(c, b, ctx, e, guard.RouteForStep(st.OnboardingStep))

		case data == cbGuest:
			return s.apply(c, b, ctx, e, s.funnel.GuestLogin(c, e.Store))

		case data == cbSignIn, data == cbSignUp:
			mode := modeSignIn
			if data == cbSignUp {
				mode = modeSignUp
			}
			return s.saveFormAndShow(c, b, ctx, e, formState{Awaiting: AwaitEmail, Mode: mode}, guard.RouteAuth)

		case data == cbPhone:
			return s.saveFormAndShow(c, b, ctx, e, formState{Awaiting: AwaitPhone}, guard.RouteAuth)

		case data == cbResendOTP:
			if form.Phone == "" {
				return s.saveFormAndShow(c, b, ctx, e, formState{Awaiting: AwaitPhone}, guard.RouteAuth)
			}
			return s.apply(c, b, ctx, e, s.funnel.SendOTP(c, form.Phone))

		case data == cbSSO:
			link, verifier, err := s.funnel.StartSSO()
			if err != nil {
				return s.reply(ctx, b, err.Error())
			}
			s.saveForm(c, e.UserID, formState{Verifier: verifier, Route: guard.RouteAuth})
			return s.replyWithMarkup(ctx, b, "Open the sign-in page. You will be brought back here when you are done.",
				keyboard(row(gotgbot.InlineKeyboardButton{Text: "Open sign-in page", Url: link})))

		case data == cbName:
			if !s.allowed(c, b, ctx, e, guard.RouteProfile) {
				return nil
			}
			form.Draft = draftOf(st, form)
			form.Awaiting = AwaitName
			return s.saveFormAndShow(c, b, ctx, e, form, guard.RouteProfile)

		case strings.HasPrefix(data, cbGender), strings.HasPrefix(data, cbPrefer):
			if !s.allowed(c, b, ctx, e, guard.RouteProfile) {
				return nil
			}
			form.Draft = draftOf(st, form)
			if v, ok := strings.CutPrefix(data, cbGender); ok {
				form.Draft.Gender = v
			} else {
				form.Draft.PreferredGender = strings.TrimPrefix(data, cbPrefer)
			}
			return s.saveFormAndShow(c, b, ctx, e, form, guard.RouteProfile)

		case data == cbSaveProfile:
			if !s.allowed(c, b, ctx, e, guard.RouteProfile) {
				return nil
			}
			return s.apply(c, b, ctx, e, s.funnel.SaveProfile(c, e.Store, draftOf(st, form)))

		case strings.HasPrefix(data, cbStyle):
			if !s.allowed(c, b, ctx, e, guard.RouteStyle) {
				return nil
			}
			style, _ := session.ParseStyle(strings.TrimPrefix(data, cbStyle))
			return s.apply(c, b, ctx, e, s.funnel.SaveStyle(c, e.Store, style))

		case strings.HasPrefix(data, cbCharacter):
			if !s.allowed(c, b, ctx, e, guard.RouteCharacter) {
				return nil
			}
			return s.apply(c, b, ctx, e, s.funnel.SelectCharacter(c, e.Store, strings.TrimPrefix(data, cbCharacter)))

		case strings.HasPrefix(data, cbScenario):
			if !s.allowed(c, b, ctx, e, guard.RouteScenario) {
				return nil
			}
			return s.apply(c, b, ctx, e, s.funnel.SelectScenario(c, e.Store, strings.TrimPrefix(data, cbScenario)))

		case data == cbTheme:
			if _, err := s.funnel.ToggleTheme(c, e.Store); err != nil {
				s.logger.Error().Err(err).Msg("toggle theme failed")
				return s.reply(ctx, b, "Could not change the theme right now.")
			}
			current := form.Route
			if current == "" {
				current = guard.RouteHome
			}
			return s.navigate(c, b, ctx, e, current)

		case data == cbReset:
			return s.apply(c, b, ctx, e, s.funnel.Reset(c, e.Store))

		case data == cbSignOut:
			return s.apply(c, b, ctx, e, s.funnel.SignOut(c, e.Store, e.UserID))

		default:
			return s.navigate(c, b, ctx, e, guard.RouteNotFound)
		}
	})
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context) {
	if _, err := b.AnswerCallbackQuery(ctx.CallbackQuery.Id, nil); err != nil {
		s.logger.Debug().Err(err).Msg("answer callback failed")
	}
}

func (s *Service) editOrReplyCallback(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		opts := &gotgbot.EditMessageTextOpts{}
		if markup != nil {
			opts.ReplyMarkup = *markup
		}
		_, _, err := ctx.CallbackQuery.Message.EditText(b, text, opts)
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
	}
	return s.replyWithMarkup(ctx, b, text, markup)
}
