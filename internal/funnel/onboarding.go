package funnel

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"ikasa/internal/guard"
	"ikasa/internal/session"
	"ikasa/internal/validate"
)

// CanContinue reports whether the profile form may be submitted.
func CanContinue(p session.Profile) bool {
	return utf8.RuneCountInString(strings.TrimSpace(p.Name)) >= 2 && p.Gender != "" && p.PreferredGender != ""
}

func (f *Funnel) SaveProfile(ctx context.Context, store *session.Store, p session.Profile) Outcome {
	p.Name = strings.TrimSpace(p.Name)
	if errs := f.cfg.Validator.Profile(p); !errs.Empty() {
		return Outcome{Fields: errs}
	}
	if err := f.cfg.Gateway.SaveProfile(ctx, token(store.Snapshot()), p); err != nil {
		return fail(err)
	}
	if err := f.persisted(store.SetProfile(ctx, p)); err != nil {
		return fail(err)
	}
	if err := f.persisted(store.AdvanceStep(ctx, session.StepStyle)); err != nil {
		return fail(err)
	}
	f.audit(ctx, store, "profile_saved")
	return Outcome{Next: guard.RouteStyle}
}

func (f *Funnel) SaveStyle(ctx context.Context, store *session.Store, style session.Style) Outcome {
	if errs := validate.Style(style); !errs.Empty() {
		return Outcome{Fields: errs}
	}
	if err := f.cfg.Gateway.SaveStyle(ctx, token(store.Snapshot()), style); err != nil {
		return fail(err)
	}
	if err := f.persisted(store.SetStyle(ctx, style)); err != nil {
		return fail(err)
	}
	if err := f.persisted(store.AdvanceStep(ctx, session.StepCharacter)); err != nil {
		return fail(err)
	}
	f.audit(ctx, store, "style_saved")
	return Outcome{Next: guard.RouteCharacter}
}

// LoadCharacters fills the character catalog, and the scenario catalog when
// the backend sends one. With demo mode on a failed fetch falls back to the
// demo catalog.
func (f *Funnel) LoadCharacters(ctx context.Context, store *session.Store) Outcome {
	st := store.Snapshot()
	if len(st.Characters) > 0 {
		return Outcome{}
	}
	cat, err := f.cfg.Gateway.FetchSession(ctx, token(st), st.UserID())
	if err == nil && len(cat.Characters) == 0 {
		err = fmt.Errorf("fetch session: empty character catalog")
	}
	if err != nil {
		if !f.cfg.Demo.Enabled {
			return fail(err)
		}
		f.fallback("characters", err)
		store.SetCharacters(f.cfg.Demo.Characters())
		return Outcome{}
	}
	store.SetCharacters(cat.Characters)
	if len(cat.Scenarios) > 0 {
		store.SetScenarios(cat.Scenarios)
	}
	return Outcome{}
}

func (f *Funnel) SelectCharacter(ctx context.Context, store *session.Store, id string) Outcome {
	if out := f.LoadCharacters(ctx, store); out.Err != nil {
		return out
	}
	st := store.Snapshot()
	var picked *session.Character
	for i := range st.Characters {
		if st.Characters[i].ID == id {
			picked = &st.Characters[i]
			break
		}
	}
	if picked == nil {
		return Outcome{Fields: validate.FieldErrors{"character": "Please choose a character"}}
	}
	if err := f.cfg.Gateway.SelectCharacter(ctx, token(st), id); err != nil {
		if !f.cfg.Demo.Enabled {
			return fail(err)
		}
		f.fallback("select_character", err)
	}
	if err := f.persisted(store.SelectCharacter(ctx, *picked)); err != nil {
		return fail(err)
	}
	if err := f.persisted(store.AdvanceStep(ctx, session.StepScenario)); err != nil {
		return fail(err)
	}
	f.audit(ctx, store, "character_selected")
	return Outcome{Next: guard.RouteScenario}
}

// LoadScenarios uses the catalog sent with the session, else the default list.
func (f *Funnel) LoadScenarios(store *session.Store) []session.Scenario {
	st := store.Snapshot()
	if len(st.Scenarios) > 0 {
		return st.Scenarios
	}
	defaults := f.cfg.Demo.Scenarios()
	store.SetScenarios(defaults)
	return defaults
}

func (f *Funnel) SelectScenario(ctx context.Context, store *session.Store, id string) Outcome {
	scenarios := f.LoadScenarios(store)
	var picked *session.Scenario
	for i := range scenarios {
		if scenarios[i].ID == id {
			picked = &scenarios[i]
			break
		}
	}
	if picked == nil {
		return Outcome{Fields: validate.FieldErrors{"scenario": "Please choose a scenario"}}
	}
	if err := f.cfg.Gateway.SelectScenario(ctx, token(store.Snapshot()), id); err != nil {
		if !f.cfg.Demo.Enabled {
			return fail(err)
		}
		f.fallback("select_scenario", err)
	}
	if err := f.persisted(store.SelectScenario(ctx, *picked)); err != nil {
		return fail(err)
	}
	if err := f.persisted(store.CompleteOnboarding(ctx)); err != nil {
		return fail(err)
	}
	f.audit(ctx, store, "onboarding_completed")
	return Outcome{Next: guard.RouteChat}
}
