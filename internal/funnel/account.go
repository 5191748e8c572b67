package funnel

import (
	"context"

	"ikasa/internal/guard"
	"ikasa/internal/session"
)

// Reset clears the session and returns to home. The theme is kept.
func (f *Funnel) Reset(ctx context.Context, store *session.Store) Outcome {
	f.audit(ctx, store, "reset")
	if err := f.persisted(store.Reset(ctx)); err != nil {
		return fail(err)
	}
	return Outcome{Next: guard.RouteHome}
}

// SignOut ends the server session when possible, clears local state and
// tells other holders of the same account.
func (f *Funnel) SignOut(ctx context.Context, store *session.Store, origin int64) Outcome {
	st := store.Snapshot()
	if st.Identity != nil {
		if err := f.cfg.Gateway.SignOut(ctx, st.Identity.AccessToken); err != nil {
			f.cfg.Logger.Warn().Err(err).Msg("remote sign out failed")
		}
	}
	f.audit(ctx, store, "signed_out")
	if err := f.persisted(store.Reset(ctx)); err != nil {
		return fail(err)
	}
	if st.Identity != nil && f.cfg.Publisher != nil {
		ev := session.Event{
			ID:     f.cfg.NewID(),
			Kind:   session.EventSignedOut,
			UserID: st.Identity.UserID,
			Origin: origin,
			At:     f.cfg.Clock().UTC(),
		}
		if _, err := f.cfg.Publisher.PublishSessionEvent(ctx, ev); err != nil {
			f.cfg.Logger.Warn().Err(err).Msg("publish sign out event failed")
		}
	}
	return Outcome{Next: guard.RouteHome}
}

func (f *Funnel) ToggleTheme(ctx context.Context, store *session.Store) (bool, error) {
	dark, err := store.ToggleDarkMode(ctx)
	return dark, f.persisted(err)
}
