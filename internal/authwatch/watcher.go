package authwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"ikasa/internal/gateway"
	"ikasa/internal/session"
)

const anonymousProvider = "anonymous"

// Prober asks the backend whether a stored session is still live.
type Prober interface {
	GetUser(ctx context.Context, accessToken string) (gateway.User, error)
	FetchSession(ctx context.Context, token, userID string) (gateway.Catalog, error)
}

type Config struct {
	Gateway  Prober
	Registry *session.Registry
	Clock    func() time.Time
	Logger   zerolog.Logger
}

type Watcher struct {
	cfg   Config
	group singleflight.Group
}

func New(cfg Config) *Watcher {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Watcher{cfg: cfg}
}

// Probe settles a pending session. Concurrent probes of one store share a
// single backend call.
func (w *Watcher) Probe(ctx context.Context, store *session.Store) session.Status {
	if st := store.Snapshot(); st.SessionStatus != session.StatusPending {
		return st.SessionStatus
	}
	v, _, _ := w.group.Do(store.Key(), func() (any, error) {
		return w.probe(ctx, store), nil
	})
	return v.(session.Status)
}

func (w *Watcher) probe(ctx context.Context, store *session.Store) session.Status {
	st := store.Snapshot()
	if st.SessionStatus != session.StatusPending {
		return st.SessionStatus
	}
	log := w.cfg.Logger.With().Str("session_key", store.Key()).Logger()
	if !st.Authenticated() {
		store.SetSessionStatus(session.StatusNone)
		return session.StatusNone
	}

	id := st.Identity
	var err error
	if id.Provider == anonymousProvider {
		_, err = w.cfg.Gateway.FetchSession(ctx, id.AccessToken, id.UserID)
	} else {
		_, err = w.cfg.Gateway.GetUser(ctx, id.AccessToken)
	}
	switch {
	case err == nil:
		store.SetSessionStatus(session.StatusActive)
		return session.StatusActive
	case gateway.IsUnauthorized(err):
		log.Info().Err(err).Msg("stored session rejected, resetting")
		w.reset(ctx, store)
		return session.StatusNone
	}

	if exp := expiry(*id); !exp.IsZero() && !w.cfg.Clock().Before(exp) {
		log.Info().Time("expired_at", exp).Msg("session check unavailable and token expired, resetting")
		w.reset(ctx, store)
		return session.StatusNone
	}
	log.Warn().Err(err).Bool("offline", gateway.IsTransport(err)).Msg("session check unavailable, keeping unexpired session")
	store.SetSessionStatus(session.StatusActive)
	return session.StatusActive
}

func (w *Watcher) reset(ctx context.Context, store *session.Store) {
	if err := store.Reset(ctx); err != nil {
		w.cfg.Logger.Error().Err(err).Str("session_key", store.Key()).Msg("reset session")
	}
}

// expiry prefers the recorded expiry and falls back to the token's exp claim.
// Zero means the token carries no lifetime.
func expiry(id session.Identity) time.Time {
	if !id.ExpiresAt.IsZero() {
		return id.ExpiresAt
	}
	claims, err := gateway.TokenClaims(id.AccessToken)
	if err != nil {
		return time.Time{}
	}
	return claims.ExpiresAt
}

// Apply reacts to a session change made elsewhere. Only loaded stores are
// touched; cold stores rehydrate as pending and are probed on next use.
// It returns the chat users whose session changed.
func (w *Watcher) Apply(ctx context.Context, ev session.Event) ([]int64, error) {
	if !ev.Kind.Valid() {
		return nil, fmt.Errorf("unknown session event kind %q", ev.Kind)
	}
	if ev.UserID == "" {
		return nil, fmt.Errorf("session event %s has no user id", ev.ID)
	}
	if w.cfg.Registry == nil {
		return nil, nil
	}

	var affected []int64
	var firstErr error
	w.cfg.Registry.Each(func(e *session.Entry) {
		e.Lock()
		defer e.Unlock()
		if e.Store.Snapshot().UserID() != ev.UserID {
			return
		}
		var err error
		switch ev.Kind {
		case session.EventSignedOut, session.EventUserDeleted:
			err = e.Store.Reset(ctx)
		case session.EventTokenRefreshed:
			err = e.Store.ReplaceTokens(ctx, ev.UserID, ev.AccessToken, ev.RefreshToken, ev.ExpiresAt)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("apply %s to %s: %w", ev.Kind, e.Store.Key(), err)
		}
		affected = append(affected, e.UserID)
	})
	return affected, firstErr
}
