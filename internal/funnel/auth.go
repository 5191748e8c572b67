package funnel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ikasa/internal/gateway"
	"ikasa/internal/guard"
	"ikasa/internal/session"
)

const (
	ProviderAnonymous = "anonymous"
	ProviderEmail     = "email"
	ProviderPhone     = "phone"
	ProviderSSO       = "sso"
)

// GuestLogin opens an anonymous account. Every attempt uses a new identifier.
func (f *Funnel) GuestLogin(ctx context.Context, store *session.Store) Outcome {
	s, err := f.cfg.Gateway.AnonymousLogin(ctx, f.cfg.NewID())
	if err != nil {
		return fail(err)
	}
	return f.establish(ctx, store, s, ProviderAnonymous)
}

func (f *Funnel) SignUpEmail(ctx context.Context, store *session.Store, email, password string) Outcome {
	if errs := f.cfg.Validator.Credentials(email, password); !errs.Empty() {
		return Outcome{Fields: errs}
	}
	s, err := f.cfg.Gateway.SignUpEmail(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return fail(mapAuthError(err))
	}
	out := f.establish(ctx, store, s, ProviderEmail)
	if out.OK() {
		out.Notice = "Account created! You can now continue to set up your profile."
	}
	return out
}

func (f *Funnel) SignInEmail(ctx context.Context, store *session.Store, email, password string) Outcome {
	if errs := f.cfg.Validator.Credentials(email, password); !errs.Empty() {
		return Outcome{Fields: errs}
	}
	s, err := f.cfg.Gateway.SignInEmail(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return fail(mapAuthError(err))
	}
	return f.establish(ctx, store, s, ProviderEmail)
}

func (f *Funnel) SendOTP(ctx context.Context, phone string) Outcome {
	if errs := f.cfg.Validator.Phone(phone); !errs.Empty() {
		return Outcome{Fields: errs}
	}
	if err := f.cfg.Gateway.SendPhoneOTP(ctx, strings.TrimSpace(phone)); err != nil {
		return fail(mapAuthError(err))
	}
	return Outcome{Notice: "Code sent! Check your phone for the verification code."}
}

func (f *Funnel) VerifyOTP(ctx context.Context, store *session.Store, phone, code string) Outcome {
	if errs := f.cfg.Validator.OTP(phone, code); !errs.Empty() {
		return Outcome{Fields: errs}
	}
	s, err := f.cfg.Gateway.VerifyPhoneOTP(ctx, strings.TrimSpace(phone), strings.TrimSpace(code))
	if err != nil {
		return fail(mapAuthError(err))
	}
	return f.establish(ctx, store, s, ProviderPhone)
}

// StartSSO returns the browser URL for single sign-on and the verifier that
// must accompany the code when it comes back.
func (f *Funnel) StartSSO() (url, verifier string, err error) {
	if strings.TrimSpace(f.cfg.SSORedirectURL) == "" {
		return "", "", fmt.Errorf("single sign-on is not configured")
	}
	verifier, challenge, err := gateway.NewPKCE()
	if err != nil {
		return "", "", err
	}
	return f.cfg.Gateway.SSOURL(f.cfg.SSOProvider, f.cfg.SSORedirectURL, challenge), verifier, nil
}

func (f *Funnel) CompleteSSO(ctx context.Context, store *session.Store, code, verifier string) Outcome {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(verifier) == "" {
		return Outcome{Notice: "This sign-in link has expired. Please start again."}
	}
	s, err := f.cfg.Gateway.ExchangeSSOCode(ctx, code, verifier)
	if err != nil {
		return fail(mapAuthError(err))
	}
	return f.establish(ctx, store, s, ProviderSSO)
}

// establish stores a fresh server session and records the first funnel step.
// Progress that belongs to a different account is dropped first.
func (f *Funnel) establish(ctx context.Context, store *session.Store, s gateway.Session, provider string) Outcome {
	if prev := store.Snapshot(); prev.Identity != nil && prev.Identity.UserID != s.UserID {
		if err := f.persisted(store.Reset(ctx)); err != nil {
			return fail(err)
		}
	}
	id := session.Identity{
		UserID:       s.UserID,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		Provider:     provider,
	}
	if err := f.persisted(store.SetAuth(ctx, id)); err != nil {
		return fail(err)
	}
	if err := f.persisted(store.AdvanceStep(ctx, session.StepProfile)); err != nil {
		return fail(err)
	}
	f.audit(ctx, store, "signed_in:"+provider)
	return Outcome{Next: guard.RouteProfile}
}

// persisted keeps the funnel moving when only the durable write failed; the
// in-memory state is already updated and the next mutation retries the write.
func (f *Funnel) persisted(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrPersist) {
		f.cfg.Logger.Error().Err(err).Msg("session persist failed")
		return nil
	}
	return err
}

func mapAuthError(err error) error {
	msg := gateway.Message(err)
	var gerr *gateway.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch {
	case strings.Contains(msg, "Invalid login credentials"):
		return &gateway.Error{Op: gerr.Op, Status: gerr.Status, Message: "Invalid email or password", Err: err}
	case strings.Contains(msg, "User already registered"):
		return &gateway.Error{Op: gerr.Op, Status: gerr.Status, Message: "An account with this email already exists. Please sign in instead.", Err: err}
	default:
		return err
	}
}
