package funnel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ikasa/internal/demo"
	"ikasa/internal/gateway"
	"ikasa/internal/guard"
	"ikasa/internal/metrics"
	"ikasa/internal/session"
	"ikasa/internal/validate"
)

// Gateway is the part of the remote service the funnel talks to.
type Gateway interface {
	AnonymousLogin(ctx context.Context, deviceID string) (gateway.Session, error)
	SignUpEmail(ctx context.Context, email, password string) (gateway.Session, error)
	SignInEmail(ctx context.Context, email, password string) (gateway.Session, error)
	SendPhoneOTP(ctx context.Context, phone string) error
	VerifyPhoneOTP(ctx context.Context, phone, code string) (gateway.Session, error)
	SSOURL(provider, redirectTo, challenge string) string
	ExchangeSSOCode(ctx context.Context, code, verifier string) (gateway.Session, error)
	SignOut(ctx context.Context, accessToken string) error

	SaveProfile(ctx context.Context, token string, p session.Profile) error
	SaveStyle(ctx context.Context, token string, style session.Style) error
	FetchSession(ctx context.Context, token, userID string) (gateway.Catalog, error)
	SelectCharacter(ctx context.Context, token, characterID string) error
	SelectScenario(ctx context.Context, token, scenarioID string) error
	SendMessage(ctx context.Context, token, userID, message string) (gateway.ChatReply, error)
}

// Auditor records funnel milestones.
type Auditor interface {
	Record(ctx context.Context, key, userID, event string) error
}

type Publisher interface {
	PublishSessionEvent(ctx context.Context, ev session.Event) (string, error)
}

type Limiter interface {
	AllowChat(ctx context.Context, key string, now time.Time) (allowed bool, resetAt time.Time, err error)
}

type Config struct {
	Gateway   Gateway
	Demo      demo.Policy
	Validator *validate.Validator
	Auditor   Auditor
	Publisher Publisher
	Limiter   Limiter
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger

	SSOProvider    string
	SSORedirectURL string

	NewID func() string
	Clock func() time.Time
}

type Funnel struct {
	cfg Config
}

func New(cfg Config) *Funnel {
	if cfg.Validator == nil {
		cfg.Validator = validate.New()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SSOProvider == "" {
		cfg.SSOProvider = "google"
	}
	if cfg.Demo.Catalog.Characters == nil && cfg.Demo.Catalog.Scenarios == nil {
		cfg.Demo = demo.NewPolicy(cfg.Demo.Enabled, cfg.Demo.Catalog)
	}
	return &Funnel{cfg: cfg}
}

// Outcome is what a screen action hands back to the presentation layer.
type Outcome struct {
	// Next is the route to navigate to; empty means stay on the current screen.
	Next   guard.Route
	Fields validate.FieldErrors
	Err    error
	Notice string
	// Ignored is set when the action was dropped without side effects.
	Ignored bool
}

func (o Outcome) OK() bool {
	return o.Err == nil && o.Fields.Empty() && !o.Ignored
}

// Message is the single line to show for a failed action.
func (o Outcome) Message() string {
	if o.Err != nil {
		return gateway.Message(o.Err)
	}
	return o.Notice
}

func fail(err error) Outcome {
	return Outcome{Err: err}
}

func (f *Funnel) audit(ctx context.Context, store *session.Store, event string) {
	if f.cfg.Auditor == nil {
		return
	}
	if err := f.cfg.Auditor.Record(ctx, store.Key(), store.Snapshot().UserID(), event); err != nil {
		f.cfg.Logger.Warn().Err(err).Str("event", event).Msg("audit record failed")
	}
}

func (f *Funnel) fallback(kind string, err error) {
	if f.cfg.Metrics != nil {
		f.cfg.Metrics.Fallbacks.WithLabelValues(kind).Inc()
	}
	f.cfg.Logger.Info().Err(err).Str("kind", kind).Msg("gateway failed, using demo content")
}

func token(st session.State) string {
	if st.Identity == nil {
		return ""
	}
	return st.Identity.AccessToken
}
