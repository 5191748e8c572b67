package telegram

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"ikasa/internal/authwatch"
	"ikasa/internal/demo"
	"ikasa/internal/funnel"
	"ikasa/internal/gateway"
	"ikasa/internal/guard"
	"ikasa/internal/session"
)

// stubGateway answers the calls navigation and chat make. Other funnel
// calls are not expected here.
type stubGateway struct {
	funnel.Gateway

	userErr  error
	fetchErr error
	probes   atomic.Int32
	chats    atomic.Int32

	chatStarted chan struct{}
	chatGate    chan struct{}
}

func (g *stubGateway) AnonymousLogin(ctx context.Context, deviceID string) (gateway.Session, error) {
	return gateway.Session{UserID: "guest-1", AccessToken: "tok"}, nil
}

func (g *stubGateway) GetUser(ctx context.Context, token string) (gateway.User, error) {
	g.probes.Add(1)
	return gateway.User{ID: "acct"}, g.userErr
}

func (g *stubGateway) FetchSession(ctx context.Context, token, userID string) (gateway.Catalog, error) {
	g.probes.Add(1)
	return gateway.Catalog{}, g.fetchErr
}

func (g *stubGateway) SendMessage(ctx context.Context, token, userID, message string) (gateway.ChatReply, error) {
	g.chats.Add(1)
	if g.chatStarted != nil {
		g.chatStarted <- struct{}{}
	}
	if g.chatGate != nil {
		<-g.chatGate
	}
	return gateway.ChatReply{Message: "hi there", CharacterName: "Aria"}, nil
}

func newTestService(t *testing.T, g *stubGateway, p session.Persister, demoOn bool) *Service {
	t.Helper()
	reg, err := session.NewRegistry(session.RegistryConfig{Persister: p})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return NewService(Config{
		Registry: reg,
		Funnel:   funnel.New(funnel.Config{Gateway: g, Demo: demo.NewPolicy(demoOn, demo.Builtin())}),
		Watcher:  authwatch.New(authwatch.Config{Gateway: g, Registry: reg}),
	})
}

// seeded persists a signed-in record for user 7 at the given step, so the
// next load rehydrates it as pending.
func seeded(t *testing.T, step int) session.Persister {
	t.Helper()
	ctx := context.Background()
	p := session.NewMemoryPersister()
	st, err := session.Open(ctx, session.Options{Key: session.RecordKey(7), Persister: p})
	if err != nil {
		t.Fatalf("open seed: %v", err)
	}
	if err := st.SetAuth(ctx, session.Identity{UserID: "acct", AccessToken: "tok", Provider: "email"}); err != nil {
		t.Fatalf("seed auth: %v", err)
	}
	if err := st.SetOnboardingStep(ctx, step); err != nil {
		t.Fatalf("seed step: %v", err)
	}
	return p
}

func entryFor(t *testing.T, s *Service, userID int64) *session.Entry {
	t.Helper()
	e, err := s.registry.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	return e
}

func TestSettleProbesPendingSessionOnce(t *testing.T) {
	g := &stubGateway{}
	s := newTestService(t, g, seeded(t, session.StepProfile), true)
	e := entryFor(t, s, 7)
	ctx := context.Background()

	loading := 0
	if got := s.settle(ctx, e, guard.RouteStyle, func() { loading++ }); got != guard.RouteStyle {
		t.Fatalf("expected style to render after the check, got %s", got)
	}
	if loading != 1 || g.probes.Load() != 1 {
		t.Fatalf("expected one loading line and one check, got %d and %d", loading, g.probes.Load())
	}

	if got := s.settle(ctx, e, guard.RouteCharacter, func() { loading++ }); got != guard.RouteProfile {
		t.Fatalf("skipping ahead should land on profile, got %s", got)
	}
	if loading != 1 || g.probes.Load() != 1 {
		t.Fatalf("settled session should not be checked again")
	}
}

func TestSettleRejectedSessionGoesToAuth(t *testing.T) {
	g := &stubGateway{userErr: &gateway.Error{Op: "get_user", Status: http.StatusUnauthorized, Message: "invalid JWT"}}
	s := newTestService(t, g, seeded(t, session.StepStyle), true)
	e := entryFor(t, s, 7)

	if got := s.settle(context.Background(), e, guard.RouteStyle, func() {}); got != guard.RouteAuth {
		t.Fatalf("rejected session should be sent to auth, got %s", got)
	}
	if e.Store.Snapshot().Authenticated() {
		t.Fatalf("rejected session should be cleared")
	}
}

func TestSettleReevaluatesEveryNavigation(t *testing.T) {
	g := &stubGateway{}
	s := newTestService(t, g, session.NewMemoryPersister(), true)
	e := entryFor(t, s, 9)
	ctx := context.Background()

	noLoading := func() { t.Fatalf("signed-out user should not see the loading line") }
	if got := s.settle(ctx, e, guard.RouteChat, noLoading); got != guard.RouteAuth {
		t.Fatalf("signed-out chat should land on auth, got %s", got)
	}

	if out := s.funnel.GuestLogin(ctx, e.Store); !out.OK() {
		t.Fatalf("guest login: %+v", out)
	}
	if got := s.settle(ctx, e, guard.RouteChat, noLoading); got != guard.RouteProfile {
		t.Fatalf("guest with onboarding open should land on profile, got %s", got)
	}
	if got := s.settle(ctx, e, guard.RouteStyle, noLoading); got != guard.RouteStyle {
		t.Fatalf("guest at the profile step should reach style, got %s", got)
	}
}

func TestPrepareCharacterScreen(t *testing.T) {
	ctx := context.Background()
	offline := &gateway.Error{Op: "fetch_session", Message: "Could not reach the server.", Err: errors.New("dial tcp: refused")}

	g := &stubGateway{fetchErr: offline}
	s := newTestService(t, g, session.NewMemoryPersister(), true)
	e := entryFor(t, s, 11)
	if out := s.prepare(ctx, e, guard.RouteCharacter); out.Err != nil {
		t.Fatalf("demo mode should fall back, got %+v", out)
	}
	if got := len(e.Store.Snapshot().Characters); got != len(demo.Builtin().Characters) {
		t.Fatalf("expected demo characters, got %d", got)
	}

	strict := newTestService(t, &stubGateway{fetchErr: offline}, session.NewMemoryPersister(), false)
	se := entryFor(t, strict, 11)
	if out := strict.prepare(ctx, se, guard.RouteCharacter); out.Err == nil || out.Message() != "Could not reach the server." {
		t.Fatalf("expected surfaced error, got %+v", out)
	}

	if out := s.prepare(ctx, e, guard.RouteScenario); out.Err != nil || len(e.Store.Snapshot().Scenarios) == 0 {
		t.Fatalf("scenario screen should list default scenarios")
	}
}

func TestSecondChatUpdateIsRejectedWhileReplyPending(t *testing.T) {
	g := &stubGateway{chatStarted: make(chan struct{}, 1), chatGate: make(chan struct{})}
	s := newTestService(t, g, session.NewMemoryPersister(), true)
	ctx := context.Background()
	if out := s.funnel.GuestLogin(ctx, entryFor(t, s, 5).Store); !out.OK() {
		t.Fatalf("guest login: %+v", out)
	}

	send := func(text string, out chan<- funnel.ChatResult) {
		err := s.serve(ctx, 5, func(e *session.Entry) error {
			out <- s.funnel.SendLocked(ctx, e, text)
			return nil
		})
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	}

	first := make(chan funnel.ChatResult, 1)
	go send("first", first)
	<-g.chatStarted

	second := make(chan funnel.ChatResult, 1)
	go send("second", second)
	select {
	case res := <-second:
		if !res.Ignored {
			t.Fatalf("second message should be ignored, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second update waited for the pending reply")
	}

	close(g.chatGate)
	if res := <-first; res.Reply == nil || res.Reply.Content != "hi there" {
		t.Fatalf("unexpected first result %+v", res)
	}
	if g.chats.Load() != 1 {
		t.Fatalf("expected one chat call, got %d", g.chats.Load())
	}
	if msgs := entryFor(t, s, 5).Store.Snapshot().Messages; len(msgs) != 2 {
		t.Fatalf("expected one user and one reply message, got %d", len(msgs))
	}
}
