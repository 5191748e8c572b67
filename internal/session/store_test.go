package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ikasa/internal/theme"
)

func openTestStore(t *testing.T, p Persister, root *theme.Root) *Store {
	t.Helper()
	opts := Options{Key: RecordKey(42), Persister: p}
	if root != nil {
		opts.Theme = root
	}
	s, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

func authedStore(t *testing.T) *Store {
	t.Helper()
	s := openTestStore(t, NewMemoryPersister(), nil)
	ctx := context.Background()
	if err := s.SetAuth(ctx, Identity{UserID: "u1", AccessToken: "tok"}); err != nil {
		t.Fatalf("set auth: %v", err)
	}
	return s
}

func TestOpenFreshStore(t *testing.T) {
	s := openTestStore(t, NewMemoryPersister(), nil)
	st := s.Snapshot()
	if st.OnboardingStep != StepNone || st.OnboardingComplete {
		t.Fatalf("unexpected onboarding state: %+v", st)
	}
	if st.SessionStatus != StatusNone {
		t.Fatalf("expected status none, got %s", st.SessionStatus)
	}
	if st.Identity != nil {
		t.Fatalf("fresh store should have no identity")
	}
}

func TestOpenWithNilRootPointer(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	seed := openTestStore(t, p, nil)
	if _, err := seed.ToggleDarkMode(ctx); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	var root *theme.Root
	s, err := Open(ctx, Options{Key: RecordKey(42), Persister: p, Theme: root})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !s.Snapshot().IsDarkMode {
		t.Fatalf("persisted theme should still rehydrate")
	}
	if _, err := s.ToggleDarkMode(ctx); err != nil {
		t.Fatalf("toggle with nil root: %v", err)
	}
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset with nil root: %v", err)
	}
	if root.Dark() || root.ClassList() != "" {
		t.Fatalf("nil root reports no classes")
	}
}

func TestAdvanceStepRejectsSkipping(t *testing.T) {
	s := authedStore(t)
	ctx := context.Background()

	if err := s.AdvanceStep(ctx, StepProfile); err != nil {
		t.Fatalf("advance to profile: %v", err)
	}
	err := s.AdvanceStep(ctx, StepCharacter)
	if !errors.Is(err, ErrStepOutOfOrder) {
		t.Fatalf("expected ErrStepOutOfOrder, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.From != StepProfile || stepErr.To != StepCharacter {
		t.Fatalf("unexpected step error: %#v", err)
	}
	if got := s.Snapshot().OnboardingStep; got != StepProfile {
		t.Fatalf("step changed after rejected advance: %d", got)
	}

	if err := s.AdvanceStep(ctx, StepStyle); err != nil {
		t.Fatalf("advance to style: %v", err)
	}
	if err := s.AdvanceStep(ctx, StepProfile); err != nil {
		t.Fatalf("revisit should be a no-op, got %v", err)
	}
	if got := s.Snapshot().OnboardingStep; got != StepStyle {
		t.Fatalf("revisit lowered step to %d", got)
	}
	if err := s.AdvanceStep(ctx, 9); !errors.Is(err, ErrStepOutOfOrder) {
		t.Fatalf("expected out of range to fail, got %v", err)
	}
}

func TestCompleteOnboardingIdempotent(t *testing.T) {
	s := authedStore(t)
	ctx := context.Background()
	for step := StepProfile; step <= TerminalStep; step++ {
		if err := s.AdvanceStep(ctx, step); err != nil {
			t.Fatalf("advance %d: %v", step, err)
		}
	}
	if err := s.CompleteOnboarding(ctx); err != nil {
		t.Fatalf("complete #1: %v", err)
	}
	if err := s.CompleteOnboarding(ctx); err != nil {
		t.Fatalf("complete #2: %v", err)
	}
	st := s.Snapshot()
	if !st.OnboardingComplete {
		t.Fatalf("expected onboarding complete")
	}
	if st.OnboardingStep != TerminalStep {
		t.Fatalf("complete changed step to %d", st.OnboardingStep)
	}
}

func TestCompleteOnboardingRequiresTerminalStep(t *testing.T) {
	s := authedStore(t)
	ctx := context.Background()
	_ = s.AdvanceStep(ctx, StepProfile)
	if err := s.CompleteOnboarding(ctx); !errors.Is(err, ErrStepOutOfOrder) {
		t.Fatalf("expected ErrStepOutOfOrder, got %v", err)
	}
	if s.Snapshot().OnboardingComplete {
		t.Fatalf("onboarding must not complete early")
	}
}

func TestResetClearsSessionAndKeepsTheme(t *testing.T) {
	root := theme.NewRoot()
	s := openTestStore(t, NewMemoryPersister(), root)
	ctx := context.Background()

	_ = s.SetAuth(ctx, Identity{UserID: "u1", AccessToken: "tok"})
	_ = s.AdvanceStep(ctx, StepProfile)
	_ = s.SetProfile(ctx, Profile{Name: "Al", Gender: GenderMale, PreferredGender: PreferAny})
	_ = s.SetStyle(ctx, StyleAnime)
	_ = s.SelectCharacter(ctx, Character{ID: "1", Name: "Aria"})
	_ = s.SelectScenario(ctx, Scenario{ID: "2", Name: "Deep Talk"})
	_, _ = s.AddMessage(ctx, "hi", SenderUser)
	if _, err := s.ToggleDarkMode(ctx); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st := s.Snapshot()
	if st.Identity != nil || st.SessionStatus != StatusNone {
		t.Fatalf("identity should be cleared, got %+v status=%s", st.Identity, st.SessionStatus)
	}
	if st.Profile != (Profile{}) || st.Style != StyleUnset {
		t.Fatalf("profile/style not cleared: %+v %q", st.Profile, st.Style)
	}
	if st.SelectedCharacter != nil || st.SelectedScenario != nil {
		t.Fatalf("selection not cleared")
	}
	if len(st.Messages) != 0 {
		t.Fatalf("messages not cleared: %d", len(st.Messages))
	}
	if st.OnboardingStep != StepNone || st.OnboardingComplete {
		t.Fatalf("onboarding not cleared: %+v", st)
	}
	if !st.IsDarkMode || !root.Dark() {
		t.Fatalf("theme preference should survive reset")
	}
}

func TestAddMessageIDsAndTimestamps(t *testing.T) {
	fixed := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	s, err := Open(context.Background(), Options{
		Key:       RecordKey(7),
		Persister: NewMemoryPersister(),
		Clock:     func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		sender := SenderUser
		if i%2 == 1 {
			sender = SenderAI
		}
		if _, err := s.AddMessage(context.Background(), "m", sender); err != nil {
			t.Fatalf("add message %d: %v", i, err)
		}
	}

	msgs := s.Snapshot().Messages
	if len(msgs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(msgs))
	}
	seen := map[string]bool{}
	for i, m := range msgs {
		if seen[m.ID] {
			t.Fatalf("duplicate id %q", m.ID)
		}
		seen[m.ID] = true
		if i > 0 && !m.Timestamp.After(msgs[i-1].Timestamp) {
			t.Fatalf("timestamp %d not strictly increasing: %v <= %v", i, m.Timestamp, msgs[i-1].Timestamp)
		}
	}
}

func TestToggleDarkModeTwice(t *testing.T) {
	root := theme.NewRoot()
	s := openTestStore(t, NewMemoryPersister(), root)
	ctx := context.Background()

	dark, err := s.ToggleDarkMode(ctx)
	if err != nil || !dark {
		t.Fatalf("first toggle: dark=%v err=%v", dark, err)
	}
	if !root.HasClass(theme.ClassDark) {
		t.Fatalf("dark class should be applied synchronously")
	}
	dark, err = s.ToggleDarkMode(ctx)
	if err != nil || dark {
		t.Fatalf("second toggle: dark=%v err=%v", dark, err)
	}
	if root.HasClass(theme.ClassDark) || s.Snapshot().IsDarkMode {
		t.Fatalf("theme should be back to light")
	}
}

func TestRehydrateAppliesThemeAndKeepsProgress(t *testing.T) {
	p := NewMemoryPersister()
	ctx := context.Background()
	s := openTestStore(t, p, theme.NewRoot())
	_ = s.SetAuth(ctx, Identity{UserID: "u1", AccessToken: "tok", Provider: "email"})
	_ = s.AdvanceStep(ctx, StepProfile)
	_ = s.AdvanceStep(ctx, StepStyle)
	_, _ = s.ToggleDarkMode(ctx)
	s.SetTyping(true)
	s.SetCharacters([]Character{{ID: "1", Name: "Aria"}})

	root := theme.NewRoot()
	again := openTestStore(t, p, root)
	st := again.Snapshot()
	if !root.Dark() {
		t.Fatalf("persisted dark mode must be applied on open")
	}
	if st.OnboardingStep != StepStyle {
		t.Fatalf("expected step %d, got %d", StepStyle, st.OnboardingStep)
	}
	if st.Identity == nil || st.Identity.UserID != "u1" || st.Identity.AccessToken != "tok" {
		t.Fatalf("identity not rehydrated: %+v", st.Identity)
	}
	if st.SessionStatus != StatusPending {
		t.Fatalf("rehydrated identity must be re-checked, status=%s", st.SessionStatus)
	}
	if st.IsTyping || len(st.Characters) != 0 {
		t.Fatalf("ephemeral fields must not persist: typing=%v characters=%d", st.IsTyping, len(st.Characters))
	}
}

type reverseSealer struct{}

func (reverseSealer) Seal(plain, aad string) (string, error) {
	r := []rune(plain)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return aad + "|" + string(r), nil
}

func (reverseSealer) Open(sealed, aad string) (string, error) {
	rest, ok := strings.CutPrefix(sealed, aad+"|")
	if !ok {
		return "", errors.New("aad mismatch")
	}
	r := []rune(rest)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r), nil
}

func TestSealedTokensAtRest(t *testing.T) {
	p := NewMemoryPersister()
	ctx := context.Background()
	opts := Options{Key: RecordKey(9), Persister: p, Sealer: reverseSealer{}}
	s, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SetAuth(ctx, Identity{UserID: "u9", AccessToken: "secret-token"}); err != nil {
		t.Fatalf("set auth: %v", err)
	}
	raw, _, _ := p.Load(ctx, RecordKey(9))
	if strings.Contains(string(raw), "secret-token") {
		t.Fatalf("token persisted in clear: %s", raw)
	}

	again, err := Open(ctx, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := again.Snapshot().Identity.AccessToken; got != "secret-token" {
		t.Fatalf("unexpected token after reopen: %q", got)
	}
}

func TestUnreadableRecordStartsFresh(t *testing.T) {
	p := NewMemoryPersister()
	_ = p.Save(context.Background(), RecordKey(42), []byte("{not json"))
	s := openTestStore(t, p, nil)
	if s.Snapshot().OnboardingStep != StepNone {
		t.Fatalf("expected fresh state")
	}
}

func TestSubscribeAndTryBegin(t *testing.T) {
	s := openTestStore(t, NewMemoryPersister(), nil)
	var typingSeen int
	unsub := s.Subscribe(func(prev, next State) {
		if !prev.IsTyping && next.IsTyping {
			typingSeen++
		}
	})
	s.SetTyping(true)
	s.SetTyping(true)
	s.SetTyping(false)
	unsub()
	s.SetTyping(true)
	if typingSeen != 1 {
		t.Fatalf("expected one typing transition, got %d", typingSeen)
	}

	release, ok := s.TryBegin()
	if !ok {
		t.Fatalf("first TryBegin should succeed")
	}
	if _, ok := s.TryBegin(); ok {
		t.Fatalf("second TryBegin should fail while busy")
	}
	release()
	release()
	if _, ok := s.TryBegin(); !ok {
		t.Fatalf("TryBegin should succeed after release")
	}
}

func TestMutationsPersistButEphemeralDoNot(t *testing.T) {
	p := NewMemoryPersister()
	s := openTestStore(t, p, nil)
	s.SetTyping(true)
	s.SetSessionStatus(StatusPending)
	s.SetCharacters([]Character{{ID: "1"}})
	if p.Saves() != 0 {
		t.Fatalf("ephemeral mutations should not persist, saves=%d", p.Saves())
	}
	_ = s.SetStyle(context.Background(), StyleReal)
	if p.Saves() != 1 {
		t.Fatalf("expected one save, got %d", p.Saves())
	}
}
