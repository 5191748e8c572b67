package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrPersist = errors.New("persist session")

// ThemeApplier receives the dark-mode flag whenever it changes or is rehydrated.
type ThemeApplier interface {
	Apply(dark bool)
}

// Listener observes every committed mutation.
type Listener func(prev, next State)

type Options struct {
	Key       string
	Persister Persister
	Sealer    Sealer
	Theme     ThemeApplier
	Clock     func() time.Time
	NewID     func() string
	Logger    zerolog.Logger
}

type Store struct {
	mu        sync.Mutex
	key       string
	state     State
	persister Persister
	sealer    Sealer
	theme     ThemeApplier
	clock     func() time.Time
	newID     func() string
	logger    zerolog.Logger

	subMu   sync.Mutex
	subs    map[int]Listener
	nextSub int
}

// Open rehydrates the store from its persisted record, or starts fresh when
// none exists. A persisted dark theme is applied before Open returns.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Key) == "" {
		return nil, fmt.Errorf("session key is empty")
	}
	if opts.Persister == nil {
		return nil, fmt.Errorf("session persister is nil")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	s := &Store{
		key:       opts.Key,
		state:     initialState(),
		persister: opts.Persister,
		sealer:    opts.Sealer,
		theme:     opts.Theme,
		clock:     opts.Clock,
		newID:     opts.NewID,
		logger:    opts.Logger.With().Str("session_key", opts.Key).Logger(),
		subs:      map[int]Listener{},
	}

	payload, found, err := opts.Persister.Load(ctx, opts.Key)
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	if found {
		st, err := decodeRecord(payload, opts.Key, opts.Sealer)
		if err != nil {
			s.logger.Warn().Err(err).Msg("discarding unreadable session record")
		} else {
			s.state = st
		}
	}
	if s.theme != nil {
		s.theme.Apply(s.state.IsDarkMode)
	}
	return s, nil
}

func (s *Store) Key() string {
	return s.key
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) SetAuth(ctx context.Context, id Identity) error {
	if !id.Valid() {
		return fmt.Errorf("identity requires user id and access token")
	}
	return s.mutate(ctx, true, func(st *State) error {
		st.Identity = &id
		st.SessionStatus = StatusActive
		return nil
	})
}

// ReplaceTokens swaps the tokens of the current identity when userID still matches.
func (s *Store) ReplaceTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	return s.mutate(ctx, true, func(st *State) error {
		if st.Identity == nil || st.Identity.UserID != userID {
			return errNoChange
		}
		if accessToken != "" {
			st.Identity.AccessToken = accessToken
		}
		if refreshToken != "" {
			st.Identity.RefreshToken = refreshToken
		}
		if !expiresAt.IsZero() {
			st.Identity.ExpiresAt = expiresAt
		}
		return nil
	})
}

func (s *Store) ClearAuth(ctx context.Context) error {
	return s.mutate(ctx, true, func(st *State) error {
		st.Identity = nil
		st.SessionStatus = StatusNone
		return nil
	})
}

func (s *Store) SetSessionStatus(status Status) {
	_ = s.mutate(context.Background(), false, func(st *State) error {
		if st.SessionStatus == status {
			return errNoChange
		}
		st.SessionStatus = status
		return nil
	})
}

// SetOnboardingStep writes the step without any ordering check.
func (s *Store) SetOnboardingStep(ctx context.Context, n int) error {
	return s.mutate(ctx, true, func(st *State) error {
		st.OnboardingStep = clampStep(n)
		return nil
	})
}

// AdvanceStep moves the funnel forward by exactly one step. Revisiting an
// earlier step is a no-op; skipping ahead fails with a *StepError.
func (s *Store) AdvanceStep(ctx context.Context, n int) error {
	return s.mutate(ctx, true, func(st *State) error {
		next, err := transition(st.OnboardingStep, n)
		if err != nil {
			return err
		}
		if next == st.OnboardingStep {
			return errNoChange
		}
		st.OnboardingStep = next
		return nil
	})
}

func (s *Store) CompleteOnboarding(ctx context.Context) error {
	return s.mutate(ctx, true, func(st *State) error {
		if st.OnboardingComplete {
			return errNoChange
		}
		if st.OnboardingStep != TerminalStep {
			return &StepError{From: st.OnboardingStep, To: TerminalStep + 1}
		}
		st.OnboardingComplete = true
		return nil
	})
}

func (s *Store) SetProfile(ctx context.Context, p Profile) error {
	return s.mutate(ctx, true, func(st *State) error {
		st.Profile = p
		return nil
	})
}

func (s *Store) SetStyle(ctx context.Context, style Style) error {
	return s.mutate(ctx, true, func(st *State) error {
		st.Style = style
		return nil
	})
}

func (s *Store) SetCharacters(items []Character) {
	_ = s.mutate(context.Background(), false, func(st *State) error {
		st.Characters = append([]Character(nil), items...)
		return nil
	})
}

func (s *Store) SelectCharacter(ctx context.Context, c Character) error {
	return s.mutate(ctx, true, func(st *State) error {
		st.SelectedCharacter = &c
		return nil
	})
}

func (s *Store) SetScenarios(items []Scenario) {
	_ = s.mutate(context.Background(), false, func(st *State) error {
		st.Scenarios = append([]Scenario(nil), items...)
		return nil
	})
}

func (s *Store) SelectScenario(ctx context.Context, sc Scenario) error {
	return s.mutate(ctx, true, func(st *State) error {
		st.SelectedScenario = &sc
		return nil
	})
}

// AddMessage appends to the transcript. Ids are UUIDs and timestamps are
// strictly increasing within the transcript.
func (s *Store) AddMessage(ctx context.Context, content string, sender Sender) (Message, error) {
	var msg Message
	err := s.mutate(ctx, true, func(st *State) error {
		ts := s.clock().UTC()
		if n := len(st.Messages); n > 0 {
			if last := st.Messages[n-1].Timestamp; !ts.After(last) {
				ts = last.Add(time.Microsecond)
			}
		}
		msg = Message{ID: s.newID(), Content: content, Sender: sender, Timestamp: ts}
		st.Messages = append(st.Messages, msg)
		return nil
	})
	return msg, err
}

func (s *Store) SetTyping(typing bool) {
	_ = s.mutate(context.Background(), false, func(st *State) error {
		if st.IsTyping == typing {
			return errNoChange
		}
		st.IsTyping = typing
		return nil
	})
}

// TryBegin marks the store busy for one in-flight action. The returned
// release func clears the flag; ok is false when an action is already running.
func (s *Store) TryBegin() (release func(), ok bool) {
	_ = s.mutate(context.Background(), false, func(st *State) error {
		if st.Busy {
			return errNoChange
		}
		st.Busy = true
		ok = true
		return nil
	})
	if !ok {
		return func() {}, false
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = s.mutate(context.Background(), false, func(st *State) error {
				st.Busy = false
				return nil
			})
		})
	}, true
}

// ToggleDarkMode flips the theme and applies it to the theme root before returning.
func (s *Store) ToggleDarkMode(ctx context.Context) (bool, error) {
	var dark bool
	err := s.mutate(ctx, true, func(st *State) error {
		st.IsDarkMode = !st.IsDarkMode
		dark = st.IsDarkMode
		if s.theme != nil {
			s.theme.Apply(dark)
		}
		return nil
	})
	return dark, err
}

// Reset restores every field to its default. The theme preference outlives the session.
func (s *Store) Reset(ctx context.Context) error {
	return s.mutate(ctx, true, func(st *State) error {
		dark := st.IsDarkMode
		*st = initialState()
		st.IsDarkMode = dark
		if s.theme != nil {
			s.theme.Apply(dark)
		}
		return nil
	})
}

var errNoChange = errors.New("no change")

func (s *Store) mutate(ctx context.Context, persist bool, fn func(st *State) error) error {
	s.mu.Lock()
	prev := s.state.clone()
	if err := fn(&s.state); err != nil {
		s.state = prev
		s.mu.Unlock()
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	next := s.state.clone()
	var persistErr error
	if persist {
		persistErr = s.persistLocked(ctx)
	}
	s.mu.Unlock()

	s.notify(prev, next)
	return persistErr
}

func (s *Store) persistLocked(ctx context.Context) error {
	payload, err := encodeRecord(s.state, s.key, s.sealer)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := s.persister.Save(ctx, s.key, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func (s *Store) notify(prev, next State) {
	s.subMu.Lock()
	listeners := make([]Listener, 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	s.subMu.Unlock()
	for _, fn := range listeners {
		fn(prev, next)
	}
}
