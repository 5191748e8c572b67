package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Namespace prefixes every persisted record key.
const Namespace = "ikasa-storage"

const recordVersion = 1

// Persister is the durable key/value boundary of the store.
type Persister interface {
	Load(ctx context.Context, key string) (payload []byte, found bool, err error)
	Save(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
}

// Sealer encrypts token fields at rest. The aad binds a sealed value to its record key.
type Sealer interface {
	Seal(plaintext, aad string) (string, error)
	Open(sealed, aad string) (string, error)
}

func RecordKey(userID int64) string {
	return fmt.Sprintf("%s:%d", Namespace, userID)
}

type record struct {
	Version int         `json:"version"`
	State   recordState `json:"state"`
}

type recordState struct {
	UserID       string     `json:"userId,omitempty"`
	Token        string     `json:"token,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	Sealed       bool       `json:"sealed,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	Provider     string     `json:"provider,omitempty"`

	OnboardingStep     int  `json:"onboardingStep"`
	OnboardingComplete bool `json:"onboardingComplete"`

	Name            string `json:"name"`
	Gender          string `json:"gender"`
	PreferredGender string `json:"preferredGender"`
	Style           Style  `json:"style,omitempty"`

	SelectedCharacter *Character `json:"selectedCharacter,omitempty"`
	SelectedScenario  *Scenario  `json:"selectedScenario,omitempty"`

	Messages   []Message `json:"messages"`
	IsDarkMode bool      `json:"isDarkMode"`
}

func encodeRecord(st State, key string, sealer Sealer) ([]byte, error) {
	rs := recordState{
		OnboardingStep:     st.OnboardingStep,
		OnboardingComplete: st.OnboardingComplete,
		Name:               st.Profile.Name,
		Gender:             st.Profile.Gender,
		PreferredGender:    st.Profile.PreferredGender,
		Style:              st.Style,
		SelectedCharacter:  st.SelectedCharacter,
		SelectedScenario:   st.SelectedScenario,
		Messages:           st.Messages,
		IsDarkMode:         st.IsDarkMode,
	}
	if rs.Messages == nil {
		rs.Messages = []Message{}
	}
	if id := st.Identity; id != nil {
		rs.UserID = id.UserID
		rs.Provider = id.Provider
		rs.Token = id.AccessToken
		rs.RefreshToken = id.RefreshToken
		if !id.ExpiresAt.IsZero() {
			exp := id.ExpiresAt
			rs.ExpiresAt = &exp
		}
		if sealer != nil {
			var err error
			if rs.Token, err = sealOptional(sealer, id.AccessToken, key); err != nil {
				return nil, fmt.Errorf("seal access token: %w", err)
			}
			if rs.RefreshToken, err = sealOptional(sealer, id.RefreshToken, key); err != nil {
				return nil, fmt.Errorf("seal refresh token: %w", err)
			}
			rs.Sealed = true
		}
	}
	b, err := json.Marshal(record{Version: recordVersion, State: rs})
	if err != nil {
		return nil, fmt.Errorf("marshal session record: %w", err)
	}
	return b, nil
}

func decodeRecord(payload []byte, key string, sealer Sealer) (State, error) {
	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return State{}, fmt.Errorf("unmarshal session record: %w", err)
	}
	if rec.Version > recordVersion {
		return State{}, fmt.Errorf("unsupported session record version %d", rec.Version)
	}
	rs := rec.State
	st := initialState()
	st.OnboardingStep = clampStep(rs.OnboardingStep)
	st.OnboardingComplete = rs.OnboardingComplete
	st.Profile = Profile{Name: rs.Name, Gender: rs.Gender, PreferredGender: rs.PreferredGender}
	st.Style = rs.Style
	st.SelectedCharacter = rs.SelectedCharacter
	st.SelectedScenario = rs.SelectedScenario
	st.Messages = rs.Messages
	st.IsDarkMode = rs.IsDarkMode

	if rs.UserID != "" && rs.Token != "" {
		id := Identity{UserID: rs.UserID, Provider: rs.Provider, AccessToken: rs.Token, RefreshToken: rs.RefreshToken}
		if rs.ExpiresAt != nil {
			id.ExpiresAt = *rs.ExpiresAt
		}
		if rs.Sealed {
			if sealer == nil {
				return State{}, fmt.Errorf("session record has sealed tokens but no key is configured")
			}
			var err error
			if id.AccessToken, err = sealer.Open(rs.Token, key); err != nil {
				return State{}, fmt.Errorf("open access token: %w", err)
			}
			if id.RefreshToken, err = openOptional(sealer, rs.RefreshToken, key); err != nil {
				return State{}, fmt.Errorf("open refresh token: %w", err)
			}
		}
		st.Identity = &id
		st.SessionStatus = StatusPending
	}
	return st, nil
}

func sealOptional(s Sealer, v, aad string) (string, error) {
	if v == "" {
		return "", nil
	}
	return s.Seal(v, aad)
}

func openOptional(s Sealer, v, aad string) (string, error) {
	if v == "" {
		return "", nil
	}
	return s.Open(v, aad)
}

func clampStep(n int) int {
	if n < StepNone {
		return StepNone
	}
	if n > TerminalStep {
		return TerminalStep
	}
	return n
}

// MemoryPersister keeps records in process memory.
type MemoryPersister struct {
	mu      sync.Mutex
	records map[string][]byte
	saves   int
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{records: map[string][]byte{}}
}

func (m *MemoryPersister) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.records[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (m *MemoryPersister) Save(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = append([]byte(nil), payload...)
	m.saves++
	return nil
}

func (m *MemoryPersister) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
