package session

import "time"

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

type Style string

const (
	StyleUnset Style = ""
	StyleReal  Style = "real"
	StyleAnime Style = "anime"
)

func ParseStyle(v string) (Style, bool) {
	switch Style(v) {
	case StyleReal, StyleAnime:
		return Style(v), true
	default:
		return StyleUnset, false
	}
}

const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"

	PreferMale   = "male"
	PreferFemale = "female"
	PreferAny    = "any"
)

// Status is the result of the account session check. It is never persisted.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusNone    Status = "none"
)

// Onboarding steps. Step N is recorded once the screen before step N+1 has been saved.
const (
	StepNone      = 0
	StepProfile   = 1
	StepStyle     = 2
	StepCharacter = 3
	StepScenario  = 4

	TerminalStep = StepScenario
)

type Identity struct {
	UserID       string    `json:"userId"`
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	Provider     string    `json:"provider,omitempty"`
}

func (i Identity) Valid() bool {
	return i.UserID != "" && i.AccessToken != ""
}

type Profile struct {
	Name            string `json:"name"`
	Gender          string `json:"gender"`
	PreferredGender string `json:"preferredGender"`
}

type Character struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Avatar      string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
}

type Scenario struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Thumbnail   string `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
}

type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the full in-memory session. Characters, Scenarios, SessionStatus,
// IsTyping and Busy are ephemeral and stay out of the persisted record.
type State struct {
	Identity      *Identity
	SessionStatus Status

	OnboardingStep     int
	OnboardingComplete bool

	Profile Profile
	Style   Style

	Characters        []Character
	SelectedCharacter *Character
	Scenarios         []Scenario
	SelectedScenario  *Scenario

	Messages []Message
	IsTyping bool
	Busy     bool

	IsDarkMode bool
}

func initialState() State {
	return State{SessionStatus: StatusNone}
}

func (s State) Authenticated() bool {
	return s.Identity != nil && s.Identity.Valid()
}

func (s State) UserID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.UserID
}

func (s State) clone() State {
	out := s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	if s.SelectedCharacter != nil {
		c := *s.SelectedCharacter
		out.SelectedCharacter = &c
	}
	if s.SelectedScenario != nil {
		sc := *s.SelectedScenario
		out.SelectedScenario = &sc
	}
	out.Characters = append([]Character(nil), s.Characters...)
	out.Scenarios = append([]Scenario(nil), s.Scenarios...)
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}
