package session

import (
	"fmt"
	"time"
)

type EventKind string

const (
	EventSignedOut      EventKind = "signed_out"
	EventUserDeleted    EventKind = "user_deleted"
	EventTokenRefreshed EventKind = "token_refreshed"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventSignedOut, EventUserDeleted, EventTokenRefreshed:
		return true
	default:
		return false
	}
}

// Event is a change to an account session observed outside the store that holds it.
type Event struct {
	ID           string    `json:"id"`
	Kind         EventKind `json:"kind"`
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	// Origin is the chat user whose action produced the event, if any.
	Origin int64     `json:"origin,omitempty"`
	At     time.Time `json:"at"`
}

func (ev Event) tokenAAD() string {
	return "session-event:" + ev.UserID
}

// SealTokens returns ev with its token fields sealed for transport. The
// account id is bound as associated data.
func (ev Event) SealTokens(s Sealer) (Event, error) {
	var err error
	if ev.AccessToken, err = sealOptional(s, ev.AccessToken, ev.tokenAAD()); err != nil {
		return Event{}, fmt.Errorf("seal event access token: %w", err)
	}
	if ev.RefreshToken, err = sealOptional(s, ev.RefreshToken, ev.tokenAAD()); err != nil {
		return Event{}, fmt.Errorf("seal event refresh token: %w", err)
	}
	return ev, nil
}

func (ev Event) OpenTokens(s Sealer) (Event, error) {
	var err error
	if ev.AccessToken, err = openOptional(s, ev.AccessToken, ev.tokenAAD()); err != nil {
		return Event{}, fmt.Errorf("open event access token: %w", err)
	}
	if ev.RefreshToken, err = openOptional(s, ev.RefreshToken, ev.tokenAAD()); err != nil {
		return Event{}, fmt.Errorf("open event refresh token: %w", err)
	}
	return ev, nil
}
