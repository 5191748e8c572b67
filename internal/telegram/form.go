package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ikasa/internal/guard"
	"ikasa/internal/session"
)

// Awaiting names the free-text answer the next private message is taken as.
type Awaiting string

const (
	AwaitNone     Awaiting = ""
	AwaitEmail    Awaiting = "email"
	AwaitPassword Awaiting = "password"
	AwaitPhone    Awaiting = "phone"
	AwaitOTP      Awaiting = "otp"
	AwaitName     Awaiting = "name"
)

const (
	modeSignIn = "signin"
	modeSignUp = "signup"
)

// formState is the transient input of the current screen. It never reaches
// the session store until a save action commits it.
type formState struct {
	Awaiting Awaiting        `json:"awaiting,omitempty"`
	Mode     string          `json:"mode,omitempty"`
	Email    string          `json:"email,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Verifier string          `json:"verifier,omitempty"`
	Draft    session.Profile `json:"draft"`
	// Route is the last screen shown, redrawn after a theme change.
	Route guard.Route `json:"route,omitempty"`
}

type formStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func newFormStore(rdb *redis.Client, ttl time.Duration) *formStore {
	return &formStore{redis: rdb, ttl: ttl}
}

func (f *formStore) key(userID int64) string {
	return fmt.Sprintf("ikasa:form:%d", userID)
}

func (f *formStore) Set(ctx context.Context, userID int64, state formState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return f.redis.Set(ctx, f.key(userID), string(b), f.ttl).Err()
}

// Get returns an empty form when nothing is stored or the form expired.
func (f *formStore) Get(ctx context.Context, userID int64) (formState, error) {
	raw, err := f.redis.Get(ctx, f.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return formState{}, nil
	}
	if err != nil {
		return formState{}, err
	}
	var state formState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return formState{}, err
	}
	return state, nil
}

func (f *formStore) Clear(ctx context.Context, userID int64) error {
	return f.redis.Del(ctx, f.key(userID)).Err()
}
