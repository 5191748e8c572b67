package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ikasa/internal/session"
)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestAnonymousLoginSendsDeviceID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/app-api/auth/anonymous" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["deviceId"] != "dev-1" {
			t.Errorf("unexpected body %v", body)
		}
		_, _ = w.Write([]byte(`{"userId":"u-1","token":"opaque"}`))
	}))
	defer srv.Close()

	c := New(Config{APIBaseURL: srv.URL})
	s, err := c.AnonymousLogin(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("anonymous login: %v", err)
	}
	if s.UserID != "u-1" || s.AccessToken != "opaque" || !s.ExpiresAt.IsZero() {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestSignInMapsAuthServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("missing apikey header")
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
	}))
	defer srv.Close()

	c := New(Config{AuthBaseURL: srv.URL, AuthAPIKey: "anon-key"})
	_, err := c.SignInEmail(context.Background(), "a@b.co", "secret1")
	var gerr *Error
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if gerr.Status != http.StatusBadRequest || Message(err) != "Invalid login credentials" {
		t.Fatalf("unexpected error %+v", gerr)
	}
}

func TestVerifyOTPReturnsSession(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := signedToken(t, "user-9", exp)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["type"] != "sms" || body["token"] != "123456" || body["phone"] != "+14155552671" {
			t.Errorf("unexpected body %v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  tok,
			"refresh_token": "r-1",
			"expires_at":    exp.Unix(),
			"user":          map[string]string{"id": "user-9"},
		})
	}))
	defer srv.Close()

	c := New(Config{AuthBaseURL: srv.URL})
	s, err := c.VerifyPhoneOTP(context.Background(), "+14155552671", "123456")
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if s.UserID != "user-9" || s.RefreshToken != "r-1" || !s.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestSignUpWithoutSessionAsksForConfirmation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"new-user","email":"a@b.co"}`))
	}))
	defer srv.Close()

	_, err := New(Config{AuthBaseURL: srv.URL}).SignUpEmail(context.Background(), "a@b.co", "secret1")
	if err == nil || !strings.Contains(Message(err), "Confirm your email") {
		t.Fatalf("expected confirmation message, got %v", err)
	}
}

func TestAuthenticatedCallsCarryBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/app-api/session":
			if r.URL.Query().Get("userId") != "u 1" {
				t.Errorf("unexpected userId %q", r.URL.Query().Get("userId"))
			}
			_, _ = w.Write([]byte(`{"characters":[{"id":"7","name":"Mira","description":"d"}]}`))
		case "/app-api/chat":
			_, _ = w.Write([]byte(`{"message":"hi there","characterName":"Mira"}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := New(Config{APIBaseURL: srv.URL})
	ctx := context.Background()
	cat, err := c.FetchSession(ctx, "tok", "u 1")
	if err != nil || len(cat.Characters) != 1 || cat.Characters[0].Name != "Mira" || cat.Scenarios != nil {
		t.Fatalf("unexpected catalog %+v err=%v", cat, err)
	}
	reply, err := c.SendMessage(ctx, "tok", "u 1", "hello")
	if err != nil || reply.Message != "hi there" || reply.CharacterName != "Mira" {
		t.Fatalf("unexpected reply %+v err=%v", reply, err)
	}
	if err := c.SaveStyle(ctx, "tok", session.StyleAnime); err != nil {
		t.Fatalf("save style: %v", err)
	}
	if err := c.SaveStyle(ctx, "stale", session.StyleAnime); !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCallIsNotRetriedAndTimesOut(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{APIBaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.SendMessage(context.Background(), "tok", "u", "hello")
	if !IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(Message(err), "timed out") {
		t.Fatalf("unexpected message %q", Message(err))
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected exactly one attempt, got %d", n)
	}
}

func TestServerErrorIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(Config{APIBaseURL: srv.URL}).SelectCharacter(context.Background(), "tok", "1")
	if Message(err) != "HTTP error! status: 502" {
		t.Fatalf("unexpected message %q", Message(err))
	}
}

func TestTokenClaimsAndPKCE(t *testing.T) {
	exp := time.Now().Add(time.Minute).Truncate(time.Second)
	claims, err := TokenClaims(signedToken(t, "abc", exp))
	if err != nil || claims.Subject != "abc" || !claims.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected claims %+v err=%v", claims, err)
	}
	if _, err := TokenClaims("not-a-jwt"); err == nil {
		t.Fatalf("expected error for opaque token")
	}

	verifier, challenge, err := NewPKCE()
	if err != nil {
		t.Fatalf("pkce: %v", err)
	}
	if challenge != Challenge(verifier) || len(verifier) != 43 {
		t.Fatalf("unexpected pkce pair %q %q", verifier, challenge)
	}
	u := New(Config{AuthBaseURL: "https://auth.example/"}).SSOURL("google", "https://t.me/bot", challenge)
	if !strings.HasPrefix(u, "https://auth.example/auth/v1/authorize?") || !strings.Contains(u, "provider=google") {
		t.Fatalf("unexpected sso url %q", u)
	}
}
