package gateway

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type Session struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
	// sign-up with email confirmation returns the bare user
	ID string `json:"id"`
}

func (t tokenResponse) session(op string) (Session, error) {
	if t.AccessToken == "" {
		if op == opSignUp && (t.ID != "" || t.User.ID != "") {
			return Session{}, &Error{Op: op, Status: http.StatusOK, Message: "Account created. Confirm your email, then sign in."}
		}
		return Session{}, &Error{Op: op, Status: http.StatusOK, Message: "Unexpected response from server"}
	}
	s := Session{UserID: t.User.ID, AccessToken: t.AccessToken, RefreshToken: t.RefreshToken}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	}
	if s.UserID == "" {
		if claims, err := TokenClaims(t.AccessToken); err == nil {
			s.UserID = claims.Subject
		}
	}
	if s.UserID == "" {
		return Session{}, &Error{Op: op, Status: http.StatusOK, Message: "Unexpected response from server"}
	}
	return s, nil
}

const (
	opAnonymous   = "anonymous_login"
	opSignUp      = "sign_up"
	opSignIn      = "sign_in"
	opSendOTP     = "send_otp"
	opVerifyOTP   = "verify_otp"
	opExchangeSSO = "exchange_sso"
	opGetUser     = "get_user"
	opSignOut     = "sign_out"
)

// AnonymousLogin opens a guest account for a fresh client-generated identifier.
func (c *Client) AnonymousLogin(ctx context.Context, deviceID string) (Session, error) {
	var out struct {
		UserID string `json:"userId"`
		Token  string `json:"token"`
	}
	err := c.callOnce(ctx, request{
		op:     opAnonymous,
		method: http.MethodPost,
		base:   c.cfg.APIBaseURL,
		path:   "/app-api/auth/anonymous",
		body:   map[string]string{"deviceId": deviceID},
	}, &out)
	if err != nil {
		return Session{}, err
	}
	if out.UserID == "" || out.Token == "" {
		return Session{}, &Error{Op: opAnonymous, Status: http.StatusOK, Message: "Unexpected response from server"}
	}
	s := Session{UserID: out.UserID, AccessToken: out.Token}
	if claims, err := TokenClaims(out.Token); err == nil {
		s.ExpiresAt = claims.ExpiresAt
	}
	return s, nil
}

func (c *Client) SignUpEmail(ctx context.Context, email, password string) (Session, error) {
	return c.tokenCall(ctx, opSignUp, "/auth/v1/signup", nil, map[string]string{"email": email, "password": password})
}

func (c *Client) SignInEmail(ctx context.Context, email, password string) (Session, error) {
	q := url.Values{"grant_type": {"password"}}
	return c.tokenCall(ctx, opSignIn, "/auth/v1/token", q, map[string]string{"email": email, "password": password})
}

func (c *Client) SendPhoneOTP(ctx context.Context, phone string) error {
	return c.callOnce(ctx, request{
		op:     opSendOTP,
		method: http.MethodPost,
		base:   c.cfg.AuthBaseURL,
		path:   "/auth/v1/otp",
		auth:   true,
		body:   map[string]string{"phone": phone},
	}, nil)
}

func (c *Client) VerifyPhoneOTP(ctx context.Context, phone, code string) (Session, error) {
	return c.tokenCall(ctx, opVerifyOTP, "/auth/v1/verify", nil, map[string]string{"phone": phone, "token": code, "type": "sms"})
}

// SSOURL is the browser address that starts a single sign-on round trip.
func (c *Client) SSOURL(provider, redirectTo, challenge string) string {
	q := url.Values{
		"provider":              {provider},
		"redirect_to":           {redirectTo},
		"code_challenge":        {challenge},
		"code_challenge_method": {"s256"},
	}
	return c.cfg.AuthBaseURL + "/auth/v1/authorize?" + q.Encode()
}

func (c *Client) ExchangeSSOCode(ctx context.Context, code, verifier string) (Session, error) {
	q := url.Values{"grant_type": {"pkce"}}
	return c.tokenCall(ctx, opExchangeSSO, "/auth/v1/token", q, map[string]string{"auth_code": code, "code_verifier": verifier})
}

// GetUser asks the auth service whether the access token still names a live session.
func (c *Client) GetUser(ctx context.Context, accessToken string) (User, error) {
	var out User
	err := c.callOnce(ctx, request{
		op:     opGetUser,
		method: http.MethodGet,
		base:   c.cfg.AuthBaseURL,
		path:   "/auth/v1/user",
		auth:   true,
		token:  accessToken,
	}, &out)
	return out, err
}

func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.callOnce(ctx, request{
		op:     opSignOut,
		method: http.MethodPost,
		base:   c.cfg.AuthBaseURL,
		path:   "/auth/v1/logout",
		auth:   true,
		token:  accessToken,
	}, nil)
}

func (c *Client) tokenCall(ctx context.Context, op, path string, q url.Values, body map[string]string) (Session, error) {
	var out tokenResponse
	err := c.callOnce(ctx, request{
		op:     op,
		method: http.MethodPost,
		base:   c.cfg.AuthBaseURL,
		path:   path,
		query:  q,
		auth:   true,
		body:   body,
	}, &out)
	if err != nil {
		return Session{}, err
	}
	return out.session(op)
}
