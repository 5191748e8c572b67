package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"ikasa/internal/session"
)

type Catalog struct {
	Characters []session.Character `json:"characters"`
	Scenarios  []session.Scenario  `json:"scenarios,omitempty"`
}

type ChatReply struct {
	Message       string `json:"message"`
	CharacterName string `json:"characterName,omitempty"`
}

func (c *Client) SaveProfile(ctx context.Context, token string, p session.Profile) error {
	return c.callOnce(ctx, request{
		op:     "save_profile",
		method: http.MethodPost,
		base:   c.cfg.APIBaseURL,
		path:   "/app-api/onboard/profile",
		token:  token,
		body:   p,
	}, nil)
}

func (c *Client) SaveStyle(ctx context.Context, token string, style session.Style) error {
	return c.callOnce(ctx, request{
		op:     "save_style",
		method: http.MethodPost,
		base:   c.cfg.APIBaseURL,
		path:   "/app-api/onboard/style",
		token:  token,
		body:   map[string]session.Style{"style": style},
	}, nil)
}

func (c *Client) FetchSession(ctx context.Context, token, userID string) (Catalog, error) {
	var out Catalog
	err := c.callOnce(ctx, request{
		op:     "fetch_session",
		method: http.MethodGet,
		base:   c.cfg.APIBaseURL,
		path:   "/app-api/session",
		query:  url.Values{"userId": {userID}},
		token:  token,
	}, &out)
	return out, err
}

func (c *Client) SelectCharacter(ctx context.Context, token, characterID string) error {
	return c.callOnce(ctx, request{
		op:     "select_character",
		method: http.MethodPost,
		base:   c.cfg.APIBaseURL,
		path:   "/app-api/select-character",
		token:  token,
		body:   map[string]string{"characterId": characterID},
	}, nil)
}

func (c *Client) SelectScenario(ctx context.Context, token, scenarioID string) error {
	return c.callOnce(ctx, request{
		op:     "select_scenario",
		method: http.MethodPost,
		base:   c.cfg.APIBaseURL,
		path:   "/app-api/select-scenario",
		token:  token,
		body:   map[string]string{"scenarioId": scenarioID},
	}, nil)
}

func (c *Client) SendMessage(ctx context.Context, token, userID, message string) (ChatReply, error) {
	var out ChatReply
	err := c.callOnce(ctx, request{
		op:     "chat",
		method: http.MethodPost,
		base:   c.cfg.APIBaseURL,
		path:   "/app-api/chat",
		token:  token,
		body:   map[string]string{"userId": userID, "message": message},
	}, &out)
	if err != nil {
		return ChatReply{}, err
	}
	if strings.TrimSpace(out.Message) == "" {
		return ChatReply{}, &Error{Op: "chat", Status: http.StatusOK, Message: "Empty reply from server"}
	}
	return out, nil
}
