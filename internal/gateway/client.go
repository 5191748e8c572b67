package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ikasa/internal/metrics"
)

const DefaultTimeout = 30 * time.Second

type Config struct {
	APIBaseURL  string
	AuthBaseURL string
	AuthAPIKey  string
	HTTPClient  *http.Client
	Timeout     time.Duration
	Metrics     *metrics.Metrics
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	cfg.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.AuthBaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.AuthBaseURL), "/")
	return &Client{cfg: cfg}
}

type request struct {
	op     string
	method string
	base   string
	path   string
	query  url.Values
	token  string
	auth   bool
	body   any
}

// callOnce performs exactly one round trip. Failures are never retried here.
func (c *Client) callOnce(ctx context.Context, r request, out any) (err error) {
	started := time.Now()
	defer func() { c.observe(r.op, started, err) }()

	if r.base == "" {
		return &Error{Op: r.op, Message: "Service is not configured"}
	}
	endpoint := r.base + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", r.op, err)
		}
		body = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.auth && c.cfg.AuthAPIKey != "" {
		req.Header.Set("apikey", c.cfg.AuthAPIKey)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return &Error{Op: r.op, Message: transportMessage(err), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &Error{Op: r.op, Status: resp.StatusCode, Message: transportMessage(err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: r.op, Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Op: r.op, Status: resp.StatusCode, Message: "Unexpected response from server", Err: err}
	}
	return nil
}

func (c *Client) observe(op string, started time.Time, err error) {
	if c.cfg.Metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.cfg.Metrics.GatewayCalls.WithLabelValues(op, result).Inc()
	c.cfg.Metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}
