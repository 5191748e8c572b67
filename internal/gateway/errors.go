package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Error is the single failure shape of every gateway call. Message is safe to show to users.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport reports whether the call never got an HTTP answer.
func (e *Error) Transport() bool {
	return e.Status == 0 && e.Err != nil
}

func IsUnauthorized(err error) bool {
	var gerr *Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Status == http.StatusUnauthorized || gerr.Status == http.StatusForbidden
}

func IsTransport(err error) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Transport()
}

// Message returns the one human-readable line for a failed call.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var gerr *Error
	if errors.As(err, &gerr) && strings.TrimSpace(gerr.Message) != "" {
		return gerr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The request timed out. Please try again."
	}
	return "Something went wrong. Please try again."
}

func transportMessage(err error) string {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return "The request timed out. Please try again."
	}
	if errors.Is(err, context.Canceled) {
		return "The request was cancelled."
	}
	return "Could not reach the server. Check your connection and try again."
}

func errorMessage(status int, body []byte) string {
	var payload struct {
		Error            any    `json:"error"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, candidate := range []string{payload.ErrorDescription, payload.Msg, payload.Message} {
			if strings.TrimSpace(candidate) != "" {
				return candidate
			}
		}
		if s, ok := payload.Error.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return fmt.Sprintf("HTTP error! status: %d", status)
}
