package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Error is the single failure type surfaced by the request layer. Network
// failures carry Status 0; timeouts carry 408.
type Error struct {
	Status     int
	StatusText string
	// Body is the decoded response body: a JSON value, or the raw text.
	Body    any
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = strings.TrimSpace(e.StatusText)
	}
	if msg == "" {
		msg = "api error"
	}
	if e.Status == 0 {
		return msg
	}
	return fmt.Sprintf("api error (%d): %s", e.Status, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.Status
}

func (e *Error) Kind() Kind {
	if e == nil {
		return KindUnknown
	}
	return Classify(e.Status)
}

func New(status int, statusText string, body any, message string) *Error {
	if strings.TrimSpace(statusText) == "" {
		statusText = http.StatusText(status)
	}
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = messageFromBody(body)
	}
	if msg == "" {
		msg = statusText
	}
	return &Error{Status: status, StatusText: statusText, Body: body, Message: msg}
}

func Network(cause error) *Error {
	msg := "network request failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Status: 0, Message: msg, Err: cause}
}

func Timeout(after time.Duration) *Error {
	return &Error{
		Status:     http.StatusRequestTimeout,
		StatusText: http.StatusText(http.StatusRequestTimeout),
		Message:    fmt.Sprintf("request timed out after %s", after),
		Err:        context.DeadlineExceeded,
	}
}

// Canceled marks a request aborted by its caller or superseded by a newer
// request with the same key.
func Canceled(cause error) *Error {
	err := context.Canceled
	if cause != nil && !errors.Is(cause, context.Canceled) {
		err = fmt.Errorf("%w: %w", context.Canceled, cause)
	}
	return &Error{Status: 0, Message: "request cancelled", Err: err}
}

func IsCanceled(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Status == 0 && errors.Is(e.Err, context.Canceled)
	}
	return errors.Is(err, context.Canceled)
}

// messageFromBody picks the conventional {"message": ...} or
// {"error": {"message": ...}} field out of a decoded error payload.
func messageFromBody(body any) string {
	switch b := body.(type) {
	case map[string]any:
		if m, ok := b["message"].(string); ok {
			return strings.TrimSpace(m)
		}
		if inner, ok := b["error"].(map[string]any); ok {
			if m, ok := inner["message"].(string); ok {
				return strings.TrimSpace(m)
			}
		}
		if m, ok := b["error"].(string); ok {
			return strings.TrimSpace(m)
		}
	case string:
		s := strings.TrimSpace(b)
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	return ""
}
