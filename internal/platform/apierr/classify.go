package apierr

import (
	"errors"
	"strings"

	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

type Kind string

const (
	KindNetwork      Kind = "NETWORK_ERROR"
	KindTimeout      Kind = "TIMEOUT"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindValidation   Kind = "VALIDATION_ERROR"
	KindRateLimit    Kind = "RATE_LIMIT"
	KindServer       Kind = "SERVER_ERROR"
	KindUnknown      Kind = "UNKNOWN"
)

func Classify(status int) Kind {
	switch {
	case status == 0:
		return KindNetwork
	case status == 401:
		return KindUnauthorized
	case status == 403:
		return KindForbidden
	case status == 404:
		return KindNotFound
	case status == 408:
		return KindTimeout
	case status == 422:
		return KindValidation
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

func (k Kind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer, KindRateLimit:
		return true
	default:
		return false
	}
}

var userMessages = map[Kind]string{
	KindNetwork:      "Unable to connect. Please check your internet connection and try again.",
	KindTimeout:      "The request took too long. Please try again.",
	KindUnauthorized: "Your session has expired. Please sign in again.",
	KindForbidden:    "You don't have permission to do that.",
	KindNotFound:     "We couldn't find what you were looking for.",
	KindValidation:   "Some of the information provided is invalid. Please review and try again.",
	KindRateLimit:    "Too many requests. Please wait a moment and try again.",
	KindServer:       "Something went wrong on our end. Please try again later.",
}

// KindOf classifies any error. Errors that are not *Error are transport
// failures as far as callers are concerned.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindNetwork
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err).Retryable()
}

func UserMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred."
	}
	if msg, ok := userMessages[KindOf(err)]; ok {
		return msg
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return "An unexpected error occurred."
}

// Log records err with its classification. where names the caller.
func Log(log *logger.Logger, err error, where string) {
	if log == nil || err == nil {
		return
	}
	fields := []interface{}{
		"where", where,
		"kind", string(KindOf(err)),
		"error", err.Error(),
	}
	var e *Error
	if errors.As(err, &e) {
		fields = append(fields, "status", e.Status)
	}
	log.Warn("api request failed", fields...)
}
