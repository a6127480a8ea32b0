package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/educlopez/airlume/pkg/util"
)

// Kind classifies a publish failure. The dispatcher decides retry and
// terminal state from the kind alone.
type Kind string

const (
	KindAuthExpired             Kind = "auth_expired"
	KindRateLimited             Kind = "rate_limited"
	KindPayloadRejected         Kind = "payload_rejected"
	KindNetworkError            Kind = "network_error"
	KindUnknownPlatformResponse Kind = "unknown_platform_response"

	KindCredentialMissing   Kind = "credential_missing"
	KindCredentialInvalid   Kind = "credential_invalid"
	KindUnsupportedPlatform Kind = "unsupported_platform"
	KindMediaUnavailable    Kind = "media_unavailable"
)

// Retryable reports whether another attempt in the same tick may succeed.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindNetworkError
}

// maxBodyInMessage bounds how much of a raw platform body ends up on the row.
const maxBodyInMessage = 2000

// Error is the failure outcome of a publish attempt.
type Error struct {
	Kind    Kind
	Message string
	// Body is the raw platform response, when there was one.
	Body       string
	Status     int
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// RowMessage is the error_message stored on a failed request. Unparseable
// responses keep the platform body for diagnosis.
func (e *Error) RowMessage() string {
	msg := e.Error()
	if e.Kind == KindUnknownPlatformResponse && e.Body != "" {
		msg += " (body: " + util.Truncate(e.Body, maxBodyInMessage) + ")"
	}
	return msg
}

func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError converts any error into an *Error. Context expiry and unknown
// errors are treated as network failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pubErr *Error
	if errors.As(err, &pubErr) {
		return pubErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetworkError, Message: "request timed out"}
	}
	return &Error{Kind: KindNetworkError, Message: err.Error()}
}

// KindOf returns the failure kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

// ClassifyResponse maps a non-2xx platform response to the failure taxonomy.
func ClassifyResponse(resp *http.Response, body []byte) *Error {
	e := &Error{
		Status:  resp.StatusCode,
		Body:    string(body),
		Message: fmt.Sprintf("status %d: %s", resp.StatusCode, describeBody(body)),
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusRequestTimeout:
		e.Kind = KindNetworkError
	case resp.StatusCode >= 500:
		e.Kind = KindNetworkError
	case resp.StatusCode >= 400:
		e.Kind = KindPayloadRejected
	default:
		e.Kind = KindUnknownPlatformResponse
	}

	return e
}

// describeBody pulls a human readable message out of common JSON error
// shapes, falling back to the truncated raw body.
func describeBody(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "message", "error_description", "title", "error"} {
			if s, ok := payload[key].(string); ok && s != "" {
				return s
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response"
	}
	return util.Truncate(text, 200)
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if d, err := time.ParseDuration(value + "s"); err == nil && d > 0 {
		return d
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
