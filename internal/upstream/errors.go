package upstream

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

const maxPayloadInError = 512

// ConfigurationError reports a required setting that is missing or empty.
// It is never retried.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s is required", e.Field)
}

// TransportError wraps a network level failure (timeout, DNS, refused connection).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx answer from a third party.
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, truncate(e.Body))
}

// DecodeError is a response body that could not be parsed.
type DecodeError struct {
	Service string
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode response: %v", e.Service, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Kind names the taxonomy bucket of err for logs and telemetry.
func Kind(err error) string {
	var (
		cfgErr       *ConfigurationError
		transportErr *TransportError
		upstreamErr  *UpstreamError
		decodeErr    *DecodeError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &transportErr):
		return "transport"
	case errors.As(err, &upstreamErr):
		return "upstream"
	case errors.As(err, &decodeErr):
		return "decode"
	default:
		return "internal"
	}
}

// Retryable reports whether a caller may retry the failed call with backoff.
// Transport failures, rate limits and 5xx answers qualify.
func Retryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.StatusCode == http.StatusTooManyRequests || upstreamErr.StatusCode >= 500
	}
	return false
}

func truncate(s string) string {
	if len(s) <= maxPayloadInError {
		return s
	}
	return s[:maxPayloadInError] + "..."
}

// LogFields describes err for a log entry: its kind plus the status of an
// upstream answer or the truncated payload that failed to decode.
func LogFields(err error) logrus.Fields {
	fields := logrus.Fields{"error_kind": Kind(err)}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		fields["status"] = upstreamErr.StatusCode
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		fields["payload"] = truncate(decodeErr.Payload)
	}
	return fields
}
