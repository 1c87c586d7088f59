// Package upstream holds the outbound HTTP plumbing shared by every third-party
// integration: one injectable transport, response classification into the error
// taxonomy, and an opt-in retry executor for callers.
package upstream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxBodyBytes = 4 << 20

// Doer executes a single HTTP request. *http.Client satisfies it; tests pass fakes.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// NewHTTPClient returns the default transport used in production.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Execute sends req through doer and returns the raw body of a 2xx response.
// Network failures become *TransportError and non-2xx answers *UpstreamError.
func Execute(doer Doer, service string, req *http.Request) ([]byte, error) {
	resp, err := doer.Do(req)
	if err != nil {
		return nil, &TransportError{Op: fmt.Sprintf("%s %s", req.Method, service), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Op: fmt.Sprintf("read %s body", service), Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &UpstreamError{Service: service, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// DecodeJSON unmarshals body into v, reporting failures as *DecodeError.
func DecodeJSON(service string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &DecodeError{Service: service, Payload: truncate(string(body)), Err: err}
	}
	return nil
}
