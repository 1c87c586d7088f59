package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ObiAU/disasterfeed/internal/aggregator"
	"github.com/ObiAU/disasterfeed/internal/ai"
	"github.com/ObiAU/disasterfeed/internal/storage"
	"github.com/ObiAU/disasterfeed/internal/upstream"
)

const logDetails = "Check server logs for more information"

type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error onto an HTTP status and a message that is safe to
// show to the caller. Upstream bodies never leave the process.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, aggregator.ErrInvalidInput), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, ai.ErrNoResult):
		return http.StatusUnprocessableEntity, "analysis returned no result"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "operation timed out"
	}

	switch upstream.Kind(err) {
	case "transport", "upstream", "decode":
		return http.StatusBadGateway, "upstream operation failed"
	case "configuration":
		return http.StatusInternalServerError, "service is not configured"
	}
	return http.StatusInternalServerError, "operation failed"
}

var errBadRequest = errors.New("bad request")
