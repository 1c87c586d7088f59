package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ObiAU/disasterfeed/internal/feed"
	"github.com/ObiAU/disasterfeed/internal/models"
	"github.com/ObiAU/disasterfeed/internal/upstream"
)

const maxRequestBody = 1 << 20

// Service is the enrichment layer as seen by the HTTP boundary.
type Service interface {
	FetchPosts(ctx context.Context, query string) ([]models.NormalizedPost, error)
	RecentPosts(ctx context.Context, limit int) ([]models.NormalizedPost, error)
	ExtractLocation(ctx context.Context, postID string) (models.NormalizedPost, error)
	VerifyImage(ctx context.Context, imageURL string) (models.ImageVerification, error)
	Feed(ctx context.Context, limit int) ([]feed.Item, error)
	AddDisaster(ctx context.Context, d models.Disaster) (models.Disaster, error)
	AddReport(ctx context.Context, r models.Report) (models.Report, error)
	Stats() map[string]interface{}
}

type Handlers struct {
	svc        Service
	cacheStats func() map[string]interface{}
	logger     logrus.FieldLogger
}

type fetchRequest struct {
	Query string `json:"query"`
}

type fetchResponse struct {
	Tweets []models.NormalizedPost `json:"tweets"`
}

type verifyImageRequest struct {
	ImageURL string `json:"image_url"`
}

func (h *Handlers) FetchTwitterData(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeOptional(r, &req); err != nil {
		h.fetchFailed(w, r, err)
		return
	}

	posts, err := h.svc.FetchPosts(r.Context(), req.Query)
	if err != nil {
		h.fetchFailed(w, r, err)
		return
	}

	if posts == nil {
		posts = []models.NormalizedPost{}
	}
	writeJSON(w, http.StatusOK, fetchResponse{Tweets: posts})
}

// fetchFailed answers every failure of the function endpoint, a malformed
// body included, with the same generic 500.
func (h *Handlers) fetchFailed(w http.ResponseWriter, r *http.Request, err error) {
	h.log(r).WithError(err).WithFields(upstream.LogFields(err)).Error("fetch-twitter-data failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:     "failed to fetch posts",
		Details:   logDetails,
		RequestID: requestIDFrom(r.Context()),
	})
}

func (h *Handlers) ListPosts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	posts, err := h.svc.RecentPosts(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": posts})
}

func (h *Handlers) ExtractLocation(w http.ResponseWriter, r *http.Request) {
	post, err := h.svc.ExtractLocation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handlers) VerifyImage(w http.ResponseWriter, r *http.Request) {
	var req verifyImageRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.VerifyImage(r.Context(), req.ImageURL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) Feed(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.svc.Feed(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handlers) CreateDisaster(w http.ResponseWriter, r *http.Request) {
	var d models.Disaster
	if err := decodeOptional(r, &d); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.svc.AddDisaster(r.Context(), d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) CreateReport(w http.ResponseWriter, r *http.Request) {
	var rep models.Report
	if err := decodeOptional(r, &rep); err != nil {
		h.writeError(w, r, err)
		return
	}
	created, err := h.svc.AddReport(r.Context(), rep)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{"aggregator": h.svc.Stats()}
	if h.cacheStats != nil {
		stats["cache_stats"] = h.cacheStats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	entry := h.log(r).WithError(err).WithFields(upstream.LogFields(err)).WithField("http_status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	resp := errorResponse{Error: msg, RequestID: requestIDFrom(r.Context())}
	if status >= http.StatusInternalServerError {
		resp.Details = logDetails
	}
	writeJSON(w, status, resp)
}

func (h *Handlers) log(r *http.Request) logrus.FieldLogger {
	return h.logger.WithField("request_id", requestIDFrom(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeOptional decodes a JSON body; an empty body leaves value untouched.
func decodeOptional(r *http.Request, value any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(value)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: invalid JSON body", errBadRequest)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 || limit > 200 {
		return 0, fmt.Errorf("%w: limit must be between 0 and 200", errBadRequest)
	}
	return limit, nil
}
