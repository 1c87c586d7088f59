package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ObiAU/disasterfeed/internal/aggregator"
	"github.com/ObiAU/disasterfeed/internal/ai"
	"github.com/ObiAU/disasterfeed/internal/feed"
	"github.com/ObiAU/disasterfeed/internal/models"
	"github.com/ObiAU/disasterfeed/internal/storage"
	"github.com/ObiAU/disasterfeed/internal/upstream"
)

type fakeService struct {
	posts       []models.NormalizedPost
	fetchErr    error
	lastQuery   string
	locationErr error
	verifyErr   error
	lastLimit   int
}

func (s *fakeService) FetchPosts(ctx context.Context, query string) ([]models.NormalizedPost, error) {
	s.lastQuery = query
	return s.posts, s.fetchErr
}

func (s *fakeService) RecentPosts(ctx context.Context, limit int) ([]models.NormalizedPost, error) {
	s.lastLimit = limit
	return s.posts, nil
}

func (s *fakeService) ExtractLocation(ctx context.Context, postID string) (models.NormalizedPost, error) {
	if s.locationErr != nil {
		return models.NormalizedPost{}, s.locationErr
	}
	loc := "Valencia"
	return models.NormalizedPost{ID: postID, Location: &loc}, nil
}

func (s *fakeService) VerifyImage(ctx context.Context, imageURL string) (models.ImageVerification, error) {
	if s.verifyErr != nil {
		return models.ImageVerification{}, s.verifyErr
	}
	return models.ImageVerification{IsAuthentic: true, Confidence: 64, Analysis: imageURL}, nil
}

func (s *fakeService) Feed(ctx context.Context, limit int) ([]feed.Item, error) {
	s.lastLimit = limit
	return []feed.Item{{ID: "u1", Type: feed.ItemStatus, Title: feed.StatusTitle}}, nil
}

func (s *fakeService) AddDisaster(ctx context.Context, d models.Disaster) (models.Disaster, error) {
	if d.Title == "" {
		return models.Disaster{}, fmt.Errorf("%w: title is required", aggregator.ErrInvalidInput)
	}
	d.ID = "d1"
	return d, nil
}

func (s *fakeService) AddReport(ctx context.Context, r models.Report) (models.Report, error) {
	r.ID = "r1"
	r.Status = models.ReportPending
	return r, nil
}

func (s *fakeService) Stats() map[string]interface{} {
	return map[string]interface{}{"running": true}
}

func newTestRouter(svc Service, opts Options) http.Handler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	opts.Logger = logger
	return NewRouter(svc, opts)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func TestFetchTwitterDataSuccess(t *testing.T) {
	svc := &fakeService{posts: []models.NormalizedPost{{
		ID: "1", Content: "Flood warning", Username: "aemet", Platform: "twitter",
		DisasterKeywords: []string{"flood", "warning"}, CreatedAt: time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC),
	}}}
	h := newTestRouter(svc, Options{})

	rec := do(t, h, http.MethodPost, "/fetch-twitter-data", `{"query":"flood"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "flood", svc.lastQuery)
	assert.JSONEq(t, `{"tweets":[{"id":"1","post_content":"Flood warning","username":"aemet","platform":"twitter","disaster_keywords":["flood","warning"],"location_extracted":null,"created_at":"2024-06-20T12:00:00Z","verified":false}]}`, rec.Body.String())
}

func TestFetchTwitterDataEmptyBodyUsesDefault(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc, Options{})

	rec := do(t, h, http.MethodPost, "/fetch-twitter-data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", svc.lastQuery)
	assert.JSONEq(t, `{"tweets":[]}`, rec.Body.String())
}

func TestFetchTwitterDataFailure(t *testing.T) {
	svc := &fakeService{fetchErr: &upstream.UpstreamError{Service: "twitter", StatusCode: 401, Body: `{"errors":[{"code":32}]}`}}
	h := newTestRouter(svc, Options{})

	rec := do(t, h, http.MethodPost, "/fetch-twitter-data", `{}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed to fetch posts", body.Error)
	assert.Equal(t, logDetails, body.Details)
	assert.NotEmpty(t, body.RequestID)
	assert.NotContains(t, rec.Body.String(), "code", "upstream body must not leak")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestFetchTwitterDataMalformedBody(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc, Options{})

	rec := do(t, h, http.MethodPost, "/fetch-twitter-data", `{"query":`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed to fetch posts", body.Error)
	assert.Equal(t, logDetails, body.Details)
	assert.Empty(t, svc.lastQuery)
}

func TestPreflight(t *testing.T) {
	h := newTestRouter(&fakeService{}, Options{})

	for _, path := range []string{"/fetch-twitter-data", "/images/verify", "/anything"} {
		rec := do(t, h, http.MethodOptions, path, "")
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, corsAllowedHeaders, rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestRequestIDPropagation(t *testing.T) {
	h := newTestRouter(&fakeService{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Len(t, rec.Header().Get(headerRequestID), 36)
}

func TestEnrichmentRoutes(t *testing.T) {
	svc := &fakeService{}
	h := newTestRouter(svc, Options{CacheStats: func() map[string]interface{} { return map[string]interface{}{"hits": 3} }})

	rec := do(t, h, http.MethodPost, "/posts/abc/location", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"location_extracted":"Valencia"`)

	rec = do(t, h, http.MethodPost, "/images/verify", `{"image_url":"https://example.com/a.jpg"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isAuthentic":true,"confidence":64,"analysis":"https://example.com/a.jpg"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/feed?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, svc.lastLimit)
	assert.Contains(t, rec.Body.String(), feed.StatusTitle)

	rec = do(t, h, http.MethodGet, "/posts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, svc.lastLimit)

	rec = do(t, h, http.MethodPost, "/disasters", `{"title":"Valencia floods"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"d1"`)

	rec = do(t, h, http.MethodPost, "/reports", `{"disaster_id":"d1","description":"Water rising"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)

	rec = do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"aggregator":{"running":true},"cache_stats":{"hits":3}}`, rec.Body.String())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		svc    *fakeService
		method string
		path   string
		body   string
		status int
	}{
		{name: "unknown post", svc: &fakeService{locationErr: storage.ErrNotFound}, method: http.MethodPost, path: "/posts/x/location", status: http.StatusNotFound},
		{name: "empty answer", svc: &fakeService{locationErr: ai.ErrNoResult}, method: http.MethodPost, path: "/posts/x/location", status: http.StatusUnprocessableEntity},
		{name: "gemini down", svc: &fakeService{verifyErr: &upstream.TransportError{Op: "POST gemini", Err: errors.New("refused")}}, method: http.MethodPost, path: "/images/verify", body: `{}`, status: http.StatusBadGateway},
		{name: "missing key", svc: &fakeService{verifyErr: &upstream.ConfigurationError{Field: "GEMINI_API_KEY"}}, method: http.MethodPost, path: "/images/verify", body: `{}`, status: http.StatusInternalServerError},
		{name: "bad url", svc: &fakeService{verifyErr: fmt.Errorf("%w: image_url", aggregator.ErrInvalidInput)}, method: http.MethodPost, path: "/images/verify", body: `{}`, status: http.StatusBadRequest},
		{name: "malformed json", svc: &fakeService{}, method: http.MethodPost, path: "/images/verify", body: `{"image_url":`, status: http.StatusBadRequest},
		{name: "bad limit", svc: &fakeService{}, method: http.MethodGet, path: "/feed?limit=abc", status: http.StatusBadRequest},
		{name: "invalid disaster", svc: &fakeService{}, method: http.MethodPost, path: "/disasters", body: `{}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(tt.svc, Options{}), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)

			var body errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestOptionalRoutesAndObserver(t *testing.T) {
	var routes []string
	opts := Options{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("metrics")) }),
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
		ObserveHTTP: func(method, route string, status int, elapsed time.Duration) {
			routes = append(routes, fmt.Sprintf("%s %s %d", method, route, status))
		},
	}
	h := newTestRouter(&fakeService{}, opts)

	assert.Equal(t, "metrics", do(t, h, http.MethodGet, "/metrics", "").Body.String())
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/webhook", `{}`).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/posts/7/location", "").Code)

	assert.Equal(t, []string{
		"GET /metrics 200",
		"POST /webhook 200",
		"POST /posts/{id}/location 200",
	}, routes)

	noExtras := newTestRouter(&fakeService{}, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, noExtras, http.MethodGet, "/metrics", "").Code)
}

func TestRecoversFromPanics(t *testing.T) {
	h := newTestRouter(panicService{&fakeService{}}, Options{})
	rec := do(t, h, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicService struct{ *fakeService }

func (panicService) Stats() map[string]interface{} { panic("boom") }
