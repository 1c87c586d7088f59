// Package api is the inbound HTTP boundary: the search function endpoint,
// the enrichment endpoints and the operational routes.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Logger     logrus.FieldLogger
	Timeout    time.Duration
	CacheStats func() map[string]interface{}
	// ObserveHTTP receives one call per request, usually metrics.Collector.ObserveHTTP.
	ObserveHTTP func(method, route string, status int, elapsed time.Duration)
	Metrics     http.Handler
	Webhook     http.Handler
}

func NewRouter(svc Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	root := chi.NewRouter()
	root.Use(
		chimw.Recoverer,
		RequestID(),
		Logging(opts.Logger, opts.ObserveHTTP),
		CORS(),
	)
	if opts.Timeout > 0 {
		root.Use(chimw.Timeout(opts.Timeout))
	}

	h := &Handlers{svc: svc, cacheStats: opts.CacheStats, logger: opts.Logger}
	registerRoutes(root, h)

	if opts.Metrics != nil {
		root.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Webhook != nil {
		root.Method(http.MethodPost, "/webhook", opts.Webhook)
	}
	return root
}

func registerRoutes(r chi.Router, h *Handlers) {
	r.Post("/fetch-twitter-data", h.FetchTwitterData)

	r.Get("/posts", h.ListPosts)
	r.Post("/posts/{id}/location", h.ExtractLocation)
	r.Post("/images/verify", h.VerifyImage)

	r.Get("/feed", h.Feed)
	r.Post("/disasters", h.CreateDisaster)
	r.Post("/reports", h.CreateReport)

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
}
