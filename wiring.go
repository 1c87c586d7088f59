package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ObiAU/disasterfeed/internal/ai"
	"github.com/ObiAU/disasterfeed/internal/cache"
	"github.com/ObiAU/disasterfeed/internal/config"
	"github.com/ObiAU/disasterfeed/internal/metrics"
	"github.com/ObiAU/disasterfeed/internal/models"
	"github.com/ObiAU/disasterfeed/internal/oauth"
	"github.com/ObiAU/disasterfeed/internal/sources"
	"github.com/ObiAU/disasterfeed/internal/storage"
	"github.com/ObiAU/disasterfeed/internal/storage/postgres"
	"github.com/ObiAU/disasterfeed/internal/upstream"
)

const janitorInterval = time.Hour

// app holds the components shared by every command.
type app struct {
	cfg        *config.Config
	logger     logrus.FieldLogger
	httpClient *http.Client
	collector  *metrics.Collector

	db       *sql.DB
	cache    *cache.ResponseCache
	store    storage.Store
	analyzer *ai.Analyzer
	sources  []models.PostSource

	janitor *postgres.CacheStore
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*app, error) {
	a := &app{
		cfg:        cfg,
		logger:     logger,
		httpClient: upstream.NewHTTPClient(cfg.HTTPTimeout),
		collector:  metrics.New(prometheus.NewRegistry()),
	}

	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.buildCache(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.buildStore()
	a.buildAnalyzer()
	if err := a.buildSources(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openDatabase connects only when some component is backed by PostgreSQL.
func (a *app) openDatabase(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		return nil
	}

	db, err := postgres.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	a.logger.Info("Connected to PostgreSQL")
	return nil
}

func (a *app) buildCache(ctx context.Context) error {
	var store cache.Store

	switch a.cfg.CacheBackend {
	case config.BackendRedis:
		client, err := cache.NewRedisClientFromURL(ctx, a.cfg.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store = cache.NewRedisStore(client, "")
	case config.BackendPostgres:
		if a.db == nil {
			return &upstream.ConfigurationError{Field: "DATABASE_URL"}
		}
		pg := postgres.NewCacheStore(a.db)
		a.janitor = pg
		store = pg
	default:
		mem := cache.NewMemoryStore(janitorInterval)
		a.closers = append(a.closers, mem.Close)
		store = mem
	}

	a.cache = cache.New(store, cache.Options{
		DefaultTTLHours: a.cfg.CacheTTLHours,
		Hooks:           a.collector.CacheHooks(),
		Logger:          a.logger,
	})
	a.logger.WithField("backend", a.cfg.CacheBackend).Info("Response cache ready")
	return nil
}

func (a *app) buildStore() {
	if a.db != nil {
		a.store = postgres.NewStore(a.db)
		return
	}
	a.store = storage.NewMemoryStore()
}

// buildAnalyzer never fails: a provider without credentials is replaced by
// ai.Unconfigured so enrichment reports a configuration error per call.
func (a *app) buildAnalyzer() {
	var (
		gen ai.TextGenerator
		err error
	)

	switch a.cfg.AIProvider {
	case config.ProviderOpenAI:
		gen, err = ai.NewOpenAIClient(ai.OpenAIConfig{
			APIKey: a.cfg.OpenAIAPIKey,
			Model:  a.cfg.OpenAIModel,
		}, a.httpClient)
	default:
		gen, err = ai.NewGeminiClient(ai.GeminiConfig{
			APIKey:  a.cfg.GeminiAPIKey,
			BaseURL: a.cfg.GeminiBaseURL,
			Model:   a.cfg.GeminiModel,
		}, a.httpClient)
	}
	if err != nil {
		a.logger.WithError(err).WithField("provider", a.cfg.AIProvider).Warn("AI provider unavailable, enrichment disabled")
		gen = ai.Unconfigured{Err: err}
	}

	a.analyzer = ai.NewAnalyzer(gen, a.cache, a.cfg.CacheTTLHours, a.logger)
}

func (a *app) buildSources() error {
	twitter, err := sources.NewTwitterClient(sources.TwitterConfig{
		Credentials: oauth.Credentials{
			ConsumerKey:    a.cfg.TwitterAPIKey,
			ConsumerSecret: a.cfg.TwitterAPISecret,
		},
		SearchURL: a.cfg.TwitterSearchURL,
		PageSize:  a.cfg.TwitterPageSize,
	}, a.httpClient)
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"twitter_key_length":    len(a.cfg.TwitterAPIKey),
		"twitter_secret_length": len(a.cfg.TwitterAPISecret),
	}).Info("Twitter credentials loaded")

	a.sources = []models.PostSource{twitter}
	if a.cfg.MockSourceEnabled {
		a.sources = append(a.sources, sources.NewMockClient())
	}
	return nil
}

// runJanitor drops expired api_cache rows until ctx is done. Redis and the
// memory store expire entries on their own.
func (a *app) runJanitor(ctx context.Context) {
	if a.janitor == nil {
		return
	}

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.janitor.DeleteExpired(ctx, time.Now().UTC())
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithError(err).Warn("Failed to delete expired cache rows")
				continue
			}
			if n > 0 {
				a.logger.WithField("rows", n).Debug("Deleted expired cache rows")
			}
		}
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
