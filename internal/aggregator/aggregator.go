package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ObiAU/disasterfeed/internal/ai"
	"github.com/ObiAU/disasterfeed/internal/feed"
	"github.com/ObiAU/disasterfeed/internal/models"
	"github.com/ObiAU/disasterfeed/internal/sources"
	"github.com/ObiAU/disasterfeed/internal/storage"
	"github.com/ObiAU/disasterfeed/internal/upstream"
)

var ErrInvalidInput = errors.New("invalid input")

// Notifier receives posts the store had not seen before.
type Notifier interface {
	Notify(ctx context.Context, posts []models.NormalizedPost)
}

// Observer records ingestion and outbound call outcomes.
type Observer interface {
	ObserveUpstream(service string, err error)
	PostsIngested(source string, n int)
}

type Options struct {
	Query        string
	PollInterval time.Duration
	FeedLimit    int
	Retry        upstream.RetryConfig
	Notifier     Notifier
	Observer     Observer
	Updates      *feed.Updates
	Logger       logrus.FieldLogger
}

// Aggregator is the enrichment layer: it searches the post sources, persists
// what they return, enriches stored posts and assembles the merged feed.
type Aggregator struct {
	sources  []models.PostSource
	store    storage.Store
	analyzer *ai.Analyzer
	opts     Options
	logger   logrus.FieldLogger

	mu          sync.RWMutex
	running     bool
	lastRefresh time.Time

	refreshes     atomic.Int64
	refreshErrors atomic.Int64
	ingested      atomic.Int64
}

func New(postSources []models.PostSource, store storage.Store, analyzer *ai.Analyzer, opts Options) *Aggregator {
	if opts.Query == "" {
		opts.Query = sources.DefaultQuery
	}
	if opts.FeedLimit <= 0 {
		opts.FeedLimit = feed.DefaultUpdateLimit
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Updates == nil {
		opts.Updates = feed.NewUpdates(feed.DefaultUpdateInterval, opts.FeedLimit, opts.Logger)
	}

	return &Aggregator{
		sources:  postSources,
		store:    store,
		analyzer: analyzer,
		opts:     opts,
		logger:   opts.Logger.WithField("component", "aggregator"),
	}
}

// FetchPosts runs one search against the primary source and persists the
// result. It makes a single attempt; retrying is left to the caller.
func (a *Aggregator) FetchPosts(ctx context.Context, query string) ([]models.NormalizedPost, error) {
	if len(a.sources) == 0 {
		return nil, fmt.Errorf("%w: no post source configured", ErrInvalidInput)
	}
	if strings.TrimSpace(query) == "" {
		query = a.opts.Query
	}

	src := a.sources[0]
	posts, err := src.FetchPosts(ctx, query)
	a.observe(src.GetName(), err)
	if err != nil {
		a.logger.WithError(err).WithFields(upstream.LogFields(err)).
			WithField("source", src.GetName()).Error("Search failed")
		return nil, err
	}

	if _, err := a.persist(ctx, src.GetName(), posts); err != nil {
		a.logger.WithError(err).WithField("source", src.GetName()).Warn("Failed to persist posts")
	}
	return posts, nil
}

// RefreshPosts queries every source concurrently with caller-side retries and
// returns how many previously unseen posts were stored. It fails only when
// every source failed.
func (a *Aggregator) RefreshPosts(ctx context.Context) (int, error) {
	a.refreshes.Add(1)

	results := make([][]models.NormalizedPost, len(a.sources))
	errs := make([]error, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			posts, err := upstream.Retry(gctx, a.opts.Retry, func(ctx context.Context) ([]models.NormalizedPost, error) {
				posts, err := src.FetchPosts(ctx, a.opts.Query)
				a.observe(src.GetName(), err)
				return posts, err
			})
			if err != nil {
				a.logger.WithError(err).WithFields(upstream.LogFields(err)).
					WithField("source", src.GetName()).Error("Error fetching posts")
				errs[i] = fmt.Errorf("%s: %w", src.GetName(), err)
				return nil
			}
			results[i] = posts
			return nil
		})
	}
	_ = g.Wait()

	total := 0
	failed := 0
	for i, src := range a.sources {
		if errs[i] != nil {
			failed++
			continue
		}
		n, err := a.persist(ctx, src.GetName(), results[i])
		if err != nil {
			errs[i] = fmt.Errorf("%s: %w", src.GetName(), err)
			failed++
			continue
		}
		total += n
	}

	a.mu.Lock()
	a.lastRefresh = time.Now().UTC()
	a.mu.Unlock()

	if len(a.sources) > 0 && failed == len(a.sources) {
		a.refreshErrors.Add(1)
		return 0, errors.Join(errs...)
	}
	if total > 0 {
		a.logger.WithField("new_posts", total).Info("Stored new posts")
	}
	return total, nil
}

func (a *Aggregator) persist(ctx context.Context, source string, posts []models.NormalizedPost) (int, error) {
	inserted, err := a.store.InsertPosts(ctx, posts)
	if err != nil {
		return 0, err
	}

	a.ingested.Add(int64(len(inserted)))
	if a.opts.Observer != nil {
		a.opts.Observer.PostsIngested(source, len(inserted))
	}
	if len(inserted) > 0 && a.opts.Notifier != nil {
		a.opts.Notifier.Notify(ctx, inserted)
	}
	return len(inserted), nil
}

// ExtractLocation asks the analyzer for the location named in a stored post
// and writes it back.
func (a *Aggregator) ExtractLocation(ctx context.Context, postID string) (models.NormalizedPost, error) {
	post, err := a.store.GetPost(ctx, postID)
	if err != nil {
		return models.NormalizedPost{}, err
	}

	location, err := a.analyzer.ExtractLocation(ctx, post.Content)
	if err != nil {
		return models.NormalizedPost{}, err
	}

	if err := a.store.UpdateLocation(ctx, postID, location); err != nil {
		return models.NormalizedPost{}, err
	}
	post.Location = &location
	return post, nil
}

func (a *Aggregator) VerifyImage(ctx context.Context, imageURL string) (models.ImageVerification, error) {
	u, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.ImageVerification{}, fmt.Errorf("%w: image_url must be an absolute http(s) URL", ErrInvalidInput)
	}
	return a.analyzer.VerifyImage(ctx, u.String())
}

func (a *Aggregator) RecentPosts(ctx context.Context, limit int) ([]models.NormalizedPost, error) {
	return a.store.ListRecentPosts(ctx, limit)
}

// Feed merges reports, disasters, posts and synthetic status updates newest
// first and returns at most limit items.
func (a *Aggregator) Feed(ctx context.Context, limit int) ([]feed.Item, error) {
	if limit <= 0 {
		limit = a.opts.FeedLimit
	}

	disasters, err := a.store.ListRecentDisasters(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list disasters: %w", err)
	}
	reports, err := a.store.ListRecentReports(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	posts, err := a.store.ListRecentPosts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}

	byID := make(map[string]models.Disaster, len(disasters))
	disasterItems := make([]feed.Item, 0, len(disasters))
	for _, d := range disasters {
		byID[d.ID] = d
		disasterItems = append(disasterItems, feed.FromDisaster(d))
	}

	reportItems := make([]feed.Item, 0, len(reports))
	for _, r := range reports {
		reportItems = append(reportItems, feed.FromReport(r, byID))
	}

	postItems := make([]feed.Item, 0, len(posts))
	for _, p := range posts {
		postItems = append(postItems, feed.FromPost(p))
	}

	merged := feed.Merge(a.opts.Updates.Snapshot(), reportItems, disasterItems, postItems)
	return feed.Limit(merged, limit), nil
}

func (a *Aggregator) AddDisaster(ctx context.Context, d models.Disaster) (models.Disaster, error) {
	if strings.TrimSpace(d.Title) == "" {
		return models.Disaster{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Severity == "" {
		d.Severity = models.SeverityModerate
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if err := a.store.CreateDisaster(ctx, d); err != nil {
		return models.Disaster{}, err
	}
	return d, nil
}

// AddReport stores a field report. New reports always start pending review.
func (a *Aggregator) AddReport(ctx context.Context, r models.Report) (models.Report, error) {
	if strings.TrimSpace(r.DisasterID) == "" || strings.TrimSpace(r.Description) == "" {
		return models.Report{}, fmt.Errorf("%w: disaster_id and description are required", ErrInvalidInput)
	}
	r.ID = uuid.NewString()
	r.Status = models.ReportPending
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := a.store.CreateReport(ctx, r); err != nil {
		return models.Report{}, err
	}
	return r, nil
}

// Run drives the synthetic update feed and, when a poll interval is set, the
// periodic source refresh until ctx is done.
func (a *Aggregator) Run(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.opts.Updates.Run(ctx)
	}()

	if a.opts.PollInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.pollLoop(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	a.logger.Info("Aggregator stopped")
	return nil
}

func (a *Aggregator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	a.refreshOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshOnce(ctx)
		}
	}
}

func (a *Aggregator) refreshOnce(ctx context.Context) {
	if _, err := a.RefreshPosts(ctx); err != nil && ctx.Err() == nil {
		a.logger.WithError(err).Error("Error refreshing posts")
	}
}

func (a *Aggregator) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

func (a *Aggregator) Stats() map[string]interface{} {
	a.mu.RLock()
	lastRefresh := a.lastRefresh
	a.mu.RUnlock()

	names := make([]string, 0, len(a.sources))
	for _, src := range a.sources {
		names = append(names, src.GetName())
	}

	stats := map[string]interface{}{
		"running":        a.IsRunning(),
		"sources":        names,
		"refreshes":      a.refreshes.Load(),
		"refresh_errors": a.refreshErrors.Load(),
		"posts_ingested": a.ingested.Load(),
	}
	if !lastRefresh.IsZero() {
		stats["last_refresh"] = lastRefresh.Format(time.RFC3339)
	}
	return stats
}

func (a *Aggregator) observe(service string, err error) {
	if a.opts.Observer != nil {
		a.opts.Observer.ObserveUpstream(service, err)
	}
}
