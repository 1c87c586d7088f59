package aggregator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ObiAU/disasterfeed/internal/ai"
	"github.com/ObiAU/disasterfeed/internal/cache"
	"github.com/ObiAU/disasterfeed/internal/feed"
	"github.com/ObiAU/disasterfeed/internal/models"
	"github.com/ObiAU/disasterfeed/internal/storage"
	"github.com/ObiAU/disasterfeed/internal/upstream"
)

var base = time.Date(2024, 6, 20, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	name string

	mu      sync.Mutex
	posts   []models.NormalizedPost
	errs    []error
	queries []string
}

func (s *fakeSource) FetchPosts(ctx context.Context, query string) ([]models.NormalizedPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.posts, nil
}

func (s *fakeSource) GetName() string { return s.name }

func (s *fakeSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

type recordingNotifier struct {
	mu    sync.Mutex
	posts []models.NormalizedPost
}

func (n *recordingNotifier) Notify(ctx context.Context, posts []models.NormalizedPost) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts = append(n.posts, posts...)
}

type recordingObserver struct {
	mu       sync.Mutex
	calls    map[string]int
	ingested map[string]int
}

func newObserver() *recordingObserver {
	return &recordingObserver{calls: map[string]int{}, ingested: map[string]int{}}
}

func (o *recordingObserver) ObserveUpstream(service string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := "ok"
	if err != nil {
		result = upstream.Kind(err)
	}
	o.calls[service+":"+result]++
}

func (o *recordingObserver) PostsIngested(source string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ingested[source] += n
}

type scriptedGenerator struct {
	answer string
	calls  int
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls++
	return g.answer, nil
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func samplePosts() []models.NormalizedPost {
	return []models.NormalizedPost{
		{ID: "t1", Content: "Flood warning in Valencia", Username: "aemet", Platform: "twitter", DisasterKeywords: []string{"flood", "warning"}, CreatedAt: base},
		{ID: "t2", Content: "Wildfire near Athens", Username: "ert", Platform: "twitter", DisasterKeywords: []string{"wildfire"}, CreatedAt: base.Add(-time.Hour)},
	}
}

type fixture struct {
	agg      *Aggregator
	store    *storage.MemoryStore
	gen      *scriptedGenerator
	notifier *recordingNotifier
	observer *recordingObserver
	updates  *feed.Updates
}

func newFixture(t *testing.T, opts Options, srcs ...models.PostSource) fixture {
	t.Helper()

	memCache := cache.NewMemoryStore(time.Hour)
	t.Cleanup(memCache.Close)
	gen := &scriptedGenerator{answer: "Valencia, Spain"}
	analyzer := ai.NewAnalyzer(gen, cache.New(memCache, cache.Options{Logger: quiet()}), 24, quiet())

	store := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	observer := newObserver()
	updates := feed.NewUpdates(time.Hour, 20, quiet())

	opts.Notifier = notifier
	opts.Observer = observer
	opts.Updates = updates
	opts.Logger = quiet()

	return fixture{
		agg:      New(srcs, store, analyzer, opts),
		store:    store,
		gen:      gen,
		notifier: notifier,
		observer: observer,
		updates:  updates,
	}
}

func TestFetchPostsPersistsAndNotifiesOnce(t *testing.T) {
	src := &fakeSource{name: "twitter", posts: samplePosts()}
	f := newFixture(t, Options{}, src)
	ctx := context.Background()

	posts, err := f.agg.FetchPosts(ctx, "flood OR wildfire")
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	_, err = f.agg.FetchPosts(ctx, "flood OR wildfire")
	require.NoError(t, err)

	stored, err := f.store.ListRecentPosts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Len(t, f.notifier.posts, 2)
	assert.Equal(t, 2, f.observer.ingested["twitter"])
	assert.Equal(t, 2, f.observer.calls["twitter:ok"])
}

func TestFetchPostsDefaultQuery(t *testing.T) {
	src := &fakeSource{name: "twitter"}
	f := newFixture(t, Options{Query: "earthquake"}, src)

	_, err := f.agg.FetchPosts(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"earthquake"}, src.queries)
}

func TestFetchPostsDoesNotRetry(t *testing.T) {
	failure := &upstream.UpstreamError{Service: "twitter", StatusCode: 503, Body: "over capacity"}
	src := &fakeSource{name: "twitter", errs: []error{failure}}
	f := newFixture(t, Options{Retry: upstream.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}}, src)

	_, err := f.agg.FetchPosts(context.Background(), "")
	require.ErrorIs(t, err, failure)
	assert.Equal(t, 1, src.calls())
	assert.Equal(t, 1, f.observer.calls["twitter:upstream"])

	stored, err := f.store.ListRecentPosts(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestFetchPostsWithoutSources(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.agg.FetchPosts(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRefreshPostsRetriesTransientFailures(t *testing.T) {
	twitter := &fakeSource{
		name:  "twitter",
		posts: samplePosts(),
		errs:  []error{&upstream.TransportError{Op: "GET twitter", Err: errors.New("connection reset")}},
	}
	mock := &fakeSource{name: "mock", posts: []models.NormalizedPost{{ID: "m1", Content: "Earthquake drill", Platform: "mock", CreatedAt: base}}}
	f := newFixture(t, Options{Retry: upstream.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}}, twitter, mock)

	n, err := f.agg.RefreshPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, twitter.calls())
	assert.Equal(t, 1, mock.calls())

	n, err = f.agg.RefreshPosts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	stats := f.agg.Stats()
	assert.Equal(t, int64(2), stats["refreshes"])
	assert.Equal(t, int64(3), stats["posts_ingested"])
	assert.Contains(t, stats, "last_refresh")
}

func TestRefreshPostsPartialAndTotalFailure(t *testing.T) {
	badCreds := &upstream.UpstreamError{Service: "twitter", StatusCode: 401, Body: "unauthorized"}

	twitter := &fakeSource{name: "twitter", errs: []error{badCreds}}
	mock := &fakeSource{name: "mock", posts: []models.NormalizedPost{{ID: "m1", CreatedAt: base}}}
	f := newFixture(t, Options{Retry: upstream.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}}, twitter, mock)

	n, err := f.agg.RefreshPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, twitter.calls(), "client errors are not retried")

	onlyTwitter := &fakeSource{name: "twitter", errs: []error{badCreds}}
	f = newFixture(t, Options{}, onlyTwitter)
	_, err = f.agg.RefreshPosts(context.Background())
	require.ErrorIs(t, err, badCreds)
	assert.Equal(t, int64(1), f.agg.Stats()["refresh_errors"])
}

func TestExtractLocationWritesBack(t *testing.T) {
	src := &fakeSource{name: "twitter", posts: samplePosts()}
	f := newFixture(t, Options{}, src)
	ctx := context.Background()

	_, err := f.agg.FetchPosts(ctx, "")
	require.NoError(t, err)

	post, err := f.agg.ExtractLocation(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, post.Location)
	assert.Equal(t, "Valencia, Spain", *post.Location)

	stored, err := f.store.GetPost(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, stored.Location)
	assert.Equal(t, "Valencia, Spain", *stored.Location)

	_, err = f.agg.ExtractLocation(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.gen.calls, "second extraction is served from cache")

	_, err = f.agg.ExtractLocation(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestVerifyImage(t *testing.T) {
	f := newFixture(t, Options{})
	f.gen.answer = `{"isAuthentic": true, "confidence": 77, "analysis": "flood water consistent"}`

	got, err := f.agg.VerifyImage(context.Background(), "https://example.com/flood.jpg")
	require.NoError(t, err)
	assert.Equal(t, 77.0, got.Confidence)

	for _, bad := range []string{"", "not a url", "ftp://example.com/a.jpg", "/relative.jpg"} {
		_, err := f.agg.VerifyImage(context.Background(), bad)
		assert.ErrorIs(t, err, ErrInvalidInput, bad)
	}
}

func TestFeedMergesAllKinds(t *testing.T) {
	src := &fakeSource{name: "twitter", posts: samplePosts()}
	f := newFixture(t, Options{FeedLimit: 20}, src)
	ctx := context.Background()

	_, err := f.agg.FetchPosts(ctx, "")
	require.NoError(t, err)

	disaster, err := f.agg.AddDisaster(ctx, models.Disaster{Title: "Valencia floods", Description: "Flash floods", CreatedAt: base.Add(-2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, models.SeverityModerate, disaster.Severity)

	report, err := f.agg.AddReport(ctx, models.Report{DisasterID: disaster.ID, Description: "Water rising", Status: models.ReportVerified, CreatedAt: base.Add(-30 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, report.Status, "new reports always start pending")

	f.updates.Tick()

	items, err := f.agg.Feed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 5)

	assert.Equal(t, feed.ItemStatus, items[0].Type)
	assert.Equal(t, "t1", items[1].ID)
	assert.Equal(t, feed.ItemReport, items[2].Type)
	assert.Equal(t, "Valencia floods", items[2].Title)
	assert.Equal(t, "t2", items[3].ID)
	assert.Equal(t, feed.ItemDisaster, items[4].Type)

	limited, err := f.agg.Feed(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestAddValidation(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.agg.AddDisaster(context.Background(), models.Disaster{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.agg.AddReport(context.Background(), models.Report{DisasterID: "d1"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRunPollsUntilCancelled(t *testing.T) {
	src := &fakeSource{name: "twitter", posts: samplePosts()}
	f := newFixture(t, Options{PollInterval: 10 * time.Millisecond}, src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.agg.Run(ctx) }()

	require.Eventually(t, func() bool { return src.calls() >= 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.agg.IsRunning())
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, f.agg.IsRunning())
}

func TestSearchFailureLogsDecodePayload(t *testing.T) {
	src := &fakeSource{name: "twitter", errs: []error{
		&upstream.DecodeError{Service: "twitter", Payload: `{"statuses":[BROKEN`, Err: errors.New("invalid character")},
	}}
	f := newFixture(t, Options{}, src)

	var out bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&out)
	logger.SetFormatter(&logrus.JSONFormatter{})
	f.agg.logger = logger

	_, err := f.agg.FetchPosts(context.Background(), "flood")
	require.Error(t, err)

	assert.Contains(t, out.String(), `"error_kind":"decode"`)
	assert.Contains(t, out.String(), `"payload":"{\"statuses\":[BROKEN"`)
	assert.Contains(t, out.String(), `"source":"twitter"`)
}
