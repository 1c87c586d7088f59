package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ObiAU/disasterfeed/internal/models"
	"github.com/ObiAU/disasterfeed/internal/oauth"
	"github.com/ObiAU/disasterfeed/internal/upstream"
)

const (
	DefaultTwitterSearchURL = "https://api.twitter.com/1.1/search/tweets.json"
	DefaultQuery            = "disaster OR earthquake OR flood OR hurricane OR wildfire OR emergency"
	DefaultPageSize         = 10
	PlatformTwitter         = "twitter"

	twitterService = "twitter"
	userAgent      = "DisasterResponseApp/1.0"
)

type TwitterConfig struct {
	Credentials     oauth.Credentials
	SearchURL       string
	PageSize        int
	IncludeEntities bool
}

type TwitterClient struct {
	signer          *oauth.Signer
	searchURL       string
	pageSize        int
	includeEntities bool
	client          upstream.Doer
}

type twitterSearchResponse struct {
	Statuses []twitterStatus `json:"statuses"`
}

type twitterStatus struct {
	IDStr     string `json:"id_str"`
	Text      string `json:"text"`
	FullText  string `json:"full_text"`
	CreatedAt string `json:"created_at"`
	User      struct {
		ScreenName string `json:"screen_name"`
		Location   string `json:"location"`
		Verified   bool   `json:"verified"`
	} `json:"user"`
}

// NewTwitterClient fails with *upstream.ConfigurationError when either
// credential is empty, so no request is ever sent with a blank key.
func NewTwitterClient(cfg TwitterConfig, client upstream.Doer) (*TwitterClient, error) {
	signer, err := oauth.NewSigner(cfg.Credentials)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.SearchURL) == "" {
		cfg.SearchURL = DefaultTwitterSearchURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if client == nil {
		client = upstream.NewHTTPClient(30 * time.Second)
	}

	return &TwitterClient{
		signer:          signer,
		searchURL:       cfg.SearchURL,
		pageSize:        cfg.PageSize,
		includeEntities: cfg.IncludeEntities,
		client:          client,
	}, nil
}

// Signer exposes the request signer so tests can pin the nonce and clock.
func (c *TwitterClient) Signer() *oauth.Signer {
	return c.signer
}

// SearchParams is the query-parameter half of the signed parameter set.
func (c *TwitterClient) SearchParams(query string) map[string]string {
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}
	return map[string]string{
		"q":                query,
		"count":            strconv.Itoa(c.pageSize),
		"result_type":      "recent",
		"include_entities": strconv.FormatBool(c.includeEntities),
	}
}

// NewSearchRequest builds the signed GET request. The nonce and timestamp are
// taken here, at construction time.
func (c *TwitterClient) NewSearchRequest(ctx context.Context, query string) (*http.Request, error) {
	params := c.SearchParams(query)

	header, err := c.signer.Authorize(http.MethodGet, c.searchURL, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.searchURL+"?"+oauth.NormalizeParams(params), nil)
	if err != nil {
		return nil, fmt.Errorf("create twitter request: %w", err)
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	return req, nil
}

// FetchPosts issues exactly one search request and normalizes every status.
func (c *TwitterClient) FetchPosts(ctx context.Context, query string) ([]models.NormalizedPost, error) {
	req, err := c.NewSearchRequest(ctx, query)
	if err != nil {
		return nil, err
	}

	body, err := upstream.Execute(c.client, twitterService, req)
	if err != nil {
		return nil, err
	}

	var apiResp twitterSearchResponse
	if err := upstream.DecodeJSON(twitterService, body, &apiResp); err != nil {
		return nil, err
	}

	posts := make([]models.NormalizedPost, 0, len(apiResp.Statuses))
	for _, status := range apiResp.Statuses {
		post, err := normalizeStatus(status)
		if err != nil {
			raw, _ := json.Marshal(status)
			return nil, &upstream.DecodeError{Service: twitterService, Payload: string(raw), Err: err}
		}
		posts = append(posts, post)
	}

	return posts, nil
}

func (c *TwitterClient) GetName() string {
	return PlatformTwitter
}

func normalizeStatus(status twitterStatus) (models.NormalizedPost, error) {
	createdAt, err := time.Parse(time.RubyDate, status.CreatedAt)
	if err != nil {
		return models.NormalizedPost{}, fmt.Errorf("parse created_at of status %s: %w", status.IDStr, err)
	}

	content := status.Text
	if content == "" {
		content = status.FullText
	}

	var location *string
	if loc := strings.TrimSpace(status.User.Location); loc != "" {
		location = &loc
	}

	return models.NormalizedPost{
		ID:               status.IDStr,
		Content:          content,
		Username:         status.User.ScreenName,
		Platform:         PlatformTwitter,
		DisasterKeywords: ExtractDisasterKeywords(content),
		Location:         location,
		CreatedAt:        createdAt.UTC(),
		Verified:         status.User.Verified,
	}, nil
}
