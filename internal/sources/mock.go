package sources

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ObiAU/disasterfeed/internal/models"
)

const PlatformMock = "mock"

type cannedPost struct {
	content  string
	username string
}

var cannedPosts = []cannedPost{
	{content: "#tsunamiwarning Coastal areas evacuating near Seattle", username: "emergency_bot"},
	{content: "Landslide blocking highway 101 in California #landslide #emergency", username: "traffic_alert"},
}

// MockClient serves canned posts so the dashboard has data without provider credentials.
type MockClient struct {
	now func() time.Time
}

func NewMockClient() *MockClient {
	return &MockClient{now: time.Now}
}

func (c *MockClient) FetchPosts(ctx context.Context, query string) ([]models.NormalizedPost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	createdAt := c.now().UTC()
	posts := make([]models.NormalizedPost, 0, len(cannedPosts))
	for i, canned := range cannedPosts {
		posts = append(posts, models.NormalizedPost{
			ID:               uuid.NewString(),
			Content:          canned.content,
			Username:         canned.username,
			Platform:         PlatformMock,
			DisasterKeywords: ExtractDisasterKeywords(canned.content),
			CreatedAt:        createdAt.Add(-time.Duration(i) * time.Second),
		})
	}

	return posts, nil
}

func (c *MockClient) GetName() string {
	return PlatformMock
}
