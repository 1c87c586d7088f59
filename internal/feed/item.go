package feed

import (
	"time"

	"github.com/ObiAU/disasterfeed/internal/models"
)

type ItemType string

const (
	ItemReport   ItemType = "report"
	ItemDisaster ItemType = "disaster"
	ItemPost     ItemType = "post"
	ItemStatus   ItemType = "status"
)

const descriptionPreviewLen = 100

// Item is one row of the merged timeline. Verified carries the provider's
// account flag for posts; Status carries moderation state for reports.
type Item struct {
	ID          string    `json:"id"`
	Type        ItemType  `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	Status      string    `json:"status,omitempty"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"timestamp"`
}

func (i Item) Timestamp() time.Time { return i.CreatedAt }

func FromReport(r models.Report, disasters map[string]models.Disaster) Item {
	title := "Unknown Disaster"
	if d, ok := disasters[r.DisasterID]; ok {
		title = d.Title
	}
	return Item{
		ID:          r.ID,
		Type:        ItemReport,
		Title:       title,
		Description: r.Description,
		Location:    r.Location,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
	}
}

func FromDisaster(d models.Disaster) Item {
	return Item{
		ID:          d.ID,
		Type:        ItemDisaster,
		Title:       d.Title,
		Description: "New disaster event: " + preview(d.Description),
		Location:    d.Location,
		Keywords:    d.Tags,
		CreatedAt:   d.CreatedAt,
	}
}

func FromPost(p models.NormalizedPost) Item {
	item := Item{
		ID:          p.ID,
		Type:        ItemPost,
		Title:       "@" + p.Username,
		Description: p.Content,
		Platform:    p.Platform,
		Keywords:    p.DisasterKeywords,
		Verified:    p.Verified,
		CreatedAt:   p.CreatedAt,
	}
	if p.Location != nil {
		item.Location = *p.Location
	}
	return item
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= descriptionPreviewLen {
		return s
	}
	return string(r[:descriptionPreviewLen]) + "..."
}
