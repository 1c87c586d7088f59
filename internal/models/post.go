package models

import (
	"context"
	"time"
)

type NormalizedPost struct {
	ID               string    `json:"id"`
	Content          string    `json:"post_content"`
	Username         string    `json:"username"`
	Platform         string    `json:"platform"`
	DisasterKeywords []string  `json:"disaster_keywords"`
	Location         *string   `json:"location_extracted"`
	CreatedAt        time.Time `json:"created_at"`
	// Verified is the provider's account verification flag, not moderation state.
	Verified bool `json:"verified"`
}

func (p NormalizedPost) Timestamp() time.Time { return p.CreatedAt }

// PostSource is a social platform that can be searched for disaster posts.
type PostSource interface {
	FetchPosts(ctx context.Context, query string) ([]NormalizedPost, error)
	GetName() string
}

type ImageVerification struct {
	IsAuthentic bool    `json:"isAuthentic"`
	Confidence  float64 `json:"confidence"`
	Analysis    string  `json:"analysis"`
}

type AlertSubscription struct {
	UserID       int64    `json:"user_id"`
	ChatID       int64    `json:"chat_id"`
	Keywords     []string `json:"keywords"`
	Platforms    []string `json:"platforms"`
	VerifiedOnly bool     `json:"verified_only"`
	Enabled      bool     `json:"enabled"`
}
