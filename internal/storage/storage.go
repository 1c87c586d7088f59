// Package storage defines the narrow record-store interfaces the enrichment
// layer depends on, plus an in-process implementation.
package storage

import (
	"context"
	"errors"

	"github.com/ObiAU/disasterfeed/internal/models"
)

const DefaultListLimit = 20

var ErrNotFound = errors.New("storage: not found")

type PostStore interface {
	// InsertPosts stores posts whose ID is not yet known and returns only
	// those. Known posts are left untouched.
	InsertPosts(ctx context.Context, posts []models.NormalizedPost) ([]models.NormalizedPost, error)
	GetPost(ctx context.Context, id string) (models.NormalizedPost, error)
	ListRecentPosts(ctx context.Context, limit int) ([]models.NormalizedPost, error)
	UpdateLocation(ctx context.Context, id, location string) error
}

type IncidentStore interface {
	CreateDisaster(ctx context.Context, d models.Disaster) error
	CreateReport(ctx context.Context, r models.Report) error
	ListRecentDisasters(ctx context.Context, limit int) ([]models.Disaster, error)
	ListRecentReports(ctx context.Context, limit int) ([]models.Report, error)
}

type Store interface {
	PostStore
	IncidentStore
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
