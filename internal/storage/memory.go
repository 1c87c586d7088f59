package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/ObiAU/disasterfeed/internal/feed"
	"github.com/ObiAU/disasterfeed/internal/models"
)

type MemoryStore struct {
	mu        sync.RWMutex
	posts     map[string]models.NormalizedPost
	disasters []models.Disaster
	reports   []models.Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{posts: make(map[string]models.NormalizedPost)}
}

func (s *MemoryStore) InsertPosts(ctx context.Context, posts []models.NormalizedPost) ([]models.NormalizedPost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted []models.NormalizedPost
	for _, p := range posts {
		if _, exists := s.posts[p.ID]; exists {
			continue
		}
		s.posts[p.ID] = clonePost(p)
		inserted = append(inserted, p)
	}
	return inserted, nil
}

func (s *MemoryStore) GetPost(ctx context.Context, id string) (models.NormalizedPost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return models.NormalizedPost{}, ErrNotFound
	}
	return clonePost(p), nil
}

func (s *MemoryStore) ListRecentPosts(ctx context.Context, limit int) ([]models.NormalizedPost, error) {
	s.mu.RLock()
	all := make([]models.NormalizedPost, 0, len(s.posts))
	for _, p := range s.posts {
		all = append(all, clonePost(p))
	}
	s.mu.RUnlock()

	// Map iteration is random, so equal timestamps are ordered by ID first.
	sortByID(all)
	return feed.Limit(feed.Merge(all), normalizeLimit(limit)), nil
}

func (s *MemoryStore) UpdateLocation(ctx context.Context, id, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return ErrNotFound
	}
	p.Location = &location
	s.posts[id] = p
	return nil
}

func (s *MemoryStore) CreateDisaster(ctx context.Context, d models.Disaster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disasters = append(s.disasters, d)
	return nil
}

func (s *MemoryStore) CreateReport(ctx context.Context, r models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *MemoryStore) ListRecentDisasters(ctx context.Context, limit int) ([]models.Disaster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return feed.Limit(feed.Merge(s.disasters), normalizeLimit(limit)), nil
}

func (s *MemoryStore) ListRecentReports(ctx context.Context, limit int) ([]models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return feed.Limit(feed.Merge(s.reports), normalizeLimit(limit)), nil
}

func clonePost(p models.NormalizedPost) models.NormalizedPost {
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	if p.DisasterKeywords != nil {
		p.DisasterKeywords = append([]string(nil), p.DisasterKeywords...)
	}
	return p
}

func sortByID(posts []models.NormalizedPost) {
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
}
