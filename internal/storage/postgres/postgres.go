// Package postgres implements the record stores and the response cache table
// on PostgreSQL through database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ObiAU/disasterfeed/internal/models"
	"github.com/ObiAU/disasterfeed/internal/storage"
)

//go:embed schema.sql
var schema string

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const (
	insertPostQuery = `INSERT INTO social_media_posts
    (id, post_content, username, platform, disaster_keywords, location_extracted, created_at, verified)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`

	selectPostColumns = `SELECT id, post_content, username, platform, disaster_keywords, location_extracted, created_at, verified
FROM social_media_posts`
)

func (s *Store) InsertPosts(ctx context.Context, posts []models.NormalizedPost) ([]models.NormalizedPost, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert posts: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var inserted []models.NormalizedPost
	for _, p := range posts {
		keywords := p.DisasterKeywords
		if keywords == nil {
			keywords = []string{}
		}
		res, err := tx.ExecContext(ctx, insertPostQuery,
			p.ID, p.Content, p.Username, p.Platform, pq.Array(keywords), p.Location, p.CreatedAt, p.Verified)
		if err != nil {
			return nil, fmt.Errorf("insert post %s: %w", p.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert post %s: %w", p.ID, err)
		}
		if n > 0 {
			inserted = append(inserted, p)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert posts: %w", err)
	}
	return inserted, nil
}

func (s *Store) GetPost(ctx context.Context, id string) (models.NormalizedPost, error) {
	row := s.db.QueryRowContext(ctx, selectPostColumns+` WHERE id = $1`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NormalizedPost{}, storage.ErrNotFound
	}
	if err != nil {
		return models.NormalizedPost{}, fmt.Errorf("get post %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) ListRecentPosts(ctx context.Context, limit int) ([]models.NormalizedPost, error) {
	rows, err := s.db.QueryContext(ctx, selectPostColumns+` ORDER BY created_at DESC, id LIMIT $1`, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	posts := []models.NormalizedPost{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *Store) UpdateLocation(ctx context.Context, id, location string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE social_media_posts SET location_extracted = $1 WHERE id = $2`, location, id)
	if err != nil {
		return fmt.Errorf("update location %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update location %s: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateDisaster(ctx context.Context, d models.Disaster) error {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO disasters (id, title, location, description, tags, severity, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.Title, d.Location, d.Description, pq.Array(tags), string(d.Severity), d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert disaster %s: %w", d.ID, err)
	}
	return nil
}

func (s *Store) CreateReport(ctx context.Context, r models.Report) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, disaster_id, description, image_url, location, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.DisasterID, r.Description, r.ImageURL, r.Location, string(r.Status), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) ListRecentDisasters(ctx context.Context, limit int) ([]models.Disaster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, location, description, tags, severity, created_at FROM disasters ORDER BY created_at DESC, id LIMIT $1`,
		listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list disasters: %w", err)
	}
	defer rows.Close()

	disasters := []models.Disaster{}
	for rows.Next() {
		var (
			d        models.Disaster
			severity string
		)
		if err := rows.Scan(&d.ID, &d.Title, &d.Location, &d.Description, pq.Array(&d.Tags), &severity, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan disaster: %w", err)
		}
		d.Severity = models.Severity(severity)
		disasters = append(disasters, d)
	}
	return disasters, rows.Err()
}

func (s *Store) ListRecentReports(ctx context.Context, limit int) ([]models.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, disaster_id, description, image_url, location, status, created_at FROM reports ORDER BY created_at DESC, id LIMIT $1`,
		listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := []models.Report{}
	for rows.Next() {
		var (
			r      models.Report
			status string
		)
		if err := rows.Scan(&r.ID, &r.DisasterID, &r.Description, &r.ImageURL, &r.Location, &status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.Status = models.ReportStatus(status)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (models.NormalizedPost, error) {
	var (
		p        models.NormalizedPost
		location sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Content, &p.Username, &p.Platform, pq.Array(&p.DisasterKeywords), &location, &p.CreatedAt, &p.Verified); err != nil {
		return models.NormalizedPost{}, err
	}
	if location.Valid {
		loc := location.String
		p.Location = &loc
	}
	if p.DisasterKeywords == nil {
		p.DisasterKeywords = []string{}
	}
	return p, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return storage.DefaultListLimit
	}
	return limit
}
