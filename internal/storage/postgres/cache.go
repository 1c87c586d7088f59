package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ObiAU/disasterfeed/internal/cache"
)

// CacheStore persists response cache entries in the api_cache table. The
// value is kept as {"result": <value>} in response_data.
type CacheStore struct {
	db *sql.DB
}

var _ cache.Store = (*CacheStore)(nil)

func NewCacheStore(db *sql.DB) *CacheStore {
	return &CacheStore{db: db}
}

type responseData struct {
	Result string `json:"result"`
}

func (s *CacheStore) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	var (
		raw       []byte
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT response_data, expires_at FROM api_cache WHERE cache_key = $1`, key,
	).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("select cache %s: %w", key, err)
	}

	var data responseData
	if err := json.Unmarshal(raw, &data); err != nil {
		return cache.Entry{}, false, fmt.Errorf("decode cache %s: %w", key, err)
	}
	return cache.Entry{Key: key, Value: data.Result, ExpiresAt: expiresAt}, true, nil
}

func (s *CacheStore) Put(ctx context.Context, key, value string, expiresAt time.Time) error {
	payload, err := json.Marshal(responseData{Result: value})
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO api_cache (cache_key, response_data, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (cache_key) DO UPDATE SET response_data = EXCLUDED.response_data, expires_at = EXCLUDED.expires_at`,
		key, payload, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert cache %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes entries that can no longer be read.
func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_cache WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired cache: %w", err)
	}
	return res.RowsAffected()
}
