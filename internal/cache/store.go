package cache

import (
	"context"
	"time"
)

// Entry is one stored response. Value is the verbatim string returned by the
// wrapped call.
type Entry struct {
	Key       string
	Value     string
	ExpiresAt time.Time
}

// Store is the narrow backing-store contract used by ResponseCache. Stores
// need not filter expired entries; ResponseCache decides freshness.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key, value string, expiresAt time.Time) error
}
