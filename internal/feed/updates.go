package feed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultUpdateInterval = 30 * time.Second
	DefaultUpdateLimit    = 20

	StatusTitle       = "System Update"
	StatusDescription = "Emergency services are coordinating response efforts. Stay tuned for more updates."
)

// Updates is the synthetic live feed: every interval it prepends one status
// item and keeps only the most recent limit items.
type Updates struct {
	interval time.Duration
	limit    int
	logger   logrus.FieldLogger
	now      func() time.Time

	mu    sync.RWMutex
	items []Item
}

func NewUpdates(interval time.Duration, limit int, logger logrus.FieldLogger) *Updates {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	if limit <= 0 {
		limit = DefaultUpdateLimit
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Updates{
		interval: interval,
		limit:    limit,
		logger:   logger,
		now:      time.Now,
	}
}

// Tick appends one status update and returns it.
func (u *Updates) Tick() Item {
	item := Item{
		ID:          uuid.NewString(),
		Type:        ItemStatus,
		Title:       StatusTitle,
		Description: StatusDescription,
		Verified:    true,
		CreatedAt:   u.now().UTC(),
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	next := make([]Item, 0, u.limit)
	next = append(next, item)
	next = append(next, Limit(u.items, u.limit-1)...)
	u.items = next
	return item
}

// Snapshot returns the current items, newest first.
func (u *Updates) Snapshot() []Item {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]Item, len(u.items))
	copy(out, u.items)
	return out
}

func (u *Updates) Run(ctx context.Context) {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			item := u.Tick()
			u.logger.WithField("update_id", item.ID).Debug("Published status update")
		}
	}
}
