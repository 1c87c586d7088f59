package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. Expired entries are invisible to
// ResponseCache immediately and are physically removed by an hourly sweep.
type MemoryStore struct {
	mu            sync.RWMutex
	entries       map[string]Entry
	now           func() time.Time
	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
}

func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}

	s := &MemoryStore{
		entries:  make(map[string]Entry),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	s.cleanupTicker = time.NewTicker(sweepInterval)
	go s.cleanup()

	return s
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[key]
	return entry, exists, nil
}

func (s *MemoryStore) Put(ctx context.Context, key, value string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = Entry{Key: key, Value: value, ExpiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) cleanup() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.Sweep()
		case <-s.stopChan:
			return
		}
	}
}

// Sweep deletes every entry whose expiry is not in the future and returns how
// many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Close() {
	s.stopOnce.Do(func() {
		s.cleanupTicker.Stop()
		close(s.stopChan)
	})
}
