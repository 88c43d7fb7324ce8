package cooldown

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker keeps cooldown stamps in process memory. It is the
// fallback backend when Redis is not configured or unreachable.
type MemoryTracker struct {
	mu     sync.Mutex
	stamps map[string]time.Time
}

// NewMemoryTracker constructs a MemoryTracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{stamps: make(map[string]time.Time)}
}

// Set stores the stamp for the key.
func (t *MemoryTracker) Set(_ context.Context, key string, availableAt time.Time) error {
	if key == "" {
		return nil
	}
	t.mu.Lock()
	t.stamps[key] = availableAt
	t.mu.Unlock()
	return nil
}

// Get returns the active stamp for the key, pruning it once expired.
func (t *MemoryTracker) Get(_ context.Context, key string, now time.Time) (time.Time, error) {
	if key == "" {
		return time.Time{}, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	stamp, ok := t.stamps[key]
	if !ok {
		return time.Time{}, nil
	}
	if !stamp.After(now) {
		delete(t.stamps, key)
		return time.Time{}, nil
	}
	return stamp, nil
}
