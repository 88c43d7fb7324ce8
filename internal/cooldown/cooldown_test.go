package cooldown

import (
	"context"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/config"
)

func TestMemoryTrackerExpiry(t *testing.T) {
	tracker := NewMemoryTracker()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	availableAt := now.Add(30 * time.Second)

	if err := tracker.Set(ctx, "a1:summarize", availableAt); err != nil {
		t.Fatalf("set: %v", err)
	}

	stamp, err := tracker.Get(ctx, "a1:summarize", now)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stamp.Equal(availableAt) {
		t.Fatalf("expected stamp=%v, got %v", availableAt, stamp)
	}

	stamp, err = tracker.Get(ctx, "a1:summarize", availableAt)
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if !stamp.IsZero() {
		t.Fatalf("expected expired stamp pruned, got %v", stamp)
	}
}

func TestMemoryTrackerUnknownKey(t *testing.T) {
	tracker := NewMemoryTracker()
	stamp, err := tracker.Get(context.Background(), "missing", time.Now())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stamp.IsZero() {
		t.Fatalf("expected zero stamp, got %v", stamp)
	}
}

func TestManagerMemoryFallback(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mgr := NewManager(func() config.RedisConfig {
		return config.RedisConfig{}
	}, func() time.Time {
		return now
	}, nil)

	ctx := context.Background()
	if err := mgr.Start(ctx, "a1", "summarize", time.Minute); err != nil {
		t.Fatalf("start: %v", err)
	}

	stamp, err := mgr.AvailableAt(ctx, "a1", "summarize")
	if err != nil {
		t.Fatalf("available at: %v", err)
	}
	if !stamp.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected stamp=%v, got %v", now.Add(time.Minute), stamp)
	}

	stamp, err = mgr.AvailableAt(ctx, "a1", "other-tool")
	if err != nil {
		t.Fatalf("available at: %v", err)
	}
	if !stamp.IsZero() {
		t.Fatalf("expected no cooldown for other tool, got %v", stamp)
	}
}

func TestManagerZeroDurationIsNoop(t *testing.T) {
	mgr := NewManager(nil, nil, nil)
	ctx := context.Background()
	if err := mgr.Start(ctx, "a1", "summarize", 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	stamp, err := mgr.AvailableAt(ctx, "a1", "summarize")
	if err != nil {
		t.Fatalf("available at: %v", err)
	}
	if !stamp.IsZero() {
		t.Fatalf("expected no cooldown, got %v", stamp)
	}
}
