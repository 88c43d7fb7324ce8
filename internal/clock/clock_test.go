package clock

import (
	"testing"
	"time"
)

func mustResolver(t *testing.T, tz string) *Resolver {
	t.Helper()
	r, err := NewResolver(tz)
	if err != nil {
		t.Fatalf("load timezone %s: %v", tz, err)
	}
	return r
}

func TestWindowStart(t *testing.T) {
	r := mustResolver(t, "America/Chicago")

	// 2025-06-15 03:30 UTC is 2025-06-14 22:30 in Chicago (CDT).
	now := time.Date(2025, 6, 15, 3, 30, 0, 0, time.UTC)
	start := r.WindowStart(now)

	want := time.Date(2025, 6, 14, 0, 0, 0, 0, r.Location())
	if !start.Equal(want) {
		t.Fatalf("expected start=%v, got %v", want, start)
	}
}

func TestNextResetStrictlyAfterNow(t *testing.T) {
	r := mustResolver(t, "America/Chicago")

	midnight := time.Date(2025, 6, 14, 0, 0, 0, 0, r.Location())
	next := r.NextReset(midnight)
	if !next.After(midnight) {
		t.Fatalf("expected reset after now, got %v", next)
	}
	if got := next.Sub(midnight); got != 24*time.Hour {
		t.Fatalf("expected a 24h day, got %v", got)
	}
}

func TestNextResetSpringForward(t *testing.T) {
	r := mustResolver(t, "America/Chicago")

	// DST starts 2025-03-09 in Chicago; that civil day has 23 UTC hours.
	now := time.Date(2025, 3, 9, 1, 0, 0, 0, r.Location())
	next := r.NextReset(now)

	want := time.Date(2025, 3, 10, 0, 0, 0, 0, r.Location())
	if !next.Equal(want) {
		t.Fatalf("expected reset=%v, got %v", want, next)
	}
	start := r.WindowStart(now)
	if got := next.Sub(start); got != 23*time.Hour {
		t.Fatalf("expected a 23h day, got %v", got)
	}
}

func TestNextResetFallBack(t *testing.T) {
	r := mustResolver(t, "America/Chicago")

	// DST ends 2025-11-02 in Chicago; that civil day has 25 UTC hours.
	now := time.Date(2025, 11, 2, 12, 0, 0, 0, r.Location())
	start := r.WindowStart(now)
	next := r.NextReset(now)

	if got := next.Sub(start); got != 25*time.Hour {
		t.Fatalf("expected a 25h day, got %v", got)
	}
}

func TestNewResolverRejectsUnknownZone(t *testing.T) {
	if _, err := NewResolver("Not/AZone"); err == nil {
		t.Fatalf("expected error for unknown zone, got nil")
	}
}
