package cooldown

import (
	"context"
	"time"
)

// Tracker stores per-(actor, tool) cooldown stamps: the instant the tool
// becomes available again for that actor.
type Tracker interface {
	Set(ctx context.Context, key string, availableAt time.Time) error
	// Get returns the stored stamp; the zero time means no active cooldown.
	Get(ctx context.Context, key string, now time.Time) (time.Time, error)
}

// Key builds the tracker key for an (actor, tool) pair.
func Key(actorID, toolSlug string) string {
	return actorID + ":" + toolSlug
}
