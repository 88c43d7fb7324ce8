package clock

import (
	"fmt"
	"time"
)

// Resolver converts wall-clock time into daily window boundaries for a
// fixed time zone. Boundaries are civil-day starts, so a window spans 23
// or 25 UTC hours across daylight-saving transitions.
type Resolver struct {
	loc *time.Location
}

// NewResolver loads the IANA zone the daily windows are pinned to.
func NewResolver(timezone string) (*Resolver, error) {
	loc, errLoad := time.LoadLocation(timezone)
	if errLoad != nil {
		return nil, fmt.Errorf("clock: load timezone %q: %w", timezone, errLoad)
	}
	return &Resolver{loc: loc}, nil
}

// Location returns the pinned time zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// WindowStart returns the start of the current civil day containing now.
func (r *Resolver) WindowStart(now time.Time) time.Time {
	local := now.In(r.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)
}

// NextReset returns the start of the next civil day, strictly after now.
func (r *Resolver) NextReset(now time.Time) time.Time {
	local := now.In(r.loc)
	// Civil-date arithmetic, not Add(24h), so DST days resolve to the
	// correct next midnight.
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, r.loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+2, 0, 0, 0, 0, r.loc)
	}
	return next
}
