package models

import "time"

// BonusGrantReasonFeedback marks a grant issued for submitted feedback.
// At most one active feedback grant may exist per (actor, tool) pair.
const BonusGrantReasonFeedback = "feedback"

// BonusGrant awards extra free runs of one tool to one actor, outside
// normal plan and token accounting.
type BonusGrant struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ActorID  string `gorm:"type:varchar(128);not null;index:idx_bonus_actor_tool,priority:1"` // Receiving actor.
	ToolSlug string `gorm:"type:varchar(64);not null;index:idx_bonus_actor_tool,priority:2"`  // Tool the runs apply to.

	RunsGranted  int64 `gorm:"not null"`           // Total runs awarded; always > 0.
	RunsConsumed int64 `gorm:"not null;default:0"` // Runs used so far; never exceeds RunsGranted.

	ExpiresAt *time.Time `gorm:"index"` // Optional expiry; nil never expires.

	GrantedBy string `gorm:"type:varchar(128);not null"` // Issuer (admin id or "system").
	Reason    string `gorm:"type:varchar(64);not null"`  // Grant reason (e.g. "feedback").

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Remaining returns the unconsumed runs on this grant.
func (g *BonusGrant) Remaining() int64 {
	left := g.RunsGranted - g.RunsConsumed
	if left < 0 {
		return 0
	}
	return left
}

// ActiveAt reports whether the grant still has capacity and has not expired.
func (g *BonusGrant) ActiveAt(now time.Time) bool {
	if g.Remaining() <= 0 {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}
