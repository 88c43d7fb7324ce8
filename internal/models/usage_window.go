package models

import "time"

// Subject type values for usage windows.
const (
	// SubjectUser scopes a window to a single actor.
	SubjectUser = "user"
	// SubjectOrg scopes a window to an organization's pooled seats.
	SubjectOrg = "org"
)

// UsageWindow tracks run and token counters for one daily accounting
// period of a subject. A stale window is never mutated back to zero; a
// fresh row keyed by the next reset boundary supersedes it.
type UsageWindow struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	SubjectType string `gorm:"type:varchar(16);not null;uniqueIndex:uk_window_subject_reset,priority:1"`  // "user" or "org".
	SubjectID   string `gorm:"type:varchar(128);not null;uniqueIndex:uk_window_subject_reset,priority:2"` // Actor or org identifier.

	WindowStartAt time.Time `gorm:"not null"`                                              // Start of the current civil day.
	WindowResetAt time.Time `gorm:"not null;uniqueIndex:uk_window_subject_reset,priority:3"` // Next daily boundary, strictly after WindowStartAt.

	RunsUsed   int64 `gorm:"not null;default:0"` // Runs consumed in the window.
	TokensUsed int64 `gorm:"not null;default:0"` // Tokens consumed in the window.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
