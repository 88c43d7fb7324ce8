package models

import "time"

// Metering modes recorded on a run.
const (
	// RunModeBonus marks a run paid by a bonus grant.
	RunModeBonus = "bonus_run"
	// RunModeTokens marks a run paid by token deduction.
	RunModeTokens = "tokens"
)

// RunRecord pins the metering outcome of one tool run to its caller
// supplied run id. The unique run id index is the idempotence gate: a
// retried request observes the first attempt's record instead of
// charging again.
type RunRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RunID    string `gorm:"type:varchar(128);not null;uniqueIndex"` // Caller-supplied correlation key.
	ActorID  string `gorm:"type:varchar(128);not null;index"`       // Charged actor.
	ToolSlug string `gorm:"type:varchar(64);not null"`              // Executed tool.

	Mode          string  `gorm:"type:varchar(16);not null"` // "bonus_run" or "tokens".
	ChargedTokens int64   `gorm:"not null;default:0"`        // Tokens charged (0 for bonus runs).
	BonusGrantID  *uint64 `gorm:"index"`                     // Grant consumed, when Mode is "bonus_run".

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
