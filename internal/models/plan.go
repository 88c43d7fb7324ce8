package models

import "time"

// Plan defines the per-tier cap table governing metered tool runs.
// Cap fields are immutable at runtime; they are only ever looked up.
type Plan struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Slug        string  `gorm:"type:varchar(64);not null;uniqueIndex"` // Stable plan identifier (e.g. "free", "pro_monthly").
	Name        string  `gorm:"type:varchar(255);not null"`            // Display name.
	MonthPrice  float64 `gorm:"type:decimal(10,2);not null;default:0"` // Monthly price, used to order upgrade suggestions.
	Description string  `gorm:"type:text"`                             // Plan description.

	DailyRunCap        int64 `gorm:"not null;default:0"`     // Tool runs allowed per daily window.
	DailyTokenCap      int64 `gorm:"not null;default:0"`     // Token allowance per daily window.
	RolloverCapTokens  int64 `gorm:"not null;default:0"`     // Max purchased tokens carried past a reset event.
	AllowsTokenOverage bool  `gorm:"not null;default:false"` // Whether runs may exceed the token allowance.

	SortOrder int  `gorm:"not null;default:0"`    // Display ordering weight.
	IsEnabled bool `gorm:"not null;default:true"` // Whether the plan is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
