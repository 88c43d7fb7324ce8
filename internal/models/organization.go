package models

import "time"

// Organization represents an org whose plan pools across member seats.
// While a member acts with an active org that carries its own plan, the
// org cap table fully overrides the member's personal plan.
type Organization struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrgID string `gorm:"type:varchar(128);not null;uniqueIndex"` // External org identifier from the identity provider.
	Name  string `gorm:"type:varchar(255);not null"`             // Display name.

	PlanID *uint64 `gorm:"index"`             // Org-tier plan ID; nil means members keep personal caps.
	Plan   *Plan   `gorm:"foreignKey:PlanID"` // Org-tier plan.

	SeatCount int  `gorm:"not null;default:0"`    // Purchased seats.
	IsEnabled bool `gorm:"not null;default:true"` // Whether the org is active.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
