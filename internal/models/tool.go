package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Tool holds the static per-tool metering configuration.
type Tool struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Slug        string `gorm:"type:varchar(64);not null;uniqueIndex"` // Stable tool identifier.
	Name        string `gorm:"type:varchar(255);not null"`            // Display name.
	Description string `gorm:"type:text"`                             // Tool description.

	TokensPerRun    int64          `gorm:"not null;default:0"`               // Token cost of one run.
	IncludedInPlans datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'"` // Plan slugs whose subscription includes this tool.
	DailyRunsByPlan datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Per-plan daily run cap overrides.
	CooldownSeconds int            `gorm:"not null;default:0"`               // Cooldown applied after each successful run.

	Enabled bool `gorm:"not null;default:true"` // Whether the tool accepts runs.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IncludesPlan reports whether the plan slug is in the tool's inclusion set.
func (t *Tool) IncludesPlan(planSlug string) bool {
	planSlug = strings.TrimSpace(planSlug)
	if planSlug == "" {
		return false
	}
	var slugs []string
	if errUnmarshal := json.Unmarshal(t.IncludedInPlans, &slugs); errUnmarshal != nil {
		return false
	}
	for _, slug := range slugs {
		if slug == planSlug {
			return true
		}
	}
	return false
}

// DailyRunsFor returns the tool's daily run cap override for the plan, if any.
func (t *Tool) DailyRunsFor(planSlug string) (int64, bool) {
	var caps map[string]int64
	if errUnmarshal := json.Unmarshal(t.DailyRunsByPlan, &caps); errUnmarshal != nil {
		return 0, false
	}
	cap, ok := caps[strings.TrimSpace(planSlug)]
	return cap, ok
}
