package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/toolgate/toolgate/internal/models"
	"gorm.io/gorm"
)

// ErrToolNotFound indicates the tool slug has no enabled configuration.
var ErrToolNotFound = errors.New("catalog: tool not found")

// Catalog looks up plan cap tables and tool metering metadata.
type Catalog struct {
	db *gorm.DB
}

// New constructs a Catalog.
func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// PlanBySlug returns the enabled plan for the slug. Unknown or disabled
// slugs fall back to the cheapest enabled plan so caps are always
// resolvable and the lock engine can produce a definitive answer.
func (c *Catalog) PlanBySlug(ctx context.Context, slug string) (models.Plan, error) {
	slug = strings.TrimSpace(slug)
	if slug != "" {
		var plan models.Plan
		errFind := c.db.WithContext(ctx).
			Where("slug = ? AND is_enabled = ?", slug, true).
			First(&plan).Error
		if errFind == nil {
			return plan, nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Plan{}, fmt.Errorf("catalog: load plan %q: %w", slug, errFind)
		}
	}
	return c.fallbackPlan(ctx)
}

// fallbackPlan returns the cheapest enabled plan, the free tier.
func (c *Catalog) fallbackPlan(ctx context.Context) (models.Plan, error) {
	var plan models.Plan
	if errFind := c.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Order("month_price ASC, sort_order ASC, id ASC").
		First(&plan).Error; errFind != nil {
		return models.Plan{}, fmt.Errorf("catalog: load fallback plan: %w", errFind)
	}
	return plan, nil
}

// ToolBySlug returns the tool configuration for the slug.
func (c *Catalog) ToolBySlug(ctx context.Context, slug string) (models.Tool, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return models.Tool{}, ErrToolNotFound
	}
	var tool models.Tool
	errFind := c.db.WithContext(ctx).Where("slug = ?", slug).First(&tool).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.Tool{}, ErrToolNotFound
		}
		return models.Tool{}, fmt.Errorf("catalog: load tool %q: %w", slug, errFind)
	}
	return tool, nil
}

// ListEnabledTools returns all tools accepting runs.
func (c *Catalog) ListEnabledTools(ctx context.Context) ([]models.Tool, error) {
	var tools []models.Tool
	if errFind := c.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("slug ASC").
		Find(&tools).Error; errFind != nil {
		return nil, fmt.Errorf("catalog: list tools: %w", errFind)
	}
	return tools, nil
}

// CheapestPlanIncluding returns the slug of the lowest-priced enabled plan
// whose subscription includes the tool, or "" when no plan does.
func (c *Catalog) CheapestPlanIncluding(ctx context.Context, tool *models.Tool) (string, error) {
	var plans []models.Plan
	if errFind := c.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Order("month_price ASC, sort_order ASC, id ASC").
		Find(&plans).Error; errFind != nil {
		return "", fmt.Errorf("catalog: list plans: %w", errFind)
	}
	for _, plan := range plans {
		if tool.IncludesPlan(plan.Slug) {
			return plan.Slug, nil
		}
	}
	return "", nil
}
