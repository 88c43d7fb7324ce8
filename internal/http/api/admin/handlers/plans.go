package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/models"
	"gorm.io/gorm"
)

// PlanHandler manages admin CRUD endpoints for plans.
type PlanHandler struct {
	db *gorm.DB // Database handle for plan records.
}

// NewPlanHandler constructs a plan handler.
func NewPlanHandler(db *gorm.DB) *PlanHandler {
	return &PlanHandler{db: db}
}

// createPlanRequest captures the payload for creating a plan.
type createPlanRequest struct {
	Slug               string  `json:"slug"`                 // Stable plan identifier.
	Name               string  `json:"name"`                 // Plan name.
	MonthPrice         float64 `json:"month_price"`          // Monthly price.
	Description        string  `json:"description"`          // Plan description.
	DailyRunCap        int64   `json:"daily_run_cap"`        // Runs allowed per daily window.
	DailyTokenCap      int64   `json:"daily_token_cap"`      // Token allowance per daily window.
	RolloverCapTokens  int64   `json:"rollover_cap_tokens"`  // Max purchased tokens kept past a reset.
	AllowsTokenOverage bool    `json:"allows_token_overage"` // Whether runs may exceed the allowance.
	SortOrder          int     `json:"sort_order"`           // Display order.
	IsEnabled          *bool   `json:"is_enabled"`           // Optional active flag.
}

// Create validates input and inserts a new plan.
func (h *PlanHandler) Create(c *gin.Context) {
	var body createPlanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Slug) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug is required"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if body.DailyRunCap < 0 || body.DailyTokenCap < 0 || body.RolloverCapTokens < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "caps cannot be negative"})
		return
	}

	isEnabled := true
	if body.IsEnabled != nil {
		isEnabled = *body.IsEnabled
	}

	plan := models.Plan{
		Slug:               strings.TrimSpace(body.Slug),
		Name:               strings.TrimSpace(body.Name),
		MonthPrice:         body.MonthPrice,
		Description:        body.Description,
		DailyRunCap:        body.DailyRunCap,
		DailyTokenCap:      body.DailyTokenCap,
		RolloverCapTokens:  body.RolloverCapTokens,
		AllowsTokenOverage: body.AllowsTokenOverage,
		SortOrder:          body.SortOrder,
		IsEnabled:          isEnabled,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&plan).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create plan failed"})
		return
	}
	c.JSON(http.StatusCreated, plan)
}

// List returns all plans, optionally filtered by enabled flag.
func (h *PlanHandler) List(c *gin.Context) {
	enabledQ := strings.TrimSpace(c.Query("is_enabled"))

	q := h.db.WithContext(c.Request.Context()).Model(&models.Plan{})
	if enabledQ == "true" || enabledQ == "1" {
		q = q.Where("is_enabled = ?", true)
	} else if enabledQ == "false" || enabledQ == "0" {
		q = q.Where("is_enabled = ?", false)
	}

	var rows []models.Plan
	if errFind := q.Order("sort_order ASC, month_price ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list plans failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": rows})
}

// Get fetches a plan by ID.
func (h *PlanHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var plan models.Plan
	if errFind := h.db.WithContext(c.Request.Context()).First(&plan, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, plan)
}

// updatePlanRequest captures optional fields for plan updates.
type updatePlanRequest struct {
	Name               *string  `json:"name"`                 // Optional name update.
	MonthPrice         *float64 `json:"month_price"`          // Optional monthly price.
	Description        *string  `json:"description"`          // Optional description.
	DailyRunCap        *int64   `json:"daily_run_cap"`        // Optional daily run cap.
	DailyTokenCap      *int64   `json:"daily_token_cap"`      // Optional daily token cap.
	RolloverCapTokens  *int64   `json:"rollover_cap_tokens"`  // Optional rollover cap.
	AllowsTokenOverage *bool    `json:"allows_token_overage"` // Optional overage flag.
	SortOrder          *int     `json:"sort_order"`           // Optional display order.
	IsEnabled          *bool    `json:"is_enabled"`           // Optional active flag.
}

// Update validates and applies plan field updates. The slug is immutable
// once created; clients reference plans by slug.
func (h *PlanHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updatePlanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var existing models.Plan
	if errFind := h.db.WithContext(c.Request.Context()).First(&existing, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if body.Name != nil {
		n := strings.TrimSpace(*body.Name)
		if n == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		}
		updates["name"] = n
	}
	if body.MonthPrice != nil {
		updates["month_price"] = *body.MonthPrice
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.DailyRunCap != nil {
		if *body.DailyRunCap < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "daily_run_cap cannot be negative"})
			return
		}
		updates["daily_run_cap"] = *body.DailyRunCap
	}
	if body.DailyTokenCap != nil {
		if *body.DailyTokenCap < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "daily_token_cap cannot be negative"})
			return
		}
		updates["daily_token_cap"] = *body.DailyTokenCap
	}
	if body.RolloverCapTokens != nil {
		if *body.RolloverCapTokens < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "rollover_cap_tokens cannot be negative"})
			return
		}
		updates["rollover_cap_tokens"] = *body.RolloverCapTokens
	}
	if body.AllowsTokenOverage != nil {
		updates["allows_token_overage"] = *body.AllowsTokenOverage
	}
	if body.SortOrder != nil {
		updates["sort_order"] = *body.SortOrder
	}
	if body.IsEnabled != nil {
		updates["is_enabled"] = *body.IsEnabled
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&existing).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update plan failed"})
		return
	}
	c.JSON(http.StatusOK, existing)
}
