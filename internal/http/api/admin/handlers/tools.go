package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ToolHandler manages admin CRUD endpoints for tools.
type ToolHandler struct {
	db *gorm.DB // Database handle for tool records.
}

// NewToolHandler constructs a tool handler.
func NewToolHandler(db *gorm.DB) *ToolHandler {
	return &ToolHandler{db: db}
}

// normalizeIncludedPlans validates the included_in_plans JSON payload.
func normalizeIncludedPlans(raw json.RawMessage) (datatypes.JSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return datatypes.JSON([]byte("[]")), nil
	}
	var slugs []string
	if errUnmarshal := json.Unmarshal(raw, &slugs); errUnmarshal != nil {
		return nil, errors.New("invalid included_in_plans")
	}
	cleaned := make([]string, 0, len(slugs))
	for _, slug := range slugs {
		slug = strings.TrimSpace(slug)
		if slug == "" {
			continue
		}
		cleaned = append(cleaned, slug)
	}
	rawSlugs, errMarshal := json.Marshal(cleaned)
	if errMarshal != nil {
		return nil, errMarshal
	}
	return datatypes.JSON(rawSlugs), nil
}

// normalizeDailyRunsByPlan validates the daily_runs_by_plan JSON payload.
func normalizeDailyRunsByPlan(raw json.RawMessage) (datatypes.JSON, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return datatypes.JSON([]byte("{}")), nil
	}
	var caps map[string]int64
	if errUnmarshal := json.Unmarshal(raw, &caps); errUnmarshal != nil {
		return nil, errors.New("invalid daily_runs_by_plan")
	}
	for slug, cap := range caps {
		if strings.TrimSpace(slug) == "" || cap < 0 {
			return nil, errors.New("invalid daily_runs_by_plan")
		}
	}
	rawCaps, errMarshal := json.Marshal(caps)
	if errMarshal != nil {
		return nil, errMarshal
	}
	return datatypes.JSON(rawCaps), nil
}

// createToolRequest captures the payload for creating a tool.
type createToolRequest struct {
	Slug            string          `json:"slug"`               // Stable tool identifier.
	Name            string          `json:"name"`               // Display name.
	Description     string          `json:"description"`        // Tool description.
	TokensPerRun    int64           `json:"tokens_per_run"`     // Token cost per run.
	IncludedInPlans json.RawMessage `json:"included_in_plans"`  // Plan slugs that include the tool.
	DailyRunsByPlan json.RawMessage `json:"daily_runs_by_plan"` // Per-plan run cap overrides.
	CooldownSeconds int             `json:"cooldown_seconds"`   // Post-run cooldown.
	Enabled         *bool           `json:"enabled"`            // Optional active flag.
}

// Create validates input and inserts a new tool.
func (h *ToolHandler) Create(c *gin.Context) {
	var body createToolRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Slug) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug is required"})
		return
	}
	if body.TokensPerRun < 0 || body.CooldownSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "costs cannot be negative"})
		return
	}

	includedPlans, errIncluded := normalizeIncludedPlans(body.IncludedInPlans)
	if errIncluded != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid included_in_plans"})
		return
	}
	runsByPlan, errRuns := normalizeDailyRunsByPlan(body.DailyRunsByPlan)
	if errRuns != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid daily_runs_by_plan"})
		return
	}

	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}

	tool := models.Tool{
		Slug:            strings.TrimSpace(body.Slug),
		Name:            strings.TrimSpace(body.Name),
		Description:     body.Description,
		TokensPerRun:    body.TokensPerRun,
		IncludedInPlans: includedPlans,
		DailyRunsByPlan: runsByPlan,
		CooldownSeconds: body.CooldownSeconds,
		Enabled:         enabled,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&tool).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create tool failed"})
		return
	}
	c.JSON(http.StatusCreated, tool)
}

// List returns all tools, optionally filtered by enabled flag.
func (h *ToolHandler) List(c *gin.Context) {
	enabledQ := strings.TrimSpace(c.Query("enabled"))

	q := h.db.WithContext(c.Request.Context()).Model(&models.Tool{})
	if enabledQ == "true" || enabledQ == "1" {
		q = q.Where("enabled = ?", true)
	} else if enabledQ == "false" || enabledQ == "0" {
		q = q.Where("enabled = ?", false)
	}

	var rows []models.Tool
	if errFind := q.Order("slug ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tools failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": rows})
}

// Get fetches a tool by ID.
func (h *ToolHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var tool models.Tool
	if errFind := h.db.WithContext(c.Request.Context()).First(&tool, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, tool)
}

// updateToolRequest captures optional fields for tool updates.
type updateToolRequest struct {
	Name            *string          `json:"name"`               // Optional display name.
	Description     *string          `json:"description"`        // Optional description.
	TokensPerRun    *int64           `json:"tokens_per_run"`     // Optional token cost.
	IncludedInPlans *json.RawMessage `json:"included_in_plans"`  // Optional inclusion set.
	DailyRunsByPlan *json.RawMessage `json:"daily_runs_by_plan"` // Optional run cap overrides.
	CooldownSeconds *int             `json:"cooldown_seconds"`   // Optional cooldown.
	Enabled         *bool            `json:"enabled"`            // Optional active flag.
}

// Update validates and applies tool field updates. The slug is immutable
// once created.
func (h *ToolHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updateToolRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var existing models.Tool
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
		updates["name"] = strings.TrimSpace(*body.Name)
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.TokensPerRun != nil {
		if *body.TokensPerRun < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tokens_per_run cannot be negative"})
			return
		}
		updates["tokens_per_run"] = *body.TokensPerRun
	}
	if body.IncludedInPlans != nil {
		includedPlans, errIncluded := normalizeIncludedPlans(*body.IncludedInPlans)
		if errIncluded != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid included_in_plans"})
			return
		}
		updates["included_in_plans"] = includedPlans
	}
	if body.DailyRunsByPlan != nil {
		runsByPlan, errRuns := normalizeDailyRunsByPlan(*body.DailyRunsByPlan)
		if errRuns != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid daily_runs_by_plan"})
			return
		}
		updates["daily_runs_by_plan"] = runsByPlan
	}
	if body.CooldownSeconds != nil {
		if *body.CooldownSeconds < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cooldown_seconds cannot be negative"})
			return
		}
		updates["cooldown_seconds"] = *body.CooldownSeconds
	}
	if body.Enabled != nil {
		updates["enabled"] = *body.Enabled
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&existing).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update tool failed"})
		return
	}
	c.JSON(http.StatusOK, existing)
}
