package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/db"
	"github.com/toolgate/toolgate/internal/models"
	"gorm.io/gorm"
)

// OrganizationHandler manages admin endpoints for organizations.
type OrganizationHandler struct {
	db *gorm.DB // Database handle for organization records.
}

// NewOrganizationHandler constructs an organization handler.
func NewOrganizationHandler(db *gorm.DB) *OrganizationHandler {
	return &OrganizationHandler{db: db}
}

// createOrganizationRequest captures the payload for creating an org.
type createOrganizationRequest struct {
	OrgID     string  `json:"org_id"`     // External org identifier.
	Name      string  `json:"name"`       // Display name.
	PlanID    *uint64 `json:"plan_id"`    // Optional org-tier plan.
	SeatCount int     `json:"seat_count"` // Purchased seats.
	IsEnabled *bool   `json:"is_enabled"` // Optional active flag.
}

// Create validates input and inserts a new organization.
func (h *OrganizationHandler) Create(c *gin.Context) {
	var body createOrganizationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.OrgID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id is required"})
		return
	}
	if body.SeatCount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seat_count cannot be negative"})
		return
	}
	if body.PlanID != nil {
		var plan models.Plan
		if errFind := h.db.WithContext(c.Request.Context()).First(&plan, *body.PlanID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan_id"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
	}

	isEnabled := true
	if body.IsEnabled != nil {
		isEnabled = *body.IsEnabled
	}

	org := models.Organization{
		OrgID:     strings.TrimSpace(body.OrgID),
		Name:      strings.TrimSpace(body.Name),
		PlanID:    body.PlanID,
		SeatCount: body.SeatCount,
		IsEnabled: isEnabled,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&org).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create organization failed"})
		return
	}
	c.JSON(http.StatusCreated, org)
}

// List returns all organizations, optionally filtered by name search.
func (h *OrganizationHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Preload("Plan").Order("created_at DESC")
	if search := strings.TrimSpace(c.Query("q")); search != "" {
		pattern := db.NormalizeLikePattern(h.db, "%"+search+"%")
		q = q.Where(db.CaseInsensitiveLikeExpr(h.db, "name"), pattern)
	}

	var rows []models.Organization
	if errFind := q.Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list organizations failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": rows})
}

// updateOrganizationRequest captures optional fields for org updates.
type updateOrganizationRequest struct {
	Name      *string `json:"name"`       // Optional display name.
	PlanID    *uint64 `json:"plan_id"`    // Optional plan; 0 clears the assignment.
	SeatCount *int    `json:"seat_count"` // Optional seat count.
	IsEnabled *bool   `json:"is_enabled"` // Optional active flag.
}

// Update validates and applies organization field updates.
func (h *OrganizationHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updateOrganizationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var existing models.Organization
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
	if body.PlanID != nil {
		if *body.PlanID == 0 {
			updates["plan_id"] = nil
		} else {
			var plan models.Plan
			if errPlan := h.db.WithContext(c.Request.Context()).First(&plan, *body.PlanID).Error; errPlan != nil {
				if errors.Is(errPlan, gorm.ErrRecordNotFound) {
					c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan_id"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
				return
			}
			updates["plan_id"] = *body.PlanID
		}
	}
	if body.SeatCount != nil {
		if *body.SeatCount < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seat_count cannot be negative"})
			return
		}
		updates["seat_count"] = *body.SeatCount
	}
	if body.IsEnabled != nil {
		updates["is_enabled"] = *body.IsEnabled
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&existing).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update organization failed"})
		return
	}
	c.JSON(http.StatusOK, existing)
}
