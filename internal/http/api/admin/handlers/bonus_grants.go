package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/bonus"
)

// BonusGrantHandler manages admin endpoints for bonus run grants.
type BonusGrantHandler struct {
	bonus *bonus.Store
}

// NewBonusGrantHandler constructs a bonus grant handler.
func NewBonusGrantHandler(store *bonus.Store) *BonusGrantHandler {
	return &BonusGrantHandler{bonus: store}
}

// createBonusGrantRequest captures the payload for awarding bonus runs.
type createBonusGrantRequest struct {
	ActorID     string     `json:"actor_id"`     // Receiving actor.
	ToolSlug    string     `json:"tool_slug"`    // Tool the runs apply to.
	RunsGranted int64      `json:"runs_granted"` // Runs to award; must be > 0.
	Reason      string     `json:"reason"`       // Grant reason (e.g. "feedback").
	ExpiresAt   *time.Time `json:"expires_at"`   // Optional expiry.
	GrantedBy   string     `json:"granted_by"`   // Issuing admin identifier.
}

// Create awards bonus runs to an actor for one tool.
func (h *BonusGrantHandler) Create(c *gin.Context) {
	var body createBonusGrantRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.ActorID) == "" || strings.TrimSpace(body.ToolSlug) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor_id and tool_slug are required"})
		return
	}

	grantedBy := strings.TrimSpace(body.GrantedBy)
	if grantedBy == "" {
		grantedBy = "admin"
	}

	grant, errGrant := h.bonus.Grant(c.Request.Context(), body.ActorID, body.ToolSlug, body.RunsGranted, body.Reason, body.ExpiresAt, grantedBy)
	if errGrant != nil {
		switch {
		case errors.Is(errGrant, bonus.ErrInvalidGrant):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid grant"})
		case errors.Is(errGrant, bonus.ErrFeedbackGrantExists):
			c.JSON(http.StatusConflict, gin.H{"error": "active feedback grant already exists"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create grant failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, grant)
}

// List returns an actor's bonus grants, newest first.
func (h *BonusGrantHandler) List(c *gin.Context) {
	actorID := strings.TrimSpace(c.Query("actor_id"))
	if actorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor_id is required"})
		return
	}
	limit := 100
	if limitQ := strings.TrimSpace(c.Query("limit")); limitQ != "" {
		parsed, errParse := strconv.Atoi(limitQ)
		if errParse != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	grants, errList := h.bonus.List(c.Request.Context(), actorID, limit)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list grants failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants})
}
