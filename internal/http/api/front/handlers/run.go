package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/entitlement"
	"github.com/toolgate/toolgate/internal/run"
)

// RunHandler serves the tool run endpoint.
type RunHandler struct {
	orchestrator *run.Orchestrator
}

// NewRunHandler constructs a RunHandler.
func NewRunHandler(orchestrator *run.Orchestrator) *RunHandler {
	return &RunHandler{orchestrator: orchestrator}
}

// runBody defines the run request payload.
type runBody struct {
	RunID string          `json:"run_id"` // Optional idempotence key for retries.
	Input json.RawMessage `json:"input"`
}

// Run gates, charges and executes one tool run.
func (h *RunHandler) Run(c *gin.Context, identity entitlement.Identity) {
	var body runBody
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}

	result, errRun := h.orchestrator.Run(c.Request.Context(), run.Request{
		Identity: identity,
		ToolSlug: c.Param("tool"),
		RunID:    body.RunID,
		Input:    body.Input,
	})
	if errRun != nil {
		switch {
		case errors.Is(errRun, catalog.ErrToolNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown tool"})
		case errors.Is(errRun, run.ErrToolDisabled):
			c.JSON(http.StatusBadRequest, gin.H{"error": "tool disabled"})
		default:
			// Fail closed: the run did not execute.
			log.WithError(errRun).Error("run request failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "try again"})
		}
		return
	}

	status := http.StatusOK
	if result.Status == run.StatusLocked {
		status = http.StatusPaymentRequired
	}
	c.JSON(status, result)
}
