package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/toolgate/toolgate/internal/entitlement"
	"github.com/toolgate/toolgate/internal/run"
)

// UsageHandler serves the caller's current window counters and balance.
type UsageHandler struct {
	orchestrator *run.Orchestrator
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(orchestrator *run.Orchestrator) *UsageHandler {
	return &UsageHandler{orchestrator: orchestrator}
}

// Summary returns the current usage window and purchased token balance.
func (h *UsageHandler) Summary(c *gin.Context, identity entitlement.Identity) {
	summary, errUsage := h.orchestrator.Usage(c.Request.Context(), identity)
	if errUsage != nil {
		log.WithError(errUsage).Error("usage summary failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage summary failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
