package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/entitlement"
	"github.com/toolgate/toolgate/internal/lock"
	"github.com/toolgate/toolgate/internal/run"
)

// ToolsHandler serves the tool catalog with per-tool lock badges.
type ToolsHandler struct {
	catalog      *catalog.Catalog
	orchestrator *run.Orchestrator
}

// NewToolsHandler constructs a ToolsHandler.
func NewToolsHandler(cat *catalog.Catalog, orchestrator *run.Orchestrator) *ToolsHandler {
	return &ToolsHandler{catalog: cat, orchestrator: orchestrator}
}

// List returns enabled tools with the caller's lock state per tool. The
// badges come from the same computation the run gate uses, so the two
// surfaces always agree.
func (h *ToolsHandler) List(c *gin.Context, identity entitlement.Identity) {
	ctx := c.Request.Context()

	tools, errTools := h.catalog.ListEnabledTools(ctx)
	if errTools != nil {
		log.WithError(errTools).Error("list tools failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tools failed"})
		return
	}

	out := make([]gin.H, 0, len(tools))
	reasons := make([]lock.Reason, 0, len(tools))
	for _, tool := range tools {
		snapshot, errCheck := h.orchestrator.CheckLock(ctx, identity, tool)
		if errCheck != nil {
			log.WithError(errCheck).Error("tool lock check failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lock check failed"})
			return
		}
		reasons = append(reasons, snapshot.Reason)
		out = append(out, gin.H{
			"slug":           tool.Slug,
			"name":           tool.Name,
			"description":    tool.Description,
			"tokens_per_run": tool.TokensPerRun,
			"lock":           snapshot.Reason,
			"lock_message":   lock.Message(snapshot.Reason),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"tools":      out,
		"worst_lock": lock.Worst(reasons...),
	})
}
