package front

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/entitlement"
	handlers "github.com/toolgate/toolgate/internal/http/api/front/handlers"
	"github.com/toolgate/toolgate/internal/run"
)

// RegisterFrontRoutes registers the user-facing routes, middleware, and
// handlers.
func RegisterFrontRoutes(r *gin.Engine, cat *catalog.Catalog, orchestrator *run.Orchestrator) {
	if r == nil || orchestrator == nil {
		return
	}

	api := r.Group("/api")
	api.Use(IdentityMiddleware())

	runHandler := handlers.NewRunHandler(orchestrator)
	api.POST("/run/:tool", withIdentity(runHandler.Run))

	toolsHandler := handlers.NewToolsHandler(cat, orchestrator)
	api.GET("/tools", withIdentity(toolsHandler.List))

	usageHandler := handlers.NewUsageHandler(orchestrator)
	api.GET("/usage", withIdentity(usageHandler.Summary))
}

// withIdentity adapts an identity-aware handler to a gin.HandlerFunc.
func withIdentity(fn func(*gin.Context, entitlement.Identity)) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing actor identity"})
			return
		}
		fn(c, identity)
	}
}
