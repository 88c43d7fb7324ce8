package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/bonus"
	handlers "github.com/toolgate/toolgate/internal/http/api/admin/handlers"
	"github.com/toolgate/toolgate/internal/ledger"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, ledgerStore *ledger.Store, bonusStore *bonus.Store, adminToken string) {
	if r == nil || db == nil {
		return
	}

	authed := r.Group("/admin")
	authed.Use(adminAuthMiddleware(adminToken))

	bonusHandler := handlers.NewBonusGrantHandler(bonusStore)
	authed.POST("/bonus-grants", bonusHandler.Create)
	authed.GET("/bonus-grants", bonusHandler.List)

	ledgerHandler := handlers.NewLedgerHandler(ledgerStore)
	authed.POST("/ledger-entries", ledgerHandler.Create)
	authed.GET("/ledger-entries", ledgerHandler.List)
	authed.GET("/balance", ledgerHandler.Balance)

	planHandler := handlers.NewPlanHandler(db)
	authed.POST("/plans", planHandler.Create)
	authed.GET("/plans", planHandler.List)
	authed.GET("/plans/:id", planHandler.Get)
	authed.PUT("/plans/:id", planHandler.Update)

	toolHandler := handlers.NewToolHandler(db)
	authed.POST("/tools", toolHandler.Create)
	authed.GET("/tools", toolHandler.List)
	authed.GET("/tools/:id", toolHandler.Get)
	authed.PUT("/tools/:id", toolHandler.Update)

	orgHandler := handlers.NewOrganizationHandler(db)
	authed.POST("/organizations", orgHandler.Create)
	authed.GET("/organizations", orgHandler.List)
	authed.PUT("/organizations/:id", orgHandler.Update)
}

// adminAuthMiddleware validates the static admin bearer token.
func adminAuthMiddleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin api disabled"})
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}
		token := strings.TrimSpace(parts[1])
		if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
