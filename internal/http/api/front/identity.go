package front

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/toolgate/toolgate/internal/entitlement"
)

// Identity headers set by the upstream gateway. The engine trusts them
// without re-verifying authentication.
const (
	HeaderActorID = "X-Actor-Id"
	HeaderPlanID  = "X-Plan-Id"
	HeaderOrgID   = "X-Org-Id"
)

const identityContextKey = "identity"

// IdentityMiddleware extracts the resolved caller from request headers
// and rejects requests without an actor id.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := entitlement.Identity{
			ActorID:  strings.TrimSpace(c.GetHeader(HeaderActorID)),
			PlanSlug: strings.TrimSpace(c.GetHeader(HeaderPlanID)),
			OrgID:    strings.TrimSpace(c.GetHeader(HeaderOrgID)),
		}
		if identity.ActorID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing actor identity"})
			return
		}
		c.Set(identityContextKey, identity)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by the middleware.
func IdentityFrom(c *gin.Context) (entitlement.Identity, bool) {
	v, exists := c.Get(identityContextKey)
	if !exists {
		return entitlement.Identity{}, false
	}
	identity, ok := v.(entitlement.Identity)
	return identity, ok
}
