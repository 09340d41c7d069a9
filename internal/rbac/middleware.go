package rbac

import (
	"net/http"

	"support-calls/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequirePrincipal enforces that an authenticated principal is in context.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := auth.PrincipalFrom(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Not authenticated"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
func RequireAnyRole(allowed ...auth.Role) gin.HandlerFunc {
	allowedSet := make(map[auth.Role]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		p, err := auth.PrincipalFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Not authenticated"})
			return
		}
		if _, ok := allowedSet[p.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "Forbidden"})
			return
		}
		c.Next()
	}
}

// RequireSupport is RequireAnyRole(RoleSupport).
func RequireSupport() gin.HandlerFunc { return RequireAnyRole(RoleSupport) }
