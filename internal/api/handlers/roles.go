package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Staff roles accepted on the X-Staff-Role header.
const (
	RoleWaiter  = "WAITER"
	RoleKitchen = "KITCHEN"
	RoleAdmin   = "ADMIN"
)

// RoleHeader carries the caller's staff role. Table clients send no role.
const RoleHeader = "X-Staff-Role"

// StaffIDHeader optionally identifies the individual staff member for audit.
const StaffIDHeader = "X-Staff-ID"

// RequireRole rejects requests whose X-Staff-Role is not one of the allowed
// roles.
func RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !hasRole(c, allowed...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "insufficient role",
				"code":  "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

func hasRole(c *gin.Context, roles ...string) bool {
	role := c.GetHeader(RoleHeader)
	for _, want := range roles {
		if role == want {
			return true
		}
	}
	return false
}

// actor resolves the audit actor for a request: the staff id when provided,
// otherwise the role, otherwise the anonymous table client.
func actor(c *gin.Context) string {
	if id := c.GetHeader(StaffIDHeader); id != "" {
		return id
	}
	if role := c.GetHeader(RoleHeader); role != "" {
		return role
	}
	return "table-client"
}
