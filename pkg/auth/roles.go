package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sevapay/pkg/ctxkeys"
)

// Marketplace roles, mirrored in the users table.
const (
	RoleAdmin    = "ADMIN"
	RoleEmployee = "EMPLOYEE"
	RoleRetailer = "RETAILER"
	RoleCustomer = "CUSTOMER"

	// RoleService is assigned to requests authenticated with the
	// service-to-service token. It passes every role gate.
	RoleService = "service"
)

// RequireRole aborts with 403 unless the authenticated role matches one of
// the allowed roles. It must run after JWTAuthMiddleware. All role gating
// goes through here so handlers never compare role strings themselves.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role := c.GetString(string(ctxkeys.KeyRole))
		if role == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		if role == RoleService {
			c.Next()
			return
		}

		if _, ok := allowed[role]; !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			c.Abort()
			return
		}

		c.Next()
	}
}
