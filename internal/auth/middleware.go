// Package auth guards admin routes with a shared secret.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminHeader carries the admin secret.
const AdminHeader = "X-Admin-Secret"

// ContextKeyAdmin is set on requests that passed RequireAdmin.
const ContextKeyAdmin = "isAdmin"

// RequireAdmin rejects requests whose X-Admin-Secret does not match secret.
// An empty secret disables the check; config refuses that outside
// development.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Set(ContextKeyAdmin, true)
			c.Next()
			return
		}

		got := c.GetHeader(AdminHeader)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "admin secret required. Include the '" + AdminHeader + "' header.",
			})
			return
		}
		if !SecretMatches(got, secret) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "invalid admin secret",
			})
			return
		}

		c.Set(ContextKeyAdmin, true)
		c.Next()
	}
}

// SecretMatches compares a presented admin secret in constant time.
func SecretMatches(got, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// IsAdmin reports whether the request passed RequireAdmin.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyAdmin)
}
