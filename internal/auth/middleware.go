package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"token-manager/internal/utils"
)

const CtxUsernameKey = "username"
const CtxRoleKey = "role"

func RequireJWT(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimPrefix(h, "Bearer ")
		claims, err := ParseJWT(secret, tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(CtxUsernameKey, claims.Username)
		c.Set(CtxRoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole must run after RequireJWT.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxRoleKey) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireNetwork rejects clients outside allowedCIDRs. An empty list allows everyone.
func RequireNetwork(allowedCIDRs []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(allowedCIDRs) > 0 && !utils.IsAllowedIP(c.ClientIP(), allowedCIDRs) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "address not allowed"})
			return
		}
		c.Next()
	}
}
