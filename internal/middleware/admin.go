package middleware

import (
	"crypto/hmac"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAdmin gates the admin API on the X-Admin-Token header. When no
// admin token is configured the whole admin surface is unavailable.
func RequireAdmin(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":             "admin_api_disabled",
				"error_description": "Admin API is not configured",
			})
			c.Abort()
			return
		}

		provided := c.GetHeader("X-Admin-Token")
		if !hmac.Equal([]byte(provided), []byte(adminToken)) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "Invalid admin token",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireMetricsToken optionally protects the metrics endpoint with a
// bearer token. An empty token leaves the endpoint open.
func RequireMetricsToken(metricsToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsToken == "" {
			c.Next()
			return
		}
		if !hmac.Equal([]byte(extractBearer(c)), []byte(metricsToken)) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "Invalid metrics token",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
