package util

import (
	"context"

	"github.com/gin-gonic/gin"
)

const clientIPKey = "client_ip"

// IPMiddleware extracts the client IP and stores it in the request context
// so services (audit logging in particular) can read it without depending
// on gin.
func IPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Gin's ClientIP() handles X-Forwarded-For and trusted proxies
		c.Set(clientIPKey, c.ClientIP())
		c.Next()
	}
}

// GetIPFromContext extracts the client IP address from the context.
func GetIPFromContext(ctx context.Context) string {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		return ginCtx.ClientIP()
	}
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return ""
}
