package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gimpeliovsky-prog/license-server/internal/services"
	"github.com/gimpeliovsky-prog/license-server/internal/token"
)

const requestContextKey = "request_context"

// RequireToken authenticates a bearer token and attaches the resulting
// RequestContext to the gin context. Tenant status, subscription grace and
// device revocation are re-checked on every request, so a revoked device
// loses access without waiting for its token to expire.
func RequireToken(activation *services.ActivationService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractBearer(c)
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":             "invalid_token",
				"error_description": "Missing bearer token",
			})
			c.Abort()
			return
		}

		rc, err := activation.BuildRequestContext(c, raw)
		if err != nil {
			abortWithAuthError(c, err)
			return
		}

		c.Set(requestContextKey, rc)
		c.Next()
	}
}

// GetRequestContext returns the RequestContext attached by RequireToken.
func GetRequestContext(c *gin.Context) *services.RequestContext {
	if v, ok := c.Get(requestContextKey); ok {
		if rc, ok := v.(*services.RequestContext); ok {
			return rc
		}
	}
	return nil
}

func extractBearer(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortWithAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "token_expired",
			"error_description": "The access token has expired",
		})
	case errors.Is(err, token.ErrTokenInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "token_invalid",
			"error_description": "The access token is invalid",
		})
	case errors.Is(err, services.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "tenant_not_found",
			"error_description": "The tenant no longer exists",
		})
	case errors.Is(err, services.ErrTenantDisabled):
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "tenant_disabled",
			"error_description": "The tenant is suspended or disabled",
		})
	case errors.Is(err, services.ErrSubscriptionExpired):
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "subscription_expired",
			"error_description": "The subscription and its grace period have ended",
		})
	case errors.Is(err, services.ErrDeviceRevoked):
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "device_revoked",
			"error_description": "This device has been revoked",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "Internal server error",
		})
	}
	c.Abort()
}
