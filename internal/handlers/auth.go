package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gimpeliovsky-prog/license-server/internal/middleware"
	"github.com/gimpeliovsky-prog/license-server/internal/services"
	"github.com/gimpeliovsky-prog/license-server/internal/token"
)

// AuthHandler serves the device-facing activation endpoints.
type AuthHandler struct {
	activation *services.ActivationService
}

func NewAuthHandler(activation *services.ActivationService) *AuthHandler {
	return &AuthHandler{activation: activation}
}

type activateRequest struct {
	LicenseKey  string `json:"license_key" binding:"required"`
	DeviceID    string `json:"device_id" binding:"required"`
	CompanyCode string `json:"company_code"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	ServerTime  time.Time `json:"server_time"`
}

// Activate handles POST /api/activate
func (h *AuthHandler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": err.Error(),
		})
		return
	}

	result, err := h.activation.Activate(c, services.ActivateInput{
		LicenseKey:  req.LicenseKey,
		DeviceID:    req.DeviceID,
		CompanyCode: req.CompanyCode,
	})
	if err != nil {
		h.writeActivationError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: result.AccessToken,
		IssuedAt:    result.IssuedAt,
		ExpiresAt:   result.ExpiresAt,
		ServerTime:  result.ServerTime,
	})
}

// Refresh handles POST /api/refresh. The current token rides in the
// Authorization header and must still be valid; only the subscription
// state may be in its grace window.
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw := bearerToken(c)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_token",
			"error_description": "Missing bearer token",
		})
		return
	}

	result, err := h.activation.Refresh(c, raw)
	if err != nil {
		h.writeActivationError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: result.AccessToken,
		IssuedAt:    result.IssuedAt,
		ExpiresAt:   result.ExpiresAt,
		ServerTime:  result.ServerTime,
	})
}

// Status handles GET /api/status, the subscription introspection endpoint.
func (h *AuthHandler) Status(c *gin.Context) {
	rc := middleware.GetRequestContext(c)
	if rc == nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_token",
			"error_description": "Missing bearer token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_status":           rc.Tenant.Status,
		"subscription_active":     rc.State.SubscriptionActive,
		"grace_active":            rc.State.GraceActive,
		"subscription_expires_at": rc.Tenant.SubscriptionExpiresAt,
		"token_expires_at":        rc.Claims.ExpiresAt,
		"server_time":             time.Now().UTC(),
	})
}

func (h *AuthHandler) writeActivationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidCredential):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_credential",
			"error_description": "License key did not match",
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
			"error_description": "The subscription has expired",
		})
	case errors.Is(err, services.ErrDeviceRevoked):
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "device_revoked",
			"error_description": "This device has been revoked",
		})
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
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "Internal server error",
		})
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
