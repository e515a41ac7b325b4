package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gimpeliovsky-prog/license-server/internal/license"
	"github.com/gimpeliovsky-prog/license-server/internal/metrics"
	"github.com/gimpeliovsky-prog/license-server/internal/middleware"
	"github.com/gimpeliovsky-prog/license-server/internal/models"
	"github.com/gimpeliovsky-prog/license-server/internal/services"
	"github.com/gimpeliovsky-prog/license-server/internal/store"
	"github.com/gimpeliovsky-prog/license-server/internal/token"
)

const (
	testLicenseKey = "ABCD1234-5678-90AB-CDEF-1234567890AB"
	testAdminToken = "test-admin-token"
)

type testEnv struct {
	router   *gin.Engine
	store    *store.Store
	ota      *services.OTAService
	basePath string
}

// setupEnv wires the full API surface against an in-memory database, the
// same route layout the server uses.
func setupEnv(t *testing.T, downloadSecret string) *testEnv {
	gin.SetMode(gin.TestMode)

	s, err := store.New("sqlite", ":memory:")
	require.NoError(t, err)

	codec := token.NewCodec("test-secret", 7*24*time.Hour)
	audit := services.NewAuditService(s, false, 10)
	m := metrics.NewNoopMetrics()
	activation := services.NewActivationService(s, codec, audit, m, 7)

	basePath := t.TempDir()
	ota := services.NewOTAService(s, audit, m, downloadSecret, 5*time.Minute,
		basePath, "http://localhost:8080")

	authHandler := NewAuthHandler(activation)
	otaHandler := NewOTAHandler(ota, m)
	adminHandler := NewAdminHandler(s, ota, audit)

	requireToken := middleware.RequireToken(activation)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/activate", authHandler.Activate)
	api.POST("/refresh", authHandler.Refresh)
	api.GET("/status", requireToken, authHandler.Status)
	api.POST("/ota/check", requireToken, otaHandler.Check)
	api.POST("/ota/status", requireToken, otaHandler.ReportStatus)
	api.GET("/ota/download/:firmware_id", otaHandler.Download)

	admin := r.Group("/api/admin", middleware.RequireAdmin(testAdminToken))
	admin.GET("/firmware", adminHandler.ListFirmware)
	admin.POST("/firmware", adminHandler.CreateFirmware)
	admin.GET("/firmware/:id", adminHandler.GetFirmware)
	admin.PATCH("/firmware/:id", adminHandler.PatchFirmware)
	admin.DELETE("/firmware/:id", adminHandler.DeactivateFirmware)
	admin.GET("/ota/logs", adminHandler.ListOTALogs)
	admin.GET("/ota/access", adminHandler.GetOTAAccess)
	admin.PUT("/ota/access", adminHandler.PutOTAAccess)
	admin.POST("/devices/revoke", adminHandler.RevokeDevice)
	admin.GET("/audit", adminHandler.ListAuditLogs)

	return &testEnv{router: r, store: s, ota: ota, basePath: basePath}
}

func (e *testEnv) seedTenant(t *testing.T, companyCode string, expiresAt time.Time) *models.Tenant {
	hashed, err := license.HashKey(testLicenseKey)
	require.NoError(t, err)

	tenant := &models.Tenant{
		CompanyCode:           companyCode,
		CompanyName:           "Test Tenant",
		Status:                models.TenantActive,
		SubscriptionExpiresAt: expiresAt,
	}
	_, err = e.store.Seed(tenant, hashed, license.Fingerprint(testLicenseKey))
	require.NoError(t, err)
	return tenant
}

func (e *testEnv) seedFirmwareWithBinary(t *testing.T, deviceType, version string, build int) *models.Firmware {
	name := deviceType + "-" + version + ".bin"
	require.NoError(t, os.WriteFile(filepath.Join(e.basePath, name), []byte("firmware image"), 0o644))

	fw := &models.Firmware{
		DeviceType:  deviceType,
		Version:     version,
		BuildNumber: build,
		Filename:    name,
		BinaryPath:  name,
		FileSize:    14,
		FileHash:    "cafebabe",
		IsStable:    true,
		IsActive:    true,
	}
	require.NoError(t, e.store.CreateFirmware(fw))
	return fw
}

func (e *testEnv) do(method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) activate(t *testing.T, deviceID string) string {
	w := e.do(http.MethodPost, "/api/activate",
		`{"license_key":"`+testLicenseKey+`","device_id":"`+deviceID+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func TestActivateEndpoint(t *testing.T) {
	env := setupEnv(t, "")
	env.seedTenant(t, "acme", time.Now().UTC().Add(30*24*time.Hour))

	t.Run("success", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/activate",
			`{"license_key":"`+testLicenseKey+`","device_id":"device-1","company_code":"acme"}`, "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp tokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.AccessToken)
		assert.True(t, resp.ExpiresAt.After(resp.IssuedAt))
	})

	t.Run("missing fields", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/activate", `{"device_id":"device-1"}`, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_request")
	})

	t.Run("wrong key", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/activate",
			`{"license_key":"ffff1234567890abcdef1234567890ab","device_id":"device-1"}`, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_credential")
	})

	t.Run("unknown company code looks like a bad key", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/activate",
			`{"license_key":"`+testLicenseKey+`","device_id":"device-1","company_code":"nobody"}`, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_credential")
	})
}

func TestActivateExpiredSubscription(t *testing.T) {
	env := setupEnv(t, "")
	env.seedTenant(t, "lapsed", time.Now().UTC().Add(-time.Hour))

	w := env.do(http.MethodPost, "/api/activate",
		`{"license_key":"`+testLicenseKey+`","device_id":"device-1"}`, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "subscription_expired")
}

func TestRefreshEndpoint(t *testing.T) {
	env := setupEnv(t, "")
	env.seedTenant(t, "acme", time.Now().UTC().Add(30*24*time.Hour))
	access := env.activate(t, "device-1")

	t.Run("success", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/refresh", "", access)
		require.Equal(t, http.StatusOK, w.Code)

		var resp tokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.AccessToken)
	})

	t.Run("missing token", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/refresh", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/refresh", "", "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "token_invalid")
	})
}

func TestStatusEndpoint(t *testing.T) {
	env := setupEnv(t, "")
	tenant := env.seedTenant(t, "acme", time.Now().UTC().Add(30*24*time.Hour))
	access := env.activate(t, "device-1")

	t.Run("success", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/status", "", access)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "active", resp["tenant_status"])
		assert.Equal(t, true, resp["subscription_active"])
		assert.Equal(t, false, resp["grace_active"])
	})

	t.Run("no token", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/status", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("revoked device", func(t *testing.T) {
		require.NoError(t, env.store.SetDeviceRevoked(tenant.ID, "device-1", true))
		w := env.do(http.MethodGet, "/api/status", "", access)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "device_revoked")
	})
}
