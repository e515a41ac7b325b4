package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gimpeliovsky-prog/license-server/internal/models"
)

// doAdmin sends a request with the admin token header set.
func (e *testEnv) doAdmin(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Admin-Token", testAdminToken)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestAdminFirmwareLifecycle(t *testing.T) {
	env := setupEnv(t, "")
	env.seedFirmwareWithBinary(t, "sensor-v2", "1.2.0", 1)

	t.Run("admin token is enforced", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/admin/firmware", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	var createdID int64
	t.Run("register a release against an uploaded binary", func(t *testing.T) {
		// The binary already sits under the base path from the seed helper
		w := env.doAdmin(http.MethodPost, "/api/admin/firmware", `{
			"device_type": "sensor-v2",
			"version": "1.3.0",
			"build_number": 2,
			"filename": "sensor-v2-1.2.0.bin",
			"binary_path": "sensor-v2-1.2.0.bin",
			"is_stable": true
		}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var fw models.Firmware
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fw))
		assert.Equal(t, "1.3.0", fw.Version)
		assert.NotEmpty(t, fw.FileHash)
		assert.True(t, fw.IsActive)
		createdID = fw.ID
	})

	t.Run("duplicate release conflicts", func(t *testing.T) {
		w := env.doAdmin(http.MethodPost, "/api/admin/firmware", `{
			"device_type": "sensor-v2",
			"version": "1.3.0",
			"build_number": 2,
			"filename": "sensor-v2-1.2.0.bin",
			"binary_path": "sensor-v2-1.2.0.bin"
		}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("list and get", func(t *testing.T) {
		w := env.doAdmin(http.MethodGet, "/api/admin/firmware", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "1.3.0")

		w = env.doAdmin(http.MethodGet, "/api/admin/firmware/"+strconv.FormatInt(createdID, 10), "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("patch release metadata", func(t *testing.T) {
		w := env.doAdmin(http.MethodPatch,
			"/api/admin/firmware/"+strconv.FormatInt(createdID, 10),
			`{"min_current_version":"1.2.0","is_stable":false}`)
		require.Equal(t, http.StatusOK, w.Code)

		var fw models.Firmware
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fw))
		assert.Equal(t, "1.2.0", fw.MinCurrentVersion)
		assert.False(t, fw.IsStable)
	})

	t.Run("delete deactivates instead of removing", func(t *testing.T) {
		w := env.doAdmin(http.MethodDelete,
			"/api/admin/firmware/"+strconv.FormatInt(createdID, 10), "")
		require.Equal(t, http.StatusNoContent, w.Code)

		fw, err := env.store.GetFirmwareByID(createdID)
		require.NoError(t, err)
		assert.False(t, fw.IsActive)
	})

	t.Run("unknown firmware id", func(t *testing.T) {
		w := env.doAdmin(http.MethodGet, "/api/admin/firmware/999", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAdminOTAAccess(t *testing.T) {
	env := setupEnv(t, "")
	tenant := env.seedTenant(t, "acme", time.Now().UTC().Add(30*24*time.Hour))

	t.Run("unconfigured binding", func(t *testing.T) {
		w := env.doAdmin(http.MethodGet, "/api/admin/ota/access", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("put and get the binding", func(t *testing.T) {
		w := env.doAdmin(http.MethodPut, "/api/admin/ota/access",
			`{"tenant_id":"`+tenant.ID+`","license_key_id":"key-1"}`)
		require.Equal(t, http.StatusOK, w.Code)

		w = env.doAdmin(http.MethodGet, "/api/admin/ota/access", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "key-1")
	})

	t.Run("unknown tenant is rejected", func(t *testing.T) {
		w := env.doAdmin(http.MethodPut, "/api/admin/ota/access",
			`{"tenant_id":"nope","license_key_id":"key-1"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAdminDeviceRevocation(t *testing.T) {
	env := setupEnv(t, "")
	tenant := env.seedTenant(t, "acme", time.Now().UTC().Add(30*24*time.Hour))
	access := env.activate(t, "device-1")

	w := env.doAdmin(http.MethodPost, "/api/admin/devices/revoke",
		`{"tenant_id":"`+tenant.ID+`","device_id":"device-1","revoked":true}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	// The revoked device loses access immediately
	resp := env.do(http.MethodGet, "/api/status", "", access)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	// And can be un-revoked
	w = env.doAdmin(http.MethodPost, "/api/admin/devices/revoke",
		`{"tenant_id":"`+tenant.ID+`","device_id":"device-1","revoked":false}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	resp = env.do(http.MethodGet, "/api/status", "", access)
	assert.Equal(t, http.StatusOK, resp.Code)

	t.Run("unknown device", func(t *testing.T) {
		w := env.doAdmin(http.MethodPost, "/api/admin/devices/revoke",
			`{"tenant_id":"`+tenant.ID+`","device_id":"ghost","revoked":true}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAdminOTALogs(t *testing.T) {
	env := setupEnv(t, "")
	fw := env.seedFirmwareWithBinary(t, "sensor-v2", "1.3.0", 2)
	require.NoError(t, env.store.CreateOTALog(&models.DeviceOTALog{
		DeviceID:   "device-1",
		FirmwareID: fw.ID,
		Status:     models.OTAStatusDownloading,
	}))

	t.Run("device_id is required", func(t *testing.T) {
		w := env.doAdmin(http.MethodGet, "/api/admin/ota/logs", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("lists logs for a device", func(t *testing.T) {
		w := env.doAdmin(http.MethodGet, "/api/admin/ota/logs?device_id=device-1", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "downloading")
	})
}
