package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gimpeliovsky-prog/license-server/internal/models"
)

func TestOTACheckEndpoint(t *testing.T) {
	env := setupEnv(t, "")
	env.seedTenant(t, "acme", time.Now().UTC().Add(30*24*time.Hour))
	access := env.activate(t, "device-1")
	fw := env.seedFirmwareWithBinary(t, "sensor-v2", "1.3.0", 2)

	t.Run("requires a token", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/ota/check",
			`{"device_id":"device-1","device_type":"sensor-v2","current_version":"1.2.0"}`, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("update available", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/ota/check",
			`{"device_id":"device-1","device_type":"sensor-v2","current_version":"1.2.0"}`, access)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["update_available"])
		assert.Equal(t, "1.3.0", resp["version"])
		assert.EqualValues(t, fw.ID, resp["firmware_id"])
		assert.Contains(t, resp["download_url"], "/api/ota/download/")
	})

	t.Run("up to date", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/ota/check",
			`{"device_id":"device-1","device_type":"sensor-v2","current_version":"1.3.0","current_build":2}`, access)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, false, resp["update_available"])
		assert.NotContains(t, resp, "download_url")
	})

	t.Run("missing fields", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/ota/check", `{"device_id":"device-1"}`, access)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("another device's id is rejected", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/ota/check",
			`{"device_id":"device-2","device_type":"sensor-v2","current_version":"1.2.0"}`, access)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "device_mismatch")
	})
}

func TestOTADownloadEndpoint_Unsigned(t *testing.T) {
	env := setupEnv(t, "")
	fw := env.seedFirmwareWithBinary(t, "sensor-v2", "1.3.0", 2)

	t.Run("serves the binary with version headers", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/ota/download/1", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1.3.0", w.Header().Get("X-Firmware-Version"))
		assert.Equal(t, "2", w.Header().Get("X-Firmware-Build"))
		assert.Equal(t, fw.FileHash, w.Header().Get("X-Firmware-Hash"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), fw.Filename)
		assert.Equal(t, "firmware image", w.Body.String())
	})

	t.Run("unknown firmware", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/ota/download/999", "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("deactivated firmware is gone", func(t *testing.T) {
		require.NoError(t, env.store.SetFirmwareActive(fw.ID, false))
		w := env.do(http.MethodGet, "/api/ota/download/1", "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad firmware id", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/ota/download/abc", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestOTADownloadEndpoint_Signed(t *testing.T) {
	env := setupEnv(t, "download-secret")
	fw := env.seedFirmwareWithBinary(t, "sensor-v2", "1.3.0", 2)

	signedURL := env.ota.BuildDownloadURL("device-1", fw.ID)
	// Strip the base URL; the test router serves the path directly
	path := signedURL[len("http://localhost:8080"):]

	t.Run("valid signed link", func(t *testing.T) {
		w := env.do(http.MethodGet, path, "", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "firmware image", w.Body.String())
	})

	t.Run("missing signature parameters", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/ota/download/1", "", "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("tampered signature", func(t *testing.T) {
		w := env.do(http.MethodGet, path+"x", "", "")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "signature_invalid")
	})

	t.Run("expired link", func(t *testing.T) {
		expires := time.Now().UTC().Add(-time.Minute).Unix()
		sig := env.ota.SignDownload("device-1", fw.ID, expires)
		w := env.do(http.MethodGet,
			"/api/ota/download/1?device_id=device-1&expires="+
				strconv.FormatInt(expires, 10)+"&sig="+sig, "", "")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "link_expired")
	})
}

func TestOTAStatusEndpoint(t *testing.T) {
	env := setupEnv(t, "")
	env.seedTenant(t, "acme", time.Now().UTC().Add(30*24*time.Hour))
	access := env.activate(t, "device-1")
	fw := env.seedFirmwareWithBinary(t, "sensor-v2", "1.3.0", 2)

	t.Run("requires a token", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/ota/status",
			`{"device_id":"device-1","firmware_id":1,"status":"downloading"}`, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("records progress", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/ota/status",
			`{"device_id":"device-1","firmware_id":1,"status":"downloading","bytes_downloaded":512}`, access)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "downloading", resp["status"])
		assert.NotZero(t, resp["log_id"])

		entry, err := env.store.GetLatestOTALog("device-1", fw.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OTAStatusDownloading, entry.Status)
		assert.EqualValues(t, 512, entry.BytesDownloaded)
	})

	t.Run("restarted download reports zero bytes", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/ota/status",
			`{"device_id":"device-1","firmware_id":1,"status":"downloading","bytes_downloaded":0}`, access)
		require.Equal(t, http.StatusOK, w.Code)

		entry, err := env.store.GetLatestOTALog("device-1", fw.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 0, entry.BytesDownloaded)
	})

	t.Run("another device's log cannot be written", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/ota/status",
			`{"device_id":"device-2","firmware_id":1,"status":"success"}`, access)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "device_mismatch")

		_, err := env.store.GetLatestOTALog("device-2", fw.ID)
		assert.Error(t, err)
	})

	t.Run("unknown firmware", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/ota/status",
			`{"device_id":"device-1","firmware_id":999,"status":"downloading"}`, access)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
