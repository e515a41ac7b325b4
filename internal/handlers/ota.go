package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gimpeliovsky-prog/license-server/internal/metrics"
	"github.com/gimpeliovsky-prog/license-server/internal/middleware"
	"github.com/gimpeliovsky-prog/license-server/internal/services"
)

// OTAHandler serves the device-facing OTA endpoints.
type OTAHandler struct {
	ota     *services.OTAService
	metrics metrics.Recorder
}

func NewOTAHandler(ota *services.OTAService, m metrics.Recorder) *OTAHandler {
	return &OTAHandler{ota: ota, metrics: m}
}

type otaCheckRequest struct {
	DeviceID       string `json:"device_id" binding:"required"`
	DeviceType     string `json:"device_type" binding:"required"`
	CurrentVersion string `json:"current_version" binding:"required"`
	CurrentBuild   int    `json:"current_build"`
}

// requireDeviceMatch enforces that the request's device_id matches the
// device binding in the authenticated token. A token without a device
// binding cannot act for any device.
func requireDeviceMatch(c *gin.Context, deviceID string) bool {
	rc := middleware.GetRequestContext(c)
	if rc == nil || rc.Claims.DeviceID == "" {
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "device_token_required",
			"error_description": "A device-bound token is required",
		})
		return false
	}
	if deviceID != rc.Claims.DeviceID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "device_mismatch",
			"error_description": "Device id does not match the token",
		})
		return false
	}
	return true
}

// Check handles POST /api/ota/check
func (h *OTAHandler) Check(c *gin.Context) {
	var req otaCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": err.Error(),
		})
		return
	}
	if !requireDeviceMatch(c, req.DeviceID) {
		return
	}

	result, err := h.ota.CheckUpdate(c, services.CheckUpdateInput{
		DeviceID:       req.DeviceID,
		DeviceType:     req.DeviceType,
		CurrentVersion: req.CurrentVersion,
		CurrentBuild:   req.CurrentBuild,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "Internal server error",
		})
		return
	}

	if !result.UpdateAvailable {
		c.JSON(http.StatusOK, gin.H{"update_available": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"update_available": true,
		"firmware_id":      result.FirmwareID,
		"version":          result.Version,
		"build_number":     result.BuildNumber,
		"description":      result.Description,
		"download_url":     result.DownloadURL,
		"file_hash":        result.FileHash,
		"file_size":        result.FileSize,
	})
}

// Download handles GET /api/ota/download/:firmware_id. When download
// signing is enabled the link authenticates itself via the signed query
// parameters; the bearer-token middleware is not in front of this route
// because embedded bootloaders fetch it with a bare HTTP client.
func (h *OTAHandler) Download(c *gin.Context) {
	firmwareID, err := strconv.ParseInt(c.Param("firmware_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "Invalid firmware id",
		})
		return
	}

	if h.ota.SigningEnabled() {
		expires, err := strconv.ParseInt(c.Query("expires"), 10, 64)
		if err != nil {
			h.metrics.RecordOTADownload(false)
			c.JSON(http.StatusForbidden, gin.H{
				"error":             "forbidden",
				"error_description": "Missing or invalid signature parameters",
			})
			return
		}
		if err := h.ota.VerifyDownload(c.Query("device_id"), firmwareID, expires, c.Query("sig")); err != nil {
			h.metrics.RecordOTADownload(false)
			h.writeDownloadError(c, err)
			return
		}
	}

	fw, err := h.ota.GetActiveFirmware(firmwareID)
	if err != nil {
		h.metrics.RecordOTADownload(false)
		h.writeDownloadError(c, err)
		return
	}

	c.Header("X-Firmware-Version", fw.Version)
	c.Header("X-Firmware-Build", strconv.Itoa(fw.BuildNumber))
	c.Header("X-Firmware-Hash", fw.FileHash)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fw.Filename))

	h.metrics.RecordOTADownload(true)
	c.File(h.ota.BinaryFilePath(fw))
}

type otaStatusRequest struct {
	DeviceID   string `json:"device_id" binding:"required"`
	FirmwareID int64  `json:"firmware_id" binding:"required"`
	Status     string `json:"status" binding:"required"`
	// Pointer so an explicit 0 is distinguishable from an absent field
	BytesDownloaded *int64 `json:"bytes_downloaded"`
	ErrorMessage    string `json:"error_message"`
}

// ReportStatus handles POST /api/ota/status
func (h *OTAHandler) ReportStatus(c *gin.Context) {
	var req otaStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": err.Error(),
		})
		return
	}
	if !requireDeviceMatch(c, req.DeviceID) {
		return
	}

	entry, err := h.ota.ReportStatus(c, services.ReportStatusInput{
		DeviceID:        req.DeviceID,
		FirmwareID:      req.FirmwareID,
		Status:          req.Status,
		BytesDownloaded: req.BytesDownloaded,
		ErrorMessage:    req.ErrorMessage,
	})
	if err != nil {
		if errors.Is(err, services.ErrFirmwareNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":             "firmware_not_found",
				"error_description": "Unknown firmware",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "Internal server error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"log_id": entry.ID,
		"status": entry.Status,
	})
}

func (h *OTAHandler) writeDownloadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrFirmwareNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "firmware_not_found",
			"error_description": "Unknown or inactive firmware",
		})
	case errors.Is(err, services.ErrDownloadSignatureInvalid):
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "signature_invalid",
			"error_description": "Download link signature is invalid",
		})
	case errors.Is(err, services.ErrDownloadLinkExpired):
		c.JSON(http.StatusForbidden, gin.H{
			"error":             "link_expired",
			"error_description": "Download link has expired",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":             "server_error",
			"error_description": "Internal server error",
		})
	}
}
