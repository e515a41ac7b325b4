package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gimpeliovsky-prog/license-server/internal/models"
	"github.com/gimpeliovsky-prog/license-server/internal/services"
	"github.com/gimpeliovsky-prog/license-server/internal/store"
)

// AdminHandler serves the X-Admin-Token protected management API.
type AdminHandler struct {
	store *store.Store
	ota   *services.OTAService
	audit *services.AuditService
}

func NewAdminHandler(s *store.Store, ota *services.OTAService, audit *services.AuditService) *AdminHandler {
	return &AdminHandler{store: s, ota: ota, audit: audit}
}

// ListFirmware handles GET /api/admin/firmware
func (h *AdminHandler) ListFirmware(c *gin.Context) {
	fws, err := h.store.ListFirmware()
	if err != nil {
		writeServerError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"firmware": fws})
}

// GetFirmware handles GET /api/admin/firmware/:id
func (h *AdminHandler) GetFirmware(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeBadRequest(c, "Invalid firmware id")
		return
	}
	fw, err := h.store.GetFirmwareByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeNotFound(c, "firmware_not_found", "Unknown firmware")
		return
	}
	if err != nil {
		writeServerError(c)
		return
	}
	c.JSON(http.StatusOK, fw)
}

type createFirmwareRequest struct {
	DeviceType        string `json:"device_type" binding:"required"`
	Version           string `json:"version" binding:"required"`
	BuildNumber       int    `json:"build_number"`
	Filename          string `json:"filename" binding:"required"`
	BinaryPath        string `json:"binary_path" binding:"required"`
	Description       string `json:"description"`
	ReleaseNotes      string `json:"release_notes"`
	MinCurrentVersion string `json:"min_current_version"`
	IsStable          bool   `json:"is_stable"`
	FileHash          string `json:"file_hash"`
}

// CreateFirmware handles POST /api/admin/firmware. The binary must already
// exist under the firmware base path (see UploadBinary).
func (h *AdminHandler) CreateFirmware(c *gin.Context) {
	var req createFirmwareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	fw, err := h.ota.RegisterFirmware(c, services.RegisterFirmwareInput{
		DeviceType:        req.DeviceType,
		Version:           req.Version,
		BuildNumber:       req.BuildNumber,
		Filename:          req.Filename,
		BinaryPath:        req.BinaryPath,
		Description:       req.Description,
		ReleaseNotes:      req.ReleaseNotes,
		MinCurrentVersion: req.MinCurrentVersion,
		IsStable:          req.IsStable,
		DeclaredHash:      req.FileHash,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateFirmware) {
			c.JSON(http.StatusConflict, gin.H{
				"error":             "duplicate_firmware",
				"error_description": "A release with this device type, version and build already exists",
			})
			return
		}
		writeBadRequest(c, err.Error())
		return
	}

	c.JSON(http.StatusCreated, fw)
}

// UploadBinary handles POST /api/admin/firmware/upload. The binary is
// written under the firmware base path; the response carries size, hash
// and any version info parsed from an embedded ESP-IDF descriptor so the
// caller can prefill the registration request.
func (h *AdminHandler) UploadBinary(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		writeBadRequest(c, "Missing file field")
		return
	}
	defer file.Close()

	path, size, hash, err := h.ota.StoreBinary(header.Filename, file)
	if err != nil {
		writeServerError(c)
		return
	}

	resp := gin.H{
		"binary_path": path,
		"file_size":   size,
		"file_hash":   hash,
	}

	// Best effort: peek at the stored binary for an ESP-IDF app descriptor
	if desc, err := h.ota.ParseStoredBinary(path); err == nil {
		resp["parsed_version"] = desc.SemVer
		resp["parsed_build"] = desc.BuildNumber
		resp["raw_version"] = desc.Version
	}

	c.JSON(http.StatusCreated, resp)
}

type patchFirmwareRequest struct {
	Description       *string `json:"description"`
	ReleaseNotes      *string `json:"release_notes"`
	MinCurrentVersion *string `json:"min_current_version"`
	IsStable          *bool   `json:"is_stable"`
	IsActive          *bool   `json:"is_active"`
}

// PatchFirmware handles PATCH /api/admin/firmware/:id
func (h *AdminHandler) PatchFirmware(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeBadRequest(c, "Invalid firmware id")
		return
	}

	var req patchFirmwareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	fw, err := h.store.GetFirmwareByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeNotFound(c, "firmware_not_found", "Unknown firmware")
		return
	}
	if err != nil {
		writeServerError(c)
		return
	}

	if req.Description != nil {
		fw.Description = *req.Description
	}
	if req.ReleaseNotes != nil {
		fw.ReleaseNotes = *req.ReleaseNotes
	}
	if req.MinCurrentVersion != nil {
		fw.MinCurrentVersion = *req.MinCurrentVersion
	}
	if req.IsStable != nil {
		fw.IsStable = *req.IsStable
	}
	if req.IsActive != nil {
		fw.IsActive = *req.IsActive
	}

	if err := h.store.UpdateFirmware(fw); err != nil {
		writeServerError(c)
		return
	}
	c.JSON(http.StatusOK, fw)
}

// DeactivateFirmware handles DELETE /api/admin/firmware/:id. Releases are
// never hard-deleted; devices mid-download keep a consistent catalog.
func (h *AdminHandler) DeactivateFirmware(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeBadRequest(c, "Invalid firmware id")
		return
	}
	if err := h.store.SetFirmwareActive(id, false); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeNotFound(c, "firmware_not_found", "Unknown firmware")
			return
		}
		writeServerError(c)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListOTALogs handles GET /api/admin/ota/logs?device_id=...&limit=...
func (h *AdminHandler) ListOTALogs(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		writeBadRequest(c, "device_id query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.store.ListOTALogsByDevice(deviceID, limit)
	if err != nil {
		writeServerError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// GetOTAAccess handles GET /api/admin/ota/access
func (h *AdminHandler) GetOTAAccess(c *gin.Context) {
	access, err := h.store.GetOTAAccess()
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeNotFound(c, "ota_access_not_configured", "No OTA access binding configured")
		return
	}
	if err != nil {
		writeServerError(c)
		return
	}
	c.JSON(http.StatusOK, access)
}

type putOTAAccessRequest struct {
	TenantID     string `json:"tenant_id" binding:"required"`
	LicenseKeyID string `json:"license_key_id" binding:"required"`
}

// PutOTAAccess handles PUT /api/admin/ota/access, replacing the singleton
// (tenant, license key) binding used by anonymous embedded fleets.
func (h *AdminHandler) PutOTAAccess(c *gin.Context) {
	var req putOTAAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	if _, err := h.store.GetTenantByID(req.TenantID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeNotFound(c, "tenant_not_found", "Unknown tenant")
			return
		}
		writeServerError(c)
		return
	}

	access := &models.OTAAccess{
		TenantID:     req.TenantID,
		LicenseKeyID: req.LicenseKeyID,
	}
	if err := h.store.SaveOTAAccess(access); err != nil {
		writeServerError(c)
		return
	}

	h.audit.Log(c, services.AuditLogEntry{
		EventType: models.AuditEventAdminAction,
		TenantID:  req.TenantID,
		Success:   true,
		Details: models.AuditDetails{
			"action":     "put_ota_access",
			"key_id_ref": req.LicenseKeyID,
		},
	})

	c.JSON(http.StatusOK, access)
}

// RevokeDevice handles POST /api/admin/devices/revoke
func (h *AdminHandler) RevokeDevice(c *gin.Context) {
	var req struct {
		TenantID string `json:"tenant_id" binding:"required"`
		DeviceID string `json:"device_id" binding:"required"`
		Revoked  *bool  `json:"revoked" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	if err := h.store.SetDeviceRevoked(req.TenantID, req.DeviceID, *req.Revoked); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeNotFound(c, "device_not_found", "Unknown device")
			return
		}
		writeServerError(c)
		return
	}

	h.audit.Log(c, services.AuditLogEntry{
		EventType: models.AuditEventAdminAction,
		TenantID:  req.TenantID,
		DeviceID:  req.DeviceID,
		Success:   true,
		Details: models.AuditDetails{
			"action":  "revoke_device",
			"revoked": *req.Revoked,
		},
	})

	c.Status(http.StatusNoContent)
}

// ListAuditLogs handles GET /api/admin/audit?event_type=...&limit=...
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	logs, err := h.audit.GetAuditLogs(c.Query("event_type"), limit)
	if err != nil {
		writeServerError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func writeBadRequest(c *gin.Context, desc string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":             "invalid_request",
		"error_description": desc,
	})
}

func writeNotFound(c *gin.Context, code, desc string) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":             code,
		"error_description": desc,
	})
}

func writeServerError(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":             "server_error",
		"error_description": "Internal server error",
	})
}
