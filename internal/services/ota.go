package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
	"gorm.io/gorm"

	"github.com/gimpeliovsky-prog/license-server/internal/metrics"
	"github.com/gimpeliovsky-prog/license-server/internal/models"
	"github.com/gimpeliovsky-prog/license-server/internal/store"
)

// CheckUpdateInput is the device-reported state for an update check.
type CheckUpdateInput struct {
	DeviceID       string
	DeviceType     string
	CurrentVersion string
	CurrentBuild   int
}

// CheckUpdateResult describes the selected candidate, if any.
type CheckUpdateResult struct {
	UpdateAvailable bool
	FirmwareID      int64
	Version         string
	BuildNumber     int
	Description     string
	DownloadURL     string
	FileHash        string
	FileSize        int64
}

// ReportStatusInput is a device-reported OTA progress event. A nil
// BytesDownloaded means the device did not report a count; an explicit 0
// overwrites the stored value (a restarted download resets its counter).
type ReportStatusInput struct {
	DeviceID        string
	FirmwareID      int64
	Status          string
	BytesDownloaded *int64
	ErrorMessage    string
}

// RegisterFirmwareInput describes a firmware release being registered.
type RegisterFirmwareInput struct {
	DeviceType        string
	Version           string
	BuildNumber       int
	Filename          string
	BinaryPath        string
	Description       string
	ReleaseNotes      string
	MinCurrentVersion string
	IsStable          bool
	DeclaredHash      string // optional, verified against the binary when set
}

// OTAService implements firmware selection, signed download links, status
// tracking and firmware registration.
type OTAService struct {
	store    *store.Store
	audit    *AuditService
	metrics  metrics.Recorder
	secret   []byte // empty disables download link signing
	linkTTL  time.Duration
	basePath string
	baseURL  string

	// now is injectable for tests
	now func() time.Time
}

func NewOTAService(
	s *store.Store,
	audit *AuditService,
	m metrics.Recorder,
	downloadSecret string,
	linkTTL time.Duration,
	basePath, baseURL string,
) *OTAService {
	return &OTAService{
		store:    s,
		audit:    audit,
		metrics:  m,
		secret:   []byte(downloadSecret),
		linkTTL:  linkTTL,
		basePath: basePath,
		baseURL:  baseURL,
		now:      time.Now,
	}
}

// parseVersion parses a strict major.minor.patch version. Prerelease or
// build metadata suffixes are rejected so tuple ordering stays total.
func parseVersion(s string) (*semver.Version, bool) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, false
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return nil, false
	}
	return v, true
}

// CheckUpdate picks the best upgrade candidate for a device: the maximum
// of (version tuple, build number) among active stable firmware for the
// device type, offered only when strictly newer than the device's current
// state and not gated by min_current_version. An unparseable current
// version means no update rather than an error.
func (s *OTAService) CheckUpdate(ctx context.Context, in CheckUpdateInput) (*CheckUpdateResult, error) {
	current, ok := parseVersion(in.CurrentVersion)
	if !ok {
		s.metrics.RecordOTACheck("up_to_date")
		return &CheckUpdateResult{}, nil
	}

	candidates, err := s.store.ListFirmwareCandidates(in.DeviceType)
	if err != nil {
		s.metrics.RecordOTACheck("error")
		return nil, err
	}

	var best *models.Firmware
	var bestVersion *semver.Version
	for _, fw := range candidates {
		v, ok := parseVersion(fw.Version)
		if !ok {
			continue
		}
		if best == nil ||
			v.GreaterThan(bestVersion) ||
			(v.Equal(bestVersion) && fw.BuildNumber > best.BuildNumber) {
			best, bestVersion = fw, v
		}
	}

	if best == nil || !isNewer(bestVersion, best.BuildNumber, current, in.CurrentBuild) {
		s.metrics.RecordOTACheck("up_to_date")
		return &CheckUpdateResult{}, nil
	}

	if best.MinCurrentVersion != "" {
		if min, ok := parseVersion(best.MinCurrentVersion); ok && current.LessThan(min) {
			// Device must pass through an intermediate release first
			s.metrics.RecordOTACheck("gated")
			return &CheckUpdateResult{}, nil
		}
	}

	s.metrics.RecordOTACheck("update_available")
	s.audit.Log(ctx, AuditLogEntry{
		EventType: models.AuditEventOTACheck,
		DeviceID:  in.DeviceID,
		Success:   true,
		Details: models.AuditDetails{
			"device_type":     in.DeviceType,
			"current_version": in.CurrentVersion,
			"offered_version": best.Version,
			"firmware_id":     best.ID,
		},
	})

	return &CheckUpdateResult{
		UpdateAvailable: true,
		FirmwareID:      best.ID,
		Version:         best.Version,
		BuildNumber:     best.BuildNumber,
		Description:     best.Description,
		DownloadURL:     s.BuildDownloadURL(in.DeviceID, best.ID),
		FileHash:        best.FileHash,
		FileSize:        best.FileSize,
	}, nil
}

func isNewer(candidate *semver.Version, candidateBuild int, current *semver.Version, currentBuild int) bool {
	if candidate.GreaterThan(current) {
		return true
	}
	return candidate.Equal(current) && candidateBuild > currentBuild
}

// SignDownload computes the HMAC-SHA256 signature over
// "firmware_id:device_id:expires", hex-encoded.
func (s *OTAService) SignDownload(deviceID string, firmwareID, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d:%s:%d", firmwareID, deviceID, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyDownload checks a signed download link. Signing disabled (empty
// secret) means every link verifies.
func (s *OTAService) VerifyDownload(deviceID string, firmwareID, expires int64, sig string) error {
	if !s.SigningEnabled() {
		return nil
	}
	expected := s.SignDownload(deviceID, firmwareID, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrDownloadSignatureInvalid
	}
	if expires < s.now().Unix() {
		return ErrDownloadLinkExpired
	}
	return nil
}

// SigningEnabled reports whether download links are signed. An empty
// secret disables the feature system-wide.
func (s *OTAService) SigningEnabled() bool {
	return len(s.secret) > 0
}

// BuildDownloadURL returns the download link for a firmware, signed with
// the configured TTL when signing is enabled.
func (s *OTAService) BuildDownloadURL(deviceID string, firmwareID int64) string {
	path := fmt.Sprintf("%s/api/ota/download/%d", s.baseURL, firmwareID)
	if !s.SigningEnabled() {
		return path
	}
	expires := s.now().Add(s.linkTTL).Unix()
	q := url.Values{}
	q.Set("device_id", deviceID)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.SignDownload(deviceID, firmwareID, expires))
	return path + "?" + q.Encode()
}

// GetActiveFirmware fetches a firmware row for download, rejecting
// inactive releases.
func (s *OTAService) GetActiveFirmware(firmwareID int64) (*models.Firmware, error) {
	fw, err := s.store.GetFirmwareByID(firmwareID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFirmwareNotFound
	}
	if err != nil {
		return nil, err
	}
	if !fw.IsActive {
		return nil, ErrFirmwareNotFound
	}
	return fw, nil
}

// BinaryFilePath resolves a firmware's binary location under the
// configured base path.
func (s *OTAService) BinaryFilePath(fw *models.Firmware) string {
	if filepath.IsAbs(fw.BinaryPath) {
		return fw.BinaryPath
	}
	return filepath.Join(s.basePath, fw.BinaryPath)
}

// ReportStatus records device-reported OTA progress with
// find-latest-or-create semantics per (device, firmware) pair. Unknown
// status values are stored as-is. Milestones stamp once for downloading
// and installing; installed_at is overwritten on every success report.
// The whole update runs in one transaction.
func (s *OTAService) ReportStatus(ctx context.Context, in ReportStatusInput) (*models.DeviceOTALog, error) {
	if _, err := s.store.GetFirmwareByID(in.FirmwareID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFirmwareNotFound
		}
		return nil, err
	}

	now := s.now().UTC()
	var out *models.DeviceOTALog

	err := s.store.WithTransaction(func(tx *store.Store) error {
		entry, err := tx.GetLatestOTALog(in.DeviceID, in.FirmwareID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry = &models.DeviceOTALog{
				DeviceID:   in.DeviceID,
				FirmwareID: in.FirmwareID,
			}
		} else if err != nil {
			return err
		}

		entry.Status = in.Status
		if in.BytesDownloaded != nil {
			entry.BytesDownloaded = *in.BytesDownloaded
		}
		if in.ErrorMessage != "" {
			entry.ErrorMessage = in.ErrorMessage
		}

		switch in.Status {
		case models.OTAStatusDownloading:
			if entry.DownloadStartedAt == nil {
				entry.DownloadStartedAt = &now
			}
		case models.OTAStatusInstalling:
			if entry.DownloadCompletedAt == nil {
				entry.DownloadCompletedAt = &now
			}
		case models.OTAStatusSuccess:
			// Success is terminal in practice; re-stamp on repeats
			installed := now
			entry.InstalledAt = &installed
		}

		if entry.ID == 0 {
			if err := tx.CreateOTALog(entry); err != nil {
				return err
			}
		} else if err := tx.UpdateOTALog(entry); err != nil {
			return err
		}

		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOTAStatusReport(in.Status)
	s.audit.Log(ctx, AuditLogEntry{
		EventType: models.AuditEventOTAStatus,
		DeviceID:  in.DeviceID,
		Success:   in.Status != models.OTAStatusFailed,
		Details: models.AuditDetails{
			"firmware_id": in.FirmwareID,
			"status":      in.Status,
		},
	})

	return out, nil
}

// RegisterFirmware validates and stores a firmware release: the version
// must parse strictly, the binary must exist under the base path, and the
// content hash is computed (and checked against a declared hash when one
// is given).
func (s *OTAService) RegisterFirmware(ctx context.Context, in RegisterFirmwareInput) (*models.Firmware, error) {
	if _, ok := parseVersion(in.Version); !ok {
		return nil, fmt.Errorf("invalid firmware version %q", in.Version)
	}
	if in.MinCurrentVersion != "" {
		if _, ok := parseVersion(in.MinCurrentVersion); !ok {
			return nil, fmt.Errorf("invalid min_current_version %q", in.MinCurrentVersion)
		}
	}

	fw := &models.Firmware{
		DeviceType:        in.DeviceType,
		Version:           in.Version,
		BuildNumber:       in.BuildNumber,
		Filename:          in.Filename,
		BinaryPath:        in.BinaryPath,
		Description:       in.Description,
		ReleaseNotes:      in.ReleaseNotes,
		MinCurrentVersion: in.MinCurrentVersion,
		IsStable:          in.IsStable,
		IsActive:          true,
	}

	size, hash, err := s.hashBinary(s.BinaryFilePath(fw))
	if err != nil {
		return nil, fmt.Errorf("firmware binary unreadable: %w", err)
	}
	if in.DeclaredHash != "" && in.DeclaredHash != hash {
		return nil, fmt.Errorf("declared hash %s does not match binary hash %s", in.DeclaredHash, hash)
	}
	fw.FileSize = size
	fw.FileHash = hash

	released := s.now().UTC()
	fw.ReleasedAt = &released

	if err := s.store.CreateFirmware(fw); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, AuditLogEntry{
		EventType: models.AuditEventAdminAction,
		Success:   true,
		Details: models.AuditDetails{
			"action":      "register_firmware",
			"device_type": in.DeviceType,
			"version":     in.Version,
			"build":       in.BuildNumber,
		},
	})

	return fw, nil
}

// StoreBinary writes an uploaded firmware binary under the base path and
// returns its relative path, size and SHA-256 hash.
func (s *OTAService) StoreBinary(filename string, r io.Reader) (string, int64, string, error) {
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return "", 0, "", err
	}

	// Uploaded names are untrusted; keep only the base component
	name := filepath.Base(filename)
	dest := filepath.Join(s.basePath, name)

	f, err := os.Create(dest)
	if err != nil {
		return "", 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		os.Remove(dest)
		return "", 0, "", err
	}

	return name, size, hex.EncodeToString(h.Sum(nil)), nil
}

// ParseStoredBinary reads a stored binary and extracts its ESP-IDF app
// descriptor, when one is present.
func (s *OTAService) ParseStoredBinary(relPath string) (*ESPAppDesc, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.Base(relPath)))
	if err != nil {
		return nil, err
	}
	return ParseESPAppDesc(data)
}

func (s *OTAService) hashBinary(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}
