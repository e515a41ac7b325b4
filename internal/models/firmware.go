package models

import "time"

// Firmware is an uploaded firmware image, identified by the
// (device_type, version, build_number) triple. Version is a strict
// three-part semantic version; ordering is (version tuple, build number).
// Only active firmware is ever served; only stable firmware is offered
// through the update-check path.
type Firmware struct {
	ID                int64      `gorm:"primaryKey;autoIncrement"   json:"id"`
	DeviceType        string     `gorm:"type:varchar(64);not null;uniqueIndex:uq_firmware_release" json:"device_type"`
	Version           string     `gorm:"type:varchar(32);not null;uniqueIndex:uq_firmware_release" json:"version"`
	BuildNumber       int        `gorm:"not null;default:0;uniqueIndex:uq_firmware_release" json:"build_number"`
	Filename          string     `gorm:"type:varchar(255);not null" json:"filename"`
	BinaryPath        string     `gorm:"type:varchar(512);not null" json:"-"`
	FileSize          int64      `gorm:"not null"                   json:"file_size"`
	FileHash          string     `gorm:"type:varchar(64);not null"  json:"file_hash"` // SHA-256 hex
	Description       string     `gorm:"type:text"                  json:"description,omitempty"`
	ReleaseNotes      string     `gorm:"type:text"                  json:"release_notes,omitempty"`
	MinCurrentVersion string     `gorm:"type:varchar(32)"           json:"min_current_version,omitempty"`
	IsStable          bool       `gorm:"not null;default:false"     json:"is_stable"`
	IsActive          bool       `gorm:"not null;default:true"      json:"is_active"`
	ReleasedAt        *time.Time `json:"released_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// DeviceOTALog tracks the progress of one firmware rollout on one device.
// DeviceID is the device-supplied identifier, not the Device row ID, so a
// log row can exist before the device has ever activated.
type DeviceOTALog struct {
	ID                  int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID            string     `gorm:"type:varchar(128);not null;index:idx_ota_device_firmware" json:"device_id"`
	FirmwareID          int64      `gorm:"not null;index:idx_ota_device_firmware" json:"firmware_id"`
	Status              string     `gorm:"type:varchar(32);not null" json:"status"`
	BytesDownloaded     int64      `gorm:"not null;default:0"        json:"bytes_downloaded"`
	ErrorMessage        string     `gorm:"type:text"                 json:"error_message,omitempty"`
	DownloadStartedAt   *time.Time `json:"download_started_at,omitempty"`
	DownloadCompletedAt *time.Time `json:"download_completed_at,omitempty"`
	InstalledAt         *time.Time `json:"installed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`

	Firmware *Firmware `gorm:"foreignKey:FirmwareID" json:"-"`
}

// OTA status values reported by devices. Unknown values are stored as-is;
// only these drive milestone timestamps.
const (
	OTAStatusPending     = "pending"
	OTAStatusDownloading = "downloading"
	OTAStatusInstalling  = "installing"
	OTAStatusSuccess     = "success"
	OTAStatusFailed      = "failed"
)
