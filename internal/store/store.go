package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/gimpeliovsky-prog/license-server/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

func New(driver, dsn string) (*Store, error) {
	dialector, err := GetDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// Auto migrate
	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.LicenseKey{},
		&models.Device{},
		&models.Firmware{},
		&models.DeviceOTALog{},
		&models.OTAAccess{},
		&models.AuditLog{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// WithTransaction runs fn inside a database transaction. The Store passed
// to fn shares the transaction handle; any error rolls everything back.
func (s *Store) WithTransaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Tenant operations

func (s *Store) CreateTenant(tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	err := s.db.Create(tenant).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrCompanyCodeConflict
	}
	return err
}

func (s *Store) GetTenantByID(id string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.Where("id = ?", id).First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// GetTenantByCompanyCode looks a tenant up case-insensitively.
func (s *Store) GetTenantByCompanyCode(companyCode string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.Where("LOWER(company_code) = LOWER(?)", companyCode).
		First(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *Store) UpdateTenant(tenant *models.Tenant) error {
	return s.db.Save(tenant).Error
}

func (s *Store) ListTenants() ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := s.db.Order("created_at DESC").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

// License key operations

func (s *Store) CreateLicenseKey(key *models.LicenseKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	return s.db.Create(key).Error
}

// GetActiveLicenseKeyByFingerprint returns the active key matching the
// fingerprint, optionally scoped to one tenant. The fingerprint column is
// unique so at most one row can match.
func (s *Store) GetActiveLicenseKeyByFingerprint(
	tenantID, fingerprint string,
) (*models.LicenseKey, error) {
	q := s.db.Where("fingerprint = ? AND status = ?", fingerprint, models.LicenseKeyActive)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	var key models.LicenseKey
	if err := q.First(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

// GetLegacyLicenseKeys returns active keys created before fingerprinting
// existed (NULL fingerprint), optionally scoped to one tenant. These are
// matched by hash comparison alone.
func (s *Store) GetLegacyLicenseKeys(tenantID string) ([]*models.LicenseKey, error) {
	q := s.db.Where("fingerprint IS NULL AND status = ?", models.LicenseKeyActive)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	var keys []*models.LicenseKey
	if err := q.Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// UpdateLicenseKeyFingerprint backfills the fingerprint on a legacy key.
// A duplicate fingerprint means another key already claimed it; the caller
// treats that as a no-op.
func (s *Store) UpdateLicenseKeyFingerprint(keyID, fingerprint string) error {
	return s.db.Model(&models.LicenseKey{}).
		Where("id = ?", keyID).
		Update("fingerprint", fingerprint).Error
}

func (s *Store) RevokeLicenseKey(keyID string) error {
	return s.db.Model(&models.LicenseKey{}).
		Where("id = ?", keyID).
		Update("status", models.LicenseKeyRevoked).Error
}

// Device operations

func (s *Store) GetDevice(tenantID, deviceID string) (*models.Device, error) {
	var device models.Device
	if err := s.db.Where("tenant_id = ? AND device_id = ?", tenantID, deviceID).
		First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

// UpsertDevice creates the device row on first activation or bumps
// last_seen on subsequent ones. The ON CONFLICT clause makes concurrent
// first activations of the same device converge on a single row.
func (s *Store) UpsertDevice(tenantID, deviceID string, seenAt time.Time) (*models.Device, error) {
	device := &models.Device{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		DeviceID: deviceID,
		LastSeen: &seenAt,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "device_id"}},
		DoUpdates: clause.Assignments(map[string]any{"last_seen": seenAt}),
	}).Create(device).Error
	if err != nil {
		return nil, err
	}
	// Re-read so the caller sees the canonical row, not the candidate
	return s.GetDevice(tenantID, deviceID)
}

func (s *Store) SetDeviceRevoked(tenantID, deviceID string, revoked bool) error {
	result := s.db.Model(&models.Device{}).
		Where("tenant_id = ? AND device_id = ?", tenantID, deviceID).
		Update("revoked", revoked)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) ListDevicesByTenant(tenantID string) ([]models.Device, error) {
	var devices []models.Device
	if err := s.db.Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

// Firmware operations

func (s *Store) CreateFirmware(fw *models.Firmware) error {
	err := s.db.Create(fw).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateFirmware
	}
	return err
}

func (s *Store) GetFirmwareByID(id int64) (*models.Firmware, error) {
	var fw models.Firmware
	if err := s.db.Where("id = ?", id).First(&fw).Error; err != nil {
		return nil, err
	}
	return &fw, nil
}

// ListFirmwareCandidates returns active, stable firmware for a device type.
// Ordering by version tuple happens in the service layer because semantic
// versions do not sort lexicographically.
func (s *Store) ListFirmwareCandidates(deviceType string) ([]*models.Firmware, error) {
	var fws []*models.Firmware
	if err := s.db.Where(
		"device_type = ? AND is_active = ? AND is_stable = ?",
		deviceType, true, true,
	).Find(&fws).Error; err != nil {
		return nil, err
	}
	return fws, nil
}

func (s *Store) ListFirmware() ([]models.Firmware, error) {
	var fws []models.Firmware
	if err := s.db.Order("created_at DESC").Find(&fws).Error; err != nil {
		return nil, err
	}
	return fws, nil
}

func (s *Store) UpdateFirmware(fw *models.Firmware) error {
	return s.db.Save(fw).Error
}

func (s *Store) SetFirmwareActive(id int64, active bool) error {
	result := s.db.Model(&models.Firmware{}).
		Where("id = ?", id).
		Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *Store) DeleteFirmware(id int64) error {
	return s.db.Delete(&models.Firmware{}, id).Error
}

// OTA log operations

func (s *Store) CreateOTALog(log *models.DeviceOTALog) error {
	return s.db.Create(log).Error
}

// GetLatestOTALog returns the most recent log row for a device/firmware
// pair, or gorm.ErrRecordNotFound.
func (s *Store) GetLatestOTALog(deviceID string, firmwareID int64) (*models.DeviceOTALog, error) {
	var log models.DeviceOTALog
	if err := s.db.Where("device_id = ? AND firmware_id = ?", deviceID, firmwareID).
		Order("created_at DESC").
		First(&log).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

func (s *Store) UpdateOTALog(log *models.DeviceOTALog) error {
	return s.db.Save(log).Error
}

func (s *Store) ListOTALogsByDevice(deviceID string, limit int) ([]models.DeviceOTALog, error) {
	var logs []models.DeviceOTALog
	q := s.db.Where("device_id = ?", deviceID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// OTA access gate operations

// GetOTAAccess returns the singleton binding row, or
// gorm.ErrRecordNotFound when no binding has been configured.
func (s *Store) GetOTAAccess() (*models.OTAAccess, error) {
	var access models.OTAAccess
	if err := s.db.First(&access, 1).Error; err != nil {
		return nil, err
	}
	return &access, nil
}

// SaveOTAAccess replaces the singleton binding.
func (s *Store) SaveOTAAccess(access *models.OTAAccess) error {
	access.ID = 1
	return s.db.Save(access).Error
}

// Audit log operations

func (s *Store) CreateAuditLog(log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	return s.db.Create(log).Error
}

// CreateAuditLogs batch-inserts audit logs, used by the async flush path.
func (s *Store) CreateAuditLogs(logs []*models.AuditLog) error {
	if len(logs) == 0 {
		return nil
	}
	for _, log := range logs {
		if log.ID == "" {
			log.ID = uuid.New().String()
		}
	}
	return s.db.CreateInBatches(logs, 100).Error
}

func (s *Store) DeleteAuditLogsBefore(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	return result.RowsAffected, result.Error
}

func (s *Store) ListAuditLogs(eventType string, limit int) ([]models.AuditLog, error) {
	q := s.db.Order("created_at DESC")
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var logs []models.AuditLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// Gauge queries for metrics

// CountActiveDevices counts non-revoked devices seen within the window.
func (s *Store) CountActiveDevices(since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.Device{}).
		Where("revoked = ? AND last_seen >= ?", false, since).
		Count(&count).Error
	return count, err
}

func (s *Store) CountActiveTenants() (int64, error) {
	var count int64
	err := s.db.Model(&models.Tenant{}).
		Where("status = ?", models.TenantActive).
		Count(&count).Error
	return count, err
}

// CountOTAInFlight counts rollouts that have started but not finished.
func (s *Store) CountOTAInFlight() (int64, error) {
	var count int64
	err := s.db.Model(&models.DeviceOTALog{}).
		Where("status IN ?", []string{models.OTAStatusDownloading, models.OTAStatusInstalling}).
		Count(&count).Error
	return count, err
}

// Health checks the database connection
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// DB returns the underlying GORM database connection (for transactions)
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Seed inserts a tenant with one license key, used by tests and the
// bootstrap CLI path.
func (s *Store) Seed(tenant *models.Tenant, hashedKey, fingerprint string) (*models.LicenseKey, error) {
	if err := s.CreateTenant(tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	key := &models.LicenseKey{
		ID:        uuid.New().String(),
		TenantID:  tenant.ID,
		HashedKey: hashedKey,
		Status:    models.LicenseKeyActive,
	}
	if fingerprint != "" {
		key.Fingerprint = &fingerprint
	}
	if err := s.CreateLicenseKey(key); err != nil {
		return nil, fmt.Errorf("failed to create license key: %w", err)
	}
	return key, nil
}
