package db

import (
	"context"
	"errors"
	"time"

	"attestd/internal/domain"

	"gorm.io/gorm"
)

type DeviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

func (r *DeviceRepository) GetByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model DeviceModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", deviceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return deviceFromModel(model), nil
}

func (r *DeviceRepository) GetByAttestationKeyID(ctx context.Context, keyID string) (*domain.Device, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model DeviceModel
	err := r.db.WithContext(ctx).
		Where("attestation_key_id = ?", keyID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return deviceFromModel(model), nil
}

func (r *DeviceRepository) Create(ctx context.Context, device domain.Device) (domain.Device, error) {
	if r.db == nil {
		return domain.Device{}, errDBUnavailable
	}
	if device.AttestationKeyID == "" {
		return domain.Device{}, errors.New("attestation_key_id is required")
	}
	if device.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.Device{}, err
		}
		device.ID = id
	}
	now := time.Now().UTC()
	if device.FirstSeenAt.IsZero() {
		device.FirstSeenAt = now
	}
	if device.LastSeenAt.IsZero() {
		device.LastSeenAt = device.FirstSeenAt
	}
	if device.AttestationLevel == "" {
		device.AttestationLevel = domain.AttestationLevelUnverified
	}
	model := deviceModelFromDomain(device)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Device{}, domain.ErrDeviceExists
		}
		return domain.Device{}, err
	}
	return device, nil
}

// AdvanceCounter is the single conditional write that enforces counter
// monotonicity: the comparison and the update happen in one statement, so
// two concurrent assertions with the same counter cannot both win.
func (r *DeviceRepository) AdvanceCounter(ctx context.Context, deviceID string, presented int64, seenAt time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).Exec(
		"UPDATE devices SET assertion_counter = ?, last_seen_at = ? WHERE id = ? AND assertion_counter < ?",
		presented,
		seenAt.UTC(),
		deviceID,
		presented,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&DeviceModel{}).
			Where("id = ?", deviceID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrReplayDetected
	}
	return nil
}

func deviceModelFromDomain(device domain.Device) DeviceModel {
	return DeviceModel{
		ID:               device.ID,
		AttestationKeyID: device.AttestationKeyID,
		PublicKey:        copyBytes(device.PublicKey),
		AssertionCounter: device.AssertionCounter,
		AttestationLevel: string(device.AttestationLevel),
		SecurityLevel:    stringPtrIfNotEmpty(device.SecurityLevel),
		Platform:         device.Platform,
		Model:            device.Model,
		HasDepthSensor:   device.HasDepthSensor,
		FirstSeenAt:      device.FirstSeenAt.UTC(),
		LastSeenAt:       device.LastSeenAt.UTC(),
	}
}

func deviceFromModel(model DeviceModel) *domain.Device {
	return &domain.Device{
		ID:               model.ID,
		AttestationKeyID: model.AttestationKeyID,
		PublicKey:        copyBytes(model.PublicKey),
		AssertionCounter: model.AssertionCounter,
		AttestationLevel: domain.NormalizeAttestationLevel(model.AttestationLevel),
		SecurityLevel:    stringValue(model.SecurityLevel),
		Platform:         model.Platform,
		Model:            model.Model,
		HasDepthSensor:   model.HasDepthSensor,
		FirstSeenAt:      model.FirstSeenAt.UTC(),
		LastSeenAt:       model.LastSeenAt.UTC(),
	}
}
