package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attestd/internal/domain"
	"attestd/internal/usecase"

	"gorm.io/gorm"
)

type AuditEventRepository struct {
	db *gorm.DB
}

func NewAuditEventRepository(db *gorm.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// Append assigns the next per-device sequence number under a row lock,
// links the event to its predecessor's hash, and inserts it, all in one
// transaction.
func (r *AuditEventRepository) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	if event.EventType == "" {
		return domain.AuditEvent{}, errors.New("event_type is required")
	}
	if event.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.AuditEvent{}, err
		}
		event.ID = id
	}
	if event.DeviceID == "" {
		event.DeviceID = domain.AuditSystemDeviceID
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	if event.Payload == nil {
		event.Payload = []byte("{}")
	}
	event.PayloadHash = hashHex(event.Payload)

	var out domain.AuditEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, prevHash, err := nextAuditSeq(ctx, tx, event.DeviceID)
		if err != nil {
			return err
		}
		event.Seq = seq
		event.PrevEventHash = prevHash

		eventHash, err := usecase.AuditEventHash(event)
		if err != nil {
			return err
		}
		event.EventHash = eventHash

		model := AuditEventModel{
			ID:            event.ID,
			DeviceID:      event.DeviceID,
			Seq:           event.Seq,
			EventType:     string(event.EventType),
			PayloadJSON:   event.Payload,
			PayloadHash:   event.PayloadHash,
			PrevEventHash: event.PrevEventHash,
			EventHash:     event.EventHash,
			CreatedAt:     event.CreatedAt,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		out = event
		return nil
	})
	if err != nil {
		return domain.AuditEvent{}, err
	}
	return out, nil
}

func (r *AuditEventRepository) ListByDevice(ctx context.Context, deviceID string) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if deviceID == "" {
		deviceID = domain.AuditSystemDeviceID
	}
	var models []AuditEventModel
	if err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		out = append(out, domain.AuditEvent{
			ID:            model.ID,
			DeviceID:      model.DeviceID,
			Seq:           model.Seq,
			EventType:     domain.AuditEventType(model.EventType),
			Payload:       copyBytes(model.PayloadJSON),
			PayloadHash:   model.PayloadHash,
			PrevEventHash: model.PrevEventHash,
			EventHash:     model.EventHash,
			CreatedAt:     model.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func nextAuditSeq(ctx context.Context, tx *gorm.DB, deviceID string) (int64, string, error) {
	if err := tx.WithContext(ctx).Exec(
		"INSERT INTO device_audit_seq (device_id, seq) VALUES (?, 0) ON CONFLICT (device_id) DO NOTHING",
		deviceID,
	).Error; err != nil {
		return 0, "", err
	}

	var currentSeq int64
	if err := tx.WithContext(ctx).Raw(
		"SELECT seq FROM device_audit_seq WHERE device_id = ? FOR UPDATE",
		deviceID,
	).Scan(&currentSeq).Error; err != nil {
		return 0, "", err
	}
	nextSeq := currentSeq + 1
	if err := tx.WithContext(ctx).Exec(
		"UPDATE device_audit_seq SET seq = ? WHERE device_id = ?",
		nextSeq,
		deviceID,
	).Error; err != nil {
		return 0, "", err
	}

	prevHash := usecase.ZeroAuditHash()
	if currentSeq > 0 {
		var prev AuditEventModel
		if err := tx.WithContext(ctx).
			Where("device_id = ? AND seq = ?", deviceID, currentSeq).
			Take(&prev).Error; err != nil {
			return 0, "", err
		}
		prevHash = prev.EventHash
	}
	if prevHash == "" {
		return 0, "", fmt.Errorf("missing previous event hash for device %s", deviceID)
	}
	return nextSeq, prevHash, nil
}
