package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"attestd/internal/domain"
	"attestd/internal/usecase"

	"gorm.io/gorm"
)

type CaptureRepository struct {
	db *gorm.DB
}

func NewCaptureRepository(db *gorm.DB) *CaptureRepository {
	return &CaptureRepository{db: db}
}

func (r *CaptureRepository) GetByID(ctx context.Context, captureID string) (*domain.Capture, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model CaptureModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", captureID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return captureFromModel(model)
}

func (r *CaptureRepository) ListByDevice(ctx context.Context, deviceID string) ([]domain.Capture, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []CaptureModel
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("uploaded_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Capture, 0, len(models))
	for _, model := range models {
		capture, err := captureFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, *capture)
	}
	return out, nil
}

func (r *CaptureRepository) Create(ctx context.Context, capture domain.Capture) (domain.Capture, error) {
	if r.db == nil {
		return domain.Capture{}, errDBUnavailable
	}
	if capture.TargetMediaHash == "" || capture.DeviceID == "" {
		return domain.Capture{}, errors.New("device_id and target_media_hash are required")
	}
	if capture.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.Capture{}, err
		}
		capture.ID = id
	}
	if capture.Status == "" {
		capture.Status = domain.CaptureStatusPending
	}
	if capture.UploadedAt.IsZero() {
		capture.UploadedAt = time.Now().UTC()
	}
	model := CaptureModel{
		ID:              capture.ID,
		DeviceID:        capture.DeviceID,
		CaptureType:     string(capture.CaptureType),
		TargetMediaHash: capture.TargetMediaHash,
		Status:          string(capture.Status),
		CheckpointIndex: capture.CheckpointIndex,
		UploadedAt:      capture.UploadedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.Capture{}, domain.ErrDuplicateCapture
		}
		return domain.Capture{}, err
	}
	return capture, nil
}

// Finalize is the only write path for evidence and confidence: both land in
// the same UPDATE, so a capture can never carry a verdict without the
// evidence that produced it.
func (r *CaptureRepository) Finalize(ctx context.Context, captureID string, fin usecase.CaptureFinalization) error {
	if r.db == nil {
		return errDBUnavailable
	}
	evidenceJSON, err := json.Marshal(fin.Evidence)
	if err != nil {
		return err
	}
	confidence := string(fin.Confidence)
	completedAt := fin.CompletedAt.UTC()
	res := r.db.WithContext(ctx).
		Model(&CaptureModel{}).
		Where("id = ? AND status IN ?", captureID, []string{
			string(domain.CaptureStatusPending),
			string(domain.CaptureStatusProcessing),
		}).
		Updates(map[string]any{
			"evidence_json":    evidenceJSON,
			"confidence_level": confidence,
			"status":           string(domain.CaptureStatusCompleted),
			"duration_ms":      fin.DurationMs,
			"frame_count":      fin.FrameCount,
			"is_partial":       fin.IsPartial,
			"checkpoint_index": fin.CheckpointIndex,
			"completed_at":     completedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CaptureRepository) MarkFailed(ctx context.Context, captureID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&CaptureModel{}).
		Where("id = ?", captureID).
		Update("status", string(domain.CaptureStatusFailed))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func captureFromModel(model CaptureModel) (*domain.Capture, error) {
	capture := &domain.Capture{
		ID:              model.ID,
		DeviceID:        model.DeviceID,
		CaptureType:     domain.CaptureType(model.CaptureType),
		TargetMediaHash: model.TargetMediaHash,
		Status:          domain.CaptureStatus(model.Status),
		DurationMs:      model.DurationMs,
		FrameCount:      model.FrameCount,
		IsPartial:       model.IsPartial,
		CheckpointIndex: model.CheckpointIndex,
		UploadedAt:      model.UploadedAt.UTC(),
	}
	if model.ConfidenceLevel != nil {
		capture.ConfidenceLevel = domain.ConfidenceLevel(*model.ConfidenceLevel)
	}
	if model.CompletedAt != nil {
		completedAt := model.CompletedAt.UTC()
		capture.CompletedAt = &completedAt
	}
	if len(model.EvidenceJSON) > 0 {
		var evidence domain.Evidence
		if err := json.Unmarshal(model.EvidenceJSON, &evidence); err != nil {
			return nil, err
		}
		capture.Evidence = &evidence
	}
	return capture, nil
}
