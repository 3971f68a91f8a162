package db

import (
	"context"
	"errors"
	"time"

	"attestd/internal/domain"

	"gorm.io/gorm"
)

type ChallengeRepository struct {
	db *gorm.DB
}

func NewChallengeRepository(db *gorm.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

func (r *ChallengeRepository) Create(ctx context.Context, challenge domain.Challenge) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if challenge.ID == "" || len(challenge.Nonce) == 0 {
		return errors.New("challenge id and nonce are required")
	}
	createdAt := challenge.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := ChallengeModel{
		ID:        challenge.ID,
		Nonce:     copyBytes(challenge.Nonce),
		ExpiresAt: challenge.ExpiresAt.UTC(),
		CreatedAt: createdAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// Consume spends the challenge with one conditional UPDATE so two
// registrations racing on the same challenge cannot both pass.
func (r *ChallengeRepository) Consume(ctx context.Context, challengeID string, now time.Time) (*domain.Challenge, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	now = now.UTC()
	res := r.db.WithContext(ctx).Exec(
		"UPDATE challenges SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL AND expires_at > ?",
		now,
		challengeID,
		now,
	)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var model ChallengeModel
		err := r.db.WithContext(ctx).First(&model, "id = ?", challengeID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, domain.ErrChallengeMismatch
			}
			return nil, err
		}
		if model.ConsumedAt == nil && !model.ExpiresAt.After(now) {
			return nil, domain.ErrChallengeExpired
		}
		return nil, domain.ErrChallengeMismatch
	}

	var model ChallengeModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", challengeID).Error; err != nil {
		return nil, err
	}
	return challengeFromModel(model), nil
}

// DeleteExpired clears challenges past their expiry; run it periodically.
func (r *ChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&ChallengeModel{})
	return res.RowsAffected, res.Error
}

func challengeFromModel(model ChallengeModel) *domain.Challenge {
	challenge := &domain.Challenge{
		ID:        model.ID,
		Nonce:     copyBytes(model.Nonce),
		ExpiresAt: model.ExpiresAt.UTC(),
		CreatedAt: model.CreatedAt.UTC(),
	}
	if model.ConsumedAt != nil {
		consumedAt := model.ConsumedAt.UTC()
		challenge.ConsumedAt = &consumedAt
	}
	return challenge
}
