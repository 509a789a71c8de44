package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"AvailWallet/internal/model"
)

// ChallengeRepository хранит строки входа до их использования.
type ChallengeRepository interface {
	Create(ctx context.Context, c *model.Challenge) error
	// Take возвращает строку и удаляет её: каждая строка подписывается один раз.
	Take(ctx context.Context, id string) (*model.Challenge, error)
	// Purge удаляет просроченные строки.
	Purge(ctx context.Context, now time.Time) (int64, error)
}

type challengeRepo struct {
	db *gorm.DB
}

func NewChallengeRepository(db *gorm.DB) ChallengeRepository {
	return &challengeRepo{db: db}
}

func (r *challengeRepo) Create(ctx context.Context, c *model.Challenge) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *challengeRepo) Take(ctx context.Context, id string) (*model.Challenge, error) {
	var c model.Challenge
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Challenge{}, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *challengeRepo) Purge(ctx context.Context, now time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&model.Challenge{})
	return tx.RowsAffected, tx.Error
}
