package store

import (
	"context"
	"time"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/model"
)

// Prefs возвращает строку настроек пользователя.
func (s *Store) Prefs(ctx context.Context) (*model.UserPrefs, error) {
	var p model.UserPrefs
	if err := s.db.WithContext(ctx).First(&p, "id = ?", 1).Error; err != nil {
		return nil, notFound(err, "user preferences")
	}
	return &p, nil
}

// SavePrefs перезаписывает настройки целиком.
func (s *Store) SavePrefs(ctx context.Context, p *model.UserPrefs) error {
	defer s.lock()()
	p.ID = 1
	return apperr.Wrap(apperr.Internal, s.db.WithContext(ctx).Save(p).Error, "failed to save preferences")
}

func (s *Store) updatePrefs(ctx context.Context, values map[string]any) error {
	defer s.lock()()
	err := s.db.WithContext(ctx).Model(&model.UserPrefs{}).Where("id = ?", 1).UpdateColumns(values).Error
	return apperr.Wrap(apperr.Internal, err, "failed to save preferences")
}

// LastSync — следующая высота для сканирования.
func (s *Store) LastSync(ctx context.Context) (uint32, error) {
	p, err := s.Prefs(ctx)
	if err != nil {
		return 0, err
	}
	return p.LastSync, nil
}

// UpdateLastSync сдвигает закладку сканера.
func (s *Store) UpdateLastSync(ctx context.Context, height uint32) error {
	return s.updatePrefs(ctx, map[string]any{"last_sync": height})
}

func (s *Store) SetLastTxSync(ctx context.Context, at time.Time) error {
	return s.updatePrefs(ctx, map[string]any{"last_tx_sync": at.UTC()})
}

func (s *Store) SetLastBackupSync(ctx context.Context, at time.Time) error {
	return s.updatePrefs(ctx, map[string]any{"last_backup_sync": at.UTC()})
}

// SetBackup включает или выключает резервное копирование.
func (s *Store) SetBackup(ctx context.Context, enabled bool) error {
	return s.updatePrefs(ctx, map[string]any{"backup": enabled})
}
