package store

import (
	"context"

	"gorm.io/gorm/clause"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/model"
)

// Token возвращает зашифрованный баланс токена.
func (s *Store) Token(ctx context.Context, name string) (*model.TokenRow, error) {
	var row model.TokenRow
	if err := s.db.WithContext(ctx).First(&row, "token_name = ?", name).Error; err != nil {
		return nil, notFound(err, "token "+name)
	}
	return &row, nil
}

// InsertToken создаёт строку токена, если её ещё нет.
func (s *Store) InsertToken(ctx context.Context, row *model.TokenRow) (bool, error) {
	defer s.lock()()
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_name"}},
		DoNothing: true,
	}).Create(row)
	if tx.Error != nil {
		return false, apperr.Wrap(apperr.Internal, tx.Error, "failed to save token")
	}
	return tx.RowsAffected > 0, nil
}

// UpdateToken перезаписывает баланс токена.
func (s *Store) UpdateToken(ctx context.Context, name string, ciphertext, nonce []byte) error {
	defer s.lock()()
	tx := s.db.WithContext(ctx).Model(&model.TokenRow{}).Where("token_name = ?", name).
		UpdateColumns(map[string]any{"balance_ciphertext": ciphertext, "nonce": nonce})
	if tx.Error != nil {
		return apperr.Wrap(apperr.Internal, tx.Error, "failed to save token")
	}
	if tx.RowsAffected == 0 {
		return apperr.Newf(apperr.NotFound, "token %s not found", name)
	}
	return nil
}

func (s *Store) Tokens(ctx context.Context) ([]model.TokenRow, error) {
	var rows []model.TokenRow
	if err := s.db.WithContext(ctx).Order("token_name").Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "local storage error")
	}
	return rows, nil
}

// DeleteTokens удаляет все балансы (перед пересчётом после восстановления).
func (s *Store) DeleteTokens(ctx context.Context) error {
	defer s.lock()()
	err := s.db.WithContext(ctx).Where("1 = 1").Delete(&model.TokenRow{}).Error
	return apperr.Wrap(apperr.Internal, err, "failed to delete tokens")
}
