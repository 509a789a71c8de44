package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"AvailWallet/internal/model"
)

// RowRepository — доступ к резервным строкам пользователя.
type RowRepository interface {
	// Insert добавляет строки; уже существующие (по user_id, id) пропускаются.
	Insert(ctx context.Context, userID string, rows []model.Row) (int64, error)
	// Upsert вставляет строки или перезаписывает существующие, если updated_at новее.
	Upsert(ctx context.Context, userID string, rows []model.Row) (int64, error)
	MarkSynced(ctx context.Context, userID string, ids []string, at time.Time) (int64, error)
	DeleteAll(ctx context.Context, userID string) (int64, error)
	Count(ctx context.Context, userID string) (int64, error)
	// Page возвращает страницу строк в порядке создания.
	Page(ctx context.Context, userID string, page, size int) ([]model.Row, error)
}

type rowRepo struct {
	db *gorm.DB
}

func NewRowRepository(db *gorm.DB) RowRepository {
	return &rowRepo{db: db}
}

var rowKey = []clause.Column{{Name: "user_id"}, {Name: "id"}}

func (r *rowRepo) Insert(ctx context.Context, userID string, rows []model.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	own(userID, rows)
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   rowKey,
		DoNothing: true,
	}).Create(&rows)
	return tx.RowsAffected, tx.Error
}

func (r *rowRepo) Upsert(ctx context.Context, userID string, rows []model.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	own(userID, rows)
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: rowKey,
		DoUpdates: clause.AssignmentColumns([]string{
			"owner", "ciphertext", "nonce", "flavour", "record_type", "program_ids", "function_ids",
			"updated_at", "network", "record_name", "spent", "event_type", "record_nonce", "transaction_state",
		}),
		// last writer wins
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "backup_rows.updated_at < excluded.updated_at"},
		}},
	}).Create(&rows)
	return tx.RowsAffected, tx.Error
}

func (r *rowRepo) MarkSynced(ctx context.Context, userID string, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx := r.db.WithContext(ctx).Model(&model.Row{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		UpdateColumn("synced_on", at)
	return tx.RowsAffected, tx.Error
}

func (r *rowRepo) DeleteAll(ctx context.Context, userID string) (int64, error) {
	tx := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.Row{})
	return tx.RowsAffected, tx.Error
}

func (r *rowRepo) Count(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Row{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

func (r *rowRepo) Page(ctx context.Context, userID string, page, size int) ([]model.Row, error) {
	rows := []model.Row{}
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at, id").
		Offset(page * size).
		Limit(size).
		Find(&rows).Error
	return rows, err
}

func own(userID string, rows []model.Row) {
	for i := range rows {
		rows[i].UserID = userID
	}
}
