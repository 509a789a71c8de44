package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/model"
)

// Filter — условия выборки строк encrypted_data. Пустые поля не участвуют.
type Filter struct {
	IDs           []string
	Owner         string
	Network       string
	Flavours      []model.Flavour
	RecordNonce   string
	RecordTypes   []model.RecordType
	RecordName    string
	Spent         *bool
	States        []model.TxState
	ProgramID     string
	FunctionID    string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	UpdatedAfter  *time.Time
	// Unsynced — строки, изменённые после последней отправки на сервер.
	Unsynced bool
	Limit    int
	Offset   int
}

func (f Filter) apply(q *gorm.DB) *gorm.DB {
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if f.Owner != "" {
		q = q.Where("owner = ?", f.Owner)
	}
	if f.Network != "" {
		q = q.Where("network = ?", f.Network)
	}
	if len(f.Flavours) > 0 {
		q = q.Where("flavour IN ?", f.Flavours)
	}
	if f.RecordNonce != "" {
		q = q.Where("record_nonce = ?", f.RecordNonce)
	}
	if len(f.RecordTypes) > 0 {
		q = q.Where("record_type IN ?", f.RecordTypes)
	}
	if f.RecordName != "" {
		q = q.Where("record_name = ?", f.RecordName)
	}
	if f.Spent != nil {
		q = q.Where("spent = ?", *f.Spent)
	}
	if len(f.States) > 0 {
		q = q.Where("transaction_state IN ?", f.States)
	}
	if f.ProgramID != "" {
		q = q.Where("EXISTS (SELECT 1 FROM json_each(encrypted_data.program_ids) WHERE json_each.value = ?)", f.ProgramID)
	}
	if f.FunctionID != "" {
		q = q.Where("EXISTS (SELECT 1 FROM json_each(encrypted_data.function_ids) WHERE json_each.value = ?)", f.FunctionID)
	}
	if f.CreatedAfter != nil {
		q = q.Where("created_at > ?", f.CreatedAfter.UTC())
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at <= ?", f.CreatedBefore.UTC())
	}
	if f.UpdatedAfter != nil {
		q = q.Where("updated_at > ?", f.UpdatedAfter.UTC())
	}
	if f.Unsynced {
		q = q.Where("synced_on IS NULL OR updated_at > synced_on")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	return q
}

// Insert вставляет строку. Для записи с уже известным (record_nonce, owner, network)
// ничего не делает и возвращает created=false.
func (s *Store) Insert(ctx context.Context, row *model.EncryptedRow) (bool, error) {
	defer s.lock()()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	now := s.now()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	row.CreatedAt = row.CreatedAt.UTC()
	row.UpdatedAt = row.UpdatedAt.UTC()
	if row.ProgramIDs == "" {
		row.ProgramIDs = "[]"
	}
	if row.FunctionIDs == "" {
		row.FunctionIDs = "[]"
	}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if tx.Error != nil {
		return false, apperr.Wrap(apperr.Internal, tx.Error, "failed to save data")
	}
	return tx.RowsAffected > 0, nil
}

// Get возвращает строку по id.
func (s *Store) Get(ctx context.Context, id string) (*model.EncryptedRow, error) {
	var row model.EncryptedRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "row "+id)
	}
	return &row, nil
}

// Find возвращает строки по фильтру в порядке created_at.
func (s *Store) Find(ctx context.Context, f Filter) ([]model.EncryptedRow, error) {
	var rows []model.EncryptedRow
	q := f.apply(s.db.WithContext(ctx).Model(&model.EncryptedRow{})).Order("created_at ASC, id ASC")
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "local storage error")
	}
	return rows, nil
}

// Count — число строк по фильтру.
func (s *Store) Count(ctx context.Context, f Filter) (int64, error) {
	var n int64
	if err := f.apply(s.db.WithContext(ctx).Model(&model.EncryptedRow{})).Count(&n).Error; err != nil {
		return 0, apperr.Wrap(apperr.Internal, err, "local storage error")
	}
	return n, nil
}

// ByNonce находит строку записи по (record_nonce, owner, network).
func (s *Store) ByNonce(ctx context.Context, owner, network, nonce string) (*model.EncryptedRow, error) {
	var row model.EncryptedRow
	err := s.db.WithContext(ctx).
		Where("record_nonce = ? AND owner = ? AND network = ? AND flavour = ?", nonce, owner, network, model.FlavourRecord).
		First(&row).Error
	if err != nil {
		return nil, notFound(err, "record "+nonce)
	}
	return &row, nil
}

// NonceExists проверяет, сохранена ли уже запись с таким nonce.
func (s *Store) NonceExists(ctx context.Context, owner, network, nonce string) (bool, error) {
	n, err := s.Count(ctx, Filter{Owner: owner, Network: network, Flavours: []model.Flavour{model.FlavourRecord}, RecordNonce: nonce})
	return n > 0, err
}

// Change — изменяемые поля строки. nil-поля не трогаются.
type Change struct {
	Ciphertext  []byte
	Nonce       []byte
	Spent       *bool
	State       *model.TxState
	ProgramIDs  []string
	FunctionIDs []string
}

// Update применяет изменение и сдвигает updated_at.
func (s *Store) Update(ctx context.Context, id string, ch Change) error {
	defer s.lock()()
	values := map[string]any{"updated_at": s.now()}
	if ch.Ciphertext != nil {
		values["ciphertext"] = ch.Ciphertext
		values["nonce"] = ch.Nonce
	}
	if ch.Spent != nil {
		values["spent"] = *ch.Spent
	}
	if ch.State != nil {
		values["transaction_state"] = *ch.State
	}
	if ch.ProgramIDs != nil || ch.FunctionIDs != nil {
		var r model.EncryptedRow
		r.SetPrograms(ch.ProgramIDs, ch.FunctionIDs)
		values["program_ids"] = r.ProgramIDs
		values["function_ids"] = r.FunctionIDs
	}
	tx := s.db.WithContext(ctx).Model(&model.EncryptedRow{}).Where("id = ?", id).UpdateColumns(values)
	if tx.Error != nil {
		return apperr.Wrap(apperr.Internal, tx.Error, "failed to update data")
	}
	if tx.RowsAffected == 0 {
		return apperr.Newf(apperr.NotFound, "row %s not found", id)
	}
	return nil
}

// UpdateCiphertext перезаписывает содержимое строки.
func (s *Store) UpdateCiphertext(ctx context.Context, id string, ciphertext, nonce []byte) error {
	return s.Update(ctx, id, Change{Ciphertext: ciphertext, Nonce: nonce})
}

// UpdateSpent меняет флаг траты.
func (s *Store) UpdateSpent(ctx context.Context, id string, spent bool) error {
	return s.Update(ctx, id, Change{Spent: &spent})
}

// UpdateState меняет состояние транзакции.
func (s *Store) UpdateState(ctx context.Context, id string, state model.TxState) error {
	return s.Update(ctx, id, Change{State: &state})
}

// MarkSynced проставляет synced_on без изменения updated_at.
func (s *Store) MarkSynced(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	defer s.lock()()
	err := s.db.WithContext(ctx).Model(&model.EncryptedRow{}).Where("id IN ?", ids).
		UpdateColumn("synced_on", at.UTC()).Error
	return apperr.Wrap(apperr.Internal, err, "failed to update data")
}

// Delete удаляет строки по id.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	defer s.lock()()
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.EncryptedRow{}).Error
	return apperr.Wrap(apperr.Internal, err, "failed to delete data")
}

// Wipe удаляет все данные кошелька и сбрасывает настройки синхронизации.
func (s *Store) Wipe(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *Store) error {
		db := tx.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := db.Delete(&model.EncryptedRow{}).Error; err != nil {
			return apperr.Wrap(apperr.Internal, err, "failed to wipe data")
		}
		if err := db.Delete(&model.TokenRow{}).Error; err != nil {
			return apperr.Wrap(apperr.Internal, err, "failed to wipe data")
		}
		return db.Model(&model.UserPrefs{}).UpdateColumns(map[string]any{
			"last_sync": 0, "last_tx_sync": nil, "last_backup_sync": nil,
		}).Error
	})
}
