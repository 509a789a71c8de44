package model

import (
	"encoding/json"
	"time"
)

// EncryptedRow — строка таблицы encrypted_data. Открытые колонки нужны только для выборок,
// всё содержимое лежит в Ciphertext и расшифровывается ключом просмотра.
type EncryptedRow struct {
	ID         string  `gorm:"primaryKey" json:"id"`
	Owner      string  `gorm:"not null;index:idx_rows_scope,priority:1;uniqueIndex:idx_rows_record_nonce,priority:2" json:"owner"`
	Ciphertext []byte  `gorm:"not null" json:"ciphertext"`
	Nonce      []byte  `gorm:"not null" json:"nonce"`
	Flavour    Flavour `gorm:"not null;index:idx_rows_scope,priority:3" json:"flavour"`

	RecordType  *RecordType `json:"record_type,omitempty"`
	ProgramIDs  string      `gorm:"column:program_ids;not null;default:'[]'" json:"program_ids"`
	FunctionIDs string      `gorm:"column:function_ids;not null;default:'[]'" json:"function_ids"`

	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"index" json:"updated_at"`
	SyncedOn  *time.Time `json:"synced_on,omitempty"`

	Network          string    `gorm:"not null;index:idx_rows_scope,priority:2;uniqueIndex:idx_rows_record_nonce,priority:3" json:"network"`
	RecordName       string    `json:"record_name,omitempty"`
	Spent            bool      `gorm:"not null;default:false;index" json:"spent"`
	EventType        EventType `json:"event_type,omitempty"`
	RecordNonce      *string   `gorm:"uniqueIndex:idx_rows_record_nonce,priority:1" json:"record_nonce,omitempty"`
	TransactionState *TxState  `gorm:"index" json:"transaction_state,omitempty"`
}

func (EncryptedRow) TableName() string { return "encrypted_data" }

// SetPrograms кодирует списки программ и функций в JSON-колонки.
func (r *EncryptedRow) SetPrograms(programs, functions []string) {
	r.ProgramIDs = encodeList(programs)
	r.FunctionIDs = encodeList(functions)
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func StatePtr(s TxState) *TxState { return &s }

func RecordTypePtr(t RecordType) *RecordType { return &t }

func StringPtr(s string) *string { return &s }
