package model

import "time"

// Row — серверная копия зашифрованной строки кошелька. Сервер не может прочитать
// содержимое, открытые колонки нужны клиенту для выборок после восстановления.
type Row struct {
	UserID string `gorm:"primaryKey;size:128" json:"-"` // адрес владельца сессии
	ID     string `gorm:"primaryKey;size:64" json:"id"`

	Owner      string `gorm:"not null" json:"owner"`
	Ciphertext []byte `gorm:"not null" json:"ciphertext"`
	Nonce      []byte `gorm:"not null" json:"nonce"`
	Flavour    string `gorm:"not null" json:"flavour"`

	RecordType  *string `json:"record_type,omitempty"`
	ProgramIDs  string  `gorm:"not null;default:'[]'" json:"program_ids"`
	FunctionIDs string  `gorm:"not null;default:'[]'" json:"function_ids"`

	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SyncedOn  *time.Time `json:"synced_on,omitempty"`

	Network          string  `json:"network"`
	RecordName       string  `json:"record_name,omitempty"`
	Spent            bool    `gorm:"not null;default:false" json:"spent"`
	EventType        string  `json:"event_type,omitempty"`
	RecordNonce      *string `json:"record_nonce,omitempty"`
	TransactionState *string `json:"transaction_state,omitempty"`
}

func (Row) TableName() string { return "backup_rows" }
