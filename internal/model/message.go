package model

import "time"

// Message — зашифрованное для получателя сообщение о переводе.
type Message struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	To         string    `gorm:"column:recipient;not null;index;size:128" json:"to"`
	From       string    `gorm:"size:128" json:"-"`
	Ciphertext []byte    `gorm:"not null" json:"ciphertext"`
	Nonce      []byte    `gorm:"not null" json:"nonce"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
