package model

import "time"

// Challenge — одноразовая строка для входа подписью.
type Challenge struct {
	ID        string    `gorm:"primaryKey;type:uuid"`
	Address   string    `gorm:"not null;size:128"`
	Hash      string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}
