package model

import "time"

// UserPrefs — единственная строка настроек пользователя.
type UserPrefs struct {
	ID             uint   `gorm:"primaryKey"`
	AuthType       string `gorm:"not null;default:''"`
	Network        string `gorm:"not null;default:''"`
	LastSync       uint32 `gorm:"not null;default:0"`
	LastTxSync     *time.Time
	LastBackupSync *time.Time
	Backup         bool   `gorm:"not null;default:false"`
	Address        string `gorm:"not null;default:''"`
	Language       string `gorm:"not null;default:'en'"`
}

func (UserPrefs) TableName() string { return "user_preferences" }
