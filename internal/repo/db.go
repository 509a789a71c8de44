package repo

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"AvailWallet/internal/model"
)

// ErrNotFound — запись не найдена.
var ErrNotFound = errors.New("not found")

// DefaultSQLitePath используется, если строка подключения не задана.
const DefaultSQLitePath = "avail-backup.db"

// InitDB открывает postgres (DSN postgres:// или postgresql://) или sqlite и
// выполняет миграции серверных таблиц.
func InitDB(dsn string) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dial = postgres.Open(dsn)
	case dsn == "":
		dial = gormsqlite.Dialector{DriverName: "sqlite", DSN: DefaultSQLitePath}
	default:
		dial = gormsqlite.Dialector{DriverName: "sqlite", DSN: dsn}
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate создаёт таблицы, если их нет.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Row{}, &model.Message{}, &model.Challenge{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}
