// Package store — зашифрованное локальное хранилище кошелька поверх SQLite (gorm).
// Все записи пишутся под одним замком писателя; многострочные изменения идут через WithTx.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/model"
)

const dbFileName = "wallet.sqlite"

// Store — доступ к таблицам encrypted_data, ARC20_tokens и user_preferences.
type Store struct {
	db   *gorm.DB
	mu   *sync.Mutex
	inTx bool
	// Now — источник времени для created_at/updated_at; подменяется в тестах.
	Now func() time.Time
}

// OpenForAddress открывает (и создаёт при необходимости) файл БД для указанного адреса.
// Базовый каталог можно переопределить через CLIENT_DB_PATH. Вторым значением возвращается путь к БД.
func OpenForAddress(base, address string) (*Store, string, error) {
	if address == "" {
		return nil, "", errors.New("empty address for wallet store")
	}
	if base == "" {
		base = os.Getenv("CLIENT_DB_PATH")
	}
	if base == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return nil, "", err
		}
		base = filepath.Join(cfgDir, "AvailWallet", "wallets")
	}
	dir := filepath.Join(base, address)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, "", err
	}
	dbPath := filepath.Join(dir, dbFileName)
	s, err := open("file:" + dbPath + "?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, "", err
	}
	return s, dbPath, nil
}

// OpenMemory открывает изолированную БД в памяти.
func OpenMemory() (*Store, error) {
	return open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
}

func open(dsn string) (*Store, error) {
	dial := gormsqlite.Dialector{DriverName: "sqlite", DSN: dsn}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// один писатель на процесс
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db, mu: &sync.Mutex{}, Now: time.Now}, nil
}

// Close закрывает соединение с БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil || s.inTx {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate идемпотентно создаёт таблицы и строку настроек.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&model.EncryptedRow{}, &model.TokenRow{}, &model.UserPrefs{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	prefs := model.UserPrefs{ID: 1, Language: "en"}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&prefs).Error
}

// WithTx выполняет fn в одной транзакции под замком писателя.
// Внутри fn можно пользоваться только переданным tx.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&Store{db: gtx, mu: s.mu, inTx: true, Now: s.Now})
	})
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Newf(apperr.NotFound, "%s not found", what)
	}
	return apperr.Wrap(apperr.Internal, err, "local storage error")
}
