package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// AuthFSStore — файловое хранилище сессионной куки для адреса Address.
// Dir по умолчанию — пользовательский конфиг-каталог.
type AuthFSStore struct {
	Dir     string
	Address string
}

func (s AuthFSStore) configDir() (string, error) {
	dir := s.Dir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(base, "AvailWallet")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func (s AuthFSStore) tokenPath() (string, error) {
	if s.Address == "" {
		return "", errors.New("empty address for auth token")
	}
	dir, err := s.configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "auth_token_"+s.Address), nil
}

// Save сохраняет auth‑токен в файл.
func (s AuthFSStore) Save(token string) error {
	p, err := s.tokenPath()
	if err != nil {
		return err
	}
	return os.WriteFile(p, []byte(token), 0o600)
}

// Load читает auth‑токен из файла.
func (s AuthFSStore) Load() (string, error) {
	p, err := s.tokenPath()
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	// обрезаем завершающие переводы строки/пробелы
	tok := strings.TrimRight(string(b), " \t\r\n")
	if tok == "" {
		return "", errors.New("empty token file")
	}
	return tok, nil
}

// Clear удаляет токен, например после 401.
func (s AuthFSStore) Clear() error {
	p, err := s.tokenPath()
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
