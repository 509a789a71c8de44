// Package keystore хранит ключи кошелька в файле, зашифрованными ключом из пароля (argon2id + AES-GCM).
package keystore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/crypto"
)

const fileName = "keystore.json"

// KeyType — какой ключ читать.
type KeyType string

const (
	Private KeyType = "private"
	View    KeyType = "view"
)

const seedEntry = "seed"

// параметры argon2id
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	saltLen    = 16
)

type sealed struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

type document struct {
	Address string            `json:"address"`
	Salt    []byte            `json:"salt"`
	Entries map[string]sealed `json:"entries"`
}

// File — KeyStore в каталоге dir.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(dir string) *File {
	return &File{path: filepath.Join(dir, fileName)}
}

// Store шифрует и сохраняет ключи. Существующее хранилище перезаписывается.
func (f *File) Store(password string, pk crypto.PrivateKey, seedPhrase string) error {
	if password == "" {
		return apperr.New(apperr.Validation, "empty keystore password", "Password must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("keystore salt: %w", err)
	}
	key := deriveKey(password, salt)

	doc := document{Address: pk.Address().String(), Salt: salt, Entries: map[string]sealed{}}
	plain := map[string]string{
		string(Private): pk.String(),
		string(View):    pk.ViewKey().String(),
	}
	if seedPhrase != "" {
		plain[seedEntry] = seedPhrase
	}
	for name, v := range plain {
		ct, nonce, err := crypto.Encrypt([]byte(v), key)
		if err != nil {
			return fmt.Errorf("keystore seal %s: %w", name, err)
		}
		doc.Entries[name] = sealed{Ciphertext: ct, Nonce: nonce}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(doc)
}

// Read расшифровывает ключ указанного типа. Неверный пароль — Unauthorized.
func (f *File) Read(password string, t KeyType) (string, error) {
	return f.open(password, string(t))
}

// ReadSeedPhrase возвращает мнемонику, если она была сохранена.
func (f *File) ReadSeedPhrase(password string) (string, error) {
	return f.open(password, seedEntry)
}

// PrivateKey — Read(Private) с разбором ключа.
func (f *File) PrivateKey(password string) (crypto.PrivateKey, error) {
	s, err := f.Read(password, Private)
	if err != nil {
		return crypto.PrivateKey{}, err
	}
	pk, err := crypto.ParsePrivateKey(s)
	if err != nil {
		return crypto.PrivateKey{}, apperr.Wrap(apperr.Internal, err, "Corrupted keystore")
	}
	return pk, nil
}

// Address возвращает адрес без пароля.
func (f *File) Address() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return "", err
	}
	return doc.Address, nil
}

// Delete удаляет хранилище. Отсутствующий файл не ошибка.
func (f *File) Delete() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperr.Wrap(apperr.Internal, err, "Failed to delete keystore")
	}
	return nil
}

func (f *File) open(password, name string) (string, error) {
	f.mu.Lock()
	doc, err := f.read()
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	e, ok := doc.Entries[name]
	if !ok {
		return "", apperr.Newf(apperr.NotFound, "keystore has no %s entry", name)
	}
	plain, err := crypto.Decrypt(e.Ciphertext, e.Nonce, deriveKey(password, doc.Salt))
	if err != nil {
		return "", apperr.Wrap(apperr.Unauthorized, err, "Wrong password")
	}
	return string(plain), nil
}

func (f *File) read() (*document, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.New(apperr.NotFound, "keystore not found", "Wallet is not set up")
		}
		return nil, apperr.Wrap(apperr.Internal, err, "Failed to read keystore")
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "Corrupted keystore")
	}
	return &doc, nil
}

// write пишет во временный файл и переименовывает его поверх старого.
func (f *File) write(doc document) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("keystore encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return apperr.Wrap(apperr.Internal, err, "Failed to create keystore directory")
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return apperr.Wrap(apperr.Internal, err, "Failed to write keystore")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return apperr.Wrap(apperr.Internal, err, "Failed to write keystore")
	}
	return nil
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, kdfTime, kdfMemory, kdfThreads, 32)
}
