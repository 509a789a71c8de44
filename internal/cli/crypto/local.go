package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

// keyLen — длина ключа для AES‑256 (в байтах).
const keyLen = 32

// LocalKey выводит ключ AES‑256 для локальных данных из ключа просмотра.
func LocalKey(vk ViewKey) []byte {
	return hash256("avail/local", vk.b[:])
}

// Encrypt шифрует данные plain с помощью AES‑GCM и заданного ключа.
// Возвращает шифртекст и nonce.
func Encrypt(plain []byte, key []byte) ([]byte, []byte, error) {
	if len(key) != keyLen {
		return nil, nil, errors.New("invalid key length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}
	return gcm.Seal(nil, nonce, plain, nil), nonce, nil
}

// Decrypt расшифровывает шифртекст с использованием AES‑GCM, ключа и nonce.
func Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	if len(key) != keyLen {
		return nil, errors.New("invalid key length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}
