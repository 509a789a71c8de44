package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/chacha20poly1305"

	"AvailWallet/internal/cli/chain"
)

const (
	recordPrefix = "record1"
	ownerHintLen = 8
)

// ErrNotOwner — запись зашифрована не для данного ключа просмотра.
var ErrNotOwner = errors.New("record is not owned by view key")

type recordBody struct {
	Owner   string        `json:"owner"`
	Name    string        `json:"name"`
	Entries []chain.Entry `json:"entries"`
}

// EncryptRecord шифрует запись для владельца owner и возвращает шифртекст
// вместе с записью, дополненной владельцем и nonce.
func EncryptRecord(owner Address, name string, entries []chain.Entry) (string, chain.Record, error) {
	addr, err := owner.point()
	if err != nil {
		return "", chain.Record{}, err
	}
	n, err := randomScalar()
	if err != nil {
		return "", chain.Record{}, err
	}
	nonce := new(edwards25519.Point).ScalarBaseMult(n)
	rvk := new(edwards25519.Point).ScalarMult(n, addr).Bytes()

	rec := chain.Record{
		Owner:   owner.String(),
		Name:    name,
		Entries: entries,
		Nonce:   hex.EncodeToString(nonce.Bytes()),
	}
	body, err := json.Marshal(recordBody{Owner: rec.Owner, Name: name, Entries: entries})
	if err != nil {
		return "", chain.Record{}, err
	}
	sealed, err := sealZero(hash256("avail/record", rvk), body)
	if err != nil {
		return "", chain.Record{}, err
	}
	buf := make([]byte, 0, 32+ownerHintLen+len(sealed))
	buf = append(buf, nonce.Bytes()...)
	buf = append(buf, ownerHint(rvk)...)
	buf = append(buf, sealed...)
	return recordPrefix + base64.RawURLEncoding.EncodeToString(buf), rec, nil
}

// IsRecordOwner дешёвая проверка владения по подсказке без расшифровки тела.
func IsRecordOwner(ciphertext string, vk ViewKey) bool {
	nonce, hint, _, err := splitRecord(ciphertext)
	if err != nil {
		return false
	}
	rvk := new(edwards25519.Point).ScalarMult(vk.scalar(), nonce).Bytes()
	return bytes.Equal(hint, ownerHint(rvk))
}

// DecryptRecord расшифровывает запись ключом просмотра.
func DecryptRecord(ciphertext string, vk ViewKey) (chain.Record, error) {
	nonce, hint, body, err := splitRecord(ciphertext)
	if err != nil {
		return chain.Record{}, err
	}
	rvk := new(edwards25519.Point).ScalarMult(vk.scalar(), nonce).Bytes()
	if !bytes.Equal(hint, ownerHint(rvk)) {
		return chain.Record{}, ErrNotOwner
	}
	plain, err := openZero(hash256("avail/record", rvk), body)
	if err != nil {
		return chain.Record{}, fmt.Errorf("open record: %w", err)
	}
	var rb recordBody
	if err := json.Unmarshal(plain, &rb); err != nil {
		return chain.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return chain.Record{
		Owner:   rb.Owner,
		Name:    rb.Name,
		Entries: rb.Entries,
		Nonce:   hex.EncodeToString(nonce.Bytes()),
	}, nil
}

// Commitment — коммитмент записи программы program.
func Commitment(program string, rec chain.Record) string {
	return hex.EncodeToString(hash256("avail/cm", []byte(program), []byte(rec.Name), []byte(rec.Canonical())))
}

// Tag — публичный тег траты записи с данным коммитментом.
func Tag(vk ViewKey, commitment string) string {
	skTag := hash256("avail/sk_tag", vk.b[:])
	return hex.EncodeToString(hash256("avail/tag", skTag, []byte(commitment)))
}

func splitRecord(ciphertext string) (*edwards25519.Point, []byte, []byte, error) {
	raw, ok := strings.CutPrefix(ciphertext, recordPrefix)
	if !ok {
		return nil, nil, nil, fmt.Errorf("not a record ciphertext")
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decode record ciphertext: %w", err)
	}
	if len(b) < 32+ownerHintLen+chacha20poly1305.Overhead {
		return nil, nil, nil, fmt.Errorf("record ciphertext too short")
	}
	nonce, err := new(edwards25519.Point).SetBytes(b[:32])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("record nonce: %w", err)
	}
	return nonce, b[32 : 32+ownerHintLen], b[32+ownerHintLen:], nil
}

func ownerHint(rvk []byte) []byte {
	return hash256("avail/owner", rvk)[:ownerHintLen]
}

// sealZero шифрует одноразовым ключом, поэтому nonce AEAD нулевой.
func sealZero(key, plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Seal(nil, nonce, plain, nil), nil
}

func openZero(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Open(nil, nonce, sealed, nil)
}
