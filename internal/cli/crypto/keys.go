// Package crypto — единственная граница кошелька с криптографией сети:
// ключи и адреса, владение переходами, расшифровка записей, теги трат, подписи
// и симметричное шифрование локальных данных ключом просмотра.
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/blake2b"
)

const (
	privateKeyPrefix = "APrivateKey1"
	viewKeyPrefix    = "AViewKey1"
	// AddressHRP — человекочитаемая часть bech32-адреса.
	AddressHRP = "aleo"
)

var ErrInvalidKey = errors.New("invalid key")

// PrivateKey — секрет аккаунта. Из него выводятся ключ просмотра и адрес.
type PrivateKey struct {
	seed [32]byte
}

// NewPrivateKey создаёт случайный приватный ключ.
func NewPrivateKey() (PrivateKey, error) {
	var k PrivateKey
	if _, err := io.ReadFull(rand.Reader, k.seed[:]); err != nil {
		return PrivateKey{}, err
	}
	return k, nil
}

// PrivateKeyFromSeed детерминированно выводит ключ из произвольного seed.
func PrivateKeyFromSeed(seed []byte) PrivateKey {
	return PrivateKey{seed: blake2b.Sum256(seed)}
}

func ParsePrivateKey(s string) (PrivateKey, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(s), privateKeyPrefix)
	if !ok {
		return PrivateKey{}, fmt.Errorf("%w: missing %s prefix", ErrInvalidKey, privateKeyPrefix)
	}
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 32 {
		return PrivateKey{}, fmt.Errorf("%w: bad private key body", ErrInvalidKey)
	}
	var k PrivateKey
	copy(k.seed[:], b)
	return k, nil
}

func (k PrivateKey) String() string {
	return privateKeyPrefix + hex.EncodeToString(k.seed[:])
}

func (k PrivateKey) ViewKey() ViewKey {
	s := hashToScalar("avail/vk", k.seed[:])
	var v ViewKey
	copy(v.b[:], s.Bytes())
	return v
}

func (k PrivateKey) Address() Address {
	return k.ViewKey().Address()
}

// ViewKey — скаляр, которым расшифровываются записи и локальные данные.
type ViewKey struct {
	b [32]byte
}

func ParseViewKey(s string) (ViewKey, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(s), viewKeyPrefix)
	if !ok {
		return ViewKey{}, fmt.Errorf("%w: missing %s prefix", ErrInvalidKey, viewKeyPrefix)
	}
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != 32 {
		return ViewKey{}, fmt.Errorf("%w: bad view key body", ErrInvalidKey)
	}
	if _, err := new(edwards25519.Scalar).SetCanonicalBytes(b); err != nil {
		return ViewKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	var v ViewKey
	copy(v.b[:], b)
	return v, nil
}

func (v ViewKey) String() string {
	return viewKeyPrefix + hex.EncodeToString(v.b[:])
}

func (v ViewKey) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, v.b[:])
	return out
}

// IsZero reports whether the key was never set.
func (v ViewKey) IsZero() bool {
	return v.b == [32]byte{}
}

func (v ViewKey) Address() Address {
	p := new(edwards25519.Point).ScalarBaseMult(v.scalar())
	return encodeAddress(p)
}

func (v ViewKey) scalar() *edwards25519.Scalar {
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(v.b[:])
	if err != nil {
		// ViewKey создаётся только из канонических байт
		panic(err)
	}
	return s
}

// Address — bech32-представление открытого ключа vk·G.
type Address string

func (a Address) String() string { return string(a) }

// ParseAddress проверяет bech32-кодировку и то, что адрес является точкой кривой.
func ParseAddress(s string) (Address, error) {
	a := Address(strings.TrimSpace(s))
	if _, err := a.point(); err != nil {
		return "", err
	}
	return a, nil
}

func (a Address) point() (*edwards25519.Point, error) {
	hrp, data, err := bech32.Decode(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if hrp != AddressHRP {
		return nil, fmt.Errorf("unexpected address prefix %q", hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("convert address bits: %w", err)
	}
	p, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("address is not a curve point: %w", err)
	}
	return p, nil
}

func encodeAddress(p *edwards25519.Point) Address {
	conv, err := bech32.ConvertBits(p.Bytes(), 8, 5, true)
	if err != nil {
		panic(err)
	}
	s, err := bech32.Encode(AddressHRP, conv)
	if err != nil {
		panic(err)
	}
	return Address(s)
}

func hashToScalar(domain string, parts ...[]byte) *edwards25519.Scalar {
	h, _ := blake2b.New512(nil)
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write(p)
	}
	s, err := new(edwards25519.Scalar).SetUniformBytes(h.Sum(nil))
	if err != nil {
		panic(err)
	}
	return s
}

func hash256(domain string, parts ...[]byte) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func randomScalar() (*edwards25519.Scalar, error) {
	var buf [64]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		return nil, err
	}
	return new(edwards25519.Scalar).SetUniformBytes(buf[:])
}
