package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"filippo.io/edwards25519"
)

const outputPrefix = "ciphertext1"

// TransitionKeys — ключи перехода: tpk и tcm публикуются, tvk остаётся у исполнителя.
type TransitionKeys struct {
	TPK string
	TCM string
	TVK []byte
}

// NewTransitionKeys создаёт ключи перехода, исполняемого владельцем адреса caller.
func NewTransitionKeys(caller Address) (TransitionKeys, error) {
	addr, err := caller.point()
	if err != nil {
		return TransitionKeys{}, err
	}
	r, err := randomScalar()
	if err != nil {
		return TransitionKeys{}, err
	}
	tpk := new(edwards25519.Point).ScalarBaseMult(r)
	tvk := new(edwards25519.Point).ScalarMult(r, addr).Bytes()
	return TransitionKeys{
		TPK: hex.EncodeToString(tpk.Bytes()),
		TCM: hex.EncodeToString(hash256("avail/tcm", tvk)),
		TVK: tvk,
	}, nil
}

// OwnsTransition пересчитывает tcm из tpk и ключа просмотра.
func OwnsTransition(tpk, tcm string, vk ViewKey) bool {
	tvk, err := transitionViewKey(tpk, vk)
	if err != nil {
		return false
	}
	return hex.EncodeToString(hash256("avail/tcm", tvk)) == tcm
}

// SealOutput шифрует приватное значение выхода index перехода.
func SealOutput(plaintext string, tvk []byte, program, function string, index int) (string, error) {
	sealed, err := sealZero(outputKey(tvk, program, function, index), []byte(plaintext))
	if err != nil {
		return "", err
	}
	return outputPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// DecryptOutput расшифровывает приватный выход перехода, которым владеет ключ vk.
func DecryptOutput(ciphertext, tpk, program, function string, index int, vk ViewKey) (string, error) {
	raw, ok := strings.CutPrefix(ciphertext, outputPrefix)
	if !ok {
		return "", fmt.Errorf("not an output ciphertext")
	}
	sealed, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode output ciphertext: %w", err)
	}
	tvk, err := transitionViewKey(tpk, vk)
	if err != nil {
		return "", err
	}
	plain, err := openZero(outputKey(tvk, program, function, index), sealed)
	if err != nil {
		return "", fmt.Errorf("open output: %w", err)
	}
	return string(plain), nil
}

func outputKey(tvk []byte, program, function string, index int) []byte {
	return hash256("avail/output", tvk, []byte(program), []byte(function), []byte(strconv.Itoa(index)))
}

func transitionViewKey(tpk string, vk ViewKey) ([]byte, error) {
	b, err := hex.DecodeString(tpk)
	if err != nil {
		return nil, fmt.Errorf("decode tpk: %w", err)
	}
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return nil, fmt.Errorf("tpk is not a curve point: %w", err)
	}
	return new(edwards25519.Point).ScalarMult(vk.scalar(), p).Bytes(), nil
}
