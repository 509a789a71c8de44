package crypto

import (
	"fmt"

	"filippo.io/edwards25519"
)

// SealMessage шифрует сообщение для получателя to. Возвращает шифртекст и эфемерную точку как nonce.
func SealMessage(to Address, plaintext []byte) ([]byte, []byte, error) {
	addr, err := to.point()
	if err != nil {
		return nil, nil, err
	}
	n, err := randomScalar()
	if err != nil {
		return nil, nil, err
	}
	eph := new(edwards25519.Point).ScalarBaseMult(n)
	shared := new(edwards25519.Point).ScalarMult(n, addr).Bytes()
	ct, err := sealZero(hash256("avail/msg", shared), plaintext)
	if err != nil {
		return nil, nil, err
	}
	return ct, eph.Bytes(), nil
}

// OpenMessage расшифровывает сообщение, адресованное владельцу vk.
func OpenMessage(ciphertext, nonce []byte, vk ViewKey) ([]byte, error) {
	eph, err := new(edwards25519.Point).SetBytes(nonce)
	if err != nil {
		return nil, fmt.Errorf("message nonce: %w", err)
	}
	shared := new(edwards25519.Point).ScalarMult(vk.scalar(), eph).Bytes()
	return openZero(hash256("avail/msg", shared), ciphertext)
}
