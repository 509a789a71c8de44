package crypto

import (
	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
)

// Primitives — криптографические операции, которые нужны остальным компонентам.
type Primitives interface {
	OwnsTransition(tpk, tcm string, vk ViewKey) bool
	DecryptOutputCiphertext(ciphertext, tpk, program, function string, index int, vk ViewKey) (string, error)
	IsRecordOwner(ciphertext string, vk ViewKey) bool
	DecryptRecordCiphertext(ciphertext string, vk ViewKey) (chain.Record, error)
	RecordTag(vk ViewKey, commitment string) string
	Encrypt(plaintext []byte, vk ViewKey) ([]byte, []byte, error)
	Decrypt(ciphertext, nonce []byte, vk ViewKey) ([]byte, error)
	SealMessage(to Address, plaintext []byte) ([]byte, []byte, error)
	OpenMessage(ciphertext, nonce []byte, vk ViewKey) ([]byte, error)
	Sign(k PrivateKey, msg []byte) (string, error)
	Verify(addr Address, msg []byte, signature string) bool
}

// Edwards реализует Primitives над edwards25519.
type Edwards struct{}

var _ Primitives = Edwards{}

func (Edwards) OwnsTransition(tpk, tcm string, vk ViewKey) bool {
	return OwnsTransition(tpk, tcm, vk)
}

func (Edwards) DecryptOutputCiphertext(ciphertext, tpk, program, function string, index int, vk ViewKey) (string, error) {
	out, err := DecryptOutput(ciphertext, tpk, program, function, index, vk)
	if err != nil {
		return "", apperr.Wrap(apperr.SnarkVm, err, "failed to decrypt transition output")
	}
	return out, nil
}

func (Edwards) IsRecordOwner(ciphertext string, vk ViewKey) bool {
	return IsRecordOwner(ciphertext, vk)
}

func (Edwards) DecryptRecordCiphertext(ciphertext string, vk ViewKey) (chain.Record, error) {
	rec, err := DecryptRecord(ciphertext, vk)
	if err != nil {
		return chain.Record{}, apperr.Wrap(apperr.SnarkVm, err, "failed to decrypt record")
	}
	return rec, nil
}

func (Edwards) RecordTag(vk ViewKey, commitment string) string {
	return Tag(vk, commitment)
}

func (Edwards) Encrypt(plaintext []byte, vk ViewKey) ([]byte, []byte, error) {
	ct, nonce, err := Encrypt(plaintext, LocalKey(vk))
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.SnarkVm, err, "encryption failed")
	}
	return ct, nonce, nil
}

func (Edwards) Decrypt(ciphertext, nonce []byte, vk ViewKey) ([]byte, error) {
	plain, err := Decrypt(ciphertext, nonce, LocalKey(vk))
	if err != nil {
		return nil, apperr.Wrap(apperr.SnarkVm, err, "decryption failed")
	}
	return plain, nil
}

func (Edwards) SealMessage(to Address, plaintext []byte) ([]byte, []byte, error) {
	ct, nonce, err := SealMessage(to, plaintext)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.SnarkVm, err, "failed to seal message")
	}
	return ct, nonce, nil
}

func (Edwards) OpenMessage(ciphertext, nonce []byte, vk ViewKey) ([]byte, error) {
	plain, err := OpenMessage(ciphertext, nonce, vk)
	if err != nil {
		return nil, apperr.Wrap(apperr.SnarkVm, err, "failed to open message")
	}
	return plain, nil
}

func (Edwards) Sign(k PrivateKey, msg []byte) (string, error) {
	sig, err := Sign(k, msg)
	if err != nil {
		return "", apperr.Wrap(apperr.SnarkVm, err, "failed to sign")
	}
	return sig, nil
}

func (Edwards) Verify(addr Address, msg []byte, signature string) bool {
	return Verify(addr, msg, signature)
}
