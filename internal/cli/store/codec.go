package store

import (
	"encoding/json"
	"fmt"

	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/model"
)

// Sealer — симметричное шифрование под ключом просмотра.
type Sealer interface {
	Encrypt(plaintext []byte, vk crypto.ViewKey) ([]byte, []byte, error)
	Decrypt(ciphertext, nonce []byte, vk crypto.ViewKey) ([]byte, error)
}

// SealPointer сериализует указатель в JSON и шифрует его.
func SealPointer(s Sealer, vk crypto.ViewKey, v any) ([]byte, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal pointer: %w", err)
	}
	return s.Encrypt(b, vk)
}

// OpenPointer расшифровывает строку в указатель out.
func OpenPointer(s Sealer, vk crypto.ViewKey, row *model.EncryptedRow, out any) error {
	b, err := s.Decrypt(row.Ciphertext, row.Nonce, vk)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("unmarshal pointer %s: %w", row.ID, err)
	}
	return nil
}
