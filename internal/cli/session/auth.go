package session

import (
	"context"
	"fmt"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/crypto"
)

// Challenge — одноразовая строка сервера для подписи.
type Challenge struct {
	SessionID string `json:"session_id"`
	Hash      string `json:"hash"`
}

// AuthClient — часть BackupClient, отвечающая за вход.
type AuthClient interface {
	RequestChallenge(ctx context.Context, address string) (Challenge, error)
	Login(ctx context.Context, sessionID, signature string) error
}

// Signer подписывает сообщения приватным ключом.
type Signer interface {
	Sign(k crypto.PrivateKey, msg []byte) (string, error)
}

// Login проходит challenge-response: запрос строки, подпись приватным ключом, вход.
// Сессионная кука остаётся у клиента.
func Login(ctx context.Context, client AuthClient, signer Signer, pk crypto.PrivateKey) error {
	ch, err := client.RequestChallenge(ctx, pk.Address().String())
	if err != nil {
		return err
	}
	if ch.SessionID == "" || ch.Hash == "" {
		return apperr.New(apperr.External, "empty auth challenge", "Backup server returned an invalid challenge")
	}
	sig, err := signer.Sign(pk, []byte(ch.Hash))
	if err != nil {
		return fmt.Errorf("sign challenge: %w", err)
	}
	return client.Login(ctx, ch.SessionID, sig)
}
