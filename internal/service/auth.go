package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/model"
	"AvailWallet/internal/repo"
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrUnknownChallenge = errors.New("unknown or used challenge")
	ErrChallengeExpired = errors.New("challenge expired")
	ErrInvalidSignature = errors.New("invalid signature")
)

// ChallengeTTL — сколько живёт строка входа.
const ChallengeTTL = 5 * time.Minute

// AuthService — вход подписью приватного ключа адреса.
type AuthService struct {
	repo repo.ChallengeRepository
	Now  func() time.Time
}

func NewAuthService(r repo.ChallengeRepository) *AuthService {
	return &AuthService{repo: r, Now: time.Now}
}

// RequestChallenge выдаёт новую строку для подписи адресом address.
func (s *AuthService) RequestChallenge(ctx context.Context, address string) (*model.Challenge, error) {
	if _, err := crypto.ParseAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("challenge entropy: %w", err)
	}
	c := &model.Challenge{
		ID:        uuid.NewString(),
		Address:   address,
		Hash:      hex.EncodeToString(buf),
		ExpiresAt: s.Now().Add(ChallengeTTL).UTC(),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Login проверяет подпись строки и возвращает адрес, для которого открывается сессия.
func (s *AuthService) Login(ctx context.Context, sessionID, signature string) (string, error) {
	c, err := s.repo.Take(ctx, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrUnknownChallenge
	}
	if err != nil {
		return "", err
	}
	if s.Now().After(c.ExpiresAt) {
		return "", ErrChallengeExpired
	}
	addr, err := crypto.ParseAddress(c.Address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if !crypto.Verify(addr, []byte(c.Hash), signature) {
		return "", ErrInvalidSignature
	}
	return c.Address, nil
}

// PurgeExpired удаляет строки входа, которые уже нельзя использовать.
func (s *AuthService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.Purge(ctx, s.Now().UTC())
}
