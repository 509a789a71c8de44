package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/model"
	"AvailWallet/internal/repo"
)

func TestAuthService_ChallengeAndLogin(t *testing.T) {
	ctx := context.Background()
	alice := crypto.PrivateKeyFromSeed([]byte("alice"))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m := new(mockChallengeRepo)
	svc := NewAuthService(m)
	svc.Now = func() time.Time { return now }

	var stored *model.Challenge
	m.On("Create", mock.Anything, mock.AnythingOfType("*model.Challenge")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*model.Challenge) }).
		Return(nil).Once()

	c, err := svc.RequestChallenge(ctx, alice.Address().String())
	require.NoError(t, err)
	assert.Equal(t, stored, c)
	assert.Len(t, c.Hash, 64)
	assert.Equal(t, now.Add(ChallengeTTL), c.ExpiresAt)

	t.Run("valid signature", func(t *testing.T) {
		sig, err := crypto.Sign(alice, []byte(c.Hash))
		require.NoError(t, err)
		m.On("Take", mock.Anything, c.ID).Return(c, nil).Once()

		addr, err := svc.Login(ctx, c.ID, sig)
		require.NoError(t, err)
		assert.Equal(t, alice.Address().String(), addr)
	})

	t.Run("signature of another key", func(t *testing.T) {
		bob := crypto.PrivateKeyFromSeed([]byte("bob"))
		sig, err := crypto.Sign(bob, []byte(c.Hash))
		require.NoError(t, err)
		m.On("Take", mock.Anything, c.ID).Return(c, nil).Once()

		_, err = svc.Login(ctx, c.ID, sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("expired", func(t *testing.T) {
		old := *c
		old.ExpiresAt = now.Add(-time.Second)
		m.On("Take", mock.Anything, "old").Return(&old, nil).Once()
		_, err := svc.Login(ctx, "old", "sig")
		assert.ErrorIs(t, err, ErrChallengeExpired)
	})

	t.Run("unknown", func(t *testing.T) {
		m.On("Take", mock.Anything, "nope").Return(nil, repo.ErrNotFound).Once()
		_, err := svc.Login(ctx, "nope", "sig")
		assert.ErrorIs(t, err, ErrUnknownChallenge)
	})

	m.AssertExpectations(t)
}

func TestAuthService_RejectsBadAddress(t *testing.T) {
	svc := NewAuthService(new(mockChallengeRepo))
	_, err := svc.RequestChallenge(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestAuthService_PurgeExpired(t *testing.T) {
	m := new(mockChallengeRepo)
	svc := NewAuthService(m)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }

	m.On("Purge", mock.Anything, now).Return(int64(3), nil).Once()
	n, err := svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	m.AssertExpectations(t)
}
