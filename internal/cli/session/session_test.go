package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/event"
)

type recordingEmitter struct{ types []event.EventType }

func (r *recordingEmitter) Emit(t event.EventType, _ any) { r.types = append(r.types, t) }

func testAccount() Account {
	pk := crypto.PrivateKeyFromSeed([]byte("alice"))
	return Account{Address: pk.Address(), ViewKey: pk.ViewKey(), Network: "testnet"}
}

func TestSession_TTLExtendsOnUse(t *testing.T) {
	em := &recordingEmitter{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(testAccount(), time.Minute, em)
	s.Now = func() time.Time { return now }
	s.expires = now.Add(time.Minute)

	now = now.Add(50 * time.Second)
	_, err := s.Account()
	require.NoError(t, err)

	// использование продлило сессию
	now = now.Add(50 * time.Second)
	acct, err := s.Account()
	require.NoError(t, err)
	assert.Equal(t, "testnet", acct.Network)

	now = now.Add(2 * time.Minute)
	_, err = s.Account()
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))
	assert.Equal(t, []event.EventType{event.Reauthenticate}, em.types)
}

func TestSession_ClearAndContext(t *testing.T) {
	s := New(testAccount(), 0, nil)
	ctx := NewContext(context.Background(), s)

	acct, err := AccountFrom(ctx)
	require.NoError(t, err)
	assert.False(t, acct.ViewKey.IsZero())

	s.Clear()
	_, err = AccountFrom(ctx)
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))

	_, err = AccountFrom(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))
}

type mockAuthClient struct{ mock.Mock }

func (m *mockAuthClient) RequestChallenge(ctx context.Context, address string) (Challenge, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(Challenge), args.Error(1)
}

func (m *mockAuthClient) Login(ctx context.Context, sessionID, signature string) error {
	return m.Called(ctx, sessionID, signature).Error(0)
}

func TestLogin_SignsChallenge(t *testing.T) {
	pk := crypto.PrivateKeyFromSeed([]byte("alice"))
	client := &mockAuthClient{}
	client.On("RequestChallenge", mock.Anything, pk.Address().String()).
		Return(Challenge{SessionID: "sid-1", Hash: "abc123"}, nil)
	client.On("Login", mock.Anything, "sid-1", mock.MatchedBy(func(sig string) bool {
		return crypto.Verify(pk.Address(), []byte("abc123"), sig)
	})).Return(nil)

	require.NoError(t, Login(context.Background(), client, crypto.Edwards{}, pk))
	client.AssertExpectations(t)
}

func TestLogin_EmptyChallenge(t *testing.T) {
	pk := crypto.PrivateKeyFromSeed([]byte("alice"))
	client := &mockAuthClient{}
	client.On("RequestChallenge", mock.Anything, mock.Anything).Return(Challenge{}, nil)

	err := Login(context.Background(), client, crypto.Edwards{}, pk)
	assert.True(t, apperr.IsKind(err, apperr.External))
	client.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}
