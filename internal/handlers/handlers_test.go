package handlers_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"AvailWallet/internal/cli/api"
	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/crypto"
	climodel "AvailWallet/internal/cli/model"
	fsrepo "AvailWallet/internal/cli/repo/fs"
	"AvailWallet/internal/cli/session"
	"AvailWallet/internal/config"
	"AvailWallet/internal/handlers"
	"AvailWallet/internal/repo"
	"AvailWallet/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := repo.InitDB("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	logger := zap.NewNop().Sugar()
	reg := prometheus.NewRegistry()
	authSvc := service.NewAuthService(repo.NewChallengeRepository(db))
	backupSvc := service.NewBackupService(repo.NewRowRepository(db), repo.NewMessageRepository(db), reg, logger)
	h := handlers.NewHandler(authSvc, backupSvc, reg, logger, &config.Config{AuthSecret: "test-secret"})

	srv := httptest.NewServer(h.Router)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, srv *httptest.Server, pk crypto.PrivateKey) *api.Client {
	t.Helper()
	tokens := fsrepo.AuthFSStore{Dir: t.TempDir(), Address: pk.Address().String()}
	return api.NewClient(srv.URL, tokens, zap.NewNop().Sugar())
}

func login(t *testing.T, c *api.Client, pk crypto.PrivateKey) {
	t.Helper()
	require.NoError(t, session.Login(context.Background(), c, crypto.Edwards{}, pk))
}

func encRow(id, owner string, at time.Time, payload byte) climodel.EncryptedRow {
	return climodel.EncryptedRow{
		ID:          id,
		Owner:       owner,
		Ciphertext:  []byte{payload, payload},
		Nonce:       []byte{7},
		Flavour:     climodel.FlavourRecord,
		ProgramIDs:  `["credits.aleo"]`,
		FunctionIDs: "[]",
		Network:     "testnet",
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestBackupRoutes_RequireSession(t *testing.T) {
	srv := newTestServer(t)
	alice := crypto.PrivateKeyFromSeed([]byte("alice"))
	c := newClient(t, srv, alice)

	_, err := c.DataCount(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))

	_, err = c.TxsReceived(context.Background())
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))
}

func TestBackupRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	alice := crypto.PrivateKeyFromSeed([]byte("alice"))
	addr := alice.Address().String()
	c := newClient(t, srv, alice)
	login(t, c, alice)

	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, c.PostData(ctx, []climodel.EncryptedRow{encRow("r1", addr, t0, 1), encRow("r2", addr, t0.Add(time.Second), 2)}))
	// повторная отправка не дублирует строки
	require.NoError(t, c.PostData(ctx, []climodel.EncryptedRow{encRow("r1", addr, t0, 9)}))
	n, err := c.DataCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	updated := encRow("r1", addr, t0, 3)
	updated.UpdatedAt = t0.Add(time.Minute)
	updated.Spent = true
	stale := encRow("r2", addr, t0, 4)
	stale.UpdatedAt = t0.Add(-time.Minute)
	require.NoError(t, c.PutData(ctx, []climodel.EncryptedRow{updated, stale}))
	require.NoError(t, c.MarkSynced(ctx, []string{"r1", "r2"}))

	rows, err := c.RecoverData(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "r1", rows[0].ID)
	assert.True(t, rows[0].Spent)
	assert.Equal(t, []byte{3, 3}, rows[0].Ciphertext)
	assert.Equal(t, []byte{2, 2}, rows[1].Ciphertext)
	assert.Equal(t, climodel.FlavourRecord, rows[1].Flavour)
	assert.NotNil(t, rows[0].SyncedOn)

	empty, err := c.RecoverData(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, c.ImportData(ctx, []climodel.EncryptedRow{encRow("r3", addr, t0.Add(2*time.Second), 5)}))
	n, err = c.DataCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// строки чужого адреса отклоняются
	err = c.PostData(ctx, []climodel.EncryptedRow{encRow("x", "avail1someoneelse", t0, 1)})
	assert.True(t, apperr.IsKind(err, apperr.External))

	require.NoError(t, c.DeleteData(ctx))
	n, err = c.DataCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "avail_server_rows_written_total")
}

func TestTransferMailbox(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	alice := crypto.PrivateKeyFromSeed([]byte("alice"))
	bob := crypto.PrivateKeyFromSeed([]byte("bob"))
	ca, cb := newClient(t, srv, alice), newClient(t, srv, bob)
	login(t, ca, alice)
	login(t, cb, bob)

	require.NoError(t, ca.TxSent(ctx, api.Message{To: bob.Address().String(), Ciphertext: []byte{1}, Nonce: []byte{2}}))
	err := ca.TxSent(ctx, api.Message{To: "nobody", Ciphertext: []byte{1}, Nonce: []byte{2}})
	assert.True(t, apperr.IsKind(err, apperr.External))

	mine, err := ca.TxsReceived(ctx)
	require.NoError(t, err)
	assert.Empty(t, mine)

	inbox, err := cb.TxsReceived(ctx)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, bob.Address().String(), inbox[0].To)
	assert.Equal(t, []byte{1}, inbox[0].Ciphertext)

	// отправитель не может удалить сообщение из чужого ящика
	require.NoError(t, ca.DeleteTxsIn(ctx, []string{inbox[0].ID}))
	inbox, err = cb.TxsReceived(ctx)
	require.NoError(t, err)
	require.Len(t, inbox, 1)

	require.NoError(t, cb.DeleteTxsIn(ctx, []string{inbox[0].ID}))
	inbox, err = cb.TxsReceived(ctx)
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestLogin_Rejections(t *testing.T) {
	srv := newTestServer(t)
	alice := crypto.PrivateKeyFromSeed([]byte("alice"))
	bob := crypto.PrivateKeyFromSeed([]byte("bob"))
	c := newClient(t, srv, alice)
	ctx := context.Background()

	_, err := c.RequestChallenge(ctx, "not-an-address")
	assert.True(t, apperr.IsKind(err, apperr.External))

	ch, err := c.RequestChallenge(ctx, alice.Address().String())
	require.NoError(t, err)
	sig, err := crypto.Sign(bob, []byte(ch.Hash))
	require.NoError(t, err)
	err = c.Login(ctx, ch.SessionID, sig)
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))

	// строка одноразовая: после неудачи её нельзя подписать ещё раз
	good, err := crypto.Sign(alice, []byte(ch.Hash))
	require.NoError(t, err)
	err = c.Login(ctx, ch.SessionID, good)
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))

	resp, err := http.Post(srv.URL+"/auth/login", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/auth/request", "application/json", strings.NewReader(`{"address":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
