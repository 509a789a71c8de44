package backup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"AvailWallet/internal/cli/api"
	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/chain/chaintest"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/event"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/records"
	"AvailWallet/internal/cli/scanner"
	"AvailWallet/internal/cli/session"
	"AvailWallet/internal/cli/store"
	"AvailWallet/internal/cli/tokens"
)

const serverPage = 300

// fakeServer хранит строки и сообщения одного пользователя в памяти.
type fakeServer struct {
	mu       sync.Mutex
	rows     map[string]model.EncryptedRow
	synced   map[string]bool
	messages []api.Message
	deleted  []string
	posts    int
	denied   atomic.Bool
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{rows: map[string]model.EncryptedRow{}, synced: map[string]bool{}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if f.denied.Load() {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/data", f.postData)
	r.Post("/import_data", f.postData)
	r.Put("/data", f.putData)
	r.Put("/sync", f.markSynced)
	r.Delete("/data", f.deleteData)
	r.Get("/data_count", f.count)
	r.Get("/recover_data", f.recover)
	r.Post("/txs_received", f.received)
	r.Delete("/txs_in", f.deleteTxs)
	r.Post("/tx_sent", f.sent)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) postData(w http.ResponseWriter, r *http.Request) {
	var rows []model.EncryptedRow
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts++
	for _, row := range rows {
		if _, ok := f.rows[row.ID]; !ok {
			f.rows[row.ID] = row
		}
	}
}

func (f *fakeServer) putData(w http.ResponseWriter, r *http.Request) {
	var rows []model.EncryptedRow
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range rows {
		if cur, ok := f.rows[row.ID]; ok && cur.UpdatedAt.After(row.UpdatedAt) {
			continue
		}
		f.rows[row.ID] = row
	}
}

func (f *fakeServer) markSynced(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range req.IDs {
		f.synced[id] = true
	}
}

func (f *fakeServer) deleteData(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = map[string]model.EncryptedRow{}
}

func (f *fakeServer) count(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]int{"count": len(f.rows)})
}

func (f *fakeServer) recover(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]model.EncryptedRow, 0, len(f.rows))
	for _, row := range f.rows {
		all = append(all, row)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	lo := min(page*serverPage, len(all))
	hi := min(lo+serverPage, len(all))
	_ = json.NewEncoder(w).Encode(all[lo:hi])
}

func (f *fakeServer) received(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = json.NewEncoder(w).Encode(f.messages)
}

func (f *fakeServer) deleteTxs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, req.IDs...)
	drop := map[string]bool{}
	for _, id := range req.IDs {
		drop[id] = true
	}
	kept := f.messages[:0]
	for _, m := range f.messages {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	f.messages = kept
}

func (f *fakeServer) sent(w http.ResponseWriter, r *http.Request) {
	var m api.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = "m" + strconv.Itoa(len(f.messages)+len(f.deleted)+1)
	f.messages = append(f.messages, m)
}

type recorder struct {
	mu     sync.Mutex
	events []event.EventType
}

func (r *recorder) Emit(t event.EventType, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t)
}

func (r *recorder) count(t event.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == t {
			n++
		}
	}
	return n
}

type fixture struct {
	ctx     context.Context
	chain   *chaintest.Ledger
	st      *store.Store
	ledger  *tokens.Ledger
	scanner *scanner.Scanner
	svc     *Service
	server  *fakeServer
	events  *recorder
	reg     *prometheus.Registry
	alice   crypto.PrivateKey
	bob     crypto.PrivateKey
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate())

	alice := crypto.PrivateKeyFromSeed([]byte("alice"))
	acct := session.Account{Address: alice.Address(), ViewKey: alice.ViewKey(), Network: "testnet"}
	l := chaintest.New()
	prims := crypto.Edwards{}
	ledger := tokens.NewLedger(st, prims)
	logger := zap.NewNop().Sugar()
	rec := &recorder{}
	reg := prometheus.NewRegistry()

	sc := scanner.New(scanner.Config{}, scanner.Deps{
		Client:     l,
		Store:      st,
		Ledger:     ledger,
		Records:    records.NewEngine(prims, l, logger),
		Primitives: prims,
		Logger:     logger,
	})
	server, srv := newFakeServer(t)
	svc := New(cfg, Deps{
		Client:     api.NewClient(srv.URL, nil, logger),
		Store:      st,
		Ledger:     ledger,
		Verifier:   sc,
		Primitives: prims,
		Emitter:    rec,
		Registry:   reg,
		Logger:     logger,
	})
	return &fixture{
		ctx:     session.NewContext(context.Background(), session.New(acct, 0, nil)),
		chain:   l,
		st:      st,
		ledger:  ledger,
		scanner: sc,
		svc:     svc,
		server:  server,
		events:  rec,
		reg:     reg,
		alice:   alice,
		bob:     crypto.PrivateKeyFromSeed([]byte("bob")),
	}
}

func (f *fixture) fund(t *testing.T, amounts ...uint64) {
	t.Helper()
	for _, a := range amounts {
		_, err := f.chain.Mint(f.alice.Address(), chain.CreditsProgram, a)
		require.NoError(t, err)
		f.chain.Mine()
	}
	require.NoError(t, f.scanner.Scan(f.ctx))
}

func (f *fixture) localRows(t *testing.T) int64 {
	t.Helper()
	n, err := f.st.Count(f.ctx, store.Filter{})
	require.NoError(t, err)
	return n
}

func (f *fixture) serverRows() int {
	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	return len(f.server.rows)
}

func TestSyncBackup_PushesNewAndUpdatedRows(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})
	f.fund(t, 100, 200, 300)

	local := f.localRows(t)
	require.Positive(t, local)

	pushed, err := f.svc.SyncBackup(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, local, pushed)
	assert.EqualValues(t, local, f.serverRows())
	assert.Equal(t, int((local+1)/2), f.server.posts, "rows go out in batches of two")
	assert.Len(t, f.server.synced, int(local))
	assert.InDelta(t, float64(local), testutil.ToFloat64(f.svc.metrics.pushed), 0)

	unsynced, err := f.st.Count(f.ctx, store.Filter{Unsynced: true})
	require.NoError(t, err)
	assert.Zero(t, unsynced)

	prefs, err := f.st.Prefs(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, prefs.LastBackupSync)

	recs, err := f.st.Find(f.ctx, store.Filter{Flavours: []model.Flavour{model.FlavourRecord}})
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	require.NoError(t, f.st.UpdateSpent(f.ctx, recs[0].ID, true))

	pushed, err = f.svc.SyncBackup(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pushed)
	f.server.mu.Lock()
	assert.True(t, f.server.rows[recs[0].ID].Spent)
	f.server.mu.Unlock()

	pushed, err = f.svc.SyncBackup(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, pushed)
}

func TestRecover_RestoresRowsAndBalances(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 400, 600)

	before := f.localRows(t)
	balance, err := f.ledger.Balance(f.ctx, "credits", f.alice.ViewKey())
	require.NoError(t, err)
	require.EqualValues(t, 1000, balance)
	bookmark, err := f.st.LastSync(f.ctx)
	require.NoError(t, err)

	_, err = f.svc.ImportAll(f.ctx)
	require.NoError(t, err)
	require.EqualValues(t, before, f.serverRows())

	require.NoError(t, f.st.Wipe(f.ctx))
	require.NoError(t, f.st.UpdateLastSync(f.ctx, bookmark))
	require.Zero(t, f.localRows(t))

	inserted, err := f.svc.Recover(f.ctx)
	require.NoError(t, err)
	assert.EqualValues(t, before, inserted)
	assert.Equal(t, before, f.localRows(t))

	balance, err = f.ledger.Balance(f.ctx, "credits", f.alice.ViewKey())
	require.NoError(t, err)
	assert.EqualValues(t, 1000, balance)

	after, err := f.st.LastSync(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, bookmark, after)

	// повторное восстановление ничего не дублирует
	inserted, err = f.svc.Recover(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Equal(t, before, f.localRows(t))
}

func TestRecover_KeepsRecordsHeldByPendingTransaction(t *testing.T) {
	f := newFixture(t, Config{})
	vk := f.alice.ViewKey()
	mintID, err := f.chain.Mint(f.alice.Address(), chain.CreditsProgram, 1_000)
	require.NoError(t, err)
	f.chain.Mine()
	f.fund(t, 500)
	f.chain.FundPublic(f.alice.Address(), 50)

	in := ownedInput(t, f.chain, mintID, vk)
	txID, err := f.chain.Transfer(f.ctx, chain.TransferRequest{
		PrivateKey: f.alice.String(),
		Kind:       chain.TransferPrivate,
		Recipient:  f.bob.Address().String(),
		Amount:     300,
		Input:      &in,
		Fee:        chain.FeeOptions{Amount: 10},
	})
	require.NoError(t, err)

	// транзакция отправлена, но ещё не в блоке: запись занята
	ptr := model.TransactionPointer{
		TransactionID:     txID,
		State:             model.StatePending,
		EventType:         model.EventSend,
		SpentRecordNonces: []string{in.Record.Nonce},
	}
	ct, nonce, err := store.SealPointer(crypto.Edwards{}, vk, ptr)
	require.NoError(t, err)
	pending := &model.EncryptedRow{
		Owner:            f.alice.Address().String(),
		Network:          "testnet",
		Ciphertext:       ct,
		Nonce:            nonce,
		Flavour:          model.FlavourTransaction,
		EventType:        model.EventSend,
		TransactionState: model.StatePtr(model.StatePending),
	}
	_, err = f.st.Insert(f.ctx, pending)
	require.NoError(t, err)
	held, err := f.st.ByNonce(f.ctx, f.alice.Address().String(), "testnet", in.Record.Nonce)
	require.NoError(t, err)
	heldPtr, err := records.OpenRecord(crypto.Edwards{}, vk, held)
	require.NoError(t, err)
	heldPtr.Spent = true
	ct, nonce, err = store.SealPointer(crypto.Edwards{}, vk, heldPtr)
	require.NoError(t, err)
	spent := true
	require.NoError(t, f.st.Update(f.ctx, held.ID, store.Change{Ciphertext: ct, Nonce: nonce, Spent: &spent}))

	bookmark, err := f.st.LastSync(f.ctx)
	require.NoError(t, err)
	_, err = f.svc.ImportAll(f.ctx)
	require.NoError(t, err)
	require.NoError(t, f.st.Wipe(f.ctx))
	require.NoError(t, f.st.UpdateLastSync(f.ctx, bookmark))

	_, err = f.svc.Recover(f.ctx)
	require.NoError(t, err)
	balance, err := f.ledger.Balance(f.ctx, "credits", vk)
	require.NoError(t, err)
	assert.EqualValues(t, 1_500, balance, "spend is not on chain yet")

	f.chain.Mine()
	require.NoError(t, f.scanner.Scan(f.ctx))
	require.NoError(t, f.scanner.Scan(f.ctx))

	balance, err = f.ledger.Balance(f.ctx, "credits", vk)
	require.NoError(t, err)
	assert.EqualValues(t, 1_200, balance)

	row, err := f.st.Get(f.ctx, pending.ID)
	require.NoError(t, err)
	require.NotNil(t, row.TransactionState)
	assert.Equal(t, model.StateConfirmed, *row.TransactionState)
}

// ownedInput достаёт из транзакции txID запись, принадлежащую vk.
func ownedInput(t *testing.T, l *chaintest.Ledger, txID string, vk crypto.ViewKey) chain.RecordInput {
	t.Helper()
	st, err := l.GetTransaction(context.Background(), txID)
	require.NoError(t, err)
	for _, tr := range st.Confirmed.Transaction.Transitions() {
		for _, out := range tr.Outputs {
			if out.Type == chain.IORecord && crypto.IsRecordOwner(out.Value, vk) {
				rec, err := crypto.DecryptRecord(out.Value, vk)
				require.NoError(t, err)
				return chain.RecordInput{Record: rec, Commitment: out.ID}
			}
		}
	}
	t.Fatalf("no owned record in %s", txID)
	return chain.RecordInput{}
}

func TestRecover_SkipsForeignRows(t *testing.T) {
	f := newFixture(t, Config{})
	f.server.rows["foreign"] = model.EncryptedRow{
		ID: "foreign", Owner: f.bob.Address().String(), Network: "testnet",
		Flavour: model.FlavourTransaction, Ciphertext: []byte{1}, Nonce: []byte{2},
	}
	inserted, err := f.svc.Recover(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Zero(t, f.localRows(t))
}

func TestWipe_RemovesServerRows(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 10)
	_, err := f.svc.SyncBackup(f.ctx)
	require.NoError(t, err)
	require.Positive(t, f.serverRows())

	require.NoError(t, f.svc.Wipe(f.ctx))
	assert.Zero(t, f.serverRows())
	assert.Positive(t, f.localRows(t))
}

func TestSyncTransactions_ProcessesPeerTransfer(t *testing.T) {
	f := newFixture(t, Config{})
	txID, err := f.chain.Mint(f.alice.Address(), chain.CreditsProgram, 250)
	require.NoError(t, err)
	f.chain.Mine()

	require.NoError(t, f.svc.NotifyRecipient(f.ctx, model.TransactionMessage{
		TransactionID: txID,
		From:          f.bob.Address().String(),
		To:            f.alice.Address().String(),
	}))
	// сообщение, которое нельзя расшифровать
	f.server.messages = append(f.server.messages, api.Message{ID: "junk", Ciphertext: []byte("x"), Nonce: []byte("y")})

	processed, err := f.svc.SyncTransactions(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.ElementsMatch(t, []string{"m1", "junk"}, f.server.deleted)
	assert.Empty(t, f.server.messages)

	balance, err := f.ledger.Balance(f.ctx, "credits", f.alice.ViewKey())
	require.NoError(t, err)
	assert.EqualValues(t, 250, balance)

	rows, err := f.st.Find(f.ctx, store.Filter{Flavours: []model.Flavour{model.FlavourTransition}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var tp model.TransitionPointer
	require.NoError(t, store.OpenPointer(crypto.Edwards{}, f.alice.ViewKey(), &rows[0], &tp))
	assert.Equal(t, model.DirectionOutput, tp.Direction)
	assert.Equal(t, f.bob.Address().String(), tp.From)
	assert.Equal(t, txID, tp.TransactionID)

	prefs, err := f.st.Prefs(f.ctx)
	require.NoError(t, err)
	assert.NotNil(t, prefs.LastTxSync)
	assert.InDelta(t, 1, testutil.ToFloat64(f.svc.metrics.messages.WithLabelValues("processed")), 0)
}

func TestSyncTransactions_DropsUnknownTransaction(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.svc.NotifyRecipient(f.ctx, model.TransactionMessage{
		TransactionID: "at1missing",
		From:          f.bob.Address().String(),
		To:            f.alice.Address().String(),
	}))
	processed, err := f.svc.SyncTransactions(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Equal(t, []string{"m1"}, f.server.deleted)
}

func TestUnauthorized_EmitsReauthenticate(t *testing.T) {
	f := newFixture(t, Config{})
	f.fund(t, 10)
	f.server.denied.Store(true)

	_, err := f.svc.SyncBackup(f.ctx)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Unauthorized))

	_, err = f.svc.SyncTransactions(f.ctx)
	require.Error(t, err)

	assert.Equal(t, 2, f.events.count(event.Reauthenticate))

	prefs, err := f.st.Prefs(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, prefs.LastBackupSync)
	unsynced, err := f.st.Count(f.ctx, store.Filter{Unsynced: true})
	require.NoError(t, err)
	assert.Equal(t, f.localRows(t), unsynced)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.st.SetBackup(f.ctx, true))
	f.fund(t, 10)

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})
	go func() {
		f.svc.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return f.serverRows() > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
