package txlife_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

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
	"AvailWallet/internal/cli/txlife"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Emit(t event.EventType, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.Event{Type: t, Data: data})
}

func (r *recorder) states(rowID string) []model.TxState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.TxState
	for _, e := range r.events {
		if d, ok := e.Data.(event.TxStateData); ok && e.Type == event.TxStateChange && d.PointerID == rowID {
			out = append(out, d.State)
		}
	}
	return out
}

type notes struct {
	mu   sync.Mutex
	msgs []model.TransactionMessage
}

func (n *notes) NotifyRecipient(_ context.Context, msg model.TransactionMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

type fixture struct {
	ctx     context.Context
	chain   *chaintest.Ledger
	st      *store.Store
	ledger  *tokens.Ledger
	scanner *scanner.Scanner
	engine  *txlife.Engine
	events  *recorder
	notes   *notes
	alice   crypto.PrivateKey
	bob     crypto.PrivateKey
	acct    session.Account
}

func newFixture(t *testing.T, cfg txlife.Config, wrap func(*chaintest.Ledger) chain.Client) *fixture {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate())

	alice := crypto.PrivateKeyFromSeed([]byte("alice"))
	acct := session.Account{Address: alice.Address(), ViewKey: alice.ViewKey(), Network: "testnet"}
	l := chaintest.New()
	var client chain.Client = l
	if wrap != nil {
		client = wrap(l)
	}
	prims := crypto.Edwards{}
	logger := zap.NewNop().Sugar()
	ledger := tokens.NewLedger(st, prims)
	rec := records.NewEngine(prims, l, logger)
	events := &recorder{}
	sc := scanner.New(scanner.Config{}, scanner.Deps{
		Client: l, Store: st, Ledger: ledger, Records: rec, Primitives: prims, Emitter: events, Logger: logger,
	})
	n := &notes{}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	eng := txlife.New(cfg, txlife.Deps{
		Client: client, Store: st, Records: rec, Primitives: prims,
		Finalizer: sc, Notifier: n, Emitter: events, Logger: logger,
	})
	t.Cleanup(eng.Stop)
	return &fixture{
		ctx:   session.NewContext(context.Background(), session.New(acct, 0, nil)),
		chain: l, st: st, ledger: ledger, scanner: sc, engine: eng, events: events, notes: n,
		alice: alice, bob: crypto.PrivateKeyFromSeed([]byte("bob")), acct: acct,
	}
}

// fund выпускает записи credits на alice и сканирует их.
func (f *fixture) fund(t *testing.T, amounts ...uint64) {
	t.Helper()
	for _, a := range amounts {
		_, err := f.chain.Mint(f.alice.Address(), chain.CreditsProgram, a)
		require.NoError(t, err)
	}
	f.chain.Mine()
	require.NoError(t, f.scanner.Scan(f.ctx))
}

func (f *fixture) records(t *testing.T) map[uint64][]model.RecordPointer {
	t.Helper()
	rows, err := f.st.Find(f.ctx, store.Filter{Flavours: []model.Flavour{model.FlavourRecord}})
	require.NoError(t, err)
	out := map[uint64][]model.RecordPointer{}
	for i := range rows {
		ptr, err := records.OpenRecord(crypto.Edwards{}, f.acct.ViewKey, &rows[i])
		require.NoError(t, err)
		out[ptr.Amount] = append(out[ptr.Amount], ptr)
	}
	return out
}

func (f *fixture) record(t *testing.T, amount uint64) model.RecordPointer {
	t.Helper()
	recs := f.records(t)[amount]
	require.Len(t, recs, 1, "record of %d", amount)
	return recs[0]
}

func (f *fixture) pointer(t *testing.T, rowID string) model.TransactionPointer {
	t.Helper()
	row, err := f.st.Get(f.ctx, rowID)
	require.NoError(t, err)
	var ptr model.TransactionPointer
	require.NoError(t, store.OpenPointer(crypto.Edwards{}, f.acct.ViewKey, row, &ptr))
	return ptr
}

func (f *fixture) balance(t *testing.T) uint64 {
	t.Helper()
	v, err := f.ledger.Balance(f.ctx, "credits", f.acct.ViewKey)
	require.NoError(t, err)
	return v
}

func TestEngine_PrivateSelfTransfer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
	f := newFixture(t, txlife.Config{}, nil)
	f.fund(t, 1_000_000)
	original := f.record(t, 1_000_000)

	rowID, err := f.engine.Transfer(f.ctx, f.alice, txlife.TransferIntent{
		Kind:       chain.TransferPrivate,
		Recipient:  f.alice.Address().String(),
		Amount:     500_000,
		Fee:        300_000,
		FeePrivate: true,
	})
	require.NoError(t, err)
	ptr := f.pointer(t, rowID)
	assert.Equal(t, model.StatePending, ptr.State)
	assert.Equal(t, original.Nonce, ptr.SpentFeeNonce)
	assert.Equal(t, []string{original.Nonce}, ptr.SpentRecordNonces)
	assert.Equal(t, []string{original.Nonce}, ptr.HeldNonces())
	assert.True(t, f.record(t, 1_000_000).Spent)

	f.chain.Mine()
	f.engine.Wait()

	ptr = f.pointer(t, rowID)
	assert.Equal(t, model.StateConfirmed, ptr.State)
	assert.Equal(t, model.EventSend, ptr.EventType)
	require.NotNil(t, ptr.Amount)
	require.NotNil(t, ptr.Fee)
	assert.InDelta(t, 0.5, *ptr.Amount, 1e-9)
	assert.InDelta(t, 0.3, *ptr.Fee, 1e-9)
	assert.NotNil(t, ptr.Finalized)

	recs := f.records(t)
	assert.True(t, recs[1_000_000][0].Spent)
	require.Len(t, recs[500_000], 1)
	require.Len(t, recs[200_000], 1)
	assert.False(t, recs[500_000][0].Spent)
	assert.False(t, recs[200_000][0].Spent)
	assert.Equal(t, uint64(700_000), f.balance(t))

	assert.Equal(t, []model.TxState{model.StateProcessing, model.StatePending, model.StateConfirmed}, f.events.states(rowID))
	// перевод самому себе не уведомляет
	assert.Empty(t, f.notes.msgs)

	// повторный скан не дублирует уже сведённую транзакцию
	require.NoError(t, f.scanner.Scan(f.ctx))
	n, err := f.st.Count(f.ctx, store.Filter{Flavours: []model.Flavour{model.FlavourRecord}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, uint64(700_000), f.balance(t))
}

func TestEngine_ExecutionRejected(t *testing.T) {
	f := newFixture(t, txlife.Config{}, nil)
	f.fund(t, 1_000, 50)
	input := f.record(t, 1_000)
	fee := f.record(t, 50)

	f.chain.SetNextOutcome(chaintest.Reject)
	rowID, err := f.engine.Execute(f.ctx, f.alice, txlife.ExecuteIntent{
		ProgramID:    chain.CreditsProgram,
		Function:     "split",
		Inputs:       []string{"400u64"},
		RecordNonces: []string{input.Nonce},
		Fee:          20,
		FeePrivate:   true,
	})
	require.NoError(t, err)
	ptr := f.pointer(t, rowID)
	assert.Equal(t, fee.Nonce, ptr.SpentFeeNonce)
	assert.Equal(t, model.EventExecute, ptr.EventType)

	f.chain.Mine()
	f.engine.Wait()

	ptr = f.pointer(t, rowID)
	assert.Equal(t, model.StateRejected, ptr.State)
	assert.Equal(t, "Transaction rejected by the network", ptr.Error)
	assert.False(t, f.record(t, 1_000).Spent)
	assert.True(t, f.record(t, 50).SpentOnChain)
	// остаток комиссии
	assert.False(t, f.record(t, 30).Spent)
	assert.Equal(t, uint64(1_030), f.balance(t))
}

func TestEngine_NotifiesRecipient(t *testing.T) {
	f := newFixture(t, txlife.Config{}, nil)
	f.fund(t, 1_000)
	f.chain.FundPublic(f.alice.Address(), 10)

	rowID, err := f.engine.Transfer(f.ctx, f.alice, txlife.TransferIntent{
		Kind:      chain.TransferPrivate,
		Recipient: f.bob.Address().String(),
		Amount:    600,
		Fee:       10,
	})
	require.NoError(t, err)
	f.chain.Mine()
	f.engine.Wait()

	ptr := f.pointer(t, rowID)
	assert.Equal(t, model.StateConfirmed, ptr.State)
	assert.Equal(t, uint64(400), f.balance(t))
	require.Len(t, f.notes.msgs, 1)
	assert.Equal(t, model.TransactionMessage{
		TransactionID: ptr.TransactionID,
		From:          f.alice.Address().String(),
		To:            f.bob.Address().String(),
	}, f.notes.msgs[0])
}

func TestEngine_RecordSelection(t *testing.T) {
	f := newFixture(t, txlife.Config{}, nil)
	f.fund(t, 300, 400)

	_, err := f.engine.Transfer(f.ctx, f.alice, txlife.TransferIntent{
		Kind: chain.TransferPrivate, Recipient: f.bob.Address().String(), Amount: 500, Fee: 1,
	})
	assert.True(t, apperr.IsKind(err, apperr.JoinRequired), "got %v", err)

	_, err = f.engine.Transfer(f.ctx, f.alice, txlife.TransferIntent{
		Kind: chain.TransferPrivate, Recipient: f.bob.Address().String(), Amount: 800, Fee: 1,
	})
	assert.True(t, apperr.IsKind(err, apperr.InsufficientBalance), "got %v", err)

	_, err = f.engine.Transfer(f.ctx, f.alice, txlife.TransferIntent{
		Kind: chain.TransferPrivate, Recipient: "not-an-address", Amount: 1, Fee: 1,
	})
	assert.True(t, apperr.IsKind(err, apperr.Validation), "got %v", err)

	n, err := f.st.Count(f.ctx, store.Filter{Flavours: []model.Flavour{model.FlavourTransaction}, States: []model.TxState{model.StateProcessing}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngine_BroadcastFailureRollsBack(t *testing.T) {
	f := newFixture(t, txlife.Config{}, nil)
	f.fund(t, 1_000)
	f.chain.FailNextBroadcast(errors.New("connection refused"))

	rowID, err := f.engine.Transfer(f.ctx, f.alice, txlife.TransferIntent{
		Kind: chain.TransferPrivate, Recipient: f.bob.Address().String(), Amount: 100, Fee: 1,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Node))
	require.NotEmpty(t, rowID)

	ptr := f.pointer(t, rowID)
	assert.Equal(t, model.StateFailed, ptr.State)
	assert.Equal(t, "no records were spent", ptr.Error)
	assert.False(t, f.record(t, 1_000).Spent)
	assert.Equal(t, []model.TxState{model.StateProcessing, model.StateFailed}, f.events.states(rowID))
}

func TestEngine_WatcherDeadline(t *testing.T) {
	f := newFixture(t, txlife.Config{ConfirmTimeout: 50 * time.Millisecond}, nil)
	f.fund(t, 1_000)
	f.chain.FundPublic(f.alice.Address(), 1)

	rowID, err := f.engine.Transfer(f.ctx, f.alice, txlife.TransferIntent{
		Kind: chain.TransferPrivate, Recipient: f.bob.Address().String(), Amount: 100, Fee: 1,
	})
	require.NoError(t, err)
	f.engine.Wait()

	ptr := f.pointer(t, rowID)
	assert.Equal(t, model.StateFailed, ptr.State)
	assert.Equal(t, "unconfirmed", ptr.Error)
	assert.False(t, f.record(t, 1_000).Spent)
}

func TestEngine_CheckUnconfirmed(t *testing.T) {
	f := newFixture(t, txlife.Config{}, nil)
	var shift atomic.Int64
	f.engine.Now = func() time.Time { return time.Now().Add(time.Duration(shift.Load())) }
	f.fund(t, 1_000)
	f.chain.FundPublic(f.alice.Address(), 1)

	rowID, err := f.engine.Transfer(f.ctx, f.alice, txlife.TransferIntent{
		Kind: chain.TransferPrivate, Recipient: f.bob.Address().String(), Amount: 100, Fee: 1,
	})
	require.NoError(t, err)

	swept, err := f.engine.CheckUnconfirmed(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)

	shift.Store(int64(11 * time.Minute))
	swept, err = f.engine.CheckUnconfirmed(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	ptr := f.pointer(t, rowID)
	assert.Equal(t, model.StateFailed, ptr.State)
	assert.Equal(t, "unconfirmed", ptr.Error)
	assert.False(t, f.record(t, 1_000).Spent)
	assert.Contains(t, f.events.states(rowID), model.StateFailed)
	f.engine.Stop()
}

type gatedClient struct {
	*chaintest.Ledger
	entered chan struct{}
	release chan struct{}
}

func (g *gatedClient) Transfer(ctx context.Context, req chain.TransferRequest) (string, error) {
	close(g.entered)
	<-g.release
	return "", errors.New("node went away")
}

func TestEngine_CancelBeforeBroadcast(t *testing.T) {
	gate := &gatedClient{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, txlife.Config{}, func(l *chaintest.Ledger) chain.Client {
		gate.Ledger = l
		return gate
	})
	f.fund(t, 1_000)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Transfer(f.ctx, f.alice, txlife.TransferIntent{
			Kind: chain.TransferPrivate, Recipient: f.bob.Address().String(), Amount: 100, Fee: 1,
		})
		done <- err
	}()
	<-gate.entered

	rows, err := f.st.Find(f.ctx, store.Filter{States: []model.TxState{model.StateProcessing}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, f.engine.Cancel(f.ctx, rows[0].ID))
	assert.False(t, f.record(t, 1_000).Spent)

	close(gate.release)
	err = <-done
	assert.True(t, apperr.IsKind(err, apperr.Node))

	ptr := f.pointer(t, rows[0].ID)
	assert.Equal(t, model.StateCancelled, ptr.State)

	// отменить можно только ещё не отправленную транзакцию
	err = f.engine.Cancel(f.ctx, rows[0].ID)
	assert.True(t, apperr.IsKind(err, apperr.Internal))
}

func TestEngine_Deploy(t *testing.T) {
	f := newFixture(t, txlife.Config{}, nil)
	f.fund(t, 100)

	rowID, err := f.engine.Deploy(f.ctx, f.alice, txlife.DeployIntent{
		Program:    chaintest.TokenProgram("shop.aleo"),
		Source:     "program shop.aleo;",
		Fee:        40,
		FeePrivate: true,
	})
	require.NoError(t, err)
	f.chain.Mine()
	f.engine.Wait()

	row, err := f.st.Get(f.ctx, rowID)
	require.NoError(t, err)
	require.Equal(t, model.FlavourDeployment, row.Flavour)
	var ptr model.DeploymentPointer
	require.NoError(t, store.OpenPointer(crypto.Edwards{}, f.acct.ViewKey, row, &ptr))
	assert.Equal(t, model.StateConfirmed, ptr.State)
	assert.InDelta(t, 0.00004, ptr.Fee, 1e-12)
	assert.Contains(t, f.chain.Programs(), "shop.aleo")
	assert.Equal(t, uint64(60), f.balance(t))
}
