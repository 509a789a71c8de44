// Package txlife ведёт пользовательские транзакции по жизненному циклу:
// processing → pending → confirmed/rejected/aborted/failed, удерживая локальные
// флаги трат записей в согласии с цепочкой.
package txlife

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/event"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/records"
	"AvailWallet/internal/cli/session"
	"AvailWallet/internal/cli/store"
)

const (
	DefaultConfirmTimeout   = 180 * time.Second
	DefaultPollInterval     = 5 * time.Second
	DefaultUnconfirmedAfter = 10 * time.Minute

	msgNoRecordsSpent = "no records were spent"
	msgUnconfirmed    = "unconfirmed"
	msgCancelled      = "cancelled by user"
)

type Config struct {
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
	UnconfirmedAfter time.Duration
}

// Finalizer сводит указатель с исходом транзакции из цепочки (реализует сканер).
type Finalizer interface {
	Finalize(ctx context.Context, rowID string, status chain.TransactionStatus) error
}

// Notifier передаёт получателю сообщение о подтверждённом приватном переводе.
type Notifier interface {
	NotifyRecipient(ctx context.Context, msg model.TransactionMessage) error
}

type Deps struct {
	Client     chain.Client
	Store      *store.Store
	Records    *records.Engine
	Primitives crypto.Primitives
	Finalizer  Finalizer
	Notifier   Notifier
	Emitter    event.Emitter
	Logger     *zap.SugaredLogger
}

type Engine struct {
	cfg       Config
	client    chain.Client
	st        *store.Store
	records   *records.Engine
	prims     crypto.Primitives
	finalizer Finalizer
	notifier  Notifier
	emitter   event.Emitter
	logger    *zap.SugaredLogger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Now подменяется в тестах.
	Now func() time.Time
}

func New(cfg Config, d Deps) *Engine {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.UnconfirmedAfter <= 0 {
		cfg.UnconfirmedAfter = DefaultUnconfirmedAfter
	}
	if d.Emitter == nil {
		d.Emitter = event.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &Engine{
		cfg:       cfg,
		client:    d.Client,
		st:        d.Store,
		records:   d.Records,
		prims:     d.Primitives,
		finalizer: d.Finalizer,
		notifier:  d.Notifier,
		emitter:   d.Emitter,
		logger:    d.Logger,
		stop:      make(chan struct{}),
		Now:       time.Now,
	}
}

type TransferIntent struct {
	Kind       chain.TransferKind
	ProgramID  string
	Recipient  string
	Amount     uint64
	Fee        uint64
	FeePrivate bool
}

type ExecuteIntent struct {
	ProgramID string
	Function  string
	Inputs    []string
	// RecordNonces — записи кошелька, которые функция потребляет.
	RecordNonces []string
	Fee          uint64
	FeePrivate   bool
}

type DeployIntent struct {
	Program    chain.Program
	Source     string
	Fee        uint64
	FeePrivate bool
}

// candidate — непотраченная запись, пригодная для траты.
type candidate struct {
	rowID string
	ptr   model.RecordPointer
}

type rowMeta struct {
	event     model.EventType
	programs  []string
	functions []string
}

// Transfer переводит amount получателю. Для приватного перевода credits с приватной
// комиссией предпочитается одна запись, покрывающая и сумму, и комиссию.
func (e *Engine) Transfer(ctx context.Context, pk crypto.PrivateKey, in TransferIntent) (string, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return "", err
	}
	if in.Amount == 0 {
		return "", apperr.New(apperr.Validation, "zero transfer amount", "Amount must be positive")
	}
	if _, err := crypto.ParseAddress(in.Recipient); err != nil {
		return "", apperr.Wrap(apperr.Validation, err, "Invalid recipient address")
	}
	program := in.ProgramID
	if program == "" {
		program = chain.CreditsProgram
	}

	var input, fee *candidate
	combined := false
	switch {
	case in.Kind.NeedsRecord():
		if in.FeePrivate && chain.IsCredits(program) && in.Fee <= math.MaxUint64-in.Amount {
			if input, err = e.pickSingle(ctx, acct, program, in.Amount+in.Fee); err != nil {
				return "", err
			}
			fee, combined = input, input != nil
		}
		if !combined {
			if input, err = e.selectRecord(ctx, acct, program, in.Amount, nil); err != nil {
				return "", err
			}
			if in.FeePrivate {
				if fee, err = e.selectRecord(ctx, acct, chain.CreditsProgram, in.Fee, []string{input.ptr.Nonce}); err != nil {
					return "", err
				}
			}
		}
	case in.FeePrivate:
		if fee, err = e.selectRecord(ctx, acct, chain.CreditsProgram, in.Fee, nil); err != nil {
			return "", err
		}
	}

	req := chain.TransferRequest{
		PrivateKey: pk.String(),
		Kind:       in.Kind,
		ProgramID:  program,
		Recipient:  in.Recipient,
		Amount:     in.Amount,
		Fee:        chain.FeeOptions{Amount: in.Fee, Private: in.FeePrivate},
	}
	ptr := &model.TransactionPointer{
		To:         in.Recipient,
		State:      model.StateProcessing,
		ProgramID:  program,
		FunctionID: string(in.Kind),
		Created:    e.now(),
		EventType:  model.EventSend,
		Amount:     amountOf(program, in.Amount),
		Fee:        model.CreditsPtr(in.Fee),
	}
	if input != nil {
		ri, err := e.records.Plaintext(ctx, input.ptr, acct.ViewKey)
		if err != nil {
			return "", err
		}
		req.Input = &ri
		ptr.SpentRecordNonces = []string{input.ptr.Nonce}
	}
	if fee != nil {
		if combined {
			req.Fee.Record = req.Input
		} else {
			ri, err := e.records.Plaintext(ctx, fee.ptr, acct.ViewKey)
			if err != nil {
				return "", err
			}
			req.Fee.Record = &ri
		}
		ptr.SpentFeeNonce = fee.ptr.Nonce
	}

	meta := rowMeta{event: model.EventSend, programs: []string{program}, functions: []string{string(in.Kind)}}
	return e.run(ctx, acct, &tracked{flavour: model.FlavourTransaction, tx: ptr}, meta, func(ctx context.Context) (string, error) {
		return e.client.Transfer(ctx, req)
	})
}

// Execute исполняет функцию программы над указанными записями кошелька.
func (e *Engine) Execute(ctx context.Context, pk crypto.PrivateKey, in ExecuteIntent) (string, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return "", err
	}
	if in.ProgramID == "" || in.Function == "" {
		return "", apperr.New(apperr.Validation, "program and function are required", "Program and function are required")
	}
	req := chain.ExecuteRequest{
		PrivateKey: pk.String(),
		ProgramID:  in.ProgramID,
		Function:   in.Function,
		Inputs:     in.Inputs,
		Fee:        chain.FeeOptions{Amount: in.Fee, Private: in.FeePrivate},
	}
	for _, nonce := range in.RecordNonces {
		c, err := e.recordByNonce(ctx, acct, nonce)
		if err != nil {
			return "", err
		}
		ri, err := e.records.Plaintext(ctx, c.ptr, acct.ViewKey)
		if err != nil {
			return "", err
		}
		req.Records = append(req.Records, ri)
	}
	ptr := &model.TransactionPointer{
		State:             model.StateProcessing,
		ProgramID:         in.ProgramID,
		FunctionID:        in.Function,
		Created:           e.now(),
		EventType:         model.EventExecute,
		Fee:               model.CreditsPtr(in.Fee),
		SpentRecordNonces: in.RecordNonces,
	}
	if in.FeePrivate {
		fee, err := e.selectRecord(ctx, acct, chain.CreditsProgram, in.Fee, in.RecordNonces)
		if err != nil {
			return "", err
		}
		ri, err := e.records.Plaintext(ctx, fee.ptr, acct.ViewKey)
		if err != nil {
			return "", err
		}
		req.Fee.Record = &ri
		ptr.SpentFeeNonce = fee.ptr.Nonce
	}
	meta := rowMeta{event: model.EventExecute, programs: []string{in.ProgramID}, functions: []string{in.Function}}
	return e.run(ctx, acct, &tracked{flavour: model.FlavourTransaction, tx: ptr}, meta, func(ctx context.Context) (string, error) {
		return e.client.ExecuteProgram(ctx, req)
	})
}

// Deploy публикует программу.
func (e *Engine) Deploy(ctx context.Context, pk crypto.PrivateKey, in DeployIntent) (string, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return "", err
	}
	if in.Program.ID == "" {
		return "", apperr.New(apperr.Validation, "program id is required", "Program id is required")
	}
	req := chain.DeployRequest{
		PrivateKey: pk.String(),
		Program:    in.Program,
		Source:     in.Source,
		Fee:        chain.FeeOptions{Amount: in.Fee, Private: in.FeePrivate},
	}
	ptr := &model.DeploymentPointer{
		ProgramID: in.Program.ID,
		Fee:       model.Credits(in.Fee),
		State:     model.StateProcessing,
		Created:   e.now(),
	}
	if in.FeePrivate {
		fee, err := e.selectRecord(ctx, acct, chain.CreditsProgram, in.Fee, nil)
		if err != nil {
			return "", err
		}
		ri, err := e.records.Plaintext(ctx, fee.ptr, acct.ViewKey)
		if err != nil {
			return "", err
		}
		req.Fee.Record = &ri
		ptr.SpentFeeNonce = fee.ptr.Nonce
	}
	meta := rowMeta{event: model.EventDeploy, programs: []string{in.Program.ID}}
	return e.run(ctx, acct, &tracked{flavour: model.FlavourDeployment, deploy: ptr}, meta, func(ctx context.Context) (string, error) {
		return e.client.DeployProgram(ctx, req)
	})
}

// run — общий путь сборки: Processing и оптимистичная трата, отправка,
// затем Pending и наблюдатель подтверждения либо Failed с откатом трат.
func (e *Engine) run(ctx context.Context, acct session.Account, t *tracked, meta rowMeta, broadcast func(context.Context) (string, error)) (string, error) {
	rowID, err := e.begin(ctx, acct, t, meta)
	if err != nil {
		return "", err
	}
	data := event.TxStateData{PointerID: rowID, State: model.StateProcessing}
	e.emitter.Emit(event.TxStateChange, data)
	e.emitter.Emit(event.TxInProgress, data)

	txID, err := broadcast(ctx)
	if err != nil {
		e.logger.Warnw("broadcast failed", "row", rowID, "error", err)
		if _, ferr := e.move(ctx, acct, rowID, EventBuildFailed, msgNoRecordsSpent, true, nil); ferr != nil {
			e.logger.Errorw("failed to record broadcast failure", "row", rowID, "error", ferr)
		}
		return rowID, apperr.Wrap(apperr.Node, err, "Failed to broadcast transaction")
	}
	if _, err := e.move(ctx, acct, rowID, EventBroadcast, "", false, func(t *tracked) { t.setTxID(txID) }); err != nil {
		return rowID, err
	}
	e.logger.Infow("transaction broadcast", "row", rowID, "tx", txID)
	e.watch(ctx, rowID, txID)
	return rowID, nil
}

func (e *Engine) begin(ctx context.Context, acct session.Account, t *tracked, meta rowMeta) (string, error) {
	ct, nonce, err := store.SealPointer(e.prims, acct.ViewKey, t.value())
	if err != nil {
		return "", err
	}
	row := &model.EncryptedRow{
		Owner:            acct.Address.String(),
		Network:          acct.Network,
		Ciphertext:       ct,
		Nonce:            nonce,
		Flavour:          t.flavour,
		EventType:        meta.event,
		TransactionState: model.StatePtr(model.StateProcessing),
	}
	row.SetPrograms(meta.programs, meta.functions)
	err = e.st.WithTx(ctx, func(tx *store.Store) error {
		if _, err := tx.Insert(ctx, row); err != nil {
			return err
		}
		return e.setSpent(ctx, tx, acct, t.held(), true)
	})
	if err != nil {
		return "", err
	}
	return row.ID, nil
}

// move применяет событие к указателю rowID; rollback возвращает удерживаемые записи,
// чья трата не видна в цепочке.
func (e *Engine) move(ctx context.Context, acct session.Account, rowID string, ev Event, msg string, rollback bool, mutate func(*tracked)) (model.TxState, error) {
	var (
		next model.TxState
		t    *tracked
	)
	err := e.st.WithTx(ctx, func(tx *store.Store) error {
		row, err := tx.Get(ctx, rowID)
		if err != nil {
			return err
		}
		if t, err = openTracked(e.prims, acct.ViewKey, row); err != nil {
			return err
		}
		if next, err = Apply(t.state(), ev); err != nil {
			return err
		}
		t.setState(next, msg, e.now())
		if mutate != nil {
			mutate(t)
		}
		if rollback {
			if err := e.setSpent(ctx, tx, acct, t.held(), false); err != nil {
				return err
			}
		}
		ct, nonce, err := store.SealPointer(e.prims, acct.ViewKey, t.value())
		if err != nil {
			return err
		}
		return tx.Update(ctx, rowID, store.Change{Ciphertext: ct, Nonce: nonce, State: &next})
	})
	if err != nil {
		return "", err
	}
	e.logger.Infow("transaction state changed", "row", rowID, "state", next)
	e.emitter.Emit(event.TxStateChange, event.TxStateData{PointerID: rowID, TransactionID: t.txID(), State: next, Error: t.errMsg()})
	return next, nil
}

// setSpent меняет локальный флаг траты записей. Запись, трата которой видна
// в цепочке, не откатывается; уже занятую запись повторно занять нельзя.
func (e *Engine) setSpent(ctx context.Context, tx *store.Store, acct session.Account, nonces []string, spent bool) error {
	for _, nonce := range nonces {
		row, err := tx.ByNonce(ctx, acct.Address.String(), acct.Network, nonce)
		if err != nil {
			if !spent && apperr.IsKind(err, apperr.NotFound) {
				continue
			}
			return err
		}
		ptr, err := records.OpenRecord(e.prims, acct.ViewKey, row)
		if err != nil {
			return err
		}
		if ptr.Spent == spent || (!spent && ptr.SpentOnChain) {
			if spent {
				return apperr.Newf(apperr.Validation, "record %s is already spent", nonce)
			}
			continue
		}
		ptr.Spent = spent
		ct, sealNonce, err := store.SealPointer(e.prims, acct.ViewKey, ptr)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, row.ID, store.Change{Ciphertext: ct, Nonce: sealNonce, Spent: &spent}); err != nil {
			return err
		}
	}
	return nil
}

// Cancel отменяет транзакцию, ещё не отправленную в сеть.
func (e *Engine) Cancel(ctx context.Context, rowID string) error {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return err
	}
	_, err = e.move(ctx, acct, rowID, EventCancel, msgCancelled, true, nil)
	return err
}

// CheckUnconfirmed переводит в Failed ожидающие транзакции старше UnconfirmedAfter
// и откатывает их записи. Возвращает число таких транзакций.
func (e *Engine) CheckUnconfirmed(ctx context.Context) (int, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := e.st.Find(ctx, store.Filter{
		Owner:    acct.Address.String(),
		Network:  acct.Network,
		Flavours: []model.Flavour{model.FlavourTransaction, model.FlavourDeployment},
		States:   []model.TxState{model.StatePending},
	})
	if err != nil {
		return 0, err
	}
	swept := 0
	for i := range rows {
		t, err := openTracked(e.prims, acct.ViewKey, &rows[i])
		if err != nil {
			return swept, err
		}
		created := t.created()
		if created.IsZero() {
			created = rows[i].CreatedAt
		}
		if e.now().Sub(created) <= e.cfg.UnconfirmedAfter {
			continue
		}
		if _, err := e.move(ctx, acct, rows[i].ID, EventUnconfirmed, msgUnconfirmed, true, nil); err != nil {
			return swept, err
		}
		swept++
	}
	if swept > 0 {
		e.logger.Infow("unconfirmed transactions swept", "count", swept)
	}
	return swept, nil
}

func (e *Engine) watch(ctx context.Context, rowID, txID string) {
	wctx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.Watch(wctx, rowID, txID); err != nil {
			e.logger.Warnw("confirmation watcher stopped", "row", rowID, "tx", txID, "error", err)
		}
	}()
}

// Watch опрашивает цепочку, пока транзакция не появится или не истечёт ConfirmTimeout.
// Появившаяся транзакция сводится через Finalizer; по истечении срока — Failed.
func (e *Engine) Watch(ctx context.Context, rowID, txID string) error {
	deadline := time.NewTimer(e.cfg.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := e.client.GetTransaction(ctx, txID)
		switch {
		case err == nil:
			if err := e.finalizer.Finalize(ctx, rowID, *status); err != nil {
				return err
			}
			e.notify(ctx, rowID)
			return nil
		case !apperr.IsKind(err, apperr.NotFound):
			e.logger.Warnw("transaction lookup failed", "tx", txID, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case <-deadline.C:
			return e.expire(ctx, rowID)
		case <-ticker.C:
		}
	}
}

func (e *Engine) expire(ctx context.Context, rowID string) error {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return err
	}
	row, err := e.st.Get(ctx, rowID)
	if err != nil {
		return err
	}
	t, err := openTracked(e.prims, acct.ViewKey, row)
	if err != nil {
		return err
	}
	if !CanApply(t.state(), EventUnconfirmed) {
		return nil
	}
	_, err = e.move(ctx, acct, rowID, EventUnconfirmed, msgUnconfirmed, true, nil)
	return err
}

// notify сообщает получателю о подтверждённом приватном переводе на чужой адрес.
func (e *Engine) notify(ctx context.Context, rowID string) {
	if e.notifier == nil {
		return
	}
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return
	}
	row, err := e.st.Get(ctx, rowID)
	if err != nil || row.Flavour != model.FlavourTransaction {
		return
	}
	var ptr model.TransactionPointer
	if err := store.OpenPointer(e.prims, acct.ViewKey, row, &ptr); err != nil {
		return
	}
	private := ptr.FunctionID == string(chain.TransferPrivate) || ptr.FunctionID == string(chain.TransferPublicToPrivate)
	if ptr.State != model.StateConfirmed || !private || ptr.To == "" || ptr.To == acct.Address.String() {
		return
	}
	msg := model.TransactionMessage{TransactionID: ptr.TransactionID, From: acct.Address.String(), To: ptr.To}
	if err := e.notifier.NotifyRecipient(ctx, msg); err != nil {
		e.logger.Warnw("recipient notification failed", "tx", ptr.TransactionID, "error", err)
	}
}

// Wait ждёт завершения всех наблюдателей.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Stop останавливает наблюдателей. Повторный вызов безопасен.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

// selectRecord выбирает первую непотраченную запись программы на сумму не меньше amount,
// пропуская previous. Хватает только суммы — JoinRequired, не хватает и её — InsufficientBalance.
func (e *Engine) selectRecord(ctx context.Context, acct session.Account, program string, amount uint64, previous []string) (*candidate, error) {
	cands, err := e.candidates(ctx, acct, program)
	if err != nil {
		return nil, err
	}
	var sum uint64
	for i := range cands {
		if slices.Contains(previous, cands[i].ptr.Nonce) {
			continue
		}
		if cands[i].ptr.Amount >= amount {
			return &cands[i], nil
		}
		sum += cands[i].ptr.Amount
	}
	if sum >= amount {
		return nil, apperr.New(apperr.JoinRequired,
			"no single record covers the amount", "Records must be joined before this transaction")
	}
	return nil, apperr.New(apperr.InsufficientBalance,
		"records do not cover the amount", "Insufficient private balance")
}

// pickSingle — первая запись на сумму не меньше amount или nil.
func (e *Engine) pickSingle(ctx context.Context, acct session.Account, program string, amount uint64) (*candidate, error) {
	cands, err := e.candidates(ctx, acct, program)
	if err != nil {
		return nil, err
	}
	for i := range cands {
		if cands[i].ptr.Amount >= amount {
			return &cands[i], nil
		}
	}
	return nil, nil
}

func (e *Engine) candidates(ctx context.Context, acct session.Account, program string) ([]candidate, error) {
	unspent := false
	rows, err := e.st.Find(ctx, store.Filter{
		Owner:     acct.Address.String(),
		Network:   acct.Network,
		Flavours:  []model.Flavour{model.FlavourRecord},
		Spent:     &unspent,
		ProgramID: program,
	})
	if err != nil {
		return nil, err
	}
	var out []candidate
	for i := range rows {
		ptr, err := records.OpenRecord(e.prims, acct.ViewKey, &rows[i])
		if err != nil {
			return nil, err
		}
		if ptr.Spent || ptr.SpentOnChain {
			continue
		}
		if ptr.RecordType != model.RecordCredits && ptr.RecordType != model.RecordToken {
			continue
		}
		out = append(out, candidate{rowID: rows[i].ID, ptr: ptr})
	}
	return out, nil
}

func (e *Engine) recordByNonce(ctx context.Context, acct session.Account, nonce string) (*candidate, error) {
	row, err := e.st.ByNonce(ctx, acct.Address.String(), acct.Network, nonce)
	if err != nil {
		return nil, err
	}
	ptr, err := records.OpenRecord(e.prims, acct.ViewKey, row)
	if err != nil {
		return nil, err
	}
	if ptr.Spent {
		return nil, apperr.Newf(apperr.Validation, "record %s is already spent", nonce)
	}
	return &candidate{rowID: row.ID, ptr: ptr}, nil
}

func (e *Engine) now() time.Time {
	return e.Now().UTC()
}

func amountOf(program string, amount uint64) *float64 {
	if chain.IsCredits(program) {
		return model.CreditsPtr(amount)
	}
	v := float64(amount)
	return &v
}
