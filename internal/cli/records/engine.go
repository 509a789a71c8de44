// Package records превращает выходы переходов, принадлежащие ключу просмотра,
// в зашифрованные указатели записей и пополняет балансы токенов.
package records

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/session"
	"AvailWallet/internal/cli/store"
	"AvailWallet/internal/cli/tokens"
)

// Output — выход-запись перехода, найденный сканером.
type Output struct {
	BlockHeight   uint32
	TransactionID string
	TransitionID  string
	ProgramID     string
	FunctionID    string
	OutputIndex   int
	Commitment    string
	Ciphertext    string
}

// Derived — подготовленная к записи строка с указателем.
type Derived struct {
	Pointer   model.RecordPointer
	Record    chain.Record
	TokenName string
}

// Engine — движок указателей записей. Классификации программ кэшируются.
type Engine struct {
	prims  crypto.Primitives
	client chain.Client
	logger *zap.SugaredLogger

	mu       sync.Mutex
	programs map[string]*chain.Program
}

func NewEngine(prims crypto.Primitives, client chain.Client, logger *zap.SugaredLogger) *Engine {
	return &Engine{prims: prims, client: client, logger: logger, programs: map[string]*chain.Program{}}
}

// Derive выполняет проверку владения, расшифровку, проверку дубликата и классификацию.
// nil без ошибки — выход не наш или запись уже сохранена.
func (e *Engine) Derive(ctx context.Context, st *store.Store, acct session.Account, out Output) (*Derived, error) {
	if !e.prims.IsRecordOwner(out.Ciphertext, acct.ViewKey) {
		return nil, nil
	}
	rec, err := e.prims.DecryptRecordCiphertext(out.Ciphertext, acct.ViewKey)
	if err != nil {
		return nil, err
	}
	exists, err := st.NonceExists(ctx, acct.Address.String(), acct.Network, rec.Nonce)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	rt := Classify(out.ProgramID, e.program(ctx, out.ProgramID), rec)
	var amount uint64
	if rt == model.RecordCredits || rt == model.RecordToken {
		amount, _ = rec.Amount()
	}
	commitment := out.Commitment
	if commitment == "" {
		commitment = crypto.Commitment(out.ProgramID, rec)
	}
	return &Derived{
		Record:    rec,
		TokenName: tokens.TokenName(out.ProgramID),
		Pointer: model.RecordPointer{
			BlockHeight:   out.BlockHeight,
			TransactionID: out.TransactionID,
			TransitionID:  out.TransitionID,
			Commitment:    commitment,
			Tag:           e.prims.RecordTag(acct.ViewKey, commitment),
			OutputIndex:   out.OutputIndex,
			Owner:         rec.Owner,
			RecordType:    rt,
			ProgramID:     out.ProgramID,
			FunctionID:    out.FunctionID,
			RecordName:    rec.Name,
			Nonce:         rec.Nonce,
			Amount:        amount,
		},
	}, nil
}

// Persist шифрует указатель, сохраняет строку и пополняет баланс токена.
// Запись, потраченная ещё до сохранения, баланс не меняет.
func (e *Engine) Persist(ctx context.Context, tx *store.Store, ledger *tokens.Ledger, acct session.Account, d *Derived) (string, error) {
	ct, nonce, err := store.SealPointer(e.prims, acct.ViewKey, d.Pointer)
	if err != nil {
		return "", err
	}
	row := &model.EncryptedRow{
		Owner:       acct.Address.String(),
		Network:     acct.Network,
		Ciphertext:  ct,
		Nonce:       nonce,
		Flavour:     model.FlavourRecord,
		RecordType:  model.RecordTypePtr(d.Pointer.RecordType),
		RecordName:  d.Pointer.RecordName,
		Spent:       d.Pointer.Spent,
		EventType:   model.EventReceive,
		RecordNonce: model.StringPtr(d.Pointer.Nonce),
	}
	row.SetPrograms([]string{d.Pointer.ProgramID}, []string{d.Pointer.FunctionID})
	created, err := tx.Insert(ctx, row)
	if err != nil || !created {
		return "", err
	}
	if d.Pointer.SpentOnChain {
		return row.ID, nil
	}
	switch d.Pointer.RecordType {
	case model.RecordCredits, model.RecordToken:
		if err := ledger.In(tx).Credit(ctx, d.TokenName, d.Pointer.ProgramID, d.Pointer.Amount, acct.ViewKey); err != nil {
			return "", err
		}
	}
	return row.ID, nil
}

// Process — Derive и Persist в одной транзакции хранилища.
func (e *Engine) Process(ctx context.Context, st *store.Store, ledger *tokens.Ledger, acct session.Account, out Output) (*model.RecordPointer, error) {
	d, err := e.Derive(ctx, st, acct, out)
	if err != nil || d == nil {
		return nil, err
	}
	err = st.WithTx(ctx, func(tx *store.Store) error {
		_, err := e.Persist(ctx, tx, ledger, acct, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &d.Pointer, nil
}

// Plaintext заново получает запись из цепочки по указателю, чтобы её потратить.
func (e *Engine) Plaintext(ctx context.Context, ptr model.RecordPointer, vk crypto.ViewKey) (chain.RecordInput, error) {
	status, err := e.client.GetTransaction(ctx, ptr.TransactionID)
	if err != nil {
		return chain.RecordInput{}, err
	}
	tx := status.Confirmed.Transaction
	for _, tr := range tx.Transitions() {
		if tr.ID != ptr.TransitionID {
			continue
		}
		if ptr.OutputIndex < 0 || ptr.OutputIndex >= len(tr.Outputs) {
			break
		}
		rec, err := e.prims.DecryptRecordCiphertext(tr.Outputs[ptr.OutputIndex].Value, vk)
		if err != nil {
			return chain.RecordInput{}, err
		}
		return chain.RecordInput{Record: rec, Commitment: ptr.Commitment}, nil
	}
	return chain.RecordInput{}, apperr.Newf(apperr.NotFound, "record output %s/%d not found on chain", ptr.TransitionID, ptr.OutputIndex)
}

func (e *Engine) program(ctx context.Context, id string) *chain.Program {
	if chain.IsCredits(id) {
		return nil
	}
	e.mu.Lock()
	p, ok := e.programs[id]
	e.mu.Unlock()
	if ok {
		return p
	}
	p, err := e.client.GetProgram(ctx, id)
	if err != nil {
		// классификация рекомендательная: обходимся полями записи
		e.logger.Warnw("program lookup failed", "program", id, "error", err)
		return nil
	}
	e.mu.Lock()
	e.programs[id] = p
	e.mu.Unlock()
	return p
}

// OpenRecord расшифровывает строку-запись.
func OpenRecord(s store.Sealer, vk crypto.ViewKey, row *model.EncryptedRow) (model.RecordPointer, error) {
	var ptr model.RecordPointer
	if row.Flavour != model.FlavourRecord {
		return ptr, fmt.Errorf("row %s is not a record", row.ID)
	}
	err := store.OpenPointer(s, vk, row, &ptr)
	return ptr, err
}
