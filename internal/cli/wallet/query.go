package wallet

import (
	"context"
	"sort"
	"time"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/records"
	"AvailWallet/internal/cli/session"
	"AvailWallet/internal/cli/store"
	"AvailWallet/internal/cli/tokens"
)

// Balances возвращает приватные балансы всех известных токенов.
func (w *Wallet) Balances(ctx context.Context) ([]tokens.Balance, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return nil, err
	}
	list, err := w.ledger.List(ctx, acct.ViewKey)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TokenName < list[j].TokenName })
	return list, nil
}

// PublicBalance читает публичный баланс credits из маппинга account.
func (w *Wallet) PublicBalance(ctx context.Context) (uint64, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return 0, err
	}
	v, err := w.chain.GetMappingValue(ctx, chain.CreditsProgram, "account", acct.Address.String())
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := chain.ParseU64(v)
	if err != nil {
		return 0, apperr.Wrap(apperr.Node, err, "Unexpected public balance format")
	}
	return n, nil
}

// RecordQuery — фильтр списка записей.
type RecordQuery struct {
	ProgramID   string
	RecordTypes []model.RecordType
	// Unspent оставляет только непотраченные записи.
	Unspent bool
}

// Records расшифровывает указатели записей кошелька.
func (w *Wallet) Records(ctx context.Context, q RecordQuery) ([]model.RecordPointer, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return nil, err
	}
	f := store.Filter{
		Owner:       acct.Address.String(),
		Network:     acct.Network,
		Flavours:    []model.Flavour{model.FlavourRecord},
		RecordTypes: q.RecordTypes,
		ProgramID:   q.ProgramID,
	}
	if q.Unspent {
		spent := false
		f.Spent = &spent
	}
	rows, err := w.st.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]model.RecordPointer, 0, len(rows))
	for i := range rows {
		ptr, err := records.OpenRecord(w.prims, acct.ViewKey, &rows[i])
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "failed to decrypt record")
		}
		out = append(out, ptr)
	}
	return out, nil
}

// Entry — строка истории: транзакция, деплой или входящий переход.
type Entry struct {
	ID            string
	Flavour       model.Flavour
	TransactionID string
	State         model.TxState
	EventType     model.EventType
	ProgramID     string
	FunctionID    string
	Amount        *float64
	Fee           *float64
	Counterparty  string
	Error         string
	Created       time.Time
}

// History возвращает историю кошелька, новые записи первыми.
func (w *Wallet) History(ctx context.Context, limit int) ([]Entry, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := w.st.Find(ctx, store.Filter{
		Owner:   acct.Address.String(),
		Network: acct.Network,
		Flavours: []model.Flavour{
			model.FlavourTransaction, model.FlavourDeployment, model.FlavourTransition,
		},
	})
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	known := map[string]bool{}
	for i := len(rows) - 1; i >= 0; i-- {
		e, ok, err := w.entry(acct, &rows[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if e.Flavour != model.FlavourTransition && e.TransactionID != "" {
			known[e.TransactionID] = true
		}
		entries = append(entries, e)
	}
	// входящий переход показывается, только если транзакции для него нет
	out := entries[:0]
	for _, e := range entries {
		if e.Flavour == model.FlavourTransition && known[e.TransactionID] {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (w *Wallet) entry(acct session.Account, row *model.EncryptedRow) (Entry, bool, error) {
	e := Entry{ID: row.ID, Flavour: row.Flavour, EventType: row.EventType}
	switch row.Flavour {
	case model.FlavourTransaction:
		var p model.TransactionPointer
		if err := store.OpenPointer(w.prims, acct.ViewKey, row, &p); err != nil {
			return e, false, apperr.Wrap(apperr.Internal, err, "failed to decrypt transaction")
		}
		e.TransactionID, e.State, e.EventType = p.TransactionID, p.State, p.EventType
		e.ProgramID, e.FunctionID = p.ProgramID, p.FunctionID
		e.Amount, e.Fee, e.Counterparty = p.Amount, p.Fee, p.To
		e.Error, e.Created = firstNonEmpty(p.Error, p.Message), p.Created
	case model.FlavourDeployment:
		var p model.DeploymentPointer
		if err := store.OpenPointer(w.prims, acct.ViewKey, row, &p); err != nil {
			return e, false, apperr.Wrap(apperr.Internal, err, "failed to decrypt deployment")
		}
		fee := p.Fee
		e.TransactionID, e.State, e.EventType = p.TransactionID, p.State, model.EventDeploy
		e.ProgramID, e.Fee, e.Error, e.Created = p.ProgramID, &fee, p.Error, p.Created
	case model.FlavourTransition:
		var p model.TransitionPointer
		if err := store.OpenPointer(w.prims, acct.ViewKey, row, &p); err != nil {
			return e, false, apperr.Wrap(apperr.Internal, err, "failed to decrypt transition")
		}
		// входы и комиссии уже видны через транзакции кошелька
		if p.Direction != model.DirectionOutput {
			return e, false, nil
		}
		e.TransactionID, e.State, e.EventType = p.TransactionID, model.StateConfirmed, model.EventReceive
		e.ProgramID, e.FunctionID, e.Counterparty, e.Created = p.ProgramID, p.FunctionID, p.From, p.Created
	default:
		return e, false, nil
	}
	return e, true, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
