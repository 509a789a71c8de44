// Package tokens ведёт зашифрованные балансы токенов и кредитов.
package tokens

import (
	"context"
	"fmt"
	"math"
	"sync"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/store"
)

// Balance — расшифрованный баланс.
type Balance struct {
	TokenName string
	ProgramID string
	Amount    uint64
}

// Ledger — операции над таблицей ARC20_tokens. Изменения одного токена строго последовательны.
type Ledger struct {
	st     *store.Store
	sealer store.Sealer
	locks  *keyedMutex
}

func NewLedger(st *store.Store, sealer store.Sealer) *Ledger {
	return &Ledger{st: st, sealer: sealer, locks: newKeyedMutex()}
}

// In привязывает ledger к транзакции хранилища.
func (l *Ledger) In(tx *store.Store) *Ledger {
	return &Ledger{st: tx, sealer: l.sealer, locks: l.locks}
}

// Init создаёт баланс токена. Если токен уже есть — ничего не делает.
func (l *Ledger) Init(ctx context.Context, name, programID string, balance uint64, vk crypto.ViewKey) error {
	return l.st.WithTx(ctx, func(tx *store.Store) error {
		_, err := l.init(ctx, tx, name, programID, balance, vk)
		return err
	})
}

func (l *Ledger) init(ctx context.Context, tx *store.Store, name, programID string, balance uint64, vk crypto.ViewKey) (bool, error) {
	ct, nonce, err := l.sealer.Encrypt([]byte(formatBalance(balance)), vk)
	if err != nil {
		return false, err
	}
	return tx.InsertToken(ctx, &model.TokenRow{
		TokenName:         name,
		ProgramID:         programID,
		BalanceCiphertext: ct,
		Nonce:             nonce,
	})
}

// Credit — init при первом появлении токена, иначе add.
func (l *Ledger) Credit(ctx context.Context, name, programID string, delta uint64, vk crypto.ViewKey) error {
	return l.st.WithTx(ctx, func(tx *store.Store) error {
		unlock := l.locks.lock(name)
		defer unlock()
		created, err := l.init(ctx, tx, name, programID, delta, vk)
		if err != nil || created {
			return err
		}
		return l.modify(ctx, tx, name, vk, func(cur uint64) (uint64, error) {
			return addBalance(name, cur, delta)
		})
	})
}

// Add увеличивает существующий баланс.
func (l *Ledger) Add(ctx context.Context, name string, delta uint64, vk crypto.ViewKey) error {
	return l.update(ctx, name, vk, func(cur uint64) (uint64, error) {
		return addBalance(name, cur, delta)
	})
}

// Sub уменьшает баланс; уход в минус — InsufficientBalance.
func (l *Ledger) Sub(ctx context.Context, name string, delta uint64, vk crypto.ViewKey) error {
	return l.update(ctx, name, vk, func(cur uint64) (uint64, error) {
		if delta > cur {
			return 0, apperr.New(apperr.InsufficientBalance,
				fmt.Sprintf("token %s: balance %d below %d", name, cur, delta),
				"Insufficient balance")
		}
		return cur - delta, nil
	})
}

func (l *Ledger) update(ctx context.Context, name string, vk crypto.ViewKey, fn func(uint64) (uint64, error)) error {
	return l.st.WithTx(ctx, func(tx *store.Store) error {
		unlock := l.locks.lock(name)
		defer unlock()
		return l.modify(ctx, tx, name, vk, fn)
	})
}

// modify расшифровывает, меняет и перешифровывает баланс под свежим nonce.
func (l *Ledger) modify(ctx context.Context, tx *store.Store, name string, vk crypto.ViewKey, fn func(uint64) (uint64, error)) error {
	row, err := tx.Token(ctx, name)
	if err != nil {
		return err
	}
	cur, err := l.decrypt(row, vk)
	if err != nil {
		return err
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	ct, nonce, err := l.sealer.Encrypt([]byte(formatBalance(next)), vk)
	if err != nil {
		return err
	}
	return tx.UpdateToken(ctx, name, ct, nonce)
}

// Get возвращает баланс в виде "<n>u64"; для неизвестного токена — "0u64".
func (l *Ledger) Get(ctx context.Context, name string, vk crypto.ViewKey) (string, error) {
	v, err := l.Balance(ctx, name, vk)
	if err != nil {
		return "", err
	}
	return formatBalance(v), nil
}

// Balance — то же, что Get, числом.
func (l *Ledger) Balance(ctx context.Context, name string, vk crypto.ViewKey) (uint64, error) {
	row, err := l.st.Token(ctx, name)
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			return 0, nil
		}
		return 0, err
	}
	return l.decrypt(row, vk)
}

// List расшифровывает все балансы.
func (l *Ledger) List(ctx context.Context, vk crypto.ViewKey) ([]Balance, error) {
	rows, err := l.st.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(rows))
	for i := range rows {
		v, err := l.decrypt(&rows[i], vk)
		if err != nil {
			return nil, err
		}
		out = append(out, Balance{TokenName: rows[i].TokenName, ProgramID: rows[i].ProgramID, Amount: v})
	}
	return out, nil
}

// Recompute заменяет все балансы суммами записей, трата которых ещё не видна в цепочке.
// Записи, занятые ожидающей транзакцией, остаются в балансе: его уменьшит сканер,
// когда увидит трату.
func (l *Ledger) Recompute(ctx context.Context, pointers []model.RecordPointer, vk crypto.ViewKey) error {
	sums := map[string]Balance{}
	for _, p := range pointers {
		if p.SpentOnChain || (p.RecordType != model.RecordCredits && p.RecordType != model.RecordToken) {
			continue
		}
		name := TokenName(p.ProgramID)
		b := sums[name]
		amount, err := addBalance(name, b.Amount, p.Amount)
		if err != nil {
			return err
		}
		b.TokenName = name
		b.ProgramID = p.ProgramID
		b.Amount = amount
		sums[name] = b
	}
	return l.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.DeleteTokens(ctx); err != nil {
			return err
		}
		for _, b := range sums {
			if _, err := l.init(ctx, tx, b.TokenName, b.ProgramID, b.Amount, vk); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Ledger) decrypt(row *model.TokenRow, vk crypto.ViewKey) (uint64, error) {
	plain, err := l.sealer.Decrypt(row.BalanceCiphertext, row.Nonce, vk)
	if err != nil {
		return 0, err
	}
	v, err := chain.ParseU64(string(plain))
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, err, "corrupted token balance")
	}
	return v, nil
}

// TokenName — ключ баланса для программы: "credits" для нативной монеты, иначе id программы.
func TokenName(programID string) string {
	if chain.IsCredits(programID) {
		return chain.CreditsRecordName
	}
	return programID
}

func addBalance(name string, cur, delta uint64) (uint64, error) {
	if delta > math.MaxUint64-cur {
		return 0, apperr.Newf(apperr.Internal, "token %s: balance %d overflows by adding %d", name, cur, delta)
	}
	return cur + delta, nil
}

func formatBalance(v uint64) string {
	return fmt.Sprintf("%du64", v)
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
