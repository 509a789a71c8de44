// Package session хранит ключ просмотра в памяти на время сессии и передаёт его
// через context.Context всем операциям ядра.
package session

import (
	"context"
	"sync"
	"time"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/event"
)

// DefaultTTL — время жизни сессии без активности.
const DefaultTTL = 15 * time.Minute

// Account — то, что нужно компонентам ядра для работы от имени пользователя.
type Account struct {
	Address crypto.Address
	ViewKey crypto.ViewKey
	Network string
}

// Session — ключ просмотра с TTL, продлеваемым при каждом использовании.
type Session struct {
	mu      sync.Mutex
	account Account
	ttl     time.Duration
	expires time.Time
	cleared bool
	emitter event.Emitter

	// Now подменяется в тестах.
	Now func() time.Time
}

// New открывает сессию для аккаунта.
func New(acct Account, ttl time.Duration, emitter event.Emitter) *Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if emitter == nil {
		emitter = event.Nop{}
	}
	s := &Session{account: acct, ttl: ttl, emitter: emitter, Now: time.Now}
	s.expires = s.Now().Add(ttl)
	return s
}

// Account возвращает аккаунт и продлевает сессию. Истёкшая сессия — Unauthorized
// и событие reauthenticate.
func (s *Session) Account() (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	if s.cleared || !now.Before(s.expires) {
		s.emitter.Emit(event.Reauthenticate, nil)
		return Account{}, apperr.New(apperr.Unauthorized, "session expired", "Session expired, please log in again")
	}
	s.expires = now.Add(s.ttl)
	return s.account, nil
}

// Expires — момент истечения сессии.
func (s *Session) Expires() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expires
}

// Clear забывает ключ просмотра (logout).
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = true
	s.account = Account{}
}

type ctxKey struct{}

// NewContext кладёт сессию в контекст.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext достаёт сессию из контекста.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}

// AccountFrom — аккаунт текущей сессии из контекста.
func AccountFrom(ctx context.Context) (Account, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return Account{}, apperr.New(apperr.Unauthorized, "no session in context", "Please log in")
	}
	return s.Account()
}
