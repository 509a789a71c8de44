// Package wallet собирает компоненты ядра в один объект, с которым работают команды CLI.
package wallet

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/backup"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/event"
	"AvailWallet/internal/cli/records"
	"AvailWallet/internal/cli/scanner"
	"AvailWallet/internal/cli/session"
	"AvailWallet/internal/cli/store"
	"AvailWallet/internal/cli/tokens"
	"AvailWallet/internal/cli/txlife"
)

// KeyStore — хранилище ключей, из которого кошелёк берёт приватный ключ на время операции.
type KeyStore interface {
	PrivateKey(password string) (crypto.PrivateKey, error)
}

// BackupClient — сервер резервных копий вместе с его входом по подписи.
type BackupClient interface {
	backup.Client
	session.AuthClient
}

type Config struct {
	Network    string
	SessionTTL time.Duration
	Scanner    scanner.Config
	Lifecycle  txlife.Config
	Backup     backup.Config
	// ScanEvery, SweepEvery и SyncEvery задают периоды фоновых циклов Run.
	ScanEvery  time.Duration
	SweepEvery time.Duration
	SyncEvery  time.Duration
}

type Deps struct {
	Chain chain.Client
	Store *store.Store
	Keys  KeyStore
	// Backup может быть nil — тогда резервное копирование и сообщения получателям отключены.
	Backup     BackupClient
	Primitives crypto.Primitives
	Emitter    event.Emitter
	Registry   prometheus.Registerer
	Logger     *zap.SugaredLogger
}

type Wallet struct {
	cfg       Config
	chain     chain.Client
	st        *store.Store
	keys      KeyStore
	auth      session.AuthClient
	prims     crypto.Primitives
	emitter   event.Emitter
	logger    *zap.SugaredLogger
	ledger    *tokens.Ledger
	scanner   *scanner.Scanner
	lifecycle *txlife.Engine
	backup    *backup.Service
}

func New(cfg Config, d Deps) *Wallet {
	if d.Primitives == nil {
		d.Primitives = crypto.Edwards{}
	}
	if d.Emitter == nil {
		d.Emitter = event.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if cfg.ScanEvery <= 0 {
		cfg.ScanEvery = 10 * time.Second
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	if cfg.SyncEvery <= 0 {
		cfg.SyncEvery = 30 * time.Second
	}

	w := &Wallet{
		cfg:     cfg,
		chain:   d.Chain,
		st:      d.Store,
		keys:    d.Keys,
		prims:   d.Primitives,
		emitter: d.Emitter,
		logger:  d.Logger,
		ledger:  tokens.NewLedger(d.Store, d.Primitives),
	}
	recs := records.NewEngine(d.Primitives, d.Chain, d.Logger.Named("records"))
	w.scanner = scanner.New(cfg.Scanner, scanner.Deps{
		Client:     d.Chain,
		Store:      d.Store,
		Ledger:     w.ledger,
		Records:    recs,
		Primitives: d.Primitives,
		Emitter:    d.Emitter,
		Registry:   d.Registry,
		Logger:     d.Logger.Named("scanner"),
	})
	var notifier txlife.Notifier
	if d.Backup != nil {
		w.auth = d.Backup
		w.backup = backup.New(cfg.Backup, backup.Deps{
			Client:     d.Backup,
			Store:      d.Store,
			Ledger:     w.ledger,
			Verifier:   w.scanner,
			Primitives: d.Primitives,
			Emitter:    d.Emitter,
			Registry:   d.Registry,
			Logger:     d.Logger.Named("backup"),
		})
		notifier = w.backup
	}
	w.lifecycle = txlife.New(cfg.Lifecycle, txlife.Deps{
		Client:     d.Chain,
		Store:      d.Store,
		Records:    recs,
		Primitives: d.Primitives,
		Finalizer:  w.scanner,
		Notifier:   notifier,
		Emitter:    d.Emitter,
		Logger:     d.Logger.Named("txlife"),
	})
	return w
}

// Unlock открывает сессию ключа просмотра и возвращает контекст, несущий её.
// Приватный ключ в сессии не хранится.
func (w *Wallet) Unlock(ctx context.Context, password string) (context.Context, error) {
	pk, err := w.keys.PrivateKey(password)
	if err != nil {
		return ctx, err
	}
	acct := session.Account{Address: pk.Address(), ViewKey: pk.ViewKey(), Network: w.cfg.Network}
	if err := w.bindPrefs(ctx, acct); err != nil {
		return ctx, err
	}
	s := session.New(acct, w.cfg.SessionTTL, w.emitter)
	w.logger.Infow("wallet unlocked", "address", acct.Address.String(), "network", acct.Network)
	return session.NewContext(ctx, s), nil
}

// bindPrefs запоминает адрес и сеть в настройках; файл БД одного адреса
// не может использоваться другим.
func (w *Wallet) bindPrefs(ctx context.Context, acct session.Account) error {
	prefs, err := w.st.Prefs(ctx)
	if err != nil {
		return err
	}
	if prefs.Address != "" && prefs.Address != acct.Address.String() {
		return apperr.Newf(apperr.Validation, "store belongs to %s", prefs.Address)
	}
	if prefs.Address == acct.Address.String() && prefs.Network == acct.Network {
		return nil
	}
	prefs.Address = acct.Address.String()
	prefs.Network = acct.Network
	return w.st.SavePrefs(ctx, prefs)
}

// Login входит на сервер резервных копий подписью приватного ключа.
func (w *Wallet) Login(ctx context.Context, password string) error {
	if w.auth == nil {
		return errBackupDisabled()
	}
	pk, err := w.keys.PrivateKey(password)
	if err != nil {
		return err
	}
	return session.Login(ctx, w.auth, w.prims, pk)
}

// Scan догоняет цепочку от закладки.
func (w *Wallet) Scan(ctx context.Context) error {
	return w.scanner.Scan(ctx)
}

// Rescan сканирует диапазон [from, to] заново, не трогая закладку.
func (w *Wallet) Rescan(ctx context.Context, from, to uint32) error {
	return w.scanner.ScanRange(ctx, from, to)
}

func (w *Wallet) Transfer(ctx context.Context, password string, in txlife.TransferIntent) (string, error) {
	pk, err := w.keys.PrivateKey(password)
	if err != nil {
		return "", err
	}
	return w.lifecycle.Transfer(ctx, pk, in)
}

func (w *Wallet) Execute(ctx context.Context, password string, in txlife.ExecuteIntent) (string, error) {
	pk, err := w.keys.PrivateKey(password)
	if err != nil {
		return "", err
	}
	return w.lifecycle.Execute(ctx, pk, in)
}

func (w *Wallet) Deploy(ctx context.Context, password string, in txlife.DeployIntent) (string, error) {
	pk, err := w.keys.PrivateKey(password)
	if err != nil {
		return "", err
	}
	return w.lifecycle.Deploy(ctx, pk, in)
}

// Cancel отменяет ещё не отправленную транзакцию.
func (w *Wallet) Cancel(ctx context.Context, rowID string) error {
	return w.lifecycle.Cancel(ctx, rowID)
}

// WaitConfirmations ждёт, пока наблюдатели отправленных транзакций завершатся.
func (w *Wallet) WaitConfirmations() {
	w.lifecycle.Wait()
}

// SetBackup включает или выключает резервное копирование. При включении
// все строки сразу выгружаются на сервер.
func (w *Wallet) SetBackup(ctx context.Context, enabled bool) error {
	if w.backup == nil {
		return errBackupDisabled()
	}
	if err := w.st.SetBackup(ctx, enabled); err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	n, err := w.backup.ImportAll(ctx)
	if err != nil {
		return err
	}
	w.logger.Infow("backup enabled", "rows", n)
	return nil
}

// SyncResult — итог одной синхронизации с сервером резервных копий.
type SyncResult struct {
	Pushed   int
	Received int
}

// Sync отправляет изменения (если резервное копирование включено) и разбирает входящие переводы.
func (w *Wallet) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	if w.backup == nil {
		return res, errBackupDisabled()
	}
	prefs, err := w.st.Prefs(ctx)
	if err != nil {
		return res, err
	}
	if prefs.Backup {
		if res.Pushed, err = w.backup.SyncBackup(ctx); err != nil {
			return res, err
		}
	}
	res.Received, err = w.backup.SyncTransactions(ctx)
	return res, err
}

// Recover восстанавливает строки кошелька с сервера резервных копий.
func (w *Wallet) Recover(ctx context.Context) (int, error) {
	if w.backup == nil {
		return 0, errBackupDisabled()
	}
	return w.backup.Recover(ctx)
}

// DeleteBackup удаляет копию на сервере и выключает резервное копирование.
func (w *Wallet) DeleteBackup(ctx context.Context) error {
	if w.backup == nil {
		return errBackupDisabled()
	}
	if err := w.backup.Wipe(ctx); err != nil {
		return err
	}
	return w.st.SetBackup(ctx, false)
}

// Run крутит фоновые циклы: сканирование, перевод зависших транзакций в failed
// и синхронизацию с сервером. Возвращается после отмены ctx.
func (w *Wallet) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.every(ctx, w.cfg.ScanEvery, func() {
			if err := w.scanner.Scan(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warnw("background scan failed", "error", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		w.every(ctx, w.cfg.SweepEvery, func() {
			n, err := w.lifecycle.CheckUnconfirmed(ctx)
			if err != nil && ctx.Err() == nil {
				w.logger.Warnw("unconfirmed sweep failed", "error", err)
			}
			if n > 0 {
				w.logger.Infow("pending transactions failed as unconfirmed", "count", n)
			}
		})
		return nil
	})
	if w.backup != nil {
		g.Go(func() error {
			w.backup.Run(ctx, w.cfg.SyncEvery)
			return nil
		})
	}
	return g.Wait()
}

func (w *Wallet) every(ctx context.Context, d time.Duration, fn func()) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		fn()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Close останавливает наблюдателей транзакций.
func (w *Wallet) Close() {
	w.lifecycle.Stop()
}

func errBackupDisabled() error {
	return apperr.New(apperr.Validation, "backup client is not configured", "Backup server is not configured")
}
