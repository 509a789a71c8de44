// Package backup синхронизирует зашифрованные строки кошелька с сервером резервных копий
// и разбирает входящие сообщения о переводах от других пользователей.
package backup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"AvailWallet/internal/cli/api"
	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/event"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/records"
	"AvailWallet/internal/cli/session"
	"AvailWallet/internal/cli/store"
	"AvailWallet/internal/cli/tokens"
)

// DefaultBatchSize — максимум строк в одном запросе к серверу.
const DefaultBatchSize = 300

// Client — возможности сервера резервных копий.
type Client interface {
	PostData(ctx context.Context, rows []model.EncryptedRow) error
	PutData(ctx context.Context, rows []model.EncryptedRow) error
	MarkSynced(ctx context.Context, ids []string) error
	DeleteData(ctx context.Context) error
	ImportData(ctx context.Context, rows []model.EncryptedRow) error
	DataCount(ctx context.Context) (int64, error)
	RecoverData(ctx context.Context, page int) ([]model.EncryptedRow, error)
	TxsReceived(ctx context.Context) ([]api.Message, error)
	DeleteTxsIn(ctx context.Context, ids []string) error
	TxSent(ctx context.Context, msg api.Message) error
}

var _ Client = (*api.Client)(nil)

// Verifier — разбор одной транзакции сканером.
type Verifier interface {
	ProcessTransaction(ctx context.Context, txID, from string) (bool, error)
	Invalidate()
}

type Config struct {
	BatchSize int
}

type Deps struct {
	Client     Client
	Store      *store.Store
	Ledger     *tokens.Ledger
	Verifier   Verifier
	Primitives crypto.Primitives
	Emitter    event.Emitter
	Registry   prometheus.Registerer
	Logger     *zap.SugaredLogger
}

type Service struct {
	batch    int
	client   Client
	st       *store.Store
	ledger   *tokens.Ledger
	verifier Verifier
	prims    crypto.Primitives
	emitter  event.Emitter
	logger   *zap.SugaredLogger
	metrics  *metrics

	// mu не даёт двум синхронизациям идти одновременно.
	mu sync.Mutex

	// Now подменяется в тестах.
	Now func() time.Time
}

func New(cfg Config, d Deps) *Service {
	if cfg.BatchSize <= 0 || cfg.BatchSize > DefaultBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if d.Emitter == nil {
		d.Emitter = event.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &Service{
		batch:    cfg.BatchSize,
		client:   d.Client,
		st:       d.Store,
		ledger:   d.Ledger,
		verifier: d.Verifier,
		prims:    d.Primitives,
		emitter:  d.Emitter,
		logger:   d.Logger,
		metrics:  newMetrics(d.Registry),
		Now:      time.Now,
	}
}

// SyncBackup отправляет строки, созданные (POST /data) и изменённые (PUT /data)
// после last_backup_sync. При любой ошибке метка не сдвигается.
func (s *Service) SyncBackup(ctx context.Context) (int, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.st.Prefs(ctx)
	if err != nil {
		return 0, err
	}
	started := s.now()
	var since time.Time
	if prefs.LastBackupSync != nil {
		since = *prefs.LastBackupSync
	}

	scope := store.Filter{Owner: acct.Address.String(), Network: acct.Network}
	created := scope
	created.CreatedAfter = &since
	fresh, err := s.st.Find(ctx, created)
	if err != nil {
		return 0, err
	}
	updated := scope
	updated.CreatedBefore = &since
	updated.UpdatedAfter = &since
	changed, err := s.st.Find(ctx, updated)
	if err != nil {
		return 0, err
	}

	pushed, err := s.push(ctx, fresh, s.client.PostData)
	if err != nil {
		return pushed, err
	}
	n, err := s.push(ctx, changed, s.client.PutData)
	pushed += n
	if err != nil {
		return pushed, err
	}
	if err := s.st.SetLastBackupSync(ctx, started); err != nil {
		return pushed, err
	}
	s.logger.Infow("backup synced", "created", len(fresh), "updated", len(changed))
	return pushed, nil
}

// ImportAll выгружает все строки кошелька, например при первом включении резервного копирования.
func (s *Service) ImportAll(ctx context.Context) (int, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.now()
	rows, err := s.st.Find(ctx, store.Filter{Owner: acct.Address.String(), Network: acct.Network})
	if err != nil {
		return 0, err
	}
	n, err := s.push(ctx, rows, s.client.ImportData)
	if err != nil {
		return n, err
	}
	return n, s.st.SetLastBackupSync(ctx, started)
}

// push отправляет строки пачками и отмечает каждую принятую пачку синхронизированной.
func (s *Service) push(ctx context.Context, rows []model.EncryptedRow, send func(context.Context, []model.EncryptedRow) error) (int, error) {
	pushed := 0
	for start := 0; start < len(rows); start += s.batch {
		chunk := rows[start:min(start+s.batch, len(rows))]
		for i := range chunk {
			chunk[i].SyncedOn = nil
		}
		if err := send(ctx, chunk); err != nil {
			return pushed, s.fail(err)
		}
		ids := make([]string, len(chunk))
		for i := range chunk {
			ids[i] = chunk[i].ID
		}
		if err := s.st.MarkSynced(ctx, ids, s.now()); err != nil {
			return pushed, err
		}
		if err := s.client.MarkSynced(ctx, ids); err != nil {
			return pushed, s.fail(err)
		}
		pushed += len(chunk)
		s.metrics.pushed.Add(float64(len(chunk)))
	}
	return pushed, nil
}

// Recover загружает все строки с сервера постранично, вставляет отсутствующие
// и пересчитывает балансы по непотраченным записям.
func (s *Service) Recover(ctx context.Context) (int, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	total, err := s.client.DataCount(ctx)
	if err != nil {
		return 0, s.fail(err)
	}
	var fetched int64
	inserted := 0
	for page := 0; fetched < total; page++ {
		rows, err := s.client.RecoverData(ctx, page)
		if err != nil {
			return inserted, s.fail(err)
		}
		if len(rows) == 0 {
			break
		}
		fetched += int64(len(rows))
		now := s.now()
		err = s.st.WithTx(ctx, func(tx *store.Store) error {
			for i := range rows {
				row := rows[i]
				if row.Owner != acct.Address.String() || row.Network != acct.Network {
					continue
				}
				row.SyncedOn = &now
				created, err := tx.Insert(ctx, &row)
				if err != nil {
					return err
				}
				if created {
					inserted++
				}
			}
			return nil
		})
		if err != nil {
			return inserted, err
		}
	}
	s.metrics.recovered.Add(float64(inserted))

	if err := s.recompute(ctx, acct); err != nil {
		return inserted, err
	}
	if s.verifier != nil {
		s.verifier.Invalidate()
	}
	s.logger.Infow("backup recovered", "server_rows", total, "inserted", inserted)
	return inserted, nil
}

func (s *Service) recompute(ctx context.Context, acct session.Account) error {
	rows, err := s.st.Find(ctx, store.Filter{
		Owner:    acct.Address.String(),
		Network:  acct.Network,
		Flavours: []model.Flavour{model.FlavourRecord},
	})
	if err != nil {
		return err
	}
	ptrs := make([]model.RecordPointer, 0, len(rows))
	for i := range rows {
		ptr, err := records.OpenRecord(s.prims, acct.ViewKey, &rows[i])
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "Backup contains data for another key")
		}
		ptrs = append(ptrs, ptr)
	}
	return s.ledger.Recompute(ctx, ptrs, acct.ViewKey)
}

// SyncTransactions разбирает входящие сообщения о переводах. Сообщения, которые не удалось
// расшифровать или чья транзакция не содержит наших записей, удаляются вместе с обработанными.
func (s *Service) SyncTransactions(ctx context.Context) (int, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return 0, err
	}
	msgs, err := s.client.TxsReceived(ctx)
	if err != nil {
		return 0, s.fail(err)
	}
	var (
		ack       []string
		processed int
	)
	for _, m := range msgs {
		tm, err := s.open(m, acct.ViewKey)
		if err != nil || (tm.To != "" && tm.To != acct.Address.String()) {
			s.logger.Warnw("discarding unreadable transfer message", "message", m.ID, "error", err)
			s.metrics.messages.WithLabelValues("invalid").Inc()
			ack = append(ack, m.ID)
			continue
		}
		owned, err := s.verifier.ProcessTransaction(ctx, tm.TransactionID, tm.From)
		switch {
		case err == nil && owned:
			processed++
			s.metrics.messages.WithLabelValues("processed").Inc()
			ack = append(ack, m.ID)
		case err == nil || apperr.IsKind(err, apperr.NotFound):
			s.logger.Warnw("discarding transfer message without owned outputs", "message", m.ID, "tx", tm.TransactionID)
			s.metrics.messages.WithLabelValues("invalid").Inc()
			ack = append(ack, m.ID)
		case apperr.IsKind(err, apperr.Unauthorized):
			return processed, err
		default:
			// оставляем сообщение до следующей синхронизации
			s.logger.Warnw("transfer message processing failed", "message", m.ID, "error", err)
		}
	}
	if len(ack) > 0 {
		if err := s.client.DeleteTxsIn(ctx, ack); err != nil {
			return processed, s.fail(err)
		}
	}
	if err := s.st.SetLastTxSync(ctx, s.now()); err != nil {
		return processed, err
	}
	return processed, nil
}

func (s *Service) open(m api.Message, vk crypto.ViewKey) (model.TransactionMessage, error) {
	var tm model.TransactionMessage
	plain, err := s.prims.OpenMessage(m.Ciphertext, m.Nonce, vk)
	if err != nil {
		return tm, err
	}
	if err := json.Unmarshal(plain, &tm); err != nil {
		return tm, err
	}
	if tm.TransactionID == "" {
		return tm, apperr.New(apperr.Validation, "message without transaction id", "")
	}
	return tm, nil
}

// NotifyRecipient шифрует сообщение для получателя и кладёт его в ящик на сервере.
func (s *Service) NotifyRecipient(ctx context.Context, msg model.TransactionMessage) error {
	to, err := crypto.ParseAddress(msg.To)
	if err != nil {
		return apperr.Wrap(apperr.Validation, err, "Invalid recipient address")
	}
	plain, err := json.Marshal(msg)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to encode message")
	}
	ct, nonce, err := s.prims.SealMessage(to, plain)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to seal message")
	}
	return s.fail(s.client.TxSent(ctx, api.Message{To: msg.To, Ciphertext: ct, Nonce: nonce}))
}

// Wipe удаляет все строки пользователя на сервере.
func (s *Service) Wipe(ctx context.Context) error {
	return s.fail(s.client.DeleteData(ctx))
}

// Run периодически синхронизирует резервную копию (если она включена) и входящие сообщения,
// пока не отменён ctx.
func (s *Service) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	prefs, err := s.st.Prefs(ctx)
	if err != nil {
		s.logger.Warnw("backup preferences unavailable", "error", err)
		return
	}
	if prefs.Backup {
		if _, err := s.SyncBackup(ctx); err != nil {
			s.logger.Warnw("backup sync failed", "error", err)
		}
	}
	if _, err := s.SyncTransactions(ctx); err != nil {
		s.logger.Warnw("transfer messages sync failed", "error", err)
	}
}

// fail превращает 401 в событие reauthenticate.
func (s *Service) fail(err error) error {
	if apperr.IsKind(err, apperr.Unauthorized) {
		s.emitter.Emit(event.Reauthenticate, nil)
	}
	return err
}

func (s *Service) now() time.Time {
	return s.Now().UTC()
}
