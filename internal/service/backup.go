package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/model"
	"AvailWallet/internal/repo"
)

// MaxRows — предел строк в одном запросе и размер страницы восстановления.
const MaxRows = 300

var (
	ErrTooManyRows = errors.New("too many rows in one request")
	ErrForeignRow  = errors.New("row owner does not match session")
	ErrEmptyRow    = errors.New("row without id or ciphertext")
)

type metrics struct {
	rows     *prometheus.CounterVec
	messages prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		rows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "avail_server_rows_written_total",
			Help: "Rows written to the backup store, by operation.",
		}, []string{"op"}),
		messages: f.NewCounter(prometheus.CounterOpts{
			Name: "avail_server_messages_total",
			Help: "Transfer messages accepted for delivery.",
		}),
	}
}

// BackupService хранит шифртексты пользователей и почтовые ящики переводов.
type BackupService struct {
	rows     repo.RowRepository
	messages repo.MessageRepository
	metrics  *metrics
	logger   *zap.SugaredLogger
	Now      func() time.Time
}

// NewBackupService; registry может быть nil.
func NewBackupService(rows repo.RowRepository, messages repo.MessageRepository, registry prometheus.Registerer, logger *zap.SugaredLogger) *BackupService {
	return &BackupService{
		rows:     rows,
		messages: messages,
		metrics:  newMetrics(registry),
		logger:   logger,
		Now:      time.Now,
	}
}

// check проверяет пачку: не больше MaxRows, все строки принадлежат пользователю.
func check(userID string, rows []model.Row) error {
	if len(rows) > MaxRows {
		return fmt.Errorf("%w: %d > %d", ErrTooManyRows, len(rows), MaxRows)
	}
	for i := range rows {
		if rows[i].ID == "" || len(rows[i].Ciphertext) == 0 {
			return ErrEmptyRow
		}
		if rows[i].Owner != userID {
			return fmt.Errorf("%w: %s", ErrForeignRow, rows[i].ID)
		}
		rows[i].CreatedAt = rows[i].CreatedAt.UTC()
		rows[i].UpdatedAt = rows[i].UpdatedAt.UTC()
	}
	return nil
}

// Push сохраняет новые строки; существующие не меняются.
func (s *BackupService) Push(ctx context.Context, userID string, rows []model.Row) (int64, error) {
	if err := check(userID, rows); err != nil {
		return 0, err
	}
	n, err := s.rows.Insert(ctx, userID, rows)
	if err != nil {
		return 0, err
	}
	s.metrics.rows.WithLabelValues("insert").Add(float64(n))
	return n, nil
}

// Update применяет изменения по правилу last writer wins.
func (s *BackupService) Update(ctx context.Context, userID string, rows []model.Row) (int64, error) {
	return s.upsert(ctx, userID, rows, "update")
}

// Import загружает копию целиком (включение резервного копирования).
func (s *BackupService) Import(ctx context.Context, userID string, rows []model.Row) (int64, error) {
	return s.upsert(ctx, userID, rows, "import")
}

func (s *BackupService) upsert(ctx context.Context, userID string, rows []model.Row, op string) (int64, error) {
	if err := check(userID, rows); err != nil {
		return 0, err
	}
	n, err := s.rows.Upsert(ctx, userID, rows)
	if err != nil {
		return 0, err
	}
	s.metrics.rows.WithLabelValues(op).Add(float64(n))
	if int(n) < len(rows) {
		s.logger.Debugw("stale rows ignored", "user", userID, "op", op, "stale", len(rows)-int(n))
	}
	return n, nil
}

func (s *BackupService) MarkSynced(ctx context.Context, userID string, ids []string) error {
	_, err := s.rows.MarkSynced(ctx, userID, ids, s.Now().UTC())
	return err
}

func (s *BackupService) Wipe(ctx context.Context, userID string) (int64, error) {
	return s.rows.DeleteAll(ctx, userID)
}

func (s *BackupService) Count(ctx context.Context, userID string) (int64, error) {
	return s.rows.Count(ctx, userID)
}

// Page — страница восстановления размера MaxRows.
func (s *BackupService) Page(ctx context.Context, userID string, page int) ([]model.Row, error) {
	if page < 0 {
		page = 0
	}
	return s.rows.Page(ctx, userID, page, MaxRows)
}

// Send кладёт сообщение в ящик получателя.
func (s *BackupService) Send(ctx context.Context, from string, msg model.Message) (*model.Message, error) {
	if _, err := crypto.ParseAddress(msg.To); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(msg.Ciphertext) == 0 || len(msg.Nonce) == 0 {
		return nil, ErrEmptyRow
	}
	m := &model.Message{To: msg.To, From: from, Ciphertext: msg.Ciphertext, Nonce: msg.Nonce}
	if err := s.messages.Put(ctx, m); err != nil {
		return nil, err
	}
	s.metrics.messages.Inc()
	return m, nil
}

func (s *BackupService) Inbox(ctx context.Context, userID string) ([]model.Message, error) {
	return s.messages.Inbox(ctx, userID)
}

func (s *BackupService) Ack(ctx context.Context, userID string, ids []string) (int64, error) {
	return s.messages.Delete(ctx, userID, ids)
}
