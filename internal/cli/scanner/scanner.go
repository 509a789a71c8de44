// Package scanner обходит блоки цепочки, находит записи и переходы кошелька,
// сводит ожидающие транзакции с их исходом и двигает закладку last_sync.
package scanner

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/event"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/records"
	"AvailWallet/internal/cli/session"
	"AvailWallet/internal/cli/store"
	"AvailWallet/internal/cli/tokens"
)

const (
	DefaultBatchSize = 49
	DefaultWorkers   = 4

	// seenWindow — насколько далеко назад смотрит набор уже сохранённых транзакций.
	seenWindow = 2 * time.Hour
)

type Config struct {
	BatchSize int
	Workers   int
}

// Deps — зависимости сканера.
type Deps struct {
	Client     chain.Client
	Store      *store.Store
	Ledger     *tokens.Ledger
	Records    *records.Engine
	Primitives crypto.Primitives
	Emitter    event.Emitter
	Registry   prometheus.Registerer
	Logger     *zap.SugaredLogger
}

type Scanner struct {
	cfg     Config
	client  chain.Client
	st      *store.Store
	ledger  *tokens.Ledger
	records *records.Engine
	prims   crypto.Primitives
	emitter event.Emitter
	logger  *zap.SugaredLogger
	metrics *metrics

	idxMu sync.Mutex
	idx   *recordIndex

	// Now подменяется в тестах.
	Now func() time.Time
}

func New(cfg Config, d Deps) *Scanner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if d.Emitter == nil {
		d.Emitter = event.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	return &Scanner{
		cfg:     cfg,
		client:  d.Client,
		st:      d.Store,
		ledger:  d.Ledger,
		records: d.Records,
		prims:   d.Primitives,
		emitter: d.Emitter,
		logger:  d.Logger,
		metrics: newMetrics(d.Registry),
		Now:     time.Now,
	}
}

// Scan сканирует от закладки last_sync до последнего блока цепочки включительно.
func (s *Scanner) Scan(ctx context.Context) error {
	from, err := s.st.LastSync(ctx)
	if err != nil {
		return err
	}
	latest, err := s.client.LatestHeight(ctx)
	if err != nil {
		return apperr.Wrap(apperr.Node, err, "Failed to reach the node")
	}
	return s.ScanRange(ctx, from, latest+1)
}

// ScanRange сканирует блоки [from, to). Закладка после успешного блока H равна H+1
// и двигается только по непрерывному префиксу обработанных высот.
func (s *Scanner) ScanRange(ctx context.Context, from, to uint32) error {
	if from >= to {
		return nil
	}
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return err
	}
	bookmark, err := s.st.LastSync(ctx)
	if err != nil {
		return err
	}
	r, err := s.newRun(ctx, acct, true, from < bookmark)
	if err != nil {
		return err
	}
	c := &committer{st: s.st, next: from, done: map[uint32]bool{}, metrics: s.metrics}
	total := to - from
	var processed atomic.Uint32

	s.logger.Infow("scan started", "from", from, "to", to, "workers", s.cfg.Workers)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for lo := from; lo < to; lo += uint32(s.cfg.BatchSize) {
		if gctx.Err() != nil {
			break
		}
		hi := min(lo+uint32(s.cfg.BatchSize), to)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := r.scanBatch(gctx, lo, hi, c); err != nil {
				return err
			}
			n := processed.Add(hi - lo)
			s.emitter.Emit(event.ScanProgress, event.ScanProgressData{Percent: percent(n, total), Height: c.bookmark()})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warnw("scan failed", "bookmark", c.bookmark(), "error", err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Infow("scan finished", "bookmark", c.bookmark())
	return nil
}

// Finalize сводит ожидающий указатель rowID с исходом транзакции из цепочки:
// меняет состояние, откатывает флаги трат и сохраняет записи-сдачу.
func (s *Scanner) Finalize(ctx context.Context, rowID string, status chain.TransactionStatus) error {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return err
	}
	r, err := s.newRun(ctx, acct, false, false)
	if err != nil {
		return err
	}
	w := &blockWork{height: status.Height}
	if err := r.planFinalize(ctx, w, rowID, status); err != nil {
		return err
	}
	return r.commit(ctx, w)
}

// ProcessTransaction — путь одной транзакции для перевода, о котором сообщил отправитель from.
// Возвращает false, если среди выходов транзакции нет записи кошелька.
func (s *Scanner) ProcessTransaction(ctx context.Context, txID, from string) (bool, error) {
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return false, err
	}
	status, err := s.client.GetTransaction(ctx, txID)
	if err != nil {
		return false, err
	}
	if status.Aborted {
		return false, nil
	}
	tx := status.Confirmed.Transaction
	if !s.hasOwnedOutput(tx, acct.ViewKey) {
		return false, nil
	}
	r, err := s.newRun(ctx, acct, false, false)
	if err != nil {
		return false, err
	}
	w := &blockWork{height: status.Height}
	if _, err := r.planTransaction(ctx, w, tx, planOpts{from: from}); err != nil {
		return false, err
	}
	return true, r.commit(ctx, w)
}

// Invalidate сбрасывает индекс записей, например после восстановления из резервной копии.
func (s *Scanner) Invalidate() {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	s.idx = nil
}

func (s *Scanner) hasOwnedOutput(tx chain.Transaction, vk crypto.ViewKey) bool {
	for _, tr := range tx.Transitions() {
		for _, out := range tr.Outputs {
			if out.Type == chain.IORecord && s.prims.IsRecordOwner(out.Value, vk) {
				return true
			}
		}
	}
	return false
}

func (s *Scanner) index(ctx context.Context, acct session.Account) (*recordIndex, error) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	key := acct.Address.String() + "/" + acct.Network
	if s.idx != nil && s.idx.key == key {
		return s.idx, nil
	}
	idx, err := loadIndex(ctx, s.st, s.prims, acct.Address.String(), acct.Network, acct.ViewKey)
	if err != nil {
		return nil, err
	}
	s.idx = idx
	return idx, nil
}

func (s *Scanner) now() time.Time {
	return s.Now().UTC()
}

// run — состояние одного прохода сканера или одного сведения.
type run struct {
	s       *Scanner
	acct    session.Account
	idx     *recordIndex
	seen    map[string]bool
	pending map[string]string
	started time.Time

	mu      sync.Mutex
	created map[uint32][]string
}

// idRefs — поля идентификаторов, общие для всех видов указателей.
type idRefs struct {
	TransactionID string        `json:"transaction_id"`
	TxID          string        `json:"tx_id"`
	UnconfirmedID string        `json:"unconfirmed_id"`
	State         model.TxState `json:"state"`
	BlockHeight   uint32        `json:"block_height"`
}

func (s *Scanner) newRun(ctx context.Context, acct session.Account, seed, rescan bool) (*run, error) {
	idx, err := s.index(ctx, acct)
	if err != nil {
		return nil, err
	}
	r := &run{
		s:       s,
		acct:    acct,
		idx:     idx,
		seen:    map[string]bool{},
		pending: map[string]string{},
		started: s.now(),
		created: map[uint32][]string{},
	}
	if !seed {
		return r, nil
	}

	f := store.Filter{
		Owner:   acct.Address.String(),
		Network: acct.Network,
		Flavours: []model.Flavour{
			model.FlavourRecord, model.FlavourTransition, model.FlavourTransaction, model.FlavourDeployment,
		},
	}
	if !rescan {
		since := r.started.Add(-seenWindow)
		f.CreatedAfter = &since
	}
	rows, err := s.st.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		var ref idRefs
		if err := store.OpenPointer(s.prims, acct.ViewKey, &rows[i], &ref); err != nil {
			return nil, err
		}
		if ref.State == model.StatePending || ref.State == model.StateFailed || ref.State == model.StateProcessing {
			continue
		}
		for _, id := range []string{ref.TransactionID, ref.TxID, ref.UnconfirmedID} {
			if id != "" {
				r.seen[id] = true
			}
		}
	}

	pending, err := s.st.Find(ctx, store.Filter{
		Owner:    acct.Address.String(),
		Network:  acct.Network,
		Flavours: []model.Flavour{model.FlavourTransaction, model.FlavourDeployment},
		States:   []model.TxState{model.StatePending, model.StateFailed},
	})
	if err != nil {
		return nil, err
	}
	for i := range pending {
		var ref idRefs
		if err := store.OpenPointer(s.prims, acct.ViewKey, &pending[i], &ref); err != nil {
			return nil, err
		}
		if ref.TxID != "" {
			r.pending[ref.TxID] = pending[i].ID
		}
	}
	return r, nil
}

func (r *run) scanBatch(ctx context.Context, lo, hi uint32, c *committer) error {
	blocks, err := r.s.client.GetBlocks(ctx, lo, hi)
	if err != nil {
		r.fail(ctx, lo)
		return apperr.Wrap(apperr.Node, err, "Failed to fetch blocks")
	}
	if len(blocks) != int(hi-lo) {
		return apperr.Newf(apperr.Node, "node returned %d blocks for [%d, %d)", len(blocks), lo, hi)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Height < blocks[j].Height })
	for _, b := range blocks {
		if err := r.scanBlock(ctx, b); err != nil {
			r.fail(ctx, b.Height)
			return err
		}
		if err := c.complete(ctx, b.Height); err != nil {
			return err
		}
	}
	return nil
}

// track запоминает строки, вставленные проходом для блока height.
func (r *run) track(height uint32, ids []string) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created[height] = append(r.created[height], ids...)
}

func (r *run) fail(ctx context.Context, height uint32) {
	r.mu.Lock()
	ids := append([]string(nil), r.created[height]...)
	r.mu.Unlock()
	if err := r.s.HandleBlockScanFailure(context.WithoutCancel(ctx), height, ids); err != nil {
		r.s.logger.Warnw("block failure cleanup failed", "height", height, "error", err)
	}
}

// HandleBlockScanFailure удаляет из строк created, вставленных упавшим проходом, те,
// чья высота блока равна height, чтобы повторное сканирование блока было идемпотентным.
// Строки, записанные другими (например, наблюдателем транзакций), не трогаются.
func (s *Scanner) HandleBlockScanFailure(ctx context.Context, height uint32, created []string) error {
	if len(created) == 0 {
		return nil
	}
	acct, err := session.AccountFrom(ctx)
	if err != nil {
		return err
	}
	rows, err := s.st.Find(ctx, store.Filter{Owner: acct.Address.String(), Network: acct.Network, IDs: created})
	if err != nil {
		return err
	}
	var ids []string
	var credited []model.RecordPointer
	for i := range rows {
		if rows[i].Flavour == model.FlavourTransactionMessage {
			continue
		}
		var ref idRefs
		if err := store.OpenPointer(s.prims, acct.ViewKey, &rows[i], &ref); err != nil {
			return err
		}
		if ref.BlockHeight != height {
			continue
		}
		ids = append(ids, rows[i].ID)
		if rows[i].Flavour == model.FlavourRecord {
			ptr, err := records.OpenRecord(s.prims, acct.ViewKey, &rows[i])
			if err == nil && !ptr.SpentOnChain && (ptr.RecordType == model.RecordCredits || ptr.RecordType == model.RecordToken) {
				credited = append(credited, ptr)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	s.logger.Warnw("removing rows of failed block", "height", height, "rows", len(ids))
	err = s.st.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Delete(ctx, ids...); err != nil {
			return err
		}
		for _, ptr := range credited {
			if err := s.ledger.In(tx).Sub(ctx, tokens.TokenName(ptr.ProgramID), ptr.Amount, acct.ViewKey); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// committer — единственный, кто двигает last_sync: только через непрерывный префикс высот.
type committer struct {
	mu      sync.Mutex
	st      *store.Store
	next    uint32
	done    map[uint32]bool
	metrics *metrics
}

func (c *committer) complete(ctx context.Context, height uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.blocks.Inc()
	c.done[height] = true
	advanced := false
	for c.done[c.next] {
		delete(c.done, c.next)
		c.next++
		advanced = true
	}
	if !advanced {
		return nil
	}
	c.metrics.height.Set(float64(c.next))
	return c.st.UpdateLastSync(ctx, c.next)
}

func (c *committer) bookmark() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

func percent(done, total uint32) int {
	if total == 0 {
		return 100
	}
	p := int(math.Round(float64(done) * 100 / float64(total)))
	return max(0, min(100, p))
}
