// Package chaintest — цепочка в памяти для тестов: исполняет переводы credits и токенов,
// деплои, отклонения и прерывания теми же криптопримитивами, что и кошелёк.
package chaintest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/crypto"
)

// Outcome — исход следующей отправленной транзакции.
type Outcome int

const (
	Accept Outcome = iota
	Reject
	Abort
)

type pendingTx struct {
	tx      chain.Transaction
	outcome Outcome

	acceptTags        []string
	acceptPublic      map[string]int64
	acceptCommitments []string

	rejectFee         *chain.Transition
	rejectTags        []string
	rejectPublic      map[string]int64
	rejectCommitments []string

	deploy *chain.Program
}

type txLoc struct {
	height uint32
	index  int
}

// Ledger реализует chain.Client.
type Ledger struct {
	mu sync.Mutex

	blocks      []chain.Block
	txIndex     map[string]txLoc
	aborted     map[string]uint32
	mempool     []*pendingTx
	programs    map[string]chain.Program
	public      map[string]uint64
	spentTags   map[string]bool
	commitments map[string]bool

	next         Outcome
	broadcastErr error
	failHeights  map[uint32]int
	faucet       crypto.PrivateKey
	clock        time.Time
}

var _ chain.Client = (*Ledger)(nil)

// New создаёт цепочку с пустым генезис-блоком.
func New() *Ledger {
	l := &Ledger{
		txIndex:     map[string]txLoc{},
		aborted:     map[string]uint32{},
		programs:    map[string]chain.Program{chain.CreditsProgram: CreditsProgram()},
		public:      map[string]uint64{},
		spentTags:   map[string]bool{},
		commitments: map[string]bool{},
		failHeights: map[uint32]int{},
		faucet:      crypto.PrivateKeyFromSeed([]byte("chaintest/faucet")),
		clock:       time.Unix(1_700_000_000, 0),
	}
	l.blocks = append(l.blocks, chain.Block{Height: 0, Hash: newID("ab1"), Timestamp: l.clock.Unix()})
	return l
}

// CreditsProgram — описание системной программы credits.
func CreditsProgram() chain.Program {
	return chain.Program{
		ID: chain.CreditsProgram,
		Functions: []chain.Function{
			{Name: "transfer_public"}, {Name: "transfer_private"},
			{Name: "transfer_public_to_private"}, {Name: "transfer_private_to_public"},
			{Name: "join"}, {Name: "split"}, {Name: "fee_private"}, {Name: "fee_public"},
		},
		Records:  []chain.RecordDef{{Name: chain.CreditsRecordName, Fields: []string{"microcredits"}}},
		Mappings: []string{"account"},
	}
}

// TokenProgram — описание простой токен-программы.
func TokenProgram(id string) chain.Program {
	return chain.Program{
		ID: id,
		Functions: []chain.Function{
			{Name: "mint_private"}, {Name: "transfer_private"}, {Name: "transfer_public"}, {Name: "burn"},
		},
		Records: []chain.RecordDef{{Name: "token", Fields: []string{"amount"}}},
	}
}

// NFTProgram — описание NFT-программы.
func NFTProgram(id string) chain.Program {
	return chain.Program{
		ID:        id,
		Functions: []chain.Function{{Name: "mint_nft"}, {Name: "transfer_private"}},
		Records:   []chain.RecordDef{{Name: "nft", Fields: []string{"data", "edition"}}},
	}
}

// AddProgram регистрирует программу без деплоя.
func (l *Ledger) AddProgram(p chain.Program) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.programs[p.ID] = p
}

// FundPublic зачисляет публичный баланс.
func (l *Ledger) FundPublic(addr crypto.Address, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.public[addr.String()] += amount
}

// SetNextOutcome задаёт исход следующей транзакции.
func (l *Ledger) SetNextOutcome(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next = o
}

// FailNextBroadcast — следующая отправка вернёт err.
func (l *Ledger) FailNextBroadcast(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcastErr = err
}

// FailBlock — следующие times запросов блока height вернут ошибку узла.
func (l *Ledger) FailBlock(height uint32, times int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failHeights[height] += times
}

// MempoolSize — число транзакций, ожидающих блока.
func (l *Ledger) MempoolSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.mempool)
}

// Mint выпускает запись программы program на адрес to от имени крана.
func (l *Ledger) Mint(to crypto.Address, program string, amount uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.builder(l.faucet.String())
	if err != nil {
		return "", err
	}
	function := "mint_private"
	if chain.IsCredits(program) {
		program = chain.CreditsProgram
		function = "mint"
	}
	tr, keys, err := b.transition(program, function)
	if err != nil {
		return "", err
	}
	in, err := b.privateIn(keys, program, function, 0, chain.U64(amount))
	if err != nil {
		return "", err
	}
	tr.Inputs = []chain.Input{in}
	out, cm, err := b.recordOut(program, to, amount)
	if err != nil {
		return "", err
	}
	tr.Outputs = []chain.Output{out}
	p := &pendingTx{
		tx:                chain.Transaction{Type: chain.TypeExecute, ID: newID("at1"), Execution: &chain.Execution{Transitions: []chain.Transition{tr}}},
		acceptCommitments: []string{cm},
	}
	l.mempool = append(l.mempool, p)
	return p.tx.ID, nil
}

// MintNFT выпускает NFT-запись.
func (l *Ledger) MintNFT(to crypto.Address, program, data string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.builder(l.faucet.String())
	if err != nil {
		return "", err
	}
	tr, _, err := b.transition(program, "mint_nft")
	if err != nil {
		return "", err
	}
	ct, rec, err := crypto.EncryptRecord(to, "nft", []chain.Entry{
		{Name: "data", Value: data + ".private"},
		{Name: "edition", Value: "0scalar.private"},
	})
	if err != nil {
		return "", err
	}
	cm := crypto.Commitment(program, rec)
	tr.Outputs = []chain.Output{{Type: chain.IORecord, ID: cm, Value: ct}}
	p := &pendingTx{
		tx:                chain.Transaction{Type: chain.TypeExecute, ID: newID("at1"), Execution: &chain.Execution{Transitions: []chain.Transition{tr}}},
		acceptCommitments: []string{cm},
	}
	l.mempool = append(l.mempool, p)
	return p.tx.ID, nil
}

// Mine упаковывает мемпул в новый блок и применяет исходы транзакций.
func (l *Ledger) Mine() chain.Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = l.clock.Add(10 * time.Second)
	height := uint32(len(l.blocks))
	block := chain.Block{Height: height, Hash: newID("ab1"), Timestamp: l.clock.Unix()}

	for _, p := range l.mempool {
		if p.outcome == Accept && !l.affordable(p.acceptPublic) {
			p.outcome = Reject
		}
		if p.outcome == Accept && l.anySpent(p.acceptTags) {
			p.outcome = Abort
		}
		switch p.outcome {
		case Abort:
			block.AbortedTransactionIDs = append(block.AbortedTransactionIDs, p.tx.ID)
			l.aborted[p.tx.ID] = height
		case Reject:
			idx := len(block.Transactions)
			rejected := p.tx
			feeTx := chain.Transaction{Type: chain.TypeFee, ID: newID("at1")}
			if p.rejectFee != nil {
				feeTx.Fee = &chain.Fee{Transition: *p.rejectFee}
			}
			block.Transactions = append(block.Transactions, chain.ConfirmedTransaction{
				Status:        chain.StatusRejected,
				Type:          p.tx.Type,
				Index:         idx,
				Transaction:   feeTx,
				Rejected:      &rejected,
				UnconfirmedID: p.tx.ID,
			})
			l.apply(p.rejectTags, p.rejectPublic, p.rejectCommitments)
			l.txIndex[feeTx.ID] = txLoc{height: height, index: idx}
			l.txIndex[p.tx.ID] = txLoc{height: height, index: idx}
		default:
			idx := len(block.Transactions)
			block.Transactions = append(block.Transactions, chain.ConfirmedTransaction{
				Status:      chain.StatusAccepted,
				Type:        p.tx.Type,
				Index:       idx,
				Transaction: p.tx,
			})
			l.apply(p.acceptTags, p.acceptPublic, p.acceptCommitments)
			if p.deploy != nil {
				l.programs[p.deploy.ID] = *p.deploy
			}
			l.txIndex[p.tx.ID] = txLoc{height: height, index: idx}
		}
	}
	l.mempool = nil
	l.blocks = append(l.blocks, block)
	return block
}

// MineEmpty добавляет n пустых блоков.
func (l *Ledger) MineEmpty(n int) {
	for i := 0; i < n; i++ {
		l.Mine()
	}
}

func (l *Ledger) apply(tags []string, public map[string]int64, commitments []string) {
	for _, t := range tags {
		l.spentTags[t] = true
	}
	for addr, delta := range public {
		l.public[addr] = uint64(int64(l.public[addr]) + delta)
	}
	for _, cm := range commitments {
		l.commitments[cm] = true
	}
}

func (l *Ledger) affordable(public map[string]int64) bool {
	for addr, delta := range public {
		if delta < 0 && l.public[addr] < uint64(-delta) {
			return false
		}
	}
	return true
}

func (l *Ledger) anySpent(tags []string) bool {
	for _, t := range tags {
		if l.spentTags[t] {
			return true
		}
	}
	return false
}

// Chain reads.

func (l *Ledger) LatestHeight(ctx context.Context) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint32(len(l.blocks) - 1), nil
}

func (l *Ledger) GetBlock(ctx context.Context, height uint32) (*chain.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkFail(height); err != nil {
		return nil, err
	}
	if int(height) >= len(l.blocks) {
		return nil, apperr.Newf(apperr.NotFound, "block %d not found", height)
	}
	b := l.blocks[height]
	return &b, nil
}

func (l *Ledger) GetBlocks(ctx context.Context, start, end uint32) ([]chain.Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if end > uint32(len(l.blocks)) {
		end = uint32(len(l.blocks))
	}
	var out []chain.Block
	for h := start; h < end; h++ {
		if err := l.checkFail(h); err != nil {
			return nil, err
		}
		out = append(out, l.blocks[h])
	}
	return out, nil
}

func (l *Ledger) checkFail(height uint32) error {
	if l.failHeights[height] > 0 {
		l.failHeights[height]--
		return apperr.Newf(apperr.Node, "node failed to serve block %d", height)
	}
	return nil
}

func (l *Ledger) GetTransaction(ctx context.Context, id string) (*chain.TransactionStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.aborted[id]; ok {
		return &chain.TransactionStatus{Height: h, Aborted: true}, nil
	}
	loc, ok := l.txIndex[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "transaction %s not found", id)
	}
	return &chain.TransactionStatus{Height: loc.height, Confirmed: l.blocks[loc.height].Transactions[loc.index]}, nil
}

func (l *Ledger) GetProgram(ctx context.Context, id string) (*chain.Program, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.programs[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "program %s not found", id)
	}
	return &p, nil
}

func (l *Ledger) GetMappingValue(ctx context.Context, program, mapping, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !chain.IsCredits(program) || mapping != "account" {
		return "", apperr.Newf(apperr.NotFound, "mapping %s/%s not found", program, mapping)
	}
	v, ok := l.public[key]
	if !ok {
		return "", apperr.Newf(apperr.NotFound, "key %s not found", key)
	}
	return fmt.Sprintf("%du64", v), nil
}

// PublicBalance — публичный баланс адреса.
func (l *Ledger) PublicBalance(addr crypto.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.public[addr.String()]
}

// IsSpent reports whether a record tag was consumed on chain.
func (l *Ledger) IsSpent(tag string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spentTags[tag]
}

// Programs returns the ids of all known programs.
func (l *Ledger) Programs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.programs))
	for id := range l.programs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
