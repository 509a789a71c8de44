package scanner

import (
	"context"
	"sync"

	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/records"
	"AvailWallet/internal/cli/store"
)

// indexedRecord связывает тег и nonce записи со строкой хранилища.
// Сам указатель всегда перечитывается из строки внутри транзакции.
type indexedRecord struct {
	rowID string
	tag   string
	nonce string
}

// recordIndex — записи кошелька по тегу, общий для сканирований и сведения транзакций.
// spent хранит теги, потраченные нашими переходами раньше, чем запись была сохранена.
type recordIndex struct {
	mu      sync.Mutex
	key     string
	byTag   map[string]indexedRecord
	byNonce map[string]indexedRecord
	spent   map[string]bool
}

func newRecordIndex(key string) *recordIndex {
	return &recordIndex{
		key:     key,
		byTag:   map[string]indexedRecord{},
		byNonce: map[string]indexedRecord{},
		spent:   map[string]bool{},
	}
}

func loadIndex(ctx context.Context, st *store.Store, sealer store.Sealer, owner, network string, vk crypto.ViewKey) (*recordIndex, error) {
	rows, err := st.Find(ctx, store.Filter{Owner: owner, Network: network, Flavours: []model.Flavour{model.FlavourRecord}})
	if err != nil {
		return nil, err
	}
	idx := newRecordIndex(owner + "/" + network)
	for i := range rows {
		ptr, err := records.OpenRecord(sealer, vk, &rows[i])
		if err != nil {
			return nil, err
		}
		r := indexedRecord{rowID: rows[i].ID, tag: ptr.Tag, nonce: ptr.Nonce}
		idx.byTag[r.tag] = r
		idx.byNonce[r.nonce] = r
	}
	return idx, nil
}

// begin открывает набор изменений одной транзакции хранилища. До commit изменения
// видны только через indexTx; при откате они просто отбрасываются.
func (x *recordIndex) begin() *indexTx {
	return &indexTx{idx: x, records: map[string]indexedRecord{}, spent: map[string]bool{}}
}

type indexTx struct {
	idx     *recordIndex
	records map[string]indexedRecord
	spent   map[string]bool
}

func (t *indexTx) lookup(tag string) (indexedRecord, bool) {
	if r, ok := t.records[tag]; ok {
		return r, true
	}
	t.idx.mu.Lock()
	defer t.idx.mu.Unlock()
	r, ok := t.idx.byTag[tag]
	return r, ok
}

func (t *indexTx) lookupNonce(nonce string) (indexedRecord, bool) {
	for _, r := range t.records {
		if r.nonce == nonce {
			return r, true
		}
	}
	t.idx.mu.Lock()
	defer t.idx.mu.Unlock()
	r, ok := t.idx.byNonce[nonce]
	return r, ok
}

func (t *indexTx) put(r indexedRecord) {
	t.records[r.tag] = r
}

func (t *indexTx) markSpent(tag string) {
	t.spent[tag] = true
}

func (t *indexTx) isSpent(tag string) bool {
	if t.spent[tag] {
		return true
	}
	t.idx.mu.Lock()
	defer t.idx.mu.Unlock()
	return t.idx.spent[tag]
}

func (t *indexTx) commit() {
	t.idx.mu.Lock()
	defer t.idx.mu.Unlock()
	for tag, r := range t.records {
		t.idx.byTag[tag] = r
		t.idx.byNonce[r.nonce] = r
		delete(t.idx.spent, tag)
	}
	for tag := range t.spent {
		if _, ok := t.idx.byTag[tag]; !ok {
			t.idx.spent[tag] = true
		}
	}
}
