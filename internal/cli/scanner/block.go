package scanner

import (
	"context"
	"strings"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/event"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/records"
	"AvailWallet/internal/cli/store"
	"AvailWallet/internal/cli/tokens"
	"AvailWallet/internal/cli/txlife"
)

// op — одна запись в хранилище в рамках транзакции блока.
type op func(ctx context.Context, tx *store.Store, itx *indexTx) error

// blockWork собирает все изменения блока; они применяются одной транзакцией хранилища.
type blockWork struct {
	height uint32
	ops    []op
	events []event.TxStateData
	// rows — id строк, вставленных транзакцией блока.
	rows []string
}

type planOpts struct {
	synthesize bool
	rejected   bool
	deploy     string
	from       string
}

type rowMeta struct {
	event     model.EventType
	state     *model.TxState
	programs  []string
	functions []string
}

func (r *run) scanBlock(ctx context.Context, b chain.Block) error {
	w := &blockWork{height: b.Height}
	for _, ct := range b.Transactions {
		id := ct.Transaction.ID
		if r.seen[id] || (ct.UnconfirmedID != "" && r.seen[ct.UnconfirmedID]) {
			continue
		}
		status := chain.TransactionStatus{Height: b.Height, Confirmed: ct}
		if rowID, ok := r.pendingRow(id, ct.UnconfirmedID); ok {
			if err := r.planFinalize(ctx, w, rowID, status); err != nil {
				return err
			}
			continue
		}
		opts := planOpts{synthesize: true, rejected: ct.Status == chain.StatusRejected}
		if ct.Type == chain.TypeDeploy {
			opts.deploy = deployedProgram(ct)
		}
		if _, err := r.planTransaction(ctx, w, ct.Transaction, opts); err != nil {
			return err
		}
	}
	for _, id := range b.AbortedTransactionIDs {
		if rowID, ok := r.pending[id]; ok {
			if err := r.planFinalize(ctx, w, rowID, chain.TransactionStatus{Height: b.Height, Aborted: true}); err != nil {
				return err
			}
		}
	}
	return r.commit(ctx, w)
}

func (r *run) pendingRow(ids ...string) (string, bool) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if rowID, ok := r.pending[id]; ok {
			return rowID, true
		}
	}
	return "", false
}

func (r *run) commit(ctx context.Context, w *blockWork) error {
	if len(w.ops) == 0 {
		return nil
	}
	w.rows = w.rows[:0]
	itx := r.idx.begin()
	err := r.s.st.WithTx(ctx, func(tx *store.Store) error {
		for _, o := range w.ops {
			if err := o(ctx, tx, itx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	itx.commit()
	r.track(w.height, w.rows)
	for _, e := range w.events {
		r.s.emitter.Emit(event.TxStateChange, e)
	}
	return nil
}

// planTransaction разбирает переходы транзакции: траты наших записей по тегам,
// полученные записи и указатели переходов. Возвращает true, если что-то в ней наше.
func (r *run) planTransaction(ctx context.Context, w *blockWork, tx chain.Transaction, opts planOpts) (bool, error) {
	vk := r.acct.ViewKey
	var (
		ours, executedByUs bool
		executed           []model.ExecutedTransition
		received           uint64
	)
	for _, tr := range tx.Transitions() {
		owned := r.s.prims.OwnsTransition(tr.TPK, tr.TCM, vk)
		for _, in := range tr.Inputs {
			if in.Type == chain.IORecord && in.Tag != "" {
				w.ops = append(w.ops, r.spendOp(in.Tag, owned))
			}
		}
		derived := 0
		for i, out := range tr.Outputs {
			if out.Type != chain.IORecord {
				continue
			}
			d, err := r.s.records.Derive(ctx, r.s.st, r.acct, records.Output{
				BlockHeight:   w.height,
				TransactionID: tx.ID,
				TransitionID:  tr.ID,
				ProgramID:     tr.Program,
				FunctionID:    tr.Function,
				OutputIndex:   i,
				Commitment:    out.ID,
				Ciphertext:    out.Value,
			})
			if err != nil {
				if apperr.IsKind(err, apperr.SnarkVm) {
					r.s.logger.Warnw("record output skipped", "tx", tx.ID, "transition", tr.ID, "index", i, "error", err)
					continue
				}
				return false, err
			}
			if d == nil {
				continue
			}
			derived++
			w.ops = append(w.ops, r.insertOp(w, d))
			if !owned && d.Pointer.RecordType == model.RecordCredits {
				received += d.Pointer.Amount
			}
		}
		if !owned && derived == 0 {
			continue
		}
		ours = true
		tp := model.TransitionPointer{
			TransactionID: tx.ID,
			TransitionID:  tr.ID,
			ProgramID:     tr.Program,
			FunctionID:    tr.Function,
			BlockHeight:   w.height,
			Direction:     direction(owned, tr),
			Created:       r.s.now(),
		}
		ev := model.EventExecute
		if !owned {
			tp.From = opts.from
			ev = model.EventReceive
		}
		w.ops = append(w.ops, r.insertRowOp(w, model.FlavourTransition, tp, rowMeta{
			event:     ev,
			programs:  []string{tr.Program},
			functions: []string{tr.Function},
		}))
		if !tr.IsFee() {
			executed = append(executed, model.ExecutedTransition{TransitionID: tr.ID, ProgramID: tr.Program, FunctionID: tr.Function})
			executedByUs = executedByUs || owned
		}
	}
	if !ours || !opts.synthesize {
		return ours, nil
	}

	now := r.s.now()
	state := model.StateConfirmed
	if opts.rejected {
		state = model.StateRejected
	}
	if opts.deploy != "" {
		dp := model.DeploymentPointer{
			TransactionID: tx.ID,
			ProgramID:     opts.deploy,
			State:         state,
			BlockHeight:   w.height,
			Created:       now,
			Finalized:     &now,
		}
		w.ops = append(w.ops, r.insertRowOp(w, model.FlavourDeployment, dp, rowMeta{
			event:    model.EventDeploy,
			state:    model.StatePtr(state),
			programs: []string{opts.deploy},
		}))
		return true, nil
	}

	tp := model.TransactionPointer{
		TransactionID:       tx.ID,
		State:               state,
		BlockHeight:         w.height,
		ExecutedTransitions: executed,
		Created:             now,
		Finalized:           &now,
		EventType:           model.EventReceive,
	}
	var programs, functions []string
	for _, e := range executed {
		programs = append(programs, e.ProgramID)
		functions = append(functions, e.FunctionID)
	}
	if len(executed) > 0 {
		tp.ProgramID, tp.FunctionID = executed[0].ProgramID, executed[0].FunctionID
	}
	if executedByUs {
		tp.EventType = model.EventExecute
		if strings.HasPrefix(tp.FunctionID, "transfer_") {
			tp.EventType = model.EventSend
		}
	}
	if received > 0 {
		tp.Amount = model.CreditsPtr(received)
	}
	w.ops = append(w.ops, r.insertRowOp(w, model.FlavourTransaction, tp, rowMeta{
		event:     tp.EventType,
		state:     model.StatePtr(state),
		programs:  programs,
		functions: functions,
	}))
	return true, nil
}

func direction(owned bool, tr chain.Transition) model.Direction {
	switch {
	case owned && tr.IsFee():
		return model.DirectionFee
	case owned:
		return model.DirectionInput
	}
	return model.DirectionOutput
}

func deployedProgram(ct chain.ConfirmedTransaction) string {
	if d := ct.Transaction.Deployment; d != nil {
		return d.ProgramID
	}
	if ct.Rejected != nil && ct.Rejected.Deployment != nil {
		return ct.Rejected.Deployment.ProgramID
	}
	return ""
}

// spendOp отмечает запись с тегом потраченной в цепочке. Тег, потраченный нашим переходом
// до сохранения самой записи, запоминается: запись будет сохранена сразу потраченной.
func (r *run) spendOp(tag string, owned bool) op {
	return func(ctx context.Context, tx *store.Store, itx *indexTx) error {
		rec, ok := itx.lookup(tag)
		if !ok {
			if owned {
				itx.markSpent(tag)
			}
			return nil
		}
		row, err := tx.Get(ctx, rec.rowID)
		if err != nil {
			if apperr.IsKind(err, apperr.NotFound) {
				return nil
			}
			return err
		}
		ptr, err := records.OpenRecord(r.s.prims, r.acct.ViewKey, row)
		if err != nil {
			return err
		}
		if ptr.SpentOnChain {
			return nil
		}
		ptr.Spent, ptr.SpentOnChain = true, true
		if err := r.rewriteRecord(ctx, tx, rec.rowID, ptr); err != nil {
			return err
		}
		switch ptr.RecordType {
		case model.RecordCredits, model.RecordToken:
			return r.s.ledger.In(tx).Sub(ctx, tokens.TokenName(ptr.ProgramID), ptr.Amount, r.acct.ViewKey)
		}
		return nil
	}
}

func (r *run) insertOp(w *blockWork, d *records.Derived) op {
	return func(ctx context.Context, tx *store.Store, itx *indexTx) error {
		if _, ok := itx.lookupNonce(d.Pointer.Nonce); ok {
			return nil
		}
		p := *d
		if itx.isSpent(p.Pointer.Tag) {
			p.Pointer.Spent, p.Pointer.SpentOnChain = true, true
		}
		rowID, err := r.s.records.Persist(ctx, tx, r.s.ledger, r.acct, &p)
		if err != nil || rowID == "" {
			return err
		}
		itx.put(indexedRecord{rowID: rowID, tag: p.Pointer.Tag, nonce: p.Pointer.Nonce})
		w.rows = append(w.rows, rowID)
		r.s.metrics.records.Inc()
		return nil
	}
}

func (r *run) insertRowOp(w *blockWork, flavour model.Flavour, v any, meta rowMeta) op {
	return func(ctx context.Context, tx *store.Store, _ *indexTx) error {
		ct, nonce, err := store.SealPointer(r.s.prims, r.acct.ViewKey, v)
		if err != nil {
			return err
		}
		row := &model.EncryptedRow{
			Owner:            r.acct.Address.String(),
			Network:          r.acct.Network,
			Ciphertext:       ct,
			Nonce:            nonce,
			Flavour:          flavour,
			EventType:        meta.event,
			TransactionState: meta.state,
		}
		row.SetPrograms(meta.programs, meta.functions)
		if _, err := tx.Insert(ctx, row); err != nil {
			return err
		}
		w.rows = append(w.rows, row.ID)
		return nil
	}
}

func (r *run) rewriteRecord(ctx context.Context, tx *store.Store, rowID string, ptr model.RecordPointer) error {
	ct, nonce, err := store.SealPointer(r.s.prims, r.acct.ViewKey, ptr)
	if err != nil {
		return err
	}
	spent := ptr.Spent
	return tx.Update(ctx, rowID, store.Change{Ciphertext: ct, Nonce: nonce, Spent: &spent})
}

// refund возвращает записи флаг spent=false, если трата не видна в цепочке.
func (r *run) refund(ctx context.Context, tx *store.Store, rowID string) error {
	row, err := tx.Get(ctx, rowID)
	if err != nil {
		if apperr.IsKind(err, apperr.NotFound) {
			return nil
		}
		return err
	}
	ptr, err := records.OpenRecord(r.s.prims, r.acct.ViewKey, row)
	if err != nil {
		return err
	}
	if ptr.SpentOnChain || !ptr.Spent {
		return nil
	}
	ptr.Spent = false
	return r.rewriteRecord(ctx, tx, rowID, ptr)
}

// planFinalize сводит указатель rowID с исходом status и разбирает переходы,
// которые всё же попали в цепочку (исполнение или одна только комиссия).
func (r *run) planFinalize(ctx context.Context, w *blockWork, rowID string, status chain.TransactionStatus) error {
	row, err := r.s.st.Get(ctx, rowID)
	if err != nil {
		return err
	}
	if row.Flavour != model.FlavourTransaction && row.Flavour != model.FlavourDeployment {
		return apperr.Newf(apperr.Internal, "row %s is %s, not a transaction", rowID, row.Flavour)
	}
	if row.TransactionState != nil && row.TransactionState.Terminal() {
		return nil
	}
	out := outcomeOf(status)
	if !status.Aborted {
		ct := status.Confirmed
		if ct.Status == chain.StatusRejected && ct.Rejected != nil {
			for _, tr := range ct.Rejected.Transitions() {
				if tr.IsFee() {
					continue
				}
				for _, in := range tr.Inputs {
					if in.Type == chain.IORecord && in.Tag != "" {
						out.refundTags = append(out.refundTags, in.Tag)
					}
				}
			}
		}
	}
	// переходы пишутся только вместе со сменой состояния: сканер и наблюдатель
	// могут свести один и тот же указатель одновременно
	landed := &blockWork{height: w.height}
	if !status.Aborted {
		if _, err := r.planTransaction(ctx, landed, status.Confirmed.Transaction, planOpts{}); err != nil {
			return err
		}
	}
	w.ops = append(w.ops, r.finishOp(w, rowID, row.Flavour, status, out, landed))
	return nil
}

type outcome struct {
	ev         txlife.Event
	msg        string
	refundTags []string
}

func outcomeOf(status chain.TransactionStatus) outcome {
	switch {
	case status.Aborted:
		return outcome{ev: txlife.EventAborted, msg: "Transaction aborted by the network"}
	case status.Confirmed.Status == chain.StatusRejected:
		return outcome{ev: txlife.EventRejected, msg: "Transaction rejected by the network"}
	}
	return outcome{ev: txlife.EventAccepted}
}

func (r *run) finishOp(w *blockWork, rowID string, flavour model.Flavour, status chain.TransactionStatus, out outcome, landed *blockWork) op {
	return func(ctx context.Context, tx *store.Store, itx *indexTx) error {
		row, err := tx.Get(ctx, rowID)
		if err != nil {
			return err
		}
		now := r.s.now()
		var (
			next    model.TxState
			txID    string
			errMsg  string
			refunds []string
			sealed  any
		)
		switch flavour {
		case model.FlavourDeployment:
			var ptr model.DeploymentPointer
			if err := store.OpenPointer(r.s.prims, r.acct.ViewKey, row, &ptr); err != nil {
				return err
			}
			var ok bool
			if next, ok = r.advance(rowID, ptr.State, out.ev); !ok {
				return nil
			}
			ptr.State, ptr.BlockHeight, ptr.Finalized = next, status.Height, &now
			ptr.Error = out.msg
			if out.ev == txlife.EventAborted && ptr.SpentFeeNonce != "" {
				refunds = []string{ptr.SpentFeeNonce}
			}
			txID, errMsg, sealed = ptr.TransactionID, ptr.Error, ptr
		default:
			var ptr model.TransactionPointer
			if err := store.OpenPointer(r.s.prims, r.acct.ViewKey, row, &ptr); err != nil {
				return err
			}
			var ok bool
			if next, ok = r.advance(rowID, ptr.State, out.ev); !ok {
				return nil
			}
			ptr.State, ptr.BlockHeight, ptr.Finalized = next, status.Height, &now
			ptr.Error = out.msg
			if status.Confirmed.UnconfirmedID != "" {
				ptr.UnconfirmedID = status.Confirmed.UnconfirmedID
			}
			switch out.ev {
			case txlife.EventAccepted:
				ptr.ExecutedTransitions = executedOf(status.Confirmed.Transaction)
			case txlife.EventRejected:
				refunds = ptr.SpentRecordNonces
			case txlife.EventAborted:
				refunds = ptr.HeldNonces()
			}
			txID, errMsg, sealed = ptr.TransactionID, ptr.Error, ptr
		}

		for _, nonce := range refunds {
			if rec, ok := itx.lookupNonce(nonce); ok {
				if err := r.refund(ctx, tx, rec.rowID); err != nil {
					return err
				}
			}
		}
		for _, tag := range out.refundTags {
			if rec, ok := itx.lookup(tag); ok {
				if err := r.refund(ctx, tx, rec.rowID); err != nil {
					return err
				}
			}
		}

		ct, nonce, err := store.SealPointer(r.s.prims, r.acct.ViewKey, sealed)
		if err != nil {
			return err
		}
		if err := tx.Update(ctx, rowID, store.Change{Ciphertext: ct, Nonce: nonce, State: &next}); err != nil {
			return err
		}
		landed.rows = landed.rows[:0]
		for _, o := range landed.ops {
			if err := o(ctx, tx, itx); err != nil {
				return err
			}
		}
		w.rows = append(w.rows, landed.rows...)
		r.s.logger.Infow("transaction finalized", "row", rowID, "tx", txID, "state", next)
		w.events = append(w.events, event.TxStateData{PointerID: rowID, TransactionID: txID, State: next, Error: errMsg})
		return nil
	}
}

// advance применяет событие; уже сведённый указатель пропускается без ошибки.
func (r *run) advance(rowID string, s model.TxState, ev txlife.Event) (model.TxState, bool) {
	if s.Terminal() {
		return s, false
	}
	next, err := txlife.Apply(s, ev)
	if err != nil {
		r.s.logger.Warnw("chain outcome ignored", "row", rowID, "state", s, "event", ev, "error", err)
		return s, false
	}
	return next, true
}

func executedOf(tx chain.Transaction) []model.ExecutedTransition {
	var out []model.ExecutedTransition
	for _, tr := range tx.Transitions() {
		if tr.IsFee() {
			continue
		}
		out = append(out, model.ExecutedTransition{TransitionID: tr.ID, ProgramID: tr.Program, FunctionID: tr.Function})
	}
	return out
}
