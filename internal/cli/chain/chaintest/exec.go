package chaintest

import (
	"context"
	"fmt"
	"strings"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/crypto"
)

type builder struct {
	l      *Ledger
	pk     crypto.PrivateKey
	vk     crypto.ViewKey
	caller crypto.Address
}

func (l *Ledger) builder(privateKey string) (*builder, error) {
	pk, err := crypto.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "invalid private key")
	}
	return &builder{l: l, pk: pk, vk: pk.ViewKey(), caller: pk.Address()}, nil
}

func (b *builder) transition(program, function string) (chain.Transition, crypto.TransitionKeys, error) {
	keys, err := crypto.NewTransitionKeys(b.caller)
	if err != nil {
		return chain.Transition{}, keys, apperr.Wrap(apperr.SnarkVm, err, "")
	}
	return chain.Transition{
		ID:       newID("au1"),
		Program:  program,
		Function: function,
		TPK:      keys.TPK,
		TCM:      keys.TCM,
	}, keys, nil
}

// spend проверяет, что запись существует, принадлежит вызывающему и не потрачена.
func (b *builder) spend(in chain.RecordInput, program string, pending map[string]bool) (chain.Input, error) {
	if in.Record.Owner != b.caller.String() {
		return chain.Input{}, apperr.New(apperr.Node, "record owner mismatch", "Record does not belong to the caller")
	}
	if crypto.Commitment(program, in.Record) != in.Commitment || !b.l.commitments[in.Commitment] {
		return chain.Input{}, apperr.New(apperr.Node, "unknown record commitment", "Record not found on chain")
	}
	tag := crypto.Tag(b.vk, in.Commitment)
	if b.l.spentTags[tag] || pending[tag] {
		return chain.Input{}, apperr.New(apperr.Node, "record already spent", "Record already spent")
	}
	return chain.Input{Type: chain.IORecord, ID: newID("sn1"), Tag: tag}, nil
}

func (b *builder) privateIn(keys crypto.TransitionKeys, program, function string, idx int, value string) (chain.Input, error) {
	ct, err := crypto.SealOutput(value, keys.TVK, program, function, idx)
	if err != nil {
		return chain.Input{}, apperr.Wrap(apperr.SnarkVm, err, "")
	}
	return chain.Input{Type: chain.IOPrivate, ID: newID("in1"), Value: ct}, nil
}

func (b *builder) recordOut(program string, owner crypto.Address, amount uint64) (chain.Output, string, error) {
	name, field := "token", "amount"
	if chain.IsCredits(program) {
		name, field = chain.CreditsRecordName, "microcredits"
	}
	ct, rec, err := crypto.EncryptRecord(owner, name, []chain.Entry{{Name: field, Value: chain.U64(amount)}})
	if err != nil {
		return chain.Output{}, "", apperr.Wrap(apperr.SnarkVm, err, "")
	}
	cm := crypto.Commitment(program, rec)
	return chain.Output{Type: chain.IORecord, ID: cm, Value: ct}, cm, nil
}

// pendingTags — теги, уже занятые транзакциями мемпула.
func (l *Ledger) pendingTags() map[string]bool {
	tags := map[string]bool{}
	for _, p := range l.mempool {
		for _, t := range p.acceptTags {
			tags[t] = true
		}
		for _, t := range p.rejectTags {
			tags[t] = true
		}
	}
	return tags
}

func (l *Ledger) takeBroadcastErr() error {
	err := l.broadcastErr
	l.broadcastErr = nil
	return err
}

// fee строит переход комиссии для принятого и отклонённого исходов.
// combined — комиссия оплачивается той же записью, что и перевод: при принятии
// она вычтена из сдачи, при отклонении запись тратит переход комиссии.
func (b *builder) fee(opts chain.FeeOptions, combined bool, pending map[string]bool, p *pendingTx) (chain.Transition, error) {
	function := "fee_public"
	if opts.Private {
		function = "fee_private"
	}
	tr, keys, err := b.transition(chain.CreditsProgram, function)
	if err != nil {
		return tr, err
	}
	amountIn, err := b.privateIn(keys, chain.CreditsProgram, function, 0, chain.U64(opts.Amount))
	if err != nil {
		return tr, err
	}

	if !opts.Private {
		tr.Inputs = []chain.Input{amountIn}
		tr.Outputs = []chain.Output{{Type: chain.IOFuture, ID: newID("fu1")}}
		p.acceptPublic[b.caller.String()] -= int64(opts.Amount)
		p.rejectPublic[b.caller.String()] -= int64(opts.Amount)
		rejected := tr
		p.rejectFee = &rejected
		return tr, nil
	}
	if opts.Record == nil {
		return tr, apperr.New(apperr.Validation, "private fee without record", "A record is required to pay a private fee")
	}
	have, ok := opts.Record.Record.Amount()
	if !ok || have < opts.Amount {
		return tr, apperr.New(apperr.Node, "fee record too small", "Fee record does not cover the fee")
	}
	var input chain.Input
	if combined {
		// запись уже проверена как вход перевода
		input = chain.Input{Type: chain.IORecord, ID: newID("sn1"), Tag: crypto.Tag(b.vk, opts.Record.Commitment)}
	} else if input, err = b.spend(*opts.Record, chain.CreditsProgram, pending); err != nil {
		return tr, err
	}
	change, cm, err := b.recordOut(chain.CreditsProgram, b.caller, have-opts.Amount)
	if err != nil {
		return tr, err
	}
	paid := tr
	paid.Inputs = []chain.Input{input, amountIn}
	paid.Outputs = []chain.Output{change}

	rejected := paid
	p.rejectFee = &rejected
	p.rejectTags = append(p.rejectTags, input.Tag)
	p.rejectCommitments = append(p.rejectCommitments, cm)

	if combined {
		tr.Inputs = []chain.Input{amountIn}
		return tr, nil
	}
	p.acceptTags = append(p.acceptTags, input.Tag)
	p.acceptCommitments = append(p.acceptCommitments, cm)
	return paid, nil
}

func (b *builder) checkPublic(p *pendingTx) error {
	for addr, delta := range p.acceptPublic {
		if delta < 0 && b.l.public[addr] < uint64(-delta) {
			return apperr.New(apperr.Node, "insufficient public balance", "Insufficient public balance")
		}
	}
	return nil
}

func newPending() *pendingTx {
	return &pendingTx{acceptPublic: map[string]int64{}, rejectPublic: map[string]int64{}}
}

func (l *Ledger) enqueue(p *pendingTx) string {
	p.outcome = l.next
	l.next = Accept
	l.mempool = append(l.mempool, p)
	return p.tx.ID
}

func (l *Ledger) Transfer(ctx context.Context, req chain.TransferRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeBroadcastErr(); err != nil {
		return "", err
	}
	b, err := l.builder(req.PrivateKey)
	if err != nil {
		return "", err
	}
	recipient, err := crypto.ParseAddress(req.Recipient)
	if err != nil {
		return "", apperr.Wrap(apperr.Validation, err, "Invalid recipient address")
	}
	program := req.ProgramID
	if program == "" {
		program = chain.CreditsProgram
	}
	if _, ok := l.programs[program]; !ok {
		return "", apperr.Newf(apperr.Node, "program %s not deployed", program)
	}

	pending := l.pendingTags()
	p := newPending()
	function := string(req.Kind)
	tr, keys, err := b.transition(program, function)
	if err != nil {
		return "", err
	}
	combined := req.Input != nil && req.Fee.Private && req.Fee.Record != nil &&
		req.Fee.Record.Commitment == req.Input.Commitment
	var feeFromChange uint64
	if combined {
		feeFromChange = req.Fee.Amount
	}
	toIn, err := b.privateIn(keys, program, function, 1, recipient.String())
	if err != nil {
		return "", err
	}
	amountIn, err := b.privateIn(keys, program, function, 2, chain.U64(req.Amount))
	if err != nil {
		return "", err
	}

	switch req.Kind {
	case chain.TransferPrivate, chain.TransferPrivateToPublic:
		if req.Input == nil {
			return "", apperr.New(apperr.Validation, "transfer without input record", "A record is required for private transfers")
		}
		have, ok := req.Input.Record.Amount()
		if !ok || have < req.Amount+feeFromChange {
			return "", apperr.New(apperr.Node, "input record too small", "Record does not cover the amount")
		}
		spent, err := b.spend(*req.Input, program, pending)
		if err != nil {
			return "", err
		}
		tr.Inputs = []chain.Input{spent, toIn, amountIn}
		if req.Kind == chain.TransferPrivate {
			out, cm, err := b.recordOut(program, recipient, req.Amount)
			if err != nil {
				return "", err
			}
			tr.Outputs = append(tr.Outputs, out)
			p.acceptCommitments = append(p.acceptCommitments, cm)
		} else {
			if !chain.IsCredits(program) {
				return "", apperr.New(apperr.Validation, "private to public for token", "Only credits can be made public")
			}
			p.acceptPublic[recipient.String()] += int64(req.Amount)
		}
		change, cm, err := b.recordOut(program, b.caller, have-req.Amount-feeFromChange)
		if err != nil {
			return "", err
		}
		tr.Outputs = append(tr.Outputs, change)
		if req.Kind == chain.TransferPrivateToPublic {
			tr.Outputs = append(tr.Outputs, chain.Output{Type: chain.IOFuture, ID: newID("fu1")})
		}
		p.acceptCommitments = append(p.acceptCommitments, cm)
		p.acceptTags = append(p.acceptTags, spent.Tag)
		pending[spent.Tag] = true
	case chain.TransferPublic, chain.TransferPublicToPrivate:
		if !chain.IsCredits(program) {
			return "", apperr.Newf(apperr.Validation, "%s is only supported for credits", req.Kind)
		}
		tr.Inputs = []chain.Input{toIn, amountIn}
		p.acceptPublic[b.caller.String()] -= int64(req.Amount)
		if req.Kind == chain.TransferPublic {
			p.acceptPublic[recipient.String()] += int64(req.Amount)
			tr.Outputs = []chain.Output{{Type: chain.IOFuture, ID: newID("fu1")}}
		} else {
			out, cm, err := b.recordOut(program, recipient, req.Amount)
			if err != nil {
				return "", err
			}
			tr.Outputs = []chain.Output{out, {Type: chain.IOFuture, ID: newID("fu1")}}
			p.acceptCommitments = append(p.acceptCommitments, cm)
		}
	default:
		return "", apperr.Newf(apperr.Validation, "unknown transfer kind %q", req.Kind)
	}

	feeTr, err := b.fee(req.Fee, combined, pending, p)
	if err != nil {
		return "", err
	}
	if err := b.checkPublic(p); err != nil {
		return "", err
	}
	p.tx = chain.Transaction{
		Type:      chain.TypeExecute,
		ID:        newID("at1"),
		Execution: &chain.Execution{Transitions: []chain.Transition{tr}},
		Fee:       &chain.Fee{Transition: feeTr},
	}
	return l.enqueue(p), nil
}

// ExecuteProgram исполняет функцию программы. credits.aleo/join и split
// пересобирают записи; остальные функции возвращают потреблённые записи владельцу.
func (l *Ledger) ExecuteProgram(ctx context.Context, req chain.ExecuteRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeBroadcastErr(); err != nil {
		return "", err
	}
	b, err := l.builder(req.PrivateKey)
	if err != nil {
		return "", err
	}
	prog, ok := l.programs[req.ProgramID]
	if !ok {
		return "", apperr.Newf(apperr.Node, "program %s not deployed", req.ProgramID)
	}
	if !hasFunction(prog, req.Function) {
		return "", apperr.Newf(apperr.Node, "function %s/%s not found", req.ProgramID, req.Function)
	}

	pending := l.pendingTags()
	p := newPending()
	tr, keys, err := b.transition(req.ProgramID, req.Function)
	if err != nil {
		return "", err
	}
	var total uint64
	for _, in := range req.Records {
		spent, err := b.spend(in, req.ProgramID, pending)
		if err != nil {
			return "", err
		}
		pending[spent.Tag] = true
		p.acceptTags = append(p.acceptTags, spent.Tag)
		tr.Inputs = append(tr.Inputs, spent)
		if v, ok := in.Record.Amount(); ok {
			total += v
		}
	}
	for i, v := range req.Inputs {
		in, err := b.privateIn(keys, req.ProgramID, req.Function, len(req.Records)+i, v)
		if err != nil {
			return "", err
		}
		tr.Inputs = append(tr.Inputs, in)
	}

	var amounts []uint64
	switch {
	case chain.IsCredits(req.ProgramID) && req.Function == "join":
		amounts = []uint64{total}
	case chain.IsCredits(req.ProgramID) && req.Function == "split":
		if len(req.Records) != 1 || len(req.Inputs) != 1 {
			return "", apperr.New(apperr.Validation, "split takes one record and an amount", "")
		}
		first, err := chain.ParseU64(req.Inputs[0])
		if err != nil || first > total {
			return "", apperr.New(apperr.Validation, "invalid split amount", "Invalid split amount")
		}
		amounts = []uint64{first, total - first}
	default:
		for _, in := range req.Records {
			v, _ := in.Record.Amount()
			amounts = append(amounts, v)
		}
	}
	for _, a := range amounts {
		out, cm, err := b.recordOut(req.ProgramID, b.caller, a)
		if err != nil {
			return "", err
		}
		tr.Outputs = append(tr.Outputs, out)
		p.acceptCommitments = append(p.acceptCommitments, cm)
	}

	feeTr, err := b.fee(req.Fee, false, pending, p)
	if err != nil {
		return "", err
	}
	if err := b.checkPublic(p); err != nil {
		return "", err
	}
	p.tx = chain.Transaction{
		Type:      chain.TypeExecute,
		ID:        newID("at1"),
		Execution: &chain.Execution{Transitions: []chain.Transition{tr}},
		Fee:       &chain.Fee{Transition: feeTr},
	}
	return l.enqueue(p), nil
}

func (l *Ledger) DeployProgram(ctx context.Context, req chain.DeployRequest) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeBroadcastErr(); err != nil {
		return "", err
	}
	b, err := l.builder(req.PrivateKey)
	if err != nil {
		return "", err
	}
	id := req.Program.ID
	if !strings.HasSuffix(id, ".aleo") {
		return "", apperr.New(apperr.Validation, fmt.Sprintf("invalid program id %q", id), "Invalid program id")
	}
	if _, ok := l.programs[id]; ok {
		return "", apperr.Newf(apperr.Node, "program %s already deployed", id)
	}
	p := newPending()
	feeTr, err := b.fee(req.Fee, false, l.pendingTags(), p)
	if err != nil {
		return "", err
	}
	if err := b.checkPublic(p); err != nil {
		return "", err
	}
	prog := req.Program
	p.deploy = &prog
	p.tx = chain.Transaction{
		Type:       chain.TypeDeploy,
		ID:         newID("at1"),
		Deployment: &chain.Deployment{ProgramID: id, Edition: 0, Program: req.Source},
		Fee:        &chain.Fee{Transition: feeTr},
	}
	return l.enqueue(p), nil
}

func hasFunction(p chain.Program, name string) bool {
	for _, fn := range p.Functions {
		if fn.Name == name {
			return true
		}
	}
	return false
}
