// Package chain описывает формат блоков, транзакций и программ сети,
// а также интерфейс клиента узла, через который кошелёк читает цепочку и отправляет транзакции.
package chain

import (
	"fmt"
	"strconv"
	"strings"
)

// CreditsProgram — системная программа нативной монеты.
const CreditsProgram = "credits.aleo"

// CreditsRecordName — имя записи нативной монеты.
const CreditsRecordName = "credits"

// IsCredits reports whether id names the credits program.
func IsCredits(id string) bool {
	return id == CreditsProgram || id == "credits"
}

const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusAborted  = "aborted"

	TypeExecute = "execute"
	TypeDeploy  = "deploy"
	TypeFee     = "fee"
)

// Типы входов и выходов переходов.
const (
	IOPublic   = "public"
	IOPrivate  = "private"
	IORecord   = "record"
	IOExternal = "external_record"
	IOFuture   = "future"
	IOConstant = "constant"
)

type Block struct {
	Height                uint32                 `json:"height"`
	Hash                  string                 `json:"block_hash"`
	Timestamp             int64                  `json:"timestamp"`
	Transactions          []ConfirmedTransaction `json:"transactions"`
	AbortedTransactionIDs []string               `json:"aborted_transaction_ids,omitempty"`
}

// ConfirmedTransaction — транзакция в составе блока.
// Для отклонённой транзакции Transaction содержит только комиссию,
// а Rejected — исходное исполнение или деплой.
type ConfirmedTransaction struct {
	Status        string       `json:"status"`
	Type          string       `json:"type"`
	Index         int          `json:"index"`
	Transaction   Transaction  `json:"transaction"`
	Rejected      *Transaction `json:"rejected,omitempty"`
	UnconfirmedID string       `json:"unconfirmed_transaction_id,omitempty"`
}

type Transaction struct {
	Type       string      `json:"type"`
	ID         string      `json:"id"`
	Execution  *Execution  `json:"execution,omitempty"`
	Deployment *Deployment `json:"deployment,omitempty"`
	Fee        *Fee        `json:"fee,omitempty"`
}

type Execution struct {
	Transitions []Transition `json:"transitions"`
}

type Deployment struct {
	ProgramID string `json:"program_id"`
	Edition   int    `json:"edition"`
	Program   string `json:"program,omitempty"`
}

type Fee struct {
	Transition Transition `json:"transition"`
}

// Transitions возвращает переходы исполнения и, если есть, переход комиссии последним.
func (t Transaction) Transitions() []Transition {
	var out []Transition
	if t.Execution != nil {
		out = append(out, t.Execution.Transitions...)
	}
	if t.Fee != nil {
		out = append(out, t.Fee.Transition)
	}
	return out
}

type Transition struct {
	ID       string   `json:"id"`
	Program  string   `json:"program"`
	Function string   `json:"function"`
	Inputs   []Input  `json:"inputs"`
	Outputs  []Output `json:"outputs"`
	TPK      string   `json:"tpk"`
	TCM      string   `json:"tcm"`
}

// IsFee reports whether the transition pays a transaction fee.
func (t Transition) IsFee() bool {
	return IsCredits(t.Program) && (t.Function == "fee_private" || t.Function == "fee_public")
}

type Input struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Tag   string `json:"tag,omitempty"`
	Value string `json:"value,omitempty"`
}

// Output.ID для выхода-записи — коммитмент записи.
type Output struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Value string `json:"value,omitempty"`
}

// TransactionStatus — ответ узла на запрос транзакции по id.
type TransactionStatus struct {
	Height      uint32               `json:"height"`
	Confirmed   ConfirmedTransaction `json:"confirmed"`
	Aborted     bool                 `json:"aborted,omitempty"`
	BlockHeight uint32               `json:"block_height,omitempty"`
}

type Program struct {
	ID        string     `json:"id"`
	Functions []Function `json:"functions"`
	Records   []RecordDef `json:"records"`
	Mappings  []string   `json:"mappings,omitempty"`
}

type Function struct {
	Name    string   `json:"name"`
	Outputs []string `json:"outputs,omitempty"`
}

type RecordDef struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// Record returns the definition of the named record, if any.
func (p Program) Record(name string) (RecordDef, bool) {
	for _, r := range p.Records {
		if r.Name == name {
			return r, true
		}
	}
	return RecordDef{}, false
}

// ParseU64 разбирает литерал вида "1000u64", "1000u64.private" или "1000".
func ParseU64(literal string) (uint64, error) {
	s := strings.TrimSpace(literal)
	s = strings.TrimSuffix(s, ".private")
	s = strings.TrimSuffix(s, ".public")
	s = strings.TrimSuffix(s, "u64")
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse u64 literal %q: %w", literal, err)
	}
	return v, nil
}

// U64 форматирует число как приватный литерал.
func U64(v uint64) string {
	return strconv.FormatUint(v, 10) + "u64.private"
}
