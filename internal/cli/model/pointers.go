package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// RecordPointer — минимум данных, чтобы снова получить запись из цепочки и потратить её.
type RecordPointer struct {
	BlockHeight   uint32     `json:"block_height"`
	TransactionID string     `json:"transaction_id"`
	TransitionID  string     `json:"transition_id"`
	Commitment    string     `json:"commitment"`
	Tag           string     `json:"tag"`
	OutputIndex   int        `json:"output_index"`
	Owner         string     `json:"owner"`
	RecordType    RecordType `json:"record_type"`
	ProgramID     string     `json:"program_id"`
	FunctionID    string     `json:"function_id"`
	Spent         bool       `json:"spent"`
	// SpentOnChain выставляется только когда трата видна в цепочке; откаты его не сбрасывают.
	SpentOnChain bool   `json:"spent_on_chain,omitempty"`
	RecordName   string `json:"record_name"`
	Nonce        string `json:"nonce"`
	Amount       uint64 `json:"amount,omitempty"`
}

type ExecutedTransition struct {
	TransitionID string `json:"transition_id"`
	ProgramID    string `json:"program_id"`
	FunctionID   string `json:"function_id"`
}

// TransactionPointer — локальная запись об исполнении или переводе.
// Amount и Fee хранятся в кредитах.
type TransactionPointer struct {
	To                  string               `json:"to,omitempty"`
	TransactionID       string               `json:"tx_id,omitempty"`
	UnconfirmedID       string               `json:"unconfirmed_id,omitempty"`
	State               TxState              `json:"state"`
	BlockHeight         uint32               `json:"block_height,omitempty"`
	ProgramID           string               `json:"program_id,omitempty"`
	FunctionID          string               `json:"function_id,omitempty"`
	ExecutedTransitions []ExecutedTransition `json:"executed_transitions,omitempty"`
	Created             time.Time            `json:"created"`
	Finalized           *time.Time           `json:"finalized,omitempty"`
	Message             string               `json:"message,omitempty"`
	EventType           EventType            `json:"event_type"`
	Amount              *float64             `json:"amount,omitempty"`
	Fee                 *float64             `json:"fee,omitempty"`
	SpentRecordNonces   []string             `json:"spent_record_nonces,omitempty"`
	SpentFeeNonce       string               `json:"spent_fee_nonce,omitempty"`
	Error               string               `json:"error,omitempty"`
}

// HeldNonces возвращает все записи, удерживаемые транзакцией до подтверждения.
func (p TransactionPointer) HeldNonces() []string {
	out := append([]string(nil), p.SpentRecordNonces...)
	if p.SpentFeeNonce != "" && !contains(out, p.SpentFeeNonce) {
		out = append(out, p.SpentFeeNonce)
	}
	return out
}

type DeploymentPointer struct {
	TransactionID string     `json:"tx_id,omitempty"`
	ProgramID     string     `json:"program_id"`
	Fee           float64    `json:"fee"`
	State         TxState    `json:"state"`
	BlockHeight   uint32     `json:"block_height,omitempty"`
	SpentFeeNonce string     `json:"spent_fee_nonce,omitempty"`
	Created       time.Time  `json:"created"`
	Finalized     *time.Time `json:"finalized,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type TransitionPointer struct {
	TransactionID string    `json:"transaction_id"`
	TransitionID  string    `json:"transition_id"`
	ProgramID     string    `json:"program_id"`
	FunctionID    string    `json:"function_id"`
	BlockHeight   uint32    `json:"block_height"`
	Direction     Direction `json:"direction"`
	From          string    `json:"from,omitempty"`
	Created       time.Time `json:"created"`
}

// TransactionMessage — уведомление от отправителя о переводе получателю.
type TransactionMessage struct {
	TransactionID string `json:"tx_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Message       string `json:"message,omitempty"`
}

// Credits переводит микрокредиты в кредиты.
func Credits(micro uint64) float64 {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(micro), -6).InexactFloat64()
}

// CreditsPtr — Credits для необязательных полей.
func CreditsPtr(micro uint64) *float64 {
	v := Credits(micro)
	return &v
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
