package model

// Flavour — вид зашифрованной строки.
type Flavour string

const (
	FlavourRecord             Flavour = "record"
	FlavourTransition         Flavour = "transition"
	FlavourTransaction        Flavour = "transaction"
	FlavourDeployment         Flavour = "deployment"
	FlavourTransactionMessage Flavour = "transaction_message"
)

// RecordType — рекомендательная классификация записи.
type RecordType string

const (
	RecordCredits RecordType = "credits"
	RecordToken   RecordType = "token"
	RecordNFT     RecordType = "nft"
	RecordNone    RecordType = "none"
)

type EventType string

const (
	EventSend    EventType = "send"
	EventReceive EventType = "receive"
	EventExecute EventType = "execute"
	EventDeploy  EventType = "deploy"
)

// TxState — состояние транзакции или деплоя в жизненном цикле.
type TxState string

const (
	StateProcessing TxState = "processing"
	StatePending    TxState = "pending"
	StateConfirmed  TxState = "confirmed"
	StateRejected   TxState = "rejected"
	StateAborted    TxState = "aborted"
	StateFailed     TxState = "failed"
	StateCancelled  TxState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s TxState) Terminal() bool {
	switch s {
	case StateConfirmed, StateRejected, StateAborted, StateCancelled:
		return true
	}
	return false
}

// Direction — роль перехода относительно кошелька.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
	DirectionEvent  Direction = "event"
	DirectionFee    Direction = "fee"
)
