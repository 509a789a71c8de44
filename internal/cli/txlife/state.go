package txlife

import (
	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/model"
)

// Event — то, что двигает транзакцию по жизненному циклу.
type Event string

const (
	EventBroadcast   Event = "broadcast"
	EventBuildFailed Event = "build_failed"
	EventAccepted    Event = "accepted"
	EventRejected    Event = "rejected"
	EventAborted     Event = "aborted"
	EventUnconfirmed Event = "unconfirmed"
	EventCancel      Event = "cancel"
)

type edge struct {
	from model.TxState
	ev   Event
}

var transitions = map[edge]model.TxState{
	{model.StateProcessing, EventBroadcast}:   model.StatePending,
	{model.StateProcessing, EventBuildFailed}: model.StateFailed,
	{model.StateProcessing, EventCancel}:      model.StateCancelled,

	{model.StatePending, EventAccepted}:    model.StateConfirmed,
	{model.StatePending, EventRejected}:    model.StateRejected,
	{model.StatePending, EventAborted}:     model.StateAborted,
	{model.StatePending, EventUnconfirmed}: model.StateFailed,

	// поздний блок доказывает исход транзакции, уже признанной неподтверждённой
	{model.StateFailed, EventAccepted}: model.StateConfirmed,
	{model.StateFailed, EventRejected}: model.StateRejected,
	{model.StateFailed, EventAborted}:  model.StateAborted,
}

// Apply возвращает следующее состояние или Internal, если переход запрещён.
func Apply(s model.TxState, e Event) (model.TxState, error) {
	next, ok := transitions[edge{s, e}]
	if !ok {
		return s, apperr.Newf(apperr.Internal, "transition %s --%s--> is not allowed", s, e)
	}
	return next, nil
}

// CanApply reports whether e moves s anywhere.
func CanApply(s model.TxState, e Event) bool {
	_, ok := transitions[edge{s, e}]
	return ok
}
