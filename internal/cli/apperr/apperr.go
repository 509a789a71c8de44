// Package apperr описывает таксономию ошибок ядра кошелька.
package apperr

import (
	"errors"
	"fmt"
)

// Kind — класс ошибки, по которому вызывающий код решает, что показать пользователю.
type Kind string

const (
	Unauthorized        Kind = "Unauthorized"
	Validation          Kind = "Validation"
	NotFound            Kind = "NotFound"
	InsufficientBalance Kind = "InsufficientBalance"
	JoinRequired        Kind = "JoinRequired"
	External            Kind = "External"
	Node                Kind = "Node"
	Internal            Kind = "Internal"
	SnarkVm             Kind = "SnarkVm"
)

// Error carries an internal message for logs and an external one for the user.
type Error struct {
	Kind        Kind
	InternalMsg string
	ExternalMsg string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.InternalMsg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.InternalMsg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает ошибки по Kind, чтобы работал errors.Is(err, apperr.New(kind, "", "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New создаёт ошибку без причины.
func New(kind Kind, internal, external string) *Error {
	return &Error{Kind: kind, InternalMsg: internal, ExternalMsg: external}
}

// Newf — New с форматированием внутреннего сообщения; внешнее сообщение совпадает с ним.
func Newf(kind Kind, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Kind: kind, InternalMsg: msg, ExternalMsg: msg}
}

// Wrap оборачивает причину. Уже классифицированную ошибку возвращает как есть.
func Wrap(kind Kind, err error, external string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kind, InternalMsg: err.Error(), ExternalMsg: external, Err: err}
}

// KindOf returns Internal for errors that were never classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Internal
}

// IsKind reports whether err (or anything it wraps) has the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// ExternalMessage возвращает сообщение, пригодное для пользователя.
func ExternalMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.ExternalMsg != "" {
		return ae.ExternalMsg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
