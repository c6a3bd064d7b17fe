package ports

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. Every kind aborts the operation with no state change.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindAuthorization       ErrorKind = "authorization"
	KindInactiveGame        ErrorKind = "inactive_game"
	KindOracle              ErrorKind = "oracle"
	KindInsufficientPayment ErrorKind = "insufficient_payment"
	KindTransfer            ErrorKind = "transfer"
)

// Error is a typed engine failure. errors.Is matches on Kind against the sentinels below.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrAuthorization       = &Error{Kind: KindAuthorization}
	ErrInactiveGame        = &Error{Kind: KindInactiveGame}
	ErrOracle              = &Error{Kind: KindOracle}
	ErrInsufficientPayment = &Error{Kind: KindInsufficientPayment}
	ErrTransfer            = &Error{Kind: KindTransfer}
)

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// NewError builds a typed error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches cause to a typed error.
func WrapError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" for infrastructure errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
