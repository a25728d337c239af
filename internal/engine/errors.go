package engine

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindSelfTransfer      Kind = "self_transfer"
	KindInvalidRole       Kind = "invalid_role"
	KindAmountFormat      Kind = "amount_format"
	KindStorage           Kind = "storage"
)

// Error is returned by every engine operation. Kind tells the caller whether
// retrying with different input or in a different state can succeed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrConflict) works
// for any conflict regardless of op and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Msg != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrSelfTransfer      = &Error{Kind: KindSelfTransfer}
	ErrInvalidRole       = &Error{Kind: KindInvalidRole}
	ErrAmountFormat      = &Error{Kind: KindAmountFormat}
	ErrStorage           = &Error{Kind: KindStorage}
)

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func fail(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func storageErr(op, what string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Msg: what, Err: err}
}
