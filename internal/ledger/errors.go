package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ledger failures. Callers match kinds with errors.Is
// against the sentinel values below.
type ErrorKind uint8

const (
	KindInvalidAmount ErrorKind = iota + 1
	KindUnbound
	KindSyncFailed
	KindPersistenceFailed
	KindLimitReached
	KindDuplicate
	KindStale
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidAmount:
		return "invalid_amount"
	case KindUnbound:
		return "unbound"
	case KindSyncFailed:
		return "sync_failed"
	case KindPersistenceFailed:
		return "persistence_failed"
	case KindLimitReached:
		return "limit_reached"
	case KindDuplicate:
		return "duplicate"
	case KindStale:
		return "stale"
	default:
		return "unknown"
	}
}

// FailureReason qualifies KindSyncFailed.
type FailureReason string

const (
	ReasonNetwork FailureReason = "network"
	ReasonStore   FailureReason = "store"
	ReasonTimeout FailureReason = "timeout"
)

// Error is the ledger error value.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason FailureReason
	Err    error
}

// Sentinels for errors.Is. They carry no Op, so they match any Error of the
// same kind.
var (
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount}
	ErrUnbound           = &Error{Kind: KindUnbound}
	ErrSyncFailed        = &Error{Kind: KindSyncFailed}
	ErrPersistenceFailed = &Error{Kind: KindPersistenceFailed}
	ErrLimitReached      = &Error{Kind: KindLimitReached}
	ErrDuplicate         = &Error{Kind: KindDuplicate}
	ErrStale             = &Error{Kind: KindStale}
)

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NewSyncError builds a KindSyncFailed error with its reason.
func NewSyncError(op string, reason FailureReason, err error) *Error {
	return &Error{Kind: KindSyncFailed, Op: op, Reason: reason, Err: err}
}

// NewPersistenceError builds a KindPersistenceFailed error.
func NewPersistenceError(op string, err error) *Error {
	return newError(KindPersistenceFailed, op, err)
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += "(" + string(e.Reason) + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an Error of the same kind. A target with a
// Reason only matches errors carrying the same reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// KindOf returns the kind of err if it is (or wraps) a ledger Error.
func KindOf(err error) (ErrorKind, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}
