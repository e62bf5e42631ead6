package tx

import (
	"fmt"

	"github.com/pkg/errors"
)

// Transaction protocol errors. Wrong-state calls return them wrapped in a
// *TransactionError.
var (
	ErrNotInTransaction     = errors.New("not in a transaction")
	ErrAlreadyInTransaction = errors.New("already in a transaction")
	ErrNotDetached          = errors.New("transaction is not detached")
	ErrAlreadyAttached      = errors.New("continuation already attached")
	ErrDetached             = errors.New("transaction is detached")
	ErrShutdown             = errors.New("transaction coordinator is shut down")
	ErrNotStarted           = errors.New("transaction coordinator is not started")
	ErrAlreadyStarted       = errors.New("transaction coordinator already started")
	ErrInvalidState         = errors.New("invalid transaction state")
	ErrPrepareFailed        = errors.New("prepare failed")
	ErrJournalFailed        = errors.New("journal write failed")
	ErrCommitInProgress     = errors.New("commit in progress")
	ErrReadOnly             = errors.New("write in a read transaction")
	ErrNilTransaction       = errors.New("transaction is nil")
	ErrDuplicateComponent   = errors.New("component already enlisted")
	ErrUnknownComponent     = errors.New("unknown component in journal")
)

// TransactionError reports a transaction protocol violation or a failed
// commit step. Err is one of the sentinels above; Cause, when set, is the
// underlying failure that triggered it.
type TransactionError struct {
	Label string
	Op    string
	State State
	Err   error
	Cause error
}

func (e *TransactionError) Error() string {
	msg := fmt.Sprintf("%s: %s: %v", e.Label, e.Op, e.Err)
	if e.State != stateNone {
		msg += fmt.Sprintf(" (state %s)", e.State)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *TransactionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func newTxnError(label, op string, err error) *TransactionError {
	return &TransactionError{Label: label, Op: op, Err: err}
}

func stateError(label, op string, s State) *TransactionError {
	return &TransactionError{Label: label, Op: op, State: s, Err: ErrInvalidState}
}

// IsTransactionError reports whether err is, or wraps, a *TransactionError.
func IsTransactionError(err error) bool {
	var te *TransactionError
	return errors.As(err, &te)
}
