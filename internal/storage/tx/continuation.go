package tx

import (
	"go.uber.org/atomic"
)

// Continuation is a detached transaction: the transaction itself plus the
// per-component state captured by Detach. It is handed to the execution
// context that resumes the work, for example over a channel, and can be
// attached exactly once.
type Continuation struct {
	txn      *Transaction
	states   map[string]interface{}
	consumed *atomic.Bool
}

// TransactionID returns the id of the captured transaction.
func (c *Continuation) TransactionID() uint64 {
	return c.txn.id
}

// Mode returns the mode of the captured transaction.
func (c *Continuation) Mode() Mode {
	return c.txn.Mode()
}

// Used reports whether the continuation has been attached.
func (c *Continuation) Used() bool {
	return c.consumed.Load()
}
