package tx

import (
	"context"

	"go.uber.org/atomic"
)

// Base is the caller-facing transactional surface over a Coordinator.
// Each execution context obtains its own Session, which holds that
// context's current transaction.
type Base struct {
	label    string
	coord    *Coordinator
	shutdown *atomic.Bool
}

// NewBase creates a Base over coord. The coordinator must be started.
func NewBase(label string, coord *Coordinator) *Base {
	return &Base{
		label:    label,
		coord:    coord,
		shutdown: atomic.NewBool(false),
	}
}

// Label returns the base label.
func (b *Base) Label() string {
	return b.label
}

// Coordinator returns the underlying coordinator.
func (b *Base) Coordinator() *Coordinator {
	return b.coord
}

// NewSession returns an empty session. A session is owned by one goroutine
// at a time.
func (b *Base) NewSession() *Session {
	return &Session{base: b}
}

// Shutdown stops the base and its coordinator. In-flight transactions are
// aborted.
func (b *Base) Shutdown() {
	if !b.shutdown.CompareAndSwap(false, true) {
		return
	}
	b.coord.Shutdown()
}

// IsShutdown reports whether the base has been shut down.
func (b *Base) IsShutdown() bool {
	return b.shutdown.Load()
}

// Session binds at most one transaction to a single execution context.
// It is not safe for concurrent use. To move a transaction to another
// context, Detach it and Attach the continuation to a session there.
type Session struct {
	base *Base
	txn  *Transaction
}

func (s *Session) checkRunning(op string) error {
	if s.base.shutdown.Load() {
		return newTxnError(s.base.label, op, ErrShutdown)
	}
	return nil
}

func (s *Session) checkActive(op string) (*Transaction, error) {
	if s.txn == nil {
		return nil, newTxnError(s.base.label, op, ErrNotInTransaction)
	}
	return s.txn, nil
}

func (s *Session) checkNotActive(op string) error {
	if s.txn != nil {
		return newTxnError(s.base.label, op, ErrAlreadyInTransaction)
	}
	return nil
}

// Begin starts a transaction in the session.
func (s *Session) Begin(mode Mode) error {
	return s.BeginContext(context.Background(), mode)
}

// BeginContext is Begin with a context bounding the wait for write
// admission.
func (s *Session) BeginContext(ctx context.Context, mode Mode) error {
	if err := s.checkRunning("begin"); err != nil {
		return err
	}
	if err := s.checkNotActive("begin"); err != nil {
		return err
	}

	t, err := s.base.coord.BeginContext(ctx, mode)
	if err != nil {
		return err
	}
	s.txn = t
	return nil
}

// Promote attempts to upgrade the session's read transaction to write.
func (s *Session) Promote() (bool, error) {
	if err := s.checkRunning("promote"); err != nil {
		return false, err
	}
	t, err := s.checkActive("promote")
	if err != nil {
		return false, err
	}
	return s.base.coord.Promote(t)
}

// Commit commits and ends the session's transaction.
func (s *Session) Commit() error {
	if err := s.CommitPrepare(); err != nil {
		return err
	}
	return s.CommitExec()
}

// CommitPrepare runs phase one only. It lets an outer coordinator prepare
// several bases before committing any of them.
func (s *Session) CommitPrepare() error {
	if err := s.checkRunning("commit"); err != nil {
		return err
	}
	t, err := s.checkActive("commit")
	if err != nil {
		return err
	}
	return s.base.coord.Prepare(t)
}

// CommitExec completes the commit and ends the transaction. If the commit
// fails the transaction stays bound; call End or Abort to release it.
func (s *Session) CommitExec() error {
	if err := s.checkRunning("commit"); err != nil {
		return err
	}
	t, err := s.checkActive("commit")
	if err != nil {
		return err
	}
	if err := s.base.coord.Commit(t); err != nil {
		return err
	}
	return s.end()
}

// Abort aborts and ends the session's transaction. The session is empty
// afterwards whatever happens, even if a component panics.
func (s *Session) Abort() (err error) {
	if err := s.checkRunning("abort"); err != nil {
		return err
	}
	t, err := s.checkActive("abort")
	if err != nil {
		return err
	}
	defer func() {
		s.txn = nil
		if endErr := s.base.coord.End(t); err == nil {
			err = endErr
		}
	}()

	if t.State().IsActive() {
		return s.base.coord.Abort(t)
	}
	return nil
}

// End ends the session's transaction, aborting it if it is still active.
// Calling End with no transaction is a no-op.
func (s *Session) End() error {
	if s.txn == nil {
		return nil
	}
	return s.end()
}

func (s *Session) end() error {
	t := s.txn
	defer func() { s.txn = nil }()
	return s.base.coord.End(t)
}

// State returns the mode of the session's transaction, or false if the
// session has none. It fails only when the base is shut down.
func (s *Session) State() (Mode, bool, error) {
	if err := s.checkRunning("state"); err != nil {
		return 0, false, err
	}
	if s.txn == nil {
		return 0, false, nil
	}
	return s.txn.Mode(), true, nil
}

// InTransaction reports whether the session holds a transaction.
func (s *Session) InTransaction() bool {
	return s.txn != nil
}

// Transaction returns the session's transaction, or nil.
func (s *Session) Transaction() *Transaction {
	return s.txn
}

// Detach unbinds the session's transaction and returns its continuation.
// The session is empty afterwards.
func (s *Session) Detach() (*Continuation, error) {
	if err := s.checkRunning("detach"); err != nil {
		return nil, err
	}
	t, err := s.checkActive("detach")
	if err != nil {
		return nil, err
	}

	cont, err := s.base.coord.Detach(t)
	if err != nil {
		return nil, err
	}
	s.txn = nil
	return cont, nil
}

// Attach binds a detached transaction to the session.
func (s *Session) Attach(cont *Continuation) error {
	if err := s.checkRunning("attach"); err != nil {
		return err
	}
	if err := s.checkNotActive("attach"); err != nil {
		return err
	}

	t, err := s.base.coord.Attach(cont)
	if err != nil {
		return err
	}
	s.txn = t
	return nil
}
