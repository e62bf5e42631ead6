package tx

// Component is a storage structure that takes part in transactions. The
// coordinator drives every enlisted component through the same steps, in
// enlistment order.
type Component interface {
	// ComponentID names the component in journal records. It must be stable
	// across restarts.
	ComponentID() string

	// Recover restores committed state from the last journal entry recorded
	// for this component. Called by Coordinator.Start before any Begin.
	Recover(state []byte) error

	// Begin captures the component's current committed view for t. Called
	// under the coordinator lock.
	Begin(t *Transaction)

	// Prepare makes t's changes durable in the component's own storage and
	// returns the state to record in the journal, or nil if t changed
	// nothing in this component. Nothing may be published yet.
	Prepare(t *Transaction) ([]byte, error)

	// Commit publishes t's prepared changes. It must not fail.
	Commit(t *Transaction)

	// Abort discards t's changes.
	Abort(t *Transaction)

	// Complete releases per-transaction resources after t has ended.
	Complete(t *Transaction)

	// Detach returns component state to carry in a Continuation.
	Detach(t *Transaction) interface{}

	// Attach restores state returned by Detach.
	Attach(t *Transaction, state interface{})
}

// ComponentFuncs adapts plain functions to the Component interface. Nil
// functions are no-ops.
type ComponentFuncs struct {
	ID         string
	RecoverFn  func(state []byte) error
	BeginFn    func(t *Transaction)
	PrepareFn  func(t *Transaction) ([]byte, error)
	CommitFn   func(t *Transaction)
	AbortFn    func(t *Transaction)
	CompleteFn func(t *Transaction)
	DetachFn   func(t *Transaction) interface{}
	AttachFn   func(t *Transaction, state interface{})
}

// ComponentID returns f.ID.
func (f *ComponentFuncs) ComponentID() string { return f.ID }

// Recover calls RecoverFn.
func (f *ComponentFuncs) Recover(state []byte) error {
	if f.RecoverFn == nil {
		return nil
	}
	return f.RecoverFn(state)
}

// Begin calls BeginFn.
func (f *ComponentFuncs) Begin(t *Transaction) {
	if f.BeginFn != nil {
		f.BeginFn(t)
	}
}

// Prepare calls PrepareFn.
func (f *ComponentFuncs) Prepare(t *Transaction) ([]byte, error) {
	if f.PrepareFn == nil {
		return nil, nil
	}
	return f.PrepareFn(t)
}

// Commit calls CommitFn.
func (f *ComponentFuncs) Commit(t *Transaction) {
	if f.CommitFn != nil {
		f.CommitFn(t)
	}
}

// Abort calls AbortFn.
func (f *ComponentFuncs) Abort(t *Transaction) {
	if f.AbortFn != nil {
		f.AbortFn(t)
	}
}

// Complete calls CompleteFn.
func (f *ComponentFuncs) Complete(t *Transaction) {
	if f.CompleteFn != nil {
		f.CompleteFn(t)
	}
}

// Detach calls DetachFn.
func (f *ComponentFuncs) Detach(t *Transaction) interface{} {
	if f.DetachFn == nil {
		return nil
	}
	return f.DetachFn(t)
}

// Attach calls AttachFn.
func (f *ComponentFuncs) Attach(t *Transaction, state interface{}) {
	if f.AttachFn != nil {
		f.AttachFn(t, state)
	}
}
