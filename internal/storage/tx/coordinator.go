package tx

import (
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/KilimcininKorOglu/obadb/internal/logging"
	"github.com/KilimcininKorOglu/obadb/internal/storage"
)

// activeSetDegree is the google/btree degree of the active transaction set.
const activeSetDegree = 16

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l logging.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithLabel sets the label used in errors, logs and metrics.
func WithLabel(label string) CoordinatorOption {
	return func(c *Coordinator) {
		c.label = label
	}
}

// Coordinator runs transactions over a set of enlisted components. It
// assigns sequence numbers, admits a single writer at a time, and drives
// the prepare, commit and abort protocol with one journal record per
// committing writer.
type Coordinator struct {
	label      string
	journal    storage.Journal
	logger     logging.Logger
	components []Component
	byID       map[string]Component

	// nextID is the next sequence number; dataVersion the latest committed
	// data version. Both only advance under mu.
	nextID      *atomic.Uint64
	dataVersion *atomic.Uint64

	// writer admits one write transaction at a time.
	writer *semaphore.Weighted

	// mu protects started, shutdown, busy and active, and makes Begin
	// snapshots and Commit publication mutually atomic.
	mu       sync.Mutex
	started  bool
	shutdown bool
	active   *btree.BTreeG[*Transaction]

	// busy counts transactions inside Prepare or Commit; idle is signalled
	// when one leaves.
	busy int
	idle *sync.Cond
}

// NewCoordinator creates a coordinator writing commit records to journal.
// Components are enlisted with Add; Start must be called before Begin.
func NewCoordinator(journal storage.Journal, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		label:       "txn",
		journal:     journal,
		logger:      logging.NewNop(),
		byID:        make(map[string]Component),
		nextID:      atomic.NewUint64(1),
		dataVersion: atomic.NewUint64(0),
		writer:      semaphore.NewWeighted(1),
		active: btree.NewG[*Transaction](activeSetDegree, func(a, b *Transaction) bool {
			return a.less(b)
		}),
	}
	c.idle = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields("coordinator", c.label)
	return c
}

// Label returns the coordinator label.
func (c *Coordinator) Label() string {
	return c.label
}

// Add enlists a component. Components can only be added before Start.
func (c *Coordinator) Add(comp Component) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return newTxnError(c.label, "add", ErrAlreadyStarted)
	}
	id := comp.ComponentID()
	if _, ok := c.byID[id]; ok {
		return errors.Wrapf(ErrDuplicateComponent, "component %q", id)
	}

	c.components = append(c.components, comp)
	c.byID[id] = comp
	return nil
}

// Components returns the enlisted components in enlistment order.
func (c *Coordinator) Components() []Component {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Component, len(c.components))
	copy(out, c.components)
	return out
}

// Start recovers committed state from the journal and opens the
// coordinator for transactions.
//
// Recovery replays commit records in order. For each component the state
// of the last record naming it is handed to Component.Recover. The data
// version and the next sequence number continue after the highest
// recorded values.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return newTxnError(c.label, "start", ErrAlreadyStarted)
	}
	if c.shutdown {
		return newTxnError(c.label, "start", ErrShutdown)
	}

	var (
		records int
		version uint64
		maxID   uint64
		last    = make(map[string][]byte)
	)

	err := c.journal.Replay(func(r *storage.JournalRecord) error {
		for _, e := range r.Entries {
			if _, ok := c.byID[e.Component]; !ok {
				return errors.Wrapf(ErrUnknownComponent, "component %q in txn %d", e.Component, r.TxnID)
			}
			last[e.Component] = e.State
		}
		if r.Version > version {
			version = r.Version
		}
		if r.TxnID > maxID {
			maxID = r.TxnID
		}
		records++
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "replay journal")
	}

	// Recover in enlistment order so behaviour does not depend on map order.
	for _, comp := range c.components {
		state, ok := last[comp.ComponentID()]
		if !ok {
			continue
		}
		if err := comp.Recover(state); err != nil {
			return errors.Wrapf(err, "recover component %q", comp.ComponentID())
		}
	}

	c.dataVersion.Store(version)
	c.nextID.Store(maxID + 1)
	c.started = true

	c.logger.Info("coordinator started",
		"components", len(c.components),
		"records", records,
		"version", version)
	return nil
}

// checkRunning returns an error if the coordinator cannot begin
// transactions. Callers hold mu.
func (c *Coordinator) checkRunning(op string) error {
	if c.shutdown {
		return newTxnError(c.label, op, ErrShutdown)
	}
	if !c.started {
		return newTxnError(c.label, op, ErrNotStarted)
	}
	return nil
}

// Begin starts a transaction. A write transaction waits for exclusive
// write admission.
func (c *Coordinator) Begin(mode Mode) (*Transaction, error) {
	return c.BeginContext(context.Background(), mode)
}

// BeginContext is Begin with a context bounding the wait for write
// admission.
func (c *Coordinator) BeginContext(ctx context.Context, mode Mode) (*Transaction, error) {
	c.mu.Lock()
	err := c.checkRunning("begin")
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if mode == ModeWrite {
		if err := c.writer.Acquire(ctx, 1); err != nil {
			return nil, errors.Wrap(err, "wait for write admission")
		}
	}

	c.mu.Lock()
	if err := c.checkRunning("begin"); err != nil {
		c.mu.Unlock()
		if mode == ModeWrite {
			c.writer.Release(1)
		}
		return nil, err
	}

	id := c.nextID.Inc() - 1
	t := newTransaction(c, id, mode, c.dataVersion.Load())
	for _, comp := range c.components {
		comp.Begin(t)
	}
	c.active.ReplaceOrInsert(t)
	c.mu.Unlock()

	txnBeginCounter.WithLabelValues(mode.String()).Inc()
	txnActiveGauge.Inc()
	c.logger.Debug("begin", "txn", id, "mode", mode, "snapshot", t.snapshot)
	return t, nil
}

// Promote upgrades a read transaction to write mode. It succeeds only if
// write admission is free right now and no write has committed since the
// transaction's snapshot; otherwise it returns false and the transaction
// stays a reader. Promoting a writer returns true.
func (c *Coordinator) Promote(t *Transaction) (bool, error) {
	if t == nil {
		return false, newTxnError(c.label, "promote", ErrNilTransaction)
	}

	switch s := t.State(); s {
	case StateActiveWriter:
		return true, nil
	case StateActiveReader:
	default:
		return false, stateError(c.label, "promote", s)
	}

	if !c.writer.TryAcquire(1) {
		txnPromoteCounter.WithLabelValues("busy").Inc()
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dataVersion.Load() != t.snapshot {
		c.writer.Release(1)
		txnPromoteCounter.WithLabelValues("stale").Inc()
		return false, nil
	}

	t.mu.Lock()
	if t.state != StateActiveReader {
		s := t.state
		t.mu.Unlock()
		c.writer.Release(1)
		return false, stateError(c.label, "promote", s)
	}
	t.mode = ModeWrite
	t.state = StateActiveWriter
	t.mu.Unlock()

	txnPromoteCounter.WithLabelValues("ok").Inc()
	c.logger.Debug("promote", "txn", t.id)
	return true, nil
}

// Prepare runs phase one of the commit protocol. Every component writes
// its changes and returns its candidate state; nothing is published. If
// any component fails the whole transaction is aborted. Prepare on a
// reader is a no-op.
func (c *Coordinator) Prepare(t *Transaction) error {
	if t == nil {
		return newTxnError(c.label, "prepare", ErrNilTransaction)
	}
	if err := c.enter(t, "prepare"); err != nil {
		return err
	}
	defer c.leave(t)

	return c.prepare(t)
}

func (c *Coordinator) prepare(t *Transaction) error {
	t.mu.Lock()
	switch t.state {
	case StateActiveReader, StatePreparing:
		t.mu.Unlock()
		return nil
	case StateActiveWriter:
		t.state = StatePreparing
		t.mu.Unlock()
	default:
		s := t.state
		t.mu.Unlock()
		return stateError(c.label, "prepare", s)
	}

	var entries []storage.JournalEntry
	for _, comp := range c.components {
		state, err := comp.Prepare(t)
		if err != nil {
			c.logger.Warn("prepare failed, aborting",
				"txn", t.id, "component", comp.ComponentID(), "error", err)
			c.abort(t, "prepare", true)
			return &TransactionError{
				Label: c.label,
				Op:    "prepare",
				Err:   ErrPrepareFailed,
				Cause: errors.Wrapf(err, "component %q", comp.ComponentID()),
			}
		}
		if state != nil {
			entries = append(entries, storage.JournalEntry{Component: comp.ComponentID(), State: state})
		}
	}

	t.mu.Lock()
	t.prepared = entries
	t.mu.Unlock()

	c.logger.Debug("prepare", "txn", t.id, "components", len(entries))
	return nil
}

// enter marks t as inside Prepare or Commit. Until leave, t can only be
// aborted by that call itself, and Shutdown waits for it.
func (c *Coordinator) enter(t *Transaction, op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return newTxnError(c.label, op, ErrShutdown)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inProtocol {
		return newTxnError(c.label, op, ErrCommitInProgress)
	}
	t.inProtocol = true
	c.busy++
	return nil
}

func (c *Coordinator) leave(t *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t.mu.Lock()
	t.inProtocol = false
	t.mu.Unlock()
	c.busy--
	c.idle.Broadcast()
}

// Commit finishes a transaction. For a writer it prepares if needed, makes
// the commit record durable, then publishes every component's changes and
// advances the data version in one step under the coordinator lock. A
// journal failure aborts the transaction. For a reader it only changes
// state.
//
// Once the record is being written the commit runs to completion: neither
// Abort nor Shutdown can interrupt it.
func (c *Coordinator) Commit(t *Transaction) error {
	if t == nil {
		return newTxnError(c.label, "commit", ErrNilTransaction)
	}

	t.mu.Lock()
	if t.state == StateActiveReader {
		t.state = StateCommitted
		t.mu.Unlock()

		c.mu.Lock()
		c.active.Delete(t)
		c.mu.Unlock()
		txnCommitCounter.Inc()
		return nil
	}
	t.mu.Unlock()

	if err := c.enter(t, "commit"); err != nil {
		return err
	}
	defer c.leave(t)

	switch s := t.State(); s {
	case StateActiveWriter:
		if err := c.prepare(t); err != nil {
			return err
		}
	case StatePreparing:
	default:
		return stateError(c.label, "commit", s)
	}

	t.mu.RLock()
	entries := t.prepared
	t.mu.RUnlock()

	// Only this writer can advance the version, so reading it here is safe.
	version := c.dataVersion.Load()
	if len(entries) > 0 {
		version++
		rec := storage.NewCommitRecord(t.id, version, entries)
		if err := c.writeRecord(rec); err != nil {
			c.logger.Error("journal write failed, aborting", "txn", t.id, "error", err)
			c.abort(t, "commit", true)
			return &TransactionError{Label: c.label, Op: "commit", Err: ErrJournalFailed, Cause: err}
		}
	}

	c.publish(t, version, len(entries) > 0)
	c.writer.Release(1)

	txnCommitCounter.Inc()
	c.logger.Debug("commit", "txn", t.id, "version", version, "components", len(entries))
	return nil
}

// publish makes a prepared writer's changes visible and advances the data
// version.
func (c *Coordinator) publish(t *Transaction, version uint64, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t.mu.Lock()
	if changed {
		t.commitVersion = version
	}
	t.prepared = nil
	t.mu.Unlock()

	for _, comp := range c.components {
		comp.Commit(t)
	}
	c.dataVersion.Store(version)
	c.active.Delete(t)
	t.setState(StateCommitted)
}

func (c *Coordinator) writeRecord(rec *storage.JournalRecord) error {
	if _, err := c.journal.Write(rec); err != nil {
		return errors.Wrap(err, "write commit record")
	}
	if err := c.journal.Sync(); err != nil {
		return errors.Wrap(err, "sync journal")
	}
	return nil
}

// Abort discards the transaction's changes and releases write admission.
// A transaction whose Commit is in progress cannot be aborted.
func (c *Coordinator) Abort(t *Transaction) error {
	if t == nil {
		return newTxnError(c.label, "abort", ErrNilTransaction)
	}
	return c.abort(t, "abort", false)
}

// abort moves t to ABORTED, undoes component changes and releases write
// admission. The state check and the transition happen together under
// t.mu, so of several concurrent callers exactly one aborts. Without force
// only an active transaction outside Prepare and Commit is accepted; force
// also accepts a detached transaction or one inside the protocol.
func (c *Coordinator) abort(t *Transaction, op string, force bool) error {
	t.mu.Lock()
	prev := t.state
	if force && prev == StateDetached {
		prev = t.detachedFrom
	}
	if !prev.IsActive() {
		s := t.state
		t.mu.Unlock()
		return stateError(c.label, op, s)
	}
	if t.inProtocol && !force {
		t.mu.Unlock()
		return newTxnError(c.label, op, ErrCommitInProgress)
	}
	mode := t.mode
	t.state = StateAborted
	t.prepared = nil
	t.mu.Unlock()

	txnAbortCounter.Inc()
	c.logger.Debug("abort", "txn", t.id, "from", prev)

	if mode == ModeWrite {
		defer c.writer.Release(1)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.active.Delete(t)
	if mode == ModeWrite {
		c.abortComponents(t)
	}
	return nil
}

// abortComponents calls Abort on every component even if one panics. The
// first panic is raised again once all have run. Callers hold mu.
func (c *Coordinator) abortComponents(t *Transaction) {
	var failure interface{}
	for _, comp := range c.components {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("component abort panicked",
						"txn", t.id, "component", comp.ComponentID(), "panic", r)
					if failure == nil {
						failure = r
					}
				}
			}()
			comp.Abort(t)
		}()
	}
	if failure != nil {
		panic(failure)
	}
}

// End finishes the transaction lifecycle. A transaction still active is
// aborted first; a writer ending that way is logged as a warning. Ending an
// ended transaction is a no-op; ending a detached one is an error.
func (c *Coordinator) End(t *Transaction) error {
	if t == nil {
		return newTxnError(c.label, "end", ErrNilTransaction)
	}

	switch s := t.State(); s {
	case StateEnd:
		return nil
	case StateDetached:
		return newTxnError(c.label, "end", ErrDetached)
	case StateActiveWriter, StatePreparing:
		c.logger.Warn("write transaction ended without commit or abort", "txn", t.id)
		fallthrough
	case StateActiveReader:
		if err := c.abort(t, "end", false); errors.Is(err, ErrCommitInProgress) {
			return err
		}
	}

	t.mu.Lock()
	if t.state == StateEnd {
		t.mu.Unlock()
		return nil
	}
	t.state = StateEnd
	t.mu.Unlock()

	for _, comp := range c.components {
		comp.Complete(t)
	}

	txnActiveGauge.Dec()
	return nil
}

// Detach unbinds an active transaction from its execution context and
// captures it, with every component's per-transaction state, in a
// Continuation. Until Attach the transaction is DETACHED and accepts no
// work.
func (c *Coordinator) Detach(t *Transaction) (*Continuation, error) {
	if t == nil {
		return nil, newTxnError(c.label, "detach", ErrNilTransaction)
	}

	t.mu.Lock()
	s := t.state
	if s != StateActiveReader && s != StateActiveWriter {
		t.mu.Unlock()
		return nil, stateError(c.label, "detach", s)
	}
	t.detachedFrom = s
	t.state = StateDetached
	t.mu.Unlock()

	states := make(map[string]interface{}, len(c.components))
	for _, comp := range c.components {
		states[comp.ComponentID()] = comp.Detach(t)
	}

	c.logger.Debug("detach", "txn", t.id)
	return &Continuation{txn: t, states: states, consumed: atomic.NewBool(false)}, nil
}

// Attach resumes a detached transaction. Identity, mode and snapshot are
// unchanged. A continuation can be attached once.
func (c *Coordinator) Attach(cont *Continuation) (*Transaction, error) {
	if cont == nil || cont.txn == nil {
		return nil, newTxnError(c.label, "attach", ErrNilTransaction)
	}
	t := cont.txn
	if t.coord != c {
		return nil, errors.Errorf("%s: attach: continuation belongs to coordinator %q", c.label, t.label)
	}
	if s := t.State(); s != StateDetached {
		if cont.consumed.Load() {
			return nil, newTxnError(c.label, "attach", ErrAlreadyAttached)
		}
		return nil, newTxnError(c.label, "attach", ErrNotDetached)
	}
	if !cont.consumed.CompareAndSwap(false, true) {
		return nil, newTxnError(c.label, "attach", ErrAlreadyAttached)
	}

	t.mu.Lock()
	t.state = t.detachedFrom
	t.detachedFrom = stateNone
	t.mu.Unlock()

	for _, comp := range c.components {
		comp.Attach(t, cont.states[comp.ComponentID()])
	}

	c.logger.Debug("attach", "txn", t.id)
	return t, nil
}

// Shutdown stops new transactions and aborts in-flight ones, best effort.
// Writers already inside Prepare or Commit are waited for, not aborted.
// The journal is not closed; it belongs to the caller.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	for c.busy > 0 {
		c.idle.Wait()
	}

	var inflight []*Transaction
	c.active.Ascend(func(t *Transaction) bool {
		inflight = append(inflight, t)
		return true
	})
	c.mu.Unlock()

	aborted := 0
	for _, t := range inflight {
		if c.shutdownAbort(t) {
			aborted++
		}
	}

	c.logger.Info("coordinator shut down", "aborted", aborted)
}

// shutdownAbort aborts t, logging a component panic instead of raising it.
func (c *Coordinator) shutdownAbort(t *Transaction) (aborted bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("abort failed during shutdown", "txn", t.id, "panic", r)
			aborted = true
		}
	}()
	return c.abort(t, "shutdown", true) == nil
}

// IsShutdown reports whether Shutdown has been called.
func (c *Coordinator) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}

// ActiveCount returns the number of active transactions. Detached
// transactions are not counted.
func (c *Coordinator) ActiveCount() int {
	n := 0
	for _, t := range c.ActiveTransactions() {
		if t.State() != StateDetached {
			n++
		}
	}
	return n
}

// ActiveTransactions returns in-flight transactions, including detached
// ones, ordered by snapshot.
func (c *Coordinator) ActiveTransactions() []*Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Transaction, 0, c.active.Len())
	c.active.Ascend(func(t *Transaction) bool {
		out = append(out, t)
		return true
	})
	return out
}

// OldestActiveSnapshot returns the smallest snapshot of any in-flight
// transaction, or the current data version if none is in flight. Data
// superseded at or before this version is unreachable.
func (c *Coordinator) OldestActiveSnapshot() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.active.Min(); ok {
		return t.snapshot
	}
	return c.dataVersion.Load()
}

// DataVersion returns the latest committed data version.
func (c *Coordinator) DataVersion() uint64 {
	return c.dataVersion.Load()
}

// NextID returns the sequence number the next Begin will assign.
func (c *Coordinator) NextID() uint64 {
	return c.nextID.Load()
}
