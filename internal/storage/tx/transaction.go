package tx

import (
	"fmt"
	"sync"
	"time"

	"github.com/KilimcininKorOglu/obadb/internal/storage"
)

// Mode is the access mode of a transaction.
type Mode int

const (
	// ModeRead transactions see a fixed snapshot and cannot write.
	ModeRead Mode = iota
	// ModeWrite transactions hold exclusive write admission.
	ModeWrite
)

// String returns the string representation of a Mode.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "READ"
	case ModeWrite:
		return "WRITE"
	default:
		return "Unknown"
	}
}

// State represents the lifecycle state of a transaction.
type State int

const (
	stateNone State = iota
	// StateActiveReader is an active read transaction.
	StateActiveReader
	// StateActiveWriter is an active write transaction.
	StateActiveWriter
	// StatePreparing is a writer between prepare and commit.
	StatePreparing
	// StateCommitted is a transaction whose changes are durable and published.
	StateCommitted
	// StateAborted is a transaction whose changes were discarded.
	StateAborted
	// StateDetached is a transaction unbound from any execution context.
	StateDetached
	// StateEnd is the terminal state.
	StateEnd
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateActiveReader:
		return "ACTIVE_READ"
	case StateActiveWriter:
		return "ACTIVE_WRITE"
	case StatePreparing:
		return "PREPARING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	case StateDetached:
		return "DETACHED"
	case StateEnd:
		return "END"
	default:
		return "Unknown"
	}
}

// IsActive reports whether the state accepts further work.
func (s State) IsActive() bool {
	return s == StateActiveReader || s == StateActiveWriter || s == StatePreparing
}

// Transaction is one unit of work under a Coordinator. It is created only by
// Coordinator.Begin and carries its identity, mode and snapshot version.
type Transaction struct {
	id        uint64
	label     string
	snapshot  uint64
	startTime time.Time
	coord     *Coordinator

	// mu protects the mutable fields below.
	mu            sync.RWMutex
	mode          Mode
	state         State
	detachedFrom  State
	prepared      []storage.JournalEntry
	commitVersion uint64
	inProtocol    bool
}

func newTransaction(c *Coordinator, id uint64, mode Mode, snapshot uint64) *Transaction {
	state := StateActiveReader
	if mode == ModeWrite {
		state = StateActiveWriter
	}
	return &Transaction{
		id:        id,
		label:     c.label,
		snapshot:  snapshot,
		startTime: time.Now(),
		coord:     c,
		mode:      mode,
		state:     state,
	}
}

// ID returns the transaction sequence number. IDs strictly increase in
// begin order.
func (t *Transaction) ID() uint64 {
	return t.id
}

// Label returns the label of the coordinator that created the transaction.
func (t *Transaction) Label() string {
	return t.label
}

// Snapshot returns the data version visible to the transaction.
func (t *Transaction) Snapshot() uint64 {
	return t.snapshot
}

// Coordinator returns the coordinator that created the transaction.
func (t *Transaction) Coordinator() *Coordinator {
	return t.coord
}

// Mode returns the current access mode.
func (t *Transaction) Mode() Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsWriter reports whether the transaction holds write admission.
func (t *Transaction) IsWriter() bool {
	return t.Mode() == ModeWrite
}

// IsActive reports whether the transaction can still do work.
func (t *Transaction) IsActive() bool {
	return t.State().IsActive()
}

// CommitVersion returns the data version a writer's commit produces, or
// zero when the commit changed nothing. Valid from the component Commit
// callback onwards.
func (t *Transaction) CommitVersion() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.commitVersion
}

// Duration returns the time since the transaction began.
func (t *Transaction) Duration() time.Duration {
	return time.Since(t.startTime)
}

// String returns a short description for logs.
func (t *Transaction) String() string {
	return fmt.Sprintf("txn[%s/%d %s %s snap=%d]", t.label, t.id, t.Mode(), t.State(), t.snapshot)
}

func (t *Transaction) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// less orders transactions by snapshot, then id, for the active set.
func (t *Transaction) less(o *Transaction) bool {
	if t.snapshot != o.snapshot {
		return t.snapshot < o.snapshot
	}
	return t.id < o.id
}
