package engine

import (
	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

// Tx is a transaction on one Store. It keeps using that store for its whole
// life, even if a Switchable it came from is switched to another store.
// A Tx is not safe for concurrent use; move it between goroutines with
// Detach and Store.Attach.
type Tx struct {
	store   *Store
	session *tx.Session
}

// txn returns the bound transaction.
func (x *Tx) txn(op string) (*tx.Transaction, error) {
	t := x.session.Transaction()
	if t == nil {
		return nil, &tx.TransactionError{Label: x.store.base.Label(), Op: op, Err: tx.ErrNotInTransaction}
	}
	return t, nil
}

// Store returns the store the transaction runs on.
func (x *Tx) Store() *Store {
	return x.store
}

// Transaction returns the underlying transaction, or nil once the Tx has
// finished or been detached.
func (x *Tx) Transaction() *tx.Transaction {
	return x.session.Transaction()
}

// ID returns the transaction sequence number, or 0 if none is bound.
func (x *Tx) ID() uint64 {
	if t := x.session.Transaction(); t != nil {
		return t.ID()
	}
	return 0
}

// Mode returns the transaction mode.
func (x *Tx) Mode() (tx.Mode, error) {
	mode, ok, err := x.session.State()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &tx.TransactionError{Label: x.store.base.Label(), Op: "mode", Err: tx.ErrNotInTransaction}
	}
	return mode, nil
}

// Get returns the value stored under key in graph.
func (x *Tx) Get(graph string, key []byte) ([]byte, bool, error) {
	if err := checkGraph(graph); err != nil {
		return nil, false, err
	}
	t, err := x.txn("get")
	if err != nil {
		return nil, false, err
	}
	return x.store.data.Get(t, dataKey(graph, key))
}

// Contains reports whether key exists in graph.
func (x *Tx) Contains(graph string, key []byte) (bool, error) {
	if err := checkGraph(graph); err != nil {
		return false, err
	}
	t, err := x.txn("contains")
	if err != nil {
		return false, err
	}
	return x.store.data.Contains(t, dataKey(graph, key))
}

// Put stores value under key in graph, creating the graph if needed.
func (x *Tx) Put(graph string, key, value []byte) error {
	if err := checkGraph(graph); err != nil {
		return err
	}
	t, err := x.txn("put")
	if err != nil {
		return err
	}

	dk := dataKey(graph, key)
	existed, err := x.store.data.Contains(t, dk)
	if err != nil {
		return err
	}
	if _, err := x.store.data.Insert(t, dk, value); err != nil {
		return errors.Wrapf(err, "put %s", graph)
	}
	if !existed {
		return x.adjustCount(t, graph, 1)
	}
	return nil
}

// Delete removes key from graph and reports whether it was present. A
// graph whose last entry is removed disappears.
func (x *Tx) Delete(graph string, key []byte) (bool, error) {
	if err := checkGraph(graph); err != nil {
		return false, err
	}
	t, err := x.txn("delete")
	if err != nil {
		return false, err
	}

	removed, err := x.store.data.Delete(t, dataKey(graph, key))
	if err != nil || !removed {
		return false, err
	}
	return true, x.adjustCount(t, graph, -1)
}

// adjustCount updates the entry count of graph in the graphs tree.
func (x *Tx) adjustCount(t *tx.Transaction, graph string, delta int64) error {
	n, err := x.count(t, graph)
	if err != nil {
		return err
	}

	next := int64(n) + delta
	if next < 0 {
		return errors.Wrapf(ErrCorruptCounter, "graph %s below zero", graph)
	}
	if next == 0 {
		_, err = x.store.graphs.Delete(t, []byte(graph))
		return err
	}
	_, err = x.store.graphs.Insert(t, []byte(graph), encodeCount(uint64(next)))
	return err
}

func (x *Tx) count(t *tx.Transaction, graph string) (uint64, error) {
	v, found, err := x.store.graphs.Get(t, []byte(graph))
	if err != nil || !found {
		return 0, err
	}
	return decodeCount(v)
}

// Count returns the number of entries in graph.
func (x *Tx) Count(graph string) (int, error) {
	if err := checkGraph(graph); err != nil {
		return 0, err
	}
	t, err := x.txn("count")
	if err != nil {
		return 0, err
	}
	n, err := x.count(t, graph)
	return int(n), err
}

// Graphs returns the names of all non-empty graphs in ascending order.
func (x *Tx) Graphs() ([]string, error) {
	t, err := x.txn("graphs")
	if err != nil {
		return nil, err
	}

	var names []string
	err = x.store.graphs.Range(t, nil, nil, func(k, _ []byte) bool {
		names = append(names, string(k))
		return true
	})
	return names, err
}

// Range calls fn for each entry of graph with lo <= key < hi in ascending
// key order until fn returns false. A nil bound is open. The slices passed
// to fn must not be modified or retained, and fn must not write through x.
func (x *Tx) Range(graph string, lo, hi []byte, fn func(key, value []byte) bool) error {
	if err := checkGraph(graph); err != nil {
		return err
	}
	t, err := x.txn("range")
	if err != nil {
		return err
	}

	prefix := graphPrefix(graph)
	from := dataKey(graph, lo)
	var to []byte
	if hi != nil {
		to = dataKey(graph, hi)
	} else {
		to = prefixEnd(prefix)
	}

	return x.store.data.Range(t, from, to, func(k, v []byte) bool {
		return fn(k[len(prefix):], v)
	})
}

// Promote upgrades a read transaction to write. It returns false if
// another writer holds admission or a write committed since this
// transaction began.
func (x *Tx) Promote() (bool, error) {
	return x.session.Promote()
}

// Commit commits and ends the transaction.
func (x *Tx) Commit() error {
	return x.session.Commit()
}

// Abort aborts and ends the transaction.
func (x *Tx) Abort() error {
	return x.session.Abort()
}

// End ends the transaction, aborting it if still active. Calling End on a
// finished Tx is a no-op.
func (x *Tx) End() error {
	return x.session.End()
}

// Detach unbinds the transaction for resumption with Store.Attach,
// possibly on another goroutine.
func (x *Tx) Detach() (*tx.Continuation, error) {
	return x.session.Detach()
}
