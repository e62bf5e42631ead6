package engine

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

// Switchable is a handle to the active Store that can be replaced
// atomically, for example by compaction. Callers resolve the current store
// with Get for each unit of work and never cache it.
type Switchable struct {
	current       *atomic.Pointer[Store]
	containerPath string
}

// NewSwitchable returns a handle to s. containerPath is the directory that
// holds the store's generations, or "" for an in-memory store.
func NewSwitchable(containerPath string, s *Store) *Switchable {
	return &Switchable{
		current:       atomic.NewPointer(s),
		containerPath: containerPath,
	}
}

// Get returns the current store.
func (sw *Switchable) Get() *Store {
	return sw.current.Load()
}

// Set installs s unconditionally and returns the previous store.
func (sw *Switchable) Set(s *Store) *Store {
	return sw.current.Swap(s)
}

// Change installs next only if the current store is old. It reports
// whether the change happened.
func (sw *Switchable) Change(old, next *Store) bool {
	return sw.current.CompareAndSwap(old, next)
}

// HasContainerPath reports whether the handle is backed by a directory.
func (sw *Switchable) HasContainerPath() bool {
	return sw.containerPath != ""
}

// ContainerPath returns the directory holding the store's generations.
func (sw *Switchable) ContainerPath() string {
	return sw.containerPath
}

// Begin starts a transaction on the current store. The transaction stays
// on that store even if the handle is switched.
func (sw *Switchable) Begin(mode tx.Mode) (*Tx, error) {
	return sw.BeginContext(context.Background(), mode)
}

// BeginContext is Begin with a context bounding the wait for write
// admission. A write transaction is returned only if its store is still
// current once admission is held; if the handle was switched while it
// waited, it is abandoned and begun again on the new store.
func (sw *Switchable) BeginContext(ctx context.Context, mode tx.Mode) (*Tx, error) {
	for {
		s := sw.Get()
		x, err := s.BeginContext(ctx, mode)
		if mode != tx.ModeWrite || sw.Get() == s {
			return x, err
		}
		if err == nil {
			x.Abort()
		} else if !s.IsClosed() {
			return nil, err
		}
		switchRetryCounter.Inc()
	}
}

// Read runs fn in a read transaction on the current store.
func (sw *Switchable) Read(fn func(x *Tx) error) error {
	return sw.Get().Read(fn)
}

// Write runs fn in a write transaction on the current store and commits
// it. If the handle is switched while the transaction waits for write
// admission, or its old store is closed under it, it is retried on the
// new store, so a successful Write is always visible through the handle.
func (sw *Switchable) Write(fn func(x *Tx) error) error {
	for {
		s := sw.Get()
		moved := false
		err := s.Write(func(x *Tx) error {
			if sw.Get() != s {
				moved = true
				return errSwitched
			}
			return fn(x)
		})
		if !moved && (err == nil || sw.Get() == s || !s.IsClosed()) {
			return err
		}
		switchRetryCounter.Inc()
	}
}

// errSwitched abandons a write begun on a store that is no longer current.
var errSwitched = errors.New("store switched")

// Close closes the current store.
func (sw *Switchable) Close() error {
	return sw.Get().Close()
}

// Graph returns a view of one graph through the handle.
func (sw *Switchable) Graph(name string) *GraphView {
	return &GraphView{sw: sw, name: name}
}

// GraphView gives access to one graph through a Switchable. Every call
// resolves the current store and runs in its own transaction, so a switch
// takes effect at the next call.
type GraphView struct {
	sw   *Switchable
	name string
}

// Name returns the graph name.
func (g *GraphView) Name() string {
	return g.name
}

// Get returns the value stored under key.
func (g *GraphView) Get(key []byte) ([]byte, bool, error) {
	var (
		v     []byte
		found bool
	)
	err := g.sw.Read(func(x *Tx) error {
		var err error
		v, found, err = x.Get(g.name, key)
		return err
	})
	return v, found, err
}

// Contains reports whether key exists.
func (g *GraphView) Contains(key []byte) (bool, error) {
	var found bool
	err := g.sw.Read(func(x *Tx) error {
		var err error
		found, err = x.Contains(g.name, key)
		return err
	})
	return found, err
}

// Put stores value under key.
func (g *GraphView) Put(key, value []byte) error {
	return g.sw.Write(func(x *Tx) error {
		return x.Put(g.name, key, value)
	})
}

// Delete removes key and reports whether it was present.
func (g *GraphView) Delete(key []byte) (bool, error) {
	var removed bool
	err := g.sw.Write(func(x *Tx) error {
		var err error
		removed, err = x.Delete(g.name, key)
		return err
	})
	return removed, err
}

// Size returns the number of entries in the graph.
func (g *GraphView) Size() (int, error) {
	var n int
	err := g.sw.Read(func(x *Tx) error {
		var err error
		n, err = x.Count(g.name)
		return err
	})
	return n, err
}

// Each calls fn for every entry in key order until fn returns false.
func (g *GraphView) Each(fn func(key, value []byte) bool) error {
	return g.sw.Read(func(x *Tx) error {
		return x.Range(g.name, nil, nil, fn)
	})
}
