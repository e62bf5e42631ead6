// Package engine provides the ObaDB storage instance and the switchable
// handle used to replace it.
package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/KilimcininKorOglu/obadb/internal/logging"
	"github.com/KilimcininKorOglu/obadb/internal/storage"
	"github.com/KilimcininKorOglu/obadb/internal/storage/btree"
	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

// File names inside a storage directory.
const (
	JournalFileName = "journal.jrnl"
	GraphsFileName  = "graphs.blk"
	DataFileName    = "data.blk"
)

// Component ids of the trees in a store.
const (
	GraphsTreeID = "graphs"
	DataTreeID   = "data"
)

// Store errors.
var (
	ErrStoreClosed    = errors.New("store is closed")
	ErrInvalidGraph   = errors.New("invalid graph name")
	ErrNotExist       = errors.New("storage directory does not exist")
	ErrCorruptCounter = errors.New("corrupt graph counter")
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logging.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// Store is one storage instance: a journal, a coordinator and two trees.
// The graphs tree maps each graph name to its entry count; the data tree
// holds every entry under a graph-prefixed key. A write therefore touches
// both trees and commits through both of them.
type Store struct {
	id     uuid.UUID
	dir    string
	opts   storage.EngineOptions
	logger logging.Logger

	// baseLogger is the logger without per-store fields, handed to stores
	// derived from this one.
	baseLogger logging.Logger

	journal     storage.Journal
	graphBlocks storage.BlockStore
	dataBlocks  storage.BlockStore

	graphs *btree.BPlusTree
	data   *btree.BPlusTree
	coord  *tx.Coordinator
	base   *tx.Base

	closed *atomic.Bool
}

// Open opens or creates a store in dir. An empty dir opens an in-memory
// store.
func Open(dir string, opts storage.EngineOptions, sopts ...StoreOption) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Store{
		id:     uuid.New(),
		dir:    dir,
		opts:   opts,
		logger: logging.NewNop(),
		closed: atomic.NewBool(false),
	}
	for _, opt := range sopts {
		opt(s)
	}
	s.baseLogger = s.logger
	s.logger = s.logger.WithFields("store", s.id.String())

	if err := s.openFiles(); err != nil {
		s.closeFiles()
		return nil, err
	}
	if err := s.initComponents(); err != nil {
		s.closeTrees()
		s.closeFiles()
		return nil, err
	}

	storesOpenGauge.Inc()
	s.logger.Info("store opened",
		"location", s.Location(),
		"version", s.coord.DataVersion())
	return s, nil
}

// openFiles opens the journal and block stores.
func (s *Store) openFiles() error {
	if s.dir == "" {
		s.journal = storage.NewMemJournal()
		s.graphBlocks = storage.NewMemBlockStore()
		s.dataBlocks = storage.NewMemBlockStore()
		return nil
	}

	if s.opts.CreateIfNotExists {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return errors.Wrapf(err, "create %s", s.dir)
		}
	} else if _, err := os.Stat(s.dir); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(ErrNotExist, s.dir)
		}
		return err
	}

	journal, err := storage.OpenFileJournal(filepath.Join(s.dir, JournalFileName), s.opts.Codec())
	if err != nil {
		return err
	}
	s.journal = journal

	graphBlocks, err := storage.OpenFileBlockStore(filepath.Join(s.dir, GraphsFileName))
	if err != nil {
		return err
	}
	s.graphBlocks = graphBlocks

	dataBlocks, err := storage.OpenFileBlockStore(filepath.Join(s.dir, DataFileName))
	if err != nil {
		return err
	}
	s.dataBlocks = dataBlocks
	return nil
}

// initComponents builds the trees and the coordinator and runs recovery.
func (s *Store) initComponents() error {
	params := btree.ParamsFromOptions(s.opts)

	var err error
	s.graphs, err = btree.NewBPlusTree(GraphsTreeID, s.graphBlocks, params, btree.WithLogger(s.logger))
	if err != nil {
		return err
	}
	s.data, err = btree.NewBPlusTree(DataTreeID, s.dataBlocks, params, btree.WithLogger(s.logger))
	if err != nil {
		return err
	}

	label := "store"
	if s.dir != "" {
		label = filepath.Base(s.dir)
	}
	s.coord = tx.NewCoordinator(s.journal, tx.WithLogger(s.logger), tx.WithLabel(label))
	for _, c := range []tx.Component{s.graphs, s.data} {
		if err := s.coord.Add(c); err != nil {
			return err
		}
	}
	if err := s.coord.Start(); err != nil {
		return errors.Wrapf(err, "recover %s", s.Location())
	}

	s.base = tx.NewBase(label, s.coord)
	return nil
}

// closeFiles closes whatever openFiles opened.
func (s *Store) closeFiles() error {
	var first error
	for _, c := range []interface{ Close() error }{s.journal, s.graphBlocks, s.dataBlocks} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// closeTrees releases the trees' node caches.
func (s *Store) closeTrees() {
	for _, t := range []*btree.BPlusTree{s.graphs, s.data} {
		if t != nil {
			t.Close()
		}
	}
}

// Close aborts in-flight transactions and closes the store's files.
// Closing a closed store is a no-op.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.base.Shutdown()
	s.closeTrees()
	err := s.closeFiles()
	storesOpenGauge.Dec()

	s.logger.Info("store closed", "location", s.Location())
	return err
}

// IsClosed reports whether Close has been called.
func (s *Store) IsClosed() bool {
	return s.closed.Load()
}

// ID returns the instance id, unique per Open.
func (s *Store) ID() uuid.UUID {
	return s.id
}

// Dir returns the storage directory, or "" for an in-memory store.
func (s *Store) Dir() string {
	return s.dir
}

// Location describes where the store lives.
func (s *Store) Location() string {
	if s.dir == "" {
		return "mem:" + s.id.String()
	}
	return s.dir
}

// IsMemory reports whether the store is in memory.
func (s *Store) IsMemory() bool {
	return s.dir == ""
}

// Options returns the validated options the store was opened with.
func (s *Store) Options() storage.EngineOptions {
	return s.opts
}

// Coordinator returns the store's transaction coordinator.
func (s *Store) Coordinator() *tx.Coordinator {
	return s.coord
}

// Base returns the store's transactional base.
func (s *Store) Base() *tx.Base {
	return s.base
}

// DataVersion returns the latest committed data version.
func (s *Store) DataVersion() uint64 {
	return s.coord.DataVersion()
}

// Begin starts a transaction on the store.
func (s *Store) Begin(mode tx.Mode) (*Tx, error) {
	return s.BeginContext(context.Background(), mode)
}

// BeginContext is Begin with a context bounding the wait for write
// admission.
func (s *Store) BeginContext(ctx context.Context, mode tx.Mode) (*Tx, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	session := s.base.NewSession()
	if err := session.BeginContext(ctx, mode); err != nil {
		return nil, err
	}
	return &Tx{store: s, session: session}, nil
}

// Attach resumes a transaction detached from this store.
func (s *Store) Attach(cont *tx.Continuation) (*Tx, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	session := s.base.NewSession()
	if err := session.Attach(cont); err != nil {
		return nil, err
	}
	return &Tx{store: s, session: session}, nil
}

// Read runs fn in a read transaction.
func (s *Store) Read(fn func(x *Tx) error) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return tx.ExecuteReadSession(s.base, func(session *tx.Session) error {
		return fn(&Tx{store: s, session: session})
	})
}

// Write runs fn in a write transaction and commits it if fn succeeds.
func (s *Store) Write(fn func(x *Tx) error) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return tx.ExecuteWriteSession(s.base, func(session *tx.Session) error {
		return fn(&Tx{store: s, session: session})
	})
}

// Stats holds statistics about a store.
type Stats struct {
	Location    string
	DataVersion uint64
	Active      int
	Graphs      int
	Entries     int
	GraphBlocks storage.BlockStats
	DataBlocks  storage.BlockStats
	DataTree    btree.TreeStats
}

// Stats returns statistics as seen by a new read transaction.
func (s *Store) Stats() (Stats, error) {
	st := Stats{
		Location:    s.Location(),
		DataVersion: s.coord.DataVersion(),
		Active:      s.coord.ActiveCount(),
	}
	if bs, ok := s.graphBlocks.(interface{ Stats() storage.BlockStats }); ok {
		st.GraphBlocks = bs.Stats()
	}
	if bs, ok := s.dataBlocks.(interface{ Stats() storage.BlockStats }); ok {
		st.DataBlocks = bs.Stats()
	}

	err := s.Read(func(x *Tx) error {
		t, err := x.txn("stats")
		if err != nil {
			return err
		}
		names, err := x.Graphs()
		if err != nil {
			return err
		}
		st.Graphs = len(names)
		st.DataTree, err = s.data.Stats(t)
		if err != nil {
			return err
		}
		st.Entries = st.DataTree.Keys
		return nil
	})
	return st, err
}
