package btree

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/KilimcininKorOglu/obadb/internal/logging"
	"github.com/KilimcininKorOglu/obadb/internal/storage"
	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

// Tree errors.
var (
	ErrInvalidStore     = errors.New("invalid block store")
	ErrEmptyKey         = errors.New("key cannot be empty")
	ErrInvalidParams    = errors.New("invalid tree parameters")
	ErrNodeNotFound     = errors.New("node not found")
	ErrNoTransaction    = errors.New("transaction not known to tree")
	ErrInactive         = errors.New("transaction is not active")
	ErrCorruptStructure = errors.New("corrupt tree structure")
)

// Default tree parameters.
const (
	DefaultMaxKeys   = storage.DefaultMaxKeys
	DefaultCacheSize = storage.DefaultNodeCacheSize
	MinMaxKeys       = storage.MinMaxKeys
)

// Params are the structural parameters of a tree.
type Params struct {
	// MaxKeys is the maximum number of keys in a node. Non-root nodes hold
	// at least (MaxKeys-1)/2 keys.
	MaxKeys int

	// CacheSize is the number of decoded committed nodes kept in memory.
	CacheSize int
}

// DefaultParams returns the default tree parameters.
func DefaultParams() Params {
	return Params{MaxKeys: DefaultMaxKeys, CacheSize: DefaultCacheSize}
}

// ParamsFromOptions derives tree parameters from engine options.
func ParamsFromOptions(opts storage.EngineOptions) Params {
	return Params{MaxKeys: opts.MaxKeys, CacheSize: opts.NodeCacheSize}
}

func (p Params) validate() (Params, error) {
	if p.MaxKeys == 0 {
		p.MaxKeys = DefaultMaxKeys
	}
	if p.MaxKeys < MinMaxKeys {
		return p, errors.Wrapf(ErrInvalidParams, "max keys %d below %d", p.MaxKeys, MinMaxKeys)
	}
	if p.CacheSize < 0 {
		return p, errors.Wrapf(ErrInvalidParams, "cache size %d", p.CacheSize)
	}
	return p, nil
}

func (p Params) minKeys() int {
	return (p.MaxKeys - 1) / 2
}

// Option configures a BPlusTree.
type Option func(*BPlusTree)

// WithLogger sets the tree logger.
func WithLogger(l logging.Logger) Option {
	return func(t *BPlusTree) {
		t.logger = l
	}
}

// txnState is the working state of one transaction. Readers only use root.
// A writer owns every node in pending and mutates them in place.
type txnState struct {
	root     BlockID
	pending  map[BlockID]*BPlusNode
	obsolete []BlockID
	prepared bool
}

func (st *txnState) changed() bool {
	return len(st.pending) > 0 || len(st.obsolete) > 0
}

// retiredBatch holds blocks superseded by the commit at version.
type retiredBatch struct {
	version uint64
	ids     []BlockID
}

// BPlusTree is a copy-on-write B+ Tree that takes part in transactions as
// a tx.Component. Committed nodes are never modified: a writer copies every
// node on the path it changes and publishes a new root on commit. Readers
// keep the root that was published when they began.
type BPlusTree struct {
	id     string
	store  storage.BlockStore
	params Params
	logger logging.Logger
	cache  *nodeCache

	// published is the committed root; nextBlock the next unused block id.
	published *atomic.Uint32
	nextBlock *atomic.Uint32

	mu      sync.Mutex
	txns    map[uint64]*txnState
	retired []retiredBatch
}

// NewBPlusTree creates an empty tree with the given component id over store.
// Committed state is restored by the coordinator through Recover.
func NewBPlusTree(id string, store storage.BlockStore, params Params, opts ...Option) (*BPlusTree, error) {
	if store == nil {
		return nil, ErrInvalidStore
	}
	if id == "" {
		return nil, errors.Wrap(ErrInvalidParams, "empty component id")
	}
	params, err := params.validate()
	if err != nil {
		return nil, err
	}

	cache, err := newNodeCache(params.CacheSize)
	if err != nil {
		return nil, err
	}

	t := &BPlusTree{
		id:        id,
		store:     store,
		params:    params,
		logger:    logging.NewNop(),
		cache:     cache,
		published: atomic.NewUint32(uint32(InvalidBlockID)),
		nextBlock: atomic.NewUint32(1),
		txns:      make(map[uint64]*txnState),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ID returns the component id.
func (t *BPlusTree) ID() string {
	return t.id
}

// Params returns the tree parameters.
func (t *BPlusTree) Params() Params {
	return t.params
}

// Close releases the node cache. The block store belongs to the caller.
func (t *BPlusTree) Close() {
	t.cache.close()
}

// PublishedRoot returns the root of the latest committed version.
func (t *BPlusTree) PublishedRoot() BlockID {
	return BlockID(t.published.Load())
}

// Root returns the root as seen by the transaction, including its own
// uncommitted changes.
func (t *BPlusTree) Root(txn *tx.Transaction) (BlockID, error) {
	st, err := t.state(txn)
	if err != nil {
		return InvalidBlockID, err
	}
	return st.root, nil
}

// state returns the working state of an active transaction.
func (t *BPlusTree) state(txn *tx.Transaction) (*txnState, error) {
	if txn == nil {
		return nil, tx.ErrNilTransaction
	}
	if !txn.IsActive() {
		return nil, errors.Wrapf(ErrInactive, "%s: txn %d is %s", t.id, txn.ID(), txn.State())
	}

	t.mu.Lock()
	st, ok := t.txns[txn.ID()]
	t.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNoTransaction, "%s: txn %d", t.id, txn.ID())
	}
	return st, nil
}

// writeState returns the working state of an active write transaction.
func (t *BPlusTree) writeState(txn *tx.Transaction) (*txnState, error) {
	st, err := t.state(txn)
	if err != nil {
		return nil, err
	}
	if txn.State() != tx.StateActiveWriter {
		return nil, errors.Wrapf(tx.ErrReadOnly, "%s: txn %d", t.id, txn.ID())
	}
	if st.pending == nil {
		st.pending = make(map[BlockID]*BPlusNode)
	}
	return st, nil
}

// allocate returns a fresh block id.
func (t *BPlusTree) allocate() BlockID {
	return BlockID(t.nextBlock.Inc() - 1)
}

// load returns a node visible to st.
func (t *BPlusTree) load(st *txnState, id BlockID) (*BPlusNode, error) {
	if id == InvalidBlockID {
		return nil, errors.Wrap(ErrNodeNotFound, "invalid block id")
	}
	if n, ok := st.pending[id]; ok {
		return n, nil
	}
	if n, ok := t.cache.get(id); ok {
		return n, nil
	}

	data, err := t.store.Read(uint32(id))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read node %d", t.id, id)
	}
	n, err := DeserializeNode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: decode node %d", t.id, id)
	}
	if n.ID != id {
		return nil, errors.Wrapf(ErrCorruptStructure, "%s: block %d holds node %d", t.id, id, n.ID)
	}
	t.cache.put(n)
	return n, nil
}

// writable returns a copy of n that st may modify. A node the transaction
// already owns is returned as is; a committed node is copied to a new block
// and its old block is scheduled for release.
func (t *BPlusTree) writable(st *txnState, n *BPlusNode) *BPlusNode {
	if _, ok := st.pending[n.ID]; ok {
		return n
	}
	c := n.clone(t.allocate())
	st.pending[c.ID] = c
	st.obsolete = append(st.obsolete, n.ID)
	return c
}

// newNode allocates a node owned by st.
func (t *BPlusTree) newNode(st *txnState, leaf bool) *BPlusNode {
	var n *BPlusNode
	if leaf {
		n = NewLeafNode(t.allocate())
	} else {
		n = NewInternalNode(t.allocate())
	}
	st.pending[n.ID] = n
	return n
}

// discard drops a node that st no longer references.
func (t *BPlusTree) discard(st *txnState, n *BPlusNode) {
	if _, ok := st.pending[n.ID]; ok {
		delete(st.pending, n.ID)
		return
	}
	st.obsolete = append(st.obsolete, n.ID)
}

// ComponentID implements tx.Component.
func (t *BPlusTree) ComponentID() string {
	return t.id
}

// Recover implements tx.Component. It installs the last committed root.
func (t *BPlusTree) Recover(state []byte) error {
	s, err := decodeTreeState(state)
	if err != nil {
		return errors.Wrapf(err, "%s: recover", t.id)
	}
	t.published.Store(uint32(s.root))
	if s.nextBlock < 1 {
		s.nextBlock = 1
	}
	t.nextBlock.Store(uint32(s.nextBlock))
	t.cache.clear()

	t.logger.Info("tree recovered", "tree", t.id, "root", s.root, "next_block", s.nextBlock)
	return nil
}

// Begin implements tx.Component.
func (t *BPlusTree) Begin(txn *tx.Transaction) {
	t.mu.Lock()
	t.txns[txn.ID()] = &txnState{root: t.PublishedRoot()}
	t.mu.Unlock()
}

// Prepare implements tx.Component. It writes every node the transaction
// created to the block store and returns the candidate root. A transaction
// that changed nothing returns nil.
func (t *BPlusTree) Prepare(txn *tx.Transaction) ([]byte, error) {
	t.mu.Lock()
	st, ok := t.txns[txn.ID()]
	t.mu.Unlock()
	if !ok || !st.changed() {
		return nil, nil
	}

	ids := make([]BlockID, 0, len(st.pending))
	for id := range st.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	st.prepared = true
	for _, id := range ids {
		data, err := st.pending[id].Serialize()
		if err != nil {
			return nil, errors.Wrapf(err, "%s: encode node %d", t.id, id)
		}
		if err := t.store.Write(uint32(id), data); err != nil {
			return nil, errors.Wrapf(err, "%s: write node %d", t.id, id)
		}
	}
	if err := t.store.Sync(); err != nil {
		return nil, errors.Wrapf(err, "%s: sync", t.id)
	}

	return treeState{root: st.root, nextBlock: BlockID(t.nextBlock.Load())}.encode(), nil
}

// Commit implements tx.Component. It publishes the transaction's root.
func (t *BPlusTree) Commit(txn *tx.Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.txns[txn.ID()]
	if !ok || !st.changed() {
		return
	}

	t.published.Store(uint32(st.root))
	for _, n := range st.pending {
		t.cache.put(n)
	}
	if len(st.obsolete) > 0 {
		t.retired = append(t.retired, retiredBatch{version: txn.CommitVersion(), ids: st.obsolete})
	}
	st.pending = nil
	st.obsolete = nil

	t.logger.Debug("tree commit", "tree", t.id, "txn", txn.ID(), "root", st.root)
}

// Abort implements tx.Component. Blocks written by Prepare are released.
func (t *BPlusTree) Abort(txn *tx.Transaction) {
	t.mu.Lock()
	st, ok := t.txns[txn.ID()]
	delete(t.txns, txn.ID())
	t.mu.Unlock()
	if !ok {
		return
	}

	if st.prepared {
		for id := range st.pending {
			if err := t.store.Release(uint32(id)); err != nil {
				t.logger.Warn("release aborted block failed", "tree", t.id, "block", id, "error", err)
			}
		}
	}
}

// Complete implements tx.Component. It drops the transaction state and
// releases blocks no remaining transaction can reach.
func (t *BPlusTree) Complete(txn *tx.Transaction) {
	t.mu.Lock()
	delete(t.txns, txn.ID())
	t.mu.Unlock()

	t.reclaim(txn.Coordinator().OldestActiveSnapshot())
}

// reclaim releases blocks retired at or before version.
func (t *BPlusTree) reclaim(version uint64) {
	t.mu.Lock()
	var ready []BlockID
	keep := t.retired[:0]
	for _, b := range t.retired {
		if b.version <= version {
			ready = append(ready, b.ids...)
		} else {
			keep = append(keep, b)
		}
	}
	t.retired = keep
	t.mu.Unlock()

	for _, id := range ready {
		t.cache.remove(id)
		if err := t.store.Release(uint32(id)); err != nil {
			t.logger.Warn("release block failed", "tree", t.id, "block", id, "error", err)
		}
	}
	if len(ready) > 0 {
		t.logger.Debug("blocks reclaimed", "tree", t.id, "count", len(ready), "version", version)
	}
}

// Detach implements tx.Component.
func (t *BPlusTree) Detach(txn *tx.Transaction) interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.txns[txn.ID()]
	if !ok {
		return nil
	}
	delete(t.txns, txn.ID())
	return st
}

// Attach implements tx.Component.
func (t *BPlusTree) Attach(txn *tx.Transaction, state interface{}) {
	st, ok := state.(*txnState)
	if !ok || st == nil {
		return
	}
	t.mu.Lock()
	t.txns[txn.ID()] = st
	t.mu.Unlock()
}

// RetiredBlocks returns the number of superseded blocks waiting for
// release.
func (t *BPlusTree) RetiredBlocks() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, b := range t.retired {
		n += len(b.ids)
	}
	return n
}

// TreeStats holds statistics about a tree as seen by one transaction.
type TreeStats struct {
	Height      int
	Nodes       int
	Leaves      int
	Keys        int
	Retired     int
	CachedNodes int
	CacheHits   uint64
	CacheMisses uint64
}

// Stats walks the transaction's view of the tree.
func (t *BPlusTree) Stats(txn *tx.Transaction) (TreeStats, error) {
	st, err := t.state(txn)
	if err != nil {
		return TreeStats{}, err
	}

	var s TreeStats
	s.Retired = t.RetiredBlocks()
	s.CachedNodes = t.cache.len()
	s.CacheHits, s.CacheMisses = t.cache.stats()
	if st.root == InvalidBlockID {
		return s, nil
	}

	var walk func(id BlockID, depth int) error
	walk = func(id BlockID, depth int) error {
		n, err := t.load(st, id)
		if err != nil {
			return err
		}
		s.Nodes++
		if depth > s.Height {
			s.Height = depth
		}
		if n.IsLeaf {
			s.Leaves++
			s.Keys += len(n.Keys)
			return nil
		}
		for _, c := range n.Children {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(st.root, 1); err != nil {
		return TreeStats{}, err
	}
	return s, nil
}
