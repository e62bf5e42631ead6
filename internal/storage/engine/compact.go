package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/obadb/internal/storage"
	"github.com/KilimcininKorOglu/obadb/internal/storage/btree"
	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

// GenerationPrefix starts the name of every store directory in a
// container.
const GenerationPrefix = "Data-"

// Compaction errors.
var (
	ErrCompactionRace = errors.New("store was switched during compaction")
	ErrNoGeneration   = errors.New("no storage generation")
)

var (
	generationNodeOnce sync.Once
	generationNode     *snowflake.Node
	generationNodeErr  error
)

// nextGenerationID returns a new, increasing generation id.
func nextGenerationID() (int64, error) {
	generationNodeOnce.Do(func() {
		generationNode, generationNodeErr = snowflake.NewNode(0)
	})
	if generationNodeErr != nil {
		return 0, generationNodeErr
	}
	return generationNode.Generate().Int64(), nil
}

// Generation is one store directory inside a container.
type Generation struct {
	ID   int64
	Path string
}

// Generations lists the store directories in container in ascending id
// order.
func Generations(container string) ([]Generation, error) {
	entries, err := os.ReadDir(container)
	if err != nil {
		return nil, err
	}

	var gens []Generation
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), GenerationPrefix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), GenerationPrefix), 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, Generation{ID: id, Path: filepath.Join(container, e.Name())})
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i].ID < gens[j].ID })
	return gens, nil
}

// LatestGeneration returns the newest store directory in container.
func LatestGeneration(container string) (Generation, error) {
	gens, err := Generations(container)
	if err != nil {
		return Generation{}, err
	}
	if len(gens) == 0 {
		return Generation{}, errors.Wrap(ErrNoGeneration, container)
	}
	return gens[len(gens)-1], nil
}

// newGeneration creates a new, empty store directory in container.
func newGeneration(container string) (Generation, error) {
	id, err := nextGenerationID()
	if err != nil {
		return Generation{}, err
	}
	path := filepath.Join(container, fmt.Sprintf("%s%d", GenerationPrefix, id))
	if err := os.MkdirAll(path, 0755); err != nil {
		return Generation{}, errors.Wrapf(err, "create generation %s", path)
	}
	return Generation{ID: id, Path: path}, nil
}

// Connect opens the newest store generation in container, creating the
// first one if there is none, and returns a handle to it. An empty
// container opens an in-memory store.
func Connect(container string, opts storage.EngineOptions, sopts ...StoreOption) (*Switchable, error) {
	if container == "" {
		s, err := Open("", opts, sopts...)
		if err != nil {
			return nil, err
		}
		return NewSwitchable("", s), nil
	}

	if opts.CreateIfNotExists {
		if err := os.MkdirAll(container, 0755); err != nil {
			return nil, errors.Wrapf(err, "create container %s", container)
		}
	}

	gen, err := LatestGeneration(container)
	if errors.Is(err, ErrNoGeneration) && opts.CreateIfNotExists {
		gen, err = newGeneration(container)
	}
	if err != nil {
		return nil, err
	}

	s, err := Open(gen.Path, opts, sopts...)
	if err != nil {
		return nil, err
	}
	return NewSwitchable(container, s), nil
}

// Compact copies the current store A of sw into a fresh store B and
// switches sw to B. Write admission on A is held throughout, so no commit
// to A can be missed. B lives in a new generation directory of the
// container, or in memory if sw has none. If sw was switched by someone
// else meanwhile, B is discarded and ErrCompactionRace returned.
//
// On success A is returned still open; the caller decides when to close
// it. Transactions already running on A are unaffected.
func Compact(sw *Switchable, opts storage.EngineOptions) (*Store, error) {
	start := time.Now()

	old, err := compact(sw, opts)
	switch {
	case err == nil:
		compactionCounter.WithLabelValues("ok").Inc()
		compactionDuration.Observe(time.Since(start).Seconds())
	case errors.Is(err, ErrCompactionRace):
		compactionCounter.WithLabelValues("race").Inc()
	default:
		compactionCounter.WithLabelValues("error").Inc()
	}
	return old, err
}

func compact(sw *Switchable, opts storage.EngineOptions) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.CreateIfNotExists = true

	a := sw.Get()
	ax, err := a.Begin(tx.ModeWrite)
	if err != nil {
		return nil, errors.Wrap(err, "hold source store")
	}
	defer ax.Abort()

	dir := ""
	if sw.HasContainerPath() {
		gen, err := newGeneration(sw.ContainerPath())
		if err != nil {
			return nil, err
		}
		dir = gen.Path
	}

	b, err := Open(dir, opts, WithLogger(a.baseLogger))
	if err != nil {
		if dir != "" {
			os.RemoveAll(dir)
		}
		return nil, err
	}
	discard := func() {
		b.Close()
		if dir != "" {
			os.RemoveAll(dir)
		}
	}

	bx, err := b.Begin(tx.ModeWrite)
	if err != nil {
		discard()
		return nil, err
	}

	copied, err := copyStore(ax, bx, opts.CompactWorkers)
	if err != nil {
		bx.Abort()
		discard()
		return nil, errors.Wrap(err, "copy store")
	}
	if err := bx.Commit(); err != nil {
		bx.End()
		discard()
		return nil, errors.Wrap(err, "commit compacted store")
	}

	if !sw.Change(a, b) {
		discard()
		return nil, ErrCompactionRace
	}

	compactionEntries.Add(float64(copied))
	a.logger.Info("store compacted",
		"from", a.Location(),
		"to", b.Location(),
		"entries", copied)
	return a, nil
}

// copyStore copies both trees of src's store into dst's, one goroutine per
// tree, and returns the number of entries copied.
func copyStore(src, dst *Tx, workers int) (int64, error) {
	st, err := src.txn("compact")
	if err != nil {
		return 0, err
	}
	dt, err := dst.txn("compact")
	if err != nil {
		return 0, err
	}

	pairs := []struct{ from, to *btree.BPlusTree }{
		{src.store.graphs, dst.store.graphs},
		{src.store.data, dst.store.data},
	}

	copied := atomic.NewInt64(0)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, p := range pairs {
		p := p
		g.Go(func() error {
			var insertErr error
			err := p.from.Range(st, nil, nil, func(k, v []byte) bool {
				if _, insertErr = p.to.Insert(dt, k, v); insertErr != nil {
					return false
				}
				copied.Inc()
				return true
			})
			if insertErr != nil {
				return errors.Wrapf(insertErr, "copy %s", p.from.ID())
			}
			return errors.Wrapf(err, "scan %s", p.from.ID())
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return copied.Load(), nil
}
