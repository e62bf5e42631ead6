// Package engine implements ObaDB storage instances and the switchable
// handle used to replace them without blocking readers.
//
// # Overview
//
// A Store combines a journal, a transaction coordinator and two
// copy-on-write trees:
//
//   - graphs: graph name to entry count
//   - data: every entry under a graph-prefixed key
//
// Every write touches both trees, so each commit runs the two-phase
// protocol across two components.
//
// # Opening a Store
//
//	s, err := engine.Open("/var/lib/obadb/Data-1", storage.DefaultEngineOptions())
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
// An empty directory name opens an in-memory store.
//
// # Transactions
//
//	x, err := s.Begin(tx.ModeWrite)
//	if err != nil {
//	    return err
//	}
//	defer x.End()
//
//	if err := x.Put("g", []byte("k"), []byte("v")); err != nil {
//	    return err
//	}
//	return x.Commit()
//
// # Switching and Compaction
//
// A Switchable holds the current Store of a container directory. Each
// store lives in its own generation directory named Data-<id>. Compact
// copies the current store into a new generation and switches the handle
// to it:
//
//	sw, err := engine.Connect("/var/lib/obadb", opts)
//	...
//	old, err := engine.Compact(sw, opts)
//	if err == nil {
//	    old.Close()
//	}
//
// Transactions begun before the switch keep running on the old store.
// GraphView resolves the current store on every call.
package engine
