// Package storage provides the durable primitives ObaDB is built on: the
// commit journal, block stores and the engine options shared by the
// packages above it.
//
// # Overview
//
// The storage core is layered, leaves first:
//
//   - storage: Journal, BlockStore, Codec and EngineOptions
//   - storage/tx: the transaction coordinator and TransactionalBase
//   - storage/btree: the copy-on-write B+Tree component
//   - storage/engine: Store, Switchable and compaction
//
// # Journal
//
// The journal is an append-only log of commit records. Each record holds
// the prepared state of every component a write transaction touched:
//
//	rec := storage.NewCommitRecord(txnID, version, []storage.JournalEntry{
//	    {Component: "data", State: state},
//	})
//	if _, err := journal.Write(rec); err != nil {
//	    return err
//	}
//	if err := journal.Sync(); err != nil {
//	    return err
//	}
//
// FileJournal frames every record with a length prefix and a CRC32. A torn
// or corrupted tail found on open is truncated, so Replay only ever yields
// records that were fully synced. MemJournal keeps records in memory for
// in-memory stores and tests.
//
// Record payloads may be compressed; see ParseCodec for the accepted names.
//
// # Block Stores
//
// A BlockStore holds immutable blocks addressed by uint32 id. Blocks are
// written once and only become reusable after Release:
//
//	store, err := storage.OpenFileBlockStore(filepath.Join(dir, "data.blk"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// FileBlockStore appends blocks to a single file and rebuilds its index on
// open, keeping the last complete copy of each id.
//
// # Options
//
// EngineOptions configures a store:
//
//	opts := storage.DefaultEngineOptions().
//	    WithMaxKeys(128).
//	    WithJournalCompression("zlib")
//	if err := opts.Validate(); err != nil {
//	    return err
//	}
package storage
