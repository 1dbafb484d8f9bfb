// Package storage holds the two on-disk stores a distacean node owns: the
// Raft log/stable store (LogStore, a thin constructor around raft-boltdb)
// and the application state machine store (StateStore, this module's own
// bbolt-backed key-value ledger).
package storage

import "io"

// Entry is a key's current record. Deleted marks a tombstone: Revision
// still holds the last live revision so a recreated key continues
// counting up from it instead of resetting to 1.
type Entry struct {
	Value    []byte
	Revision uint64
	Deleted  bool
}

// Mutation is the single key-level change ApplyBatch commits for one Raft
// log entry. KV operations in this module never touch more than one key.
type Mutation struct {
	Key   string
	Entry Entry
}

// Batch is everything one FSM.Apply call must commit atomically: the key
// mutation it produced (if any), the dedup record to cache for its
// client/seq pair, and the advanced applied index. ApplyBatch commits all
// of it inside a single transaction so recovery never observes an
// advanced applied index without the data that produced it.
type Batch struct {
	Mutation *Mutation

	HasDedup      bool
	DedupClientID uint64
	DedupSeqID    uint64
	DedupResponse []byte

	AppliedIndex uint64
}

// StateStore is the application state machine's storage contract.
type StateStore interface {
	// Get returns the entry for key and whether it has ever been
	// written (true even for a tombstone).
	Get(key string) (Entry, bool, error)

	// Dedup looks up the cached response for (clientID, seqID). ok is
	// false if no request from clientID has been recorded, or the
	// cached seq does not match seqID (a newer request superseded it).
	Dedup(clientID uint64, seqID uint64) (response []byte, ok bool, err error)

	// ApplyBatch commits a Batch atomically.
	ApplyBatch(b Batch) error

	// AppliedIndex returns the last Raft log index committed via
	// ApplyBatch.
	AppliedIndex() (uint64, error)

	// Snapshot streams the full state (all entries, the dedup table,
	// and the applied index) to w in this store's snapshot format.
	Snapshot(w io.Writer) error

	// Restore replaces the store's entire contents with the snapshot
	// stream read from r, atomically.
	Restore(r io.Reader) error

	Close() error
}
