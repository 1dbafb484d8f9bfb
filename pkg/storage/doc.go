/*
Package storage holds the two on-disk stores a node owns.

OpenLogStore constructs raft-boltdb's BoltStore for Raft's log and stable
(term/vote) storage at <dataDir>/raft-log.db — raft-boltdb already
satisfies raft.LogStore and raft.StableStore, so there is nothing to wrap.

BoltStateStore is this module's own bbolt-backed application state machine
store at <dataDir>/distacean-sm.db, holding two buckets: sm_data (one JSON
Entry per key) and sm_meta (the applied index and the client dedup table).
ApplyBatch commits a key mutation, a dedup record, and the advanced applied
index inside one bolt.Tx, so recovery never observes an advanced applied
index without the data that produced it.
*/
package storage
