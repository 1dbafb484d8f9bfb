package storage

import (
	"fmt"
	"path/filepath"

	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// OpenLogStore opens the Raft log/stable store under dataDir. There is
// nothing domain-specific to add on top of raft-boltdb's BoltStore: it
// already satisfies raft.LogStore and raft.StableStore with atomic
// per-batch appends and index-range truncation, so this module constructs
// it at the conventional path and returns it directly, exactly as the
// teacher's Manager.Bootstrap/Join do.
func OpenLogStore(dataDir string) (*raftboltdb.BoltStore, error) {
	store, err := raftboltdb.NewBoltStore(filepath.Join(dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open raft log store: %w", err)
	}
	return store, nil
}
