package kv

import "fmt"

// ErrRevisionMismatch is returned by SetRequest.Execute when a Cas's
// expected_revision doesn't match the key's current revision.
type ErrRevisionMismatch struct {
	CurrentRevision uint64
}

func (e *ErrRevisionMismatch) Error() string {
	return fmt.Sprintf("kv: revision mismatch, current revision is %d", e.CurrentRevision)
}
