package node

import (
	"encoding/json"
	"fmt"

	"github.com/distacean/distacean/pkg/types"
)

// encodeApp builds the payload for an application-level frame: a one-byte
// types.WireKind prefix followed by the JSON encoding of v. Raft's own RPC
// structs travel as gob through pkg/raftnet; application payloads use JSON
// throughout this codebase, following the teacher's Command{Op, Data}
// convention.
func encodeApp(kind types.WireKind, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("node: encode %T: %w", v, err)
	}
	return append([]byte{byte(kind)}, body...), nil
}

// decodeApp splits an application-level frame payload into its kind and
// JSON body, the inverse of encodeApp.
func decodeApp(payload []byte) (types.WireKind, []byte) {
	if len(payload) == 0 {
		return 0, nil
	}
	return types.WireKind(payload[0]), payload[1:]
}
