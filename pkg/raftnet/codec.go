// Package raftnet implements github.com/hashicorp/raft's Transport
// interface on top of pkg/transport's multiplexed peer connections,
// replacing raft.NewTCPTransport so the same wire can also carry
// application forwarding and linearizer frames (pkg/node).
package raftnet

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/distacean/distacean/pkg/types"
)

// encode prepends a one-byte wire kind tag to a gob encoding of v. Raft's
// RPC structs round-trip cleanly through gob without custom marshaling,
// unlike the JSON this codebase otherwise uses for application data, so
// this package reaches for gob specifically for Raft's wire structs (see
// DESIGN.md).
func encode(kind types.WireKind, v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(kind))
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("raftnet: failed to encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// encodeValue gob-encodes v with no kind tag, used for responses: the
// requester already knows the expected type from the call it made.
func encodeValue(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("raftnet: failed to encode response %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func decodeKind(payload []byte) (types.WireKind, []byte) {
	if len(payload) == 0 {
		return 0, nil
	}
	return types.WireKind(payload[0]), payload[1:]
}

func decodeInto(payload []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("raftnet: failed to decode %T: %w", v, err)
	}
	return nil
}
